package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/release-distribution-api/internal/models"
	"github.com/noah-isme/release-distribution-api/internal/repository"
	"github.com/noah-isme/release-distribution-api/pkg/storage"
)

type memVersionStore struct {
	mu       sync.Mutex
	versions []models.Version
	listErr  error
}

func (m *memVersionStore) Create(_ context.Context, v *models.Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.versions {
		if existing.Scope().Key() == v.Scope().Key() && existing.Major == v.Major && existing.Minor == v.Minor &&
			existing.Patch == v.Patch && existing.Prerelease == v.Prerelease {
			return repository.ErrDuplicate
		}
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	v.ReleasedAt = time.Now().UTC()
	m.versions = append(m.versions, *v)
	return nil
}

func (m *memVersionStore) GetByID(_ context.Context, id string) (*models.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions {
		if v.ID == id {
			out := v
			return &out, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memVersionStore) FindByPrecedence(_ context.Context, scope models.VersionScope, major, minor, patch int64, prerelease string) (*models.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions {
		if v.Scope().Key() == scope.Key() && v.Major == major && v.Minor == minor && v.Patch == patch && v.Prerelease == prerelease {
			out := v
			return &out, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memVersionStore) List(_ context.Context, filter models.VersionFilter) ([]models.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.Version
	for _, v := range m.versions {
		if v.Scope().Key() != filter.Scope.Key() {
			continue
		}
		if filter.StableOnly && !v.IsStable {
			continue
		}
		if !filter.IncludeDeprecated && v.IsDeprecated {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (m *memVersionStore) SetDeprecated(_ context.Context, id string, deprecated bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.versions {
		if m.versions[i].ID == id {
			m.versions[i].IsDeprecated = deprecated
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memVersionStore) AppendChangelog(_ context.Context, id string, entries []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.versions {
		if m.versions[i].ID == id {
			m.versions[i].Changelog = append(m.versions[i].Changelog, entries...)
			return nil
		}
	}
	return sql.ErrNoRows
}

type memCompatStore struct {
	mu      sync.Mutex
	decls   []models.CompatibilityDeclaration
	listErr error
}

func (m *memCompatStore) Create(_ context.Context, decl *models.CompatibilityDeclaration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	decl.ID = uuid.NewString()
	m.decls = append(m.decls, *decl)
	return nil
}

func (m *memCompatStore) ListByScope(_ context.Context, scope models.VersionScope, kind models.CompatibilityKind) ([]models.CompatibilityDeclaration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.CompatibilityDeclaration
	for _, d := range m.decls {
		if models.ScopeOf(d.ExtensionID, d.ProductID).Key() != scope.Key() {
			continue
		}
		if kind != "" && d.Kind != kind {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

type memInstallationStore struct {
	mu       sync.Mutex
	byUser   map[string]models.Installation
	countErr error
}

func (m *memInstallationStore) Upsert(_ context.Context, inst *models.Installation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byUser == nil {
		m.byUser = make(map[string]models.Installation)
	}
	m.byUser[inst.UserID+"|"+models.ScopeOf(inst.ExtensionID, inst.ProductID).Key()] = *inst
	return nil
}

func (m *memInstallationStore) CountOnVersion(_ context.Context, scope models.VersionScope, version string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return 0, m.countErr
	}
	var n int64
	for _, inst := range m.byUser {
		if models.ScopeOf(inst.ExtensionID, inst.ProductID).Key() == scope.Key() && inst.Version == version {
			n++
		}
	}
	return n, nil
}

type memPackageStore struct {
	mu        sync.Mutex
	packages  []models.UpdatePackage
	createErr error
}

func (m *memPackageStore) Create(_ context.Context, pkg *models.UpdatePackage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	pkg.ID = uuid.NewString()
	pkg.CreatedAt = time.Now().UTC()
	m.packages = append(m.packages, *pkg)
	return nil
}

func (m *memPackageStore) GetByID(_ context.Context, id string) (*models.UpdatePackage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.packages {
		if p.ID == id {
			out := p
			return &out, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memPackageStore) List(_ context.Context, filter models.UpdatePackageFilter) ([]models.UpdatePackage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.UpdatePackage
	for _, p := range m.packages {
		if filter.FromVersion != "" && p.FromVersion != filter.FromVersion {
			continue
		}
		if filter.ToVersion != "" && p.ToVersion != filter.ToVersion {
			continue
		}
		if filter.Direction != "" && p.Direction != filter.Direction {
			continue
		}
		if !filter.Scope.IsGlobal() && models.ScopeOf(p.ExtensionID, p.ProductID).Key() != filter.Scope.Key() {
			continue
		}
		out = append(out, p)
	}
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memPackageStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.packages)
}

type memDistributionStore struct {
	mu        sync.Mutex
	rows      map[string]models.UpdateDistribution
	order     []string
	updateErr error
}

func newMemDistributionStore() *memDistributionStore {
	return &memDistributionStore{rows: make(map[string]models.UpdateDistribution)}
}

func (m *memDistributionStore) Create(_ context.Context, dist *models.UpdateDistribution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dist.ID = uuid.NewString()
	dist.RowVersion = 1
	dist.CreatedAt = time.Now().UTC()
	m.rows[dist.ID] = *dist
	m.order = append(m.order, dist.ID)
	return nil
}

func (m *memDistributionStore) GetByID(_ context.Context, id string) (*models.UpdateDistribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &row, nil
}

func (m *memDistributionStore) List(_ context.Context, filter models.DistributionFilter) ([]models.UpdateDistribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.UpdateDistribution
	for _, id := range m.order {
		row := m.rows[id]
		if filter.UpdatePackageID != "" && row.UpdatePackageID != filter.UpdatePackageID {
			continue
		}
		if len(filter.Status) > 0 {
			match := false
			for _, s := range filter.Status {
				if row.Status == s {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, row)
	}
	if filter.OldestFirst {
		sort.Slice(out, func(i, j int) bool { return cursorLess(*models.CursorOf(out[i]), *models.CursorOf(out[j])) })
		if filter.After != nil {
			start := sort.Search(len(out), func(i int) bool { return cursorLess(*filter.After, *models.CursorOf(out[i])) })
			out = out[start:]
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func cursorLess(a, b models.DistributionCursor) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (m *memDistributionStore) UpdateState(_ context.Context, dist *models.UpdateDistribution, expected models.DistributionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	row, ok := m.rows[dist.ID]
	if !ok || row.Status != expected || row.RowVersion != dist.RowVersion {
		return sql.ErrNoRows
	}
	dist.RowVersion++
	m.rows[dist.ID] = *dist
	return nil
}

// bump simulates a concurrent writer.
func (m *memDistributionStore) bump(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.rows[id]
	row.RowVersion++
	m.rows[id] = row
}

type memRollbackStore struct {
	mu         sync.Mutex
	plans      map[string]models.RollbackPlan
	executions map[string]models.RollbackExecution
	updateErr  error
}

func newMemRollbackStore() *memRollbackStore {
	return &memRollbackStore{plans: make(map[string]models.RollbackPlan), executions: make(map[string]models.RollbackExecution)}
}

func (m *memRollbackStore) CreatePlan(_ context.Context, plan *models.RollbackPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan.ID = uuid.NewString()
	plan.RowVersion = 1
	plan.CreatedAt = time.Now().UTC()
	m.plans[plan.ID] = *plan
	return nil
}

func (m *memRollbackStore) GetPlan(_ context.Context, id string) (*models.RollbackPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan, ok := m.plans[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	plan.SafetyChecks = append(models.SafetyCheckResults(nil), plan.SafetyChecks...)
	return &plan, nil
}

func (m *memRollbackStore) ListPlans(_ context.Context, filter models.RollbackPlanFilter) ([]models.RollbackPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RollbackPlan
	for _, plan := range m.plans {
		if len(filter.Status) > 0 && plan.Status != filter.Status[0] {
			continue
		}
		out = append(out, plan)
	}
	return out, nil
}

func (m *memRollbackStore) UpdatePlanState(_ context.Context, plan *models.RollbackPlan, expected models.RollbackStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	row, ok := m.plans[plan.ID]
	if !ok || row.Status != expected || row.RowVersion != plan.RowVersion {
		return sql.ErrNoRows
	}
	plan.RowVersion++
	m.plans[plan.ID] = *plan
	return nil
}

func (m *memRollbackStore) CreateExecution(_ context.Context, exec *models.RollbackExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executions[exec.RollbackPlanID]; ok {
		return repository.ErrDuplicate
	}
	exec.ID = uuid.NewString()
	exec.RowVersion = 1
	m.executions[exec.RollbackPlanID] = *exec
	return nil
}

func (m *memRollbackStore) GetExecutionByPlan(_ context.Context, planID string) (*models.RollbackExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.executions[planID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &exec, nil
}

func (m *memRollbackStore) UpdateExecutionState(_ context.Context, exec *models.RollbackExecution, expected models.ExecutionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.executions[exec.RollbackPlanID]
	if !ok || row.Status != expected || row.RowVersion != exec.RowVersion {
		return sql.ErrNoRows
	}
	exec.RowVersion++
	m.executions[exec.RollbackPlanID] = *exec
	return nil
}

func (m *memRollbackStore) plan(id string) models.RollbackPlan {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plans[id]
}

func (m *memRollbackStore) execution(planID string) (models.RollbackExecution, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.executions[planID]
	return exec, ok
}

type memAuditWriter struct {
	mu   sync.Mutex
	logs []models.AuditLog
	err  error
}

func (m *memAuditWriter) Create(_ context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.logs = append(m.logs, *log)
	return nil
}

func (m *memAuditWriter) ListByResource(_ context.Context, resource, resourceID string) ([]models.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AuditLog
	for _, log := range m.logs {
		if log.Resource == resource && log.ResourceID != nil && *log.ResourceID == resourceID {
			out = append(out, log)
		}
	}
	return out, nil
}

func (m *memAuditWriter) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.logs))
	for i, log := range m.logs {
		out[i] = log.Action
	}
	return out
}

type fakeArtifactStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	opts    map[string]storage.PutOptions
	deleted []string
	putErr  error

	invalidated   []string
	invalidateErr map[string]error
}

func newFakeArtifactStore() *fakeArtifactStore {
	return &fakeArtifactStore{objects: make(map[string][]byte), opts: make(map[string]storage.PutOptions)}
}

func (f *fakeArtifactStore) Put(_ context.Context, r io.Reader, name string, opts storage.PutOptions) (storage.PutResult, error) {
	if f.putErr != nil {
		return storage.PutResult{}, f.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return storage.PutResult{}, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[name] = data
	f.opts[name] = opts
	return storage.PutResult{URL: "https://cdn.test/" + name, Key: name, Size: int64(len(data))}, nil
}

func (f *fakeArtifactStore) Delete(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.TrimPrefix(url, "https://cdn.test/")
	delete(f.objects, key)
	f.deleted = append(f.deleted, url)
	return nil
}

func (f *fakeArtifactStore) Invalidate(_ context.Context, url string, _ ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.invalidateErr[url]; err != nil {
		return err
	}
	f.invalidated = append(f.invalidated, url)
	return nil
}

func (f *fakeArtifactStore) stored() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notification
	err     error
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return r.err
}

func (r *recordingNotifier) users() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.notices))
	for i, n := range r.notices {
		out[i] = n.UserID
	}
	return out
}

type mapCache struct {
	mu          sync.Mutex
	values      map[string][]models.Version
	invalidated []string
}

func newMapCache() *mapCache {
	return &mapCache{values: make(map[string][]models.Version)}
}

func (c *mapCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if !ok {
		return false, nil
	}
	out, ok := dest.(*[]models.Version)
	if !ok {
		return false, errors.New("unexpected cache destination")
	}
	*out = append([]models.Version(nil), v...)
	return true, nil
}

func (c *mapCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = append([]models.Version(nil), value.([]models.Version)...)
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range c.values {
		if strings.HasPrefix(key, prefix) {
			delete(c.values, key)
		}
	}
	c.invalidated = append(c.invalidated, pattern)
	return nil
}

// testClock is a settable time source shared by the services under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
