package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/release-distribution-api/internal/dto"
	"github.com/noah-isme/release-distribution-api/internal/models"
	"github.com/noah-isme/release-distribution-api/internal/repository"
	appErrors "github.com/noah-isme/release-distribution-api/pkg/errors"
	"github.com/noah-isme/release-distribution-api/pkg/semver"
)

type versionStore interface {
	Create(ctx context.Context, version *models.Version) error
	GetByID(ctx context.Context, id string) (*models.Version, error)
	FindByPrecedence(ctx context.Context, scope models.VersionScope, major, minor, patch int64, prerelease string) (*models.Version, error)
	List(ctx context.Context, filter models.VersionFilter) ([]models.Version, error)
	SetDeprecated(ctx context.Context, id string, deprecated bool) error
	AppendChangelog(ctx context.Context, id string, entries []string) error
}

type compatibilityStore interface {
	Create(ctx context.Context, decl *models.CompatibilityDeclaration) error
	ListByScope(ctx context.Context, scope models.VersionScope, kind models.CompatibilityKind) ([]models.CompatibilityDeclaration, error)
}

type versionCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

type artifactInvalidator interface {
	InvalidateArtifacts(ctx context.Context, scope models.VersionScope, target string) (int, error)
}

// VersionService manages the released version catalogue and its compatibility metadata.
type VersionService struct {
	repo      versionStore
	compat    compatibilityStore
	cache     versionCache
	cacheTTL  time.Duration
	artifacts artifactInvalidator
	audit     auditTrail
	validator *validator.Validate
	logger    *zap.Logger
}

// VersionServiceOption configures optional collaborators.
type VersionServiceOption func(*VersionService)

// WithVersionCache enables caching of catalogue listings.
func WithVersionCache(cache versionCache, ttl time.Duration) VersionServiceOption {
	return func(s *VersionService) {
		s.cache = cache
		s.cacheTTL = ttl
	}
}

// WithVersionAudit records catalogue changes in the audit trail.
func WithVersionAudit(writer auditWriter) VersionServiceOption {
	return func(s *VersionService) {
		s.audit.writer = writer
	}
}

// WithArtifactInvalidation marks the artifacts of packages targeting a version stale once it is deprecated.
func WithArtifactInvalidation(invalidator artifactInvalidator) VersionServiceOption {
	return func(s *VersionService) {
		s.artifacts = invalidator
	}
}

// NewVersionService constructs the catalogue service.
func NewVersionService(repo versionStore, compat compatibilityStore, validate *validator.Validate, logger *zap.Logger, opts ...VersionServiceOption) *VersionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	svc := &VersionService{
		repo:      repo,
		compat:    compat,
		validator: validate,
		logger:    logger,
		audit:     auditTrail{source: "version-service", logger: logger},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Register records a released version. The (major, minor, patch, prerelease) identity must be unique within the scope.
func (s *VersionService) Register(ctx context.Context, req dto.RegisterVersionRequest, actor models.Principal) (*models.Version, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid version payload")
	}
	scope := req.Scope()
	if !scope.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a version belongs to an extension or a product, not both")
	}
	parsed, err := parseVersion(req.Version)
	if err != nil {
		return nil, err
	}

	version := &models.Version{
		ExtensionID: scope.ExtensionPtr(),
		ProductID:   scope.ProductPtr(),
		Version:     parsed.String(),
		Major:       int64(parsed.Major),
		Minor:       int64(parsed.Minor),
		Patch:       int64(parsed.Patch),
		Prerelease:  parsed.Prerelease,
		Build:       parsed.Build,
		IsStable:    parsed.IsStable(),
		Changelog:   pq.StringArray(trimEntries(req.Changelog)),
		ReleasedBy:  actor.ID,
	}
	if err := s.repo.Create(ctx, version); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.WithDetails(
				appErrors.Clone(appErrors.ErrVersionExists, fmt.Sprintf("version %s already released in %s", version.Version, scope.Key())),
				"version", version.Version)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register version")
	}

	s.invalidate(ctx, scope)
	s.audit.emit(ctx, actor, models.AuditActionVersionRegister, "version", version.ID, nil, version)
	s.logger.Info("version registered", zap.String("version_id", version.ID), zap.String("version", version.Version), zap.String("scope", scope.Key()))
	return version, nil
}

// Get fetches a version by id.
func (s *VersionService) Get(ctx context.Context, id string) (*models.Version, error) {
	version, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "version not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load version")
	}
	return version, nil
}

// List returns the versions of a scope ordered by precedence, newest first.
func (s *VersionService) List(ctx context.Context, query dto.VersionQuery) ([]models.Version, error) {
	scope := query.VersionScope.Normalize()
	if !scope.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "filter by extension or product, not both")
	}
	filter := models.VersionFilter{Scope: scope, StableOnly: query.StableOnly, IncludeDeprecated: query.IncludeDeprecated}

	key := listCacheKey(filter)
	if s.cache != nil {
		var cached []models.Version
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return cached, nil
		}
	}

	versions, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list versions")
	}
	sortByPrecedence(versions)

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, versions, s.cacheTTL)
	}
	return versions, nil
}

// Latest returns the highest non-deprecated version of the scope.
func (s *VersionService) Latest(ctx context.Context, scope models.VersionScope, stableOnly bool) (*models.Version, error) {
	versions, err := s.List(ctx, dto.VersionQuery{VersionScope: scope, StableOnly: stableOnly})
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no versions released in "+scope.Key())
	}
	latest := versions[0]
	return &latest, nil
}

// Next proposes the increment of the scope's latest version. An empty catalogue increments 0.0.0.
func (s *VersionService) Next(ctx context.Context, query dto.NextVersionQuery) (*dto.NextVersionResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid next version query")
	}
	field, err := semver.ParseField(query.Field)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	versions, err := s.List(ctx, dto.VersionQuery{VersionScope: query.VersionScope, IncludeDeprecated: true})
	if err != nil {
		return nil, err
	}
	var current semver.Version
	resp := &dto.NextVersionResponse{Field: string(field)}
	if len(versions) > 0 {
		current = toSemver(versions[0])
		resp.Current = versions[0].Version
	}
	next, err := semver.Increment(current, field)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	resp.Next = next.String()
	return resp, nil
}

// Compare orders two version strings.
func (s *VersionService) Compare(query dto.CompareVersionsQuery) (*dto.CompareVersionsResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid compare query")
	}
	a, err := parseVersion(query.A)
	if err != nil {
		return nil, err
	}
	b, err := parseVersion(query.B)
	if err != nil {
		return nil, err
	}
	return &dto.CompareVersionsResponse{A: a.String(), B: b.String(), Ordering: semver.Compare(a, b).String()}, nil
}

// Deprecate sets or clears the deprecation flag.
func (s *VersionService) Deprecate(ctx context.Context, id string, req dto.DeprecateVersionRequest, actor models.Principal) (*models.Version, error) {
	version, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	deprecated := true
	if req.Deprecated != nil {
		deprecated = *req.Deprecated
	}
	if version.IsDeprecated == deprecated {
		return version, nil
	}
	if err := s.repo.SetDeprecated(ctx, id, deprecated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "version not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update version")
	}
	before := *version
	version.IsDeprecated = deprecated
	s.invalidate(ctx, version.Scope())
	if deprecated {
		s.invalidateArtifacts(ctx, *version)
	}
	s.audit.emit(ctx, actor, models.AuditActionVersionDeprecate, "version", id,
		map[string]bool{"isDeprecated": before.IsDeprecated}, map[string]bool{"isDeprecated": deprecated})
	return version, nil
}

// AppendChangelog annotates a released version.
func (s *VersionService) AppendChangelog(ctx context.Context, id string, req dto.AppendChangelogRequest, actor models.Principal) (*models.Version, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid changelog payload")
	}
	entries := trimEntries(req.Entries)
	if len(entries) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "changelog entries must not be blank")
	}
	if err := s.repo.AppendChangelog(ctx, id, entries); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "version not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append changelog")
	}
	version, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, version.Scope())
	s.audit.emit(ctx, actor, models.AuditActionVersionChangelog, "version", id, nil, map[string][]string{"entries": entries})
	return version, nil
}

// Resolve finds the registered version of a scope with the same precedence as text.
func (s *VersionService) Resolve(ctx context.Context, scope models.VersionScope, text string) (*models.Version, error) {
	parsed, err := parseVersion(text)
	if err != nil {
		return nil, err
	}
	version, err := s.repo.FindByPrecedence(ctx, scope.Normalize(), int64(parsed.Major), int64(parsed.Minor), int64(parsed.Patch), parsed.Prerelease)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.WithDetails(
				appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("version %s is not registered in %s", parsed, scope.Key())),
				"version", parsed.String())
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve version")
	}
	return version, nil
}

// LatestStableBelow returns the highest stable version of the scope strictly lower than target,
// deprecated versions included.
func (s *VersionService) LatestStableBelow(ctx context.Context, scope models.VersionScope, target semver.Version) (*models.Version, error) {
	versions, err := s.List(ctx, dto.VersionQuery{VersionScope: scope, StableOnly: true, IncludeDeprecated: true})
	if err != nil {
		return nil, err
	}
	for i := range versions {
		if toSemver(versions[i]).LessThan(target) {
			found := versions[i]
			return &found, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no stable version below %s in %s", target, scope.Key()))
}

// DeclareCompatibility records that installations moved below MinimumVersion cannot use state
// introduced by Version.
func (s *VersionService) DeclareCompatibility(ctx context.Context, req dto.DeclareCompatibilityRequest, actor models.Principal) (*models.CompatibilityDeclaration, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid compatibility payload")
	}
	scope := models.VersionScope{ExtensionID: req.ExtensionID, ProductID: req.ProductID}.Normalize()
	if !scope.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a declaration belongs to an extension or a product, not both")
	}
	kind := models.CompatibilityKind(req.Kind)
	if !kind.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown compatibility kind")
	}
	version, err := s.Resolve(ctx, scope, req.Version)
	if err != nil {
		return nil, err
	}
	minimum, err := parseVersion(req.MinimumVersion)
	if err != nil {
		return nil, err
	}
	if minimum.GreaterThan(toSemver(*version)) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "minimumVersion cannot exceed the declaring version")
	}

	decl := &models.CompatibilityDeclaration{
		ExtensionID:    scope.ExtensionPtr(),
		ProductID:      scope.ProductPtr(),
		Version:        version.Version,
		Kind:           kind,
		MinimumVersion: minimum.String(),
		Note:           strings.TrimSpace(req.Note),
		DeclaredBy:     actor.ID,
	}
	if err := s.compat.Create(ctx, decl); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record compatibility declaration")
	}
	return decl, nil
}

// ListCompatibility returns the declarations of a scope, optionally filtered by kind.
func (s *VersionService) ListCompatibility(ctx context.Context, scope models.VersionScope, kind models.CompatibilityKind) ([]models.CompatibilityDeclaration, error) {
	decls, err := s.compat.ListByScope(ctx, scope.Normalize(), kind)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list compatibility declarations")
	}
	return decls, nil
}

func (s *VersionService) invalidate(ctx context.Context, scope models.VersionScope) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, "versions:"+scope.Key()+":*"); err != nil {
		s.logger.Warn("version cache invalidation failed", zap.String("scope", scope.Key()), zap.Error(err))
	}
}

// invalidateArtifacts runs after the flag is stored; a failure is logged and does not undo the deprecation.
func (s *VersionService) invalidateArtifacts(ctx context.Context, version models.Version) {
	if s.artifacts == nil {
		return
	}
	count, err := s.artifacts.InvalidateArtifacts(ctx, version.Scope(), version.Version)
	if err != nil {
		s.logger.Warn("package artifact invalidation failed",
			zap.String("version_id", version.ID), zap.String("version", version.Version), zap.Error(err))
		return
	}
	s.logger.Info("package artifacts invalidated", zap.String("version", version.Version), zap.Int("count", count))
}

func listCacheKey(filter models.VersionFilter) string {
	return fmt.Sprintf("versions:%s:stable=%t:deprecated=%t", filter.Scope.Key(), filter.StableOnly, filter.IncludeDeprecated)
}

func parseVersion(text string) (semver.Version, error) {
	parsed, err := semver.Parse(text)
	if err != nil {
		return semver.Version{}, appErrors.WithDetails(
			appErrors.Wrap(err, appErrors.ErrInvalidVersionFormat.Code, appErrors.ErrInvalidVersionFormat.Status, appErrors.ErrInvalidVersionFormat.Message),
			"version", text)
	}
	return parsed, nil
}

func toSemver(v models.Version) semver.Version {
	return semver.Version{
		Major:      uint64(v.Major),
		Minor:      uint64(v.Minor),
		Patch:      uint64(v.Patch),
		Prerelease: v.Prerelease,
		Build:      v.Build,
	}
}

func sortByPrecedence(versions []models.Version) {
	sort.SliceStable(versions, func(i, j int) bool {
		return toSemver(versions[i]).GreaterThan(toSemver(versions[j]))
	})
}

func trimEntries(entries []string) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if trimmed := strings.TrimSpace(entry); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
