package service

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/release-distribution-api/internal/dto"
	"github.com/noah-isme/release-distribution-api/internal/models"
	appErrors "github.com/noah-isme/release-distribution-api/pkg/errors"
)

const advanceBatchSize = 200

type distributionStore interface {
	Create(ctx context.Context, dist *models.UpdateDistribution) error
	GetByID(ctx context.Context, id string) (*models.UpdateDistribution, error)
	List(ctx context.Context, filter models.DistributionFilter) ([]models.UpdateDistribution, error)
	UpdateState(ctx context.Context, dist *models.UpdateDistribution, expected models.DistributionStatus) error
}

type packageLookup interface {
	Get(ctx context.Context, id string) (*models.UpdatePackage, error)
}

// DistributionService drives update distributions through their rollout states. Every operation
// re-reads the row and writes through an optimistic status and row version check.
type DistributionService struct {
	repo      distributionStore
	packages  packageLookup
	policy    RolloutPolicy
	notifier  UpdateNotifier
	metrics   *MetricsService
	audit     auditTrail
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// DistributionServiceOption configures optional collaborators.
type DistributionServiceOption func(*DistributionService)

// WithRolloutPolicy overrides the gradual ramp.
func WithRolloutPolicy(policy RolloutPolicy) DistributionServiceOption {
	return func(s *DistributionService) {
		if policy != nil {
			s.policy = policy
		}
	}
}

// WithNotifier sets the notifier used for explicit target users.
func WithNotifier(notifier UpdateNotifier) DistributionServiceOption {
	return func(s *DistributionService) {
		if notifier != nil {
			s.notifier = notifier
		}
	}
}

// WithDistributionMetrics records rollout activity.
func WithDistributionMetrics(metrics *MetricsService) DistributionServiceOption {
	return func(s *DistributionService) {
		s.metrics = metrics
	}
}

// WithDistributionAudit records operator transitions in the audit trail.
func WithDistributionAudit(writer auditWriter) DistributionServiceOption {
	return func(s *DistributionService) {
		s.audit.writer = writer
	}
}

// WithDistributionClock overrides the time source.
func WithDistributionClock(now func() time.Time) DistributionServiceOption {
	return func(s *DistributionService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewDistributionService constructs the scheduler.
func NewDistributionService(repo distributionStore, packages packageLookup, validate *validator.Validate, logger *zap.Logger, opts ...DistributionServiceOption) *DistributionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	svc := &DistributionService{
		repo:      repo,
		packages:  packages,
		policy:    NewLinearRampPolicy(0, 0),
		validator: validate,
		logger:    logger,
		now:       time.Now,
		audit:     auditTrail{source: "distribution-service", logger: logger},
	}
	svc.notifier = NewLogNotifier(logger)
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

type startParams struct {
	packageID        string
	strategy         models.RolloutStrategy
	targetUsers      []string
	targetPercentage *int
	startDate        *time.Time
	endDate          *time.Time
	notificationKind models.NotificationKind
	rollbackPlanID   *string
}

// Start creates a distribution for a package and moves it straight out of pending. Immediate
// rollouts complete synchronously; gradual rollouts expose the policy's first step; scheduled
// rollouts hold at zero until their start date.
func (s *DistributionService) Start(ctx context.Context, req dto.StartDistributionRequest, actor models.Principal) (*models.UpdateDistribution, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid distribution payload")
	}
	kind := models.NotificationKind(req.NotificationKind)
	if kind == "" {
		kind = models.NotificationAvailable
	}
	return s.start(ctx, startParams{
		packageID:        req.UpdatePackageID,
		strategy:         models.RolloutStrategy(req.Strategy),
		targetUsers:      req.TargetUsers,
		targetPercentage: req.TargetPercentage,
		startDate:        req.StartDate,
		endDate:          req.EndDate,
		notificationKind: kind,
	}, actor)
}

// StartRollback distributes a downgrade package according to a rollback plan.
func (s *DistributionService) StartRollback(ctx context.Context, packageID string, plan *models.RollbackPlan, actor models.Principal) (*models.UpdateDistribution, error) {
	params := startParams{
		packageID:        packageID,
		strategy:         plan.RollbackStrategy,
		targetPercentage: plan.TargetPercentage,
		notificationKind: models.NotificationRequired,
		rollbackPlanID:   &plan.ID,
	}
	if plan.RollbackStrategy == models.StrategyScheduled {
		params.startDate = plan.ScheduledAt
	}
	return s.start(ctx, params, actor)
}

func (s *DistributionService) start(ctx context.Context, params startParams, actor models.Principal) (*models.UpdateDistribution, error) {
	now := s.now().UTC()
	if err := validateStart(params, now); err != nil {
		return nil, err
	}
	pkg, err := s.packages.Get(ctx, params.packageID)
	if err != nil {
		return nil, err
	}

	dist := &models.UpdateDistribution{
		UpdatePackageID:  pkg.ID,
		Strategy:         params.strategy,
		TargetUsers:      pq.StringArray(dedupeUsers(params.targetUsers)),
		TargetPercentage: params.targetPercentage,
		StartDate:        params.startDate,
		EndDate:          params.endDate,
		Status:           models.DistributionPending,
		NotificationKind: params.notificationKind,
		RollbackPlanID:   params.rollbackPlanID,
		CreatedBy:        actor.ID,
	}
	if err := s.repo.Create(ctx, dist); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create distribution")
	}

	dist.Status = models.DistributionDistributing
	dist.LastProgressAt = &now
	if dist.Strategy == models.StrategyGradual {
		dist.Progress = s.policy.Initial()
	}
	s.evaluate(dist, now)
	recipients := s.claimRecipients(dist)
	if err := s.persist(ctx, dist, models.DistributionPending); err != nil {
		return nil, err
	}

	s.metrics.RecordDistributionStarted(dist.Strategy)
	s.metrics.RecordDistributionStatus(dist.Status)
	s.notify(ctx, dist, recipients)
	s.audit.emit(ctx, actor, models.AuditActionDistributionStart, "update_distribution", dist.ID, nil, dist)
	s.logger.Info("distribution started",
		zap.String("distribution_id", dist.ID),
		zap.String("update_package_id", dist.UpdatePackageID),
		zap.String("strategy", string(dist.Strategy)),
		zap.String("status", string(dist.Status)),
		zap.Int("progress", dist.Progress))
	return dist, nil
}

func validateStart(params startParams, now time.Time) error {
	if !params.strategy.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "unknown rollout strategy")
	}
	if len(params.targetUsers) > 0 && params.targetPercentage != nil {
		return appErrors.Clone(appErrors.ErrValidation, "targetUsers and targetPercentage are mutually exclusive")
	}
	if params.targetPercentage != nil && (*params.targetPercentage < 0 || *params.targetPercentage > 100) {
		return appErrors.Clone(appErrors.ErrValidation, "targetPercentage must be between 0 and 100")
	}
	if params.strategy == models.StrategyScheduled && params.startDate == nil {
		return appErrors.Clone(appErrors.ErrValidation, "scheduled distributions require startDate")
	}
	if params.strategy != models.StrategyScheduled && params.startDate != nil {
		return appErrors.Clone(appErrors.ErrValidation, "startDate only applies to scheduled distributions")
	}
	if params.endDate != nil {
		if !params.endDate.After(now) {
			return appErrors.Clone(appErrors.ErrValidation, "endDate must be in the future")
		}
		if params.startDate != nil && !params.endDate.After(*params.startDate) {
			return appErrors.Clone(appErrors.ErrValidation, "endDate must be after startDate")
		}
	}
	if params.notificationKind != "" && !params.notificationKind.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "unknown notification kind")
	}
	return nil
}

// Pause halts a distributing rollout. Already exposed installations stay exposed.
func (s *DistributionService) Pause(ctx context.Context, id string, actor models.Principal) (*models.UpdateDistribution, error) {
	dist, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if dist.Status != models.DistributionDistributing {
		return nil, appErrors.StateError(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot pause a %s distribution", dist.Status), string(dist.Status))
	}
	dist.Status = models.DistributionPaused
	if err := s.persist(ctx, dist, models.DistributionDistributing); err != nil {
		return nil, err
	}
	s.metrics.RecordDistributionStatus(dist.Status)
	s.audit.emit(ctx, actor, models.AuditActionDistributionPause, "update_distribution", dist.ID,
		map[string]string{"status": string(models.DistributionDistributing)}, map[string]string{"status": string(dist.Status)})
	s.logger.Info("distribution paused", zap.String("distribution_id", dist.ID), zap.Int("progress", dist.Progress))
	return dist, nil
}

// Resume continues a paused rollout. Time spent paused does not count toward the gradual ramp.
func (s *DistributionService) Resume(ctx context.Context, id string, actor models.Principal) (*models.UpdateDistribution, error) {
	dist, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if dist.Status != models.DistributionPaused {
		return nil, appErrors.StateError(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot resume a %s distribution", dist.Status), string(dist.Status))
	}
	now := s.now().UTC()
	dist.Status = models.DistributionDistributing
	dist.LastProgressAt = &now
	s.evaluate(dist, now)
	recipients := s.claimRecipients(dist)
	if err := s.persist(ctx, dist, models.DistributionPaused); err != nil {
		return nil, err
	}
	s.metrics.RecordDistributionStatus(dist.Status)
	s.notify(ctx, dist, recipients)
	s.audit.emit(ctx, actor, models.AuditActionDistributionResume, "update_distribution", dist.ID,
		map[string]string{"status": string(models.DistributionPaused)}, map[string]string{"status": string(dist.Status)})
	s.logger.Info("distribution resumed", zap.String("distribution_id", dist.ID), zap.String("status", string(dist.Status)))
	return dist, nil
}

// Fail terminates a rollout with a reason, freezing its progress.
func (s *DistributionService) Fail(ctx context.Context, id, reason string, actor models.Principal) (*models.UpdateDistribution, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reason is required")
	}
	dist, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if dist.Status != models.DistributionDistributing && dist.Status != models.DistributionPaused {
		return nil, appErrors.StateError(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot fail a %s distribution", dist.Status), string(dist.Status))
	}
	expected := dist.Status
	markFailed(dist, reason)
	if err := s.persist(ctx, dist, expected); err != nil {
		return nil, err
	}
	s.metrics.RecordDistributionStatus(dist.Status)
	s.logger.Warn("distribution failed", zap.String("distribution_id", dist.ID), zap.String("reason", reason),
		zap.String("actor", actor.ID), zap.Int("progress", dist.Progress))
	return dist, nil
}

// Advance re-evaluates one distribution against the clock: it ramps gradual rollouts, opens
// scheduled windows and expires closed ones. Non-distributing rows are returned unchanged.
func (s *DistributionService) Advance(ctx context.Context, id string) (*models.UpdateDistribution, bool, error) {
	dist, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if dist.Status != models.DistributionDistributing {
		s.metrics.RecordRolloutAdvance("skipped")
		return dist, false, nil
	}
	before := *dist
	if !s.evaluate(dist, s.now().UTC()) {
		s.metrics.RecordRolloutAdvance("unchanged")
		return dist, false, nil
	}
	recipients := s.claimRecipients(dist)
	if err := s.persist(ctx, dist, models.DistributionDistributing); err != nil {
		s.metrics.RecordRolloutAdvance("conflict")
		return nil, false, err
	}
	s.metrics.RecordRolloutAdvance("changed")
	if dist.Status != before.Status {
		s.metrics.RecordDistributionStatus(dist.Status)
	}
	s.notify(ctx, dist, recipients)
	s.logger.Info("distribution advanced",
		zap.String("distribution_id", dist.ID),
		zap.Int("from_progress", before.Progress),
		zap.Int("progress", dist.Progress),
		zap.String("status", string(dist.Status)))
	return dist, true, nil
}

// AdvanceDue advances every distributing rollout, oldest first, paging by keyset so rows that leave
// distributing mid-pass do not shift later pages. Individual failures are logged and counted; the
// pass continues with the remaining rows.
func (s *DistributionService) AdvanceDue(ctx context.Context) (*dto.AdvanceSummary, error) {
	summary := &dto.AdvanceSummary{Items: make([]models.UpdateDistribution, 0)}
	filter := models.DistributionFilter{
		Status:      []models.DistributionStatus{models.DistributionDistributing},
		Limit:       advanceBatchSize,
		OldestFirst: true,
	}
	for {
		due, err := s.repo.List(ctx, filter)
		if err != nil {
			return summary, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list due distributions")
		}
		for _, candidate := range due {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			s.advanceCandidate(ctx, candidate.ID, summary)
		}
		if len(due) < advanceBatchSize {
			return summary, nil
		}
		filter.After = models.CursorOf(due[len(due)-1])
	}
}

func (s *DistributionService) advanceCandidate(ctx context.Context, id string, summary *dto.AdvanceSummary) {
	summary.Evaluated++
	dist, changed, err := s.Advance(ctx, id)
	if err != nil {
		if errors.Is(err, appErrors.ErrConflict) {
			summary.Conflicts++
		} else {
			s.logger.Warn("advance distribution failed", zap.String("distribution_id", id), zap.Error(err))
		}
		return
	}
	if !changed {
		return
	}
	summary.Changed++
	switch dist.Status {
	case models.DistributionCompleted:
		summary.Completed++
	case models.DistributionFailed:
		summary.Failed++
	}
	summary.Items = append(summary.Items, *dist)
}

// Get fetches a distribution by id.
func (s *DistributionService) Get(ctx context.Context, id string) (*models.UpdateDistribution, error) {
	dist, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "distribution not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load distribution")
	}
	return dist, nil
}

// List returns distributions matching the query, newest first.
func (s *DistributionService) List(ctx context.Context, query dto.DistributionQuery) ([]models.UpdateDistribution, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid distribution query")
	}
	filter := models.DistributionFilter{UpdatePackageID: query.UpdatePackageID, Limit: query.Limit}
	for _, status := range query.Status {
		filter.Status = append(filter.Status, models.DistributionStatus(status))
	}
	dists, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list distributions")
	}
	return dists, nil
}

// Exposure answers whether userID currently receives the distribution. Explicit target lists
// expose their first users in order; otherwise users are bucketed into 100 stable slots.
func (s *DistributionService) Exposure(ctx context.Context, id, userID string) (*dto.ExposureResponse, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "user id is required")
	}
	dist, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := &dto.ExposureResponse{
		DistributionID:     dist.ID,
		UserID:             userID,
		ExposurePercentage: dist.ExposurePercentage,
		Status:             dist.Status,
	}
	live := dist.Status == models.DistributionDistributing || dist.Status == models.DistributionPaused || dist.Status == models.DistributionCompleted
	if len(dist.TargetUsers) > 0 {
		exposed := exposedCount(dist)
		for i, candidate := range dist.TargetUsers {
			if candidate == userID {
				resp.Exposed = live && i < exposed
				break
			}
		}
		return resp, nil
	}
	bucket := exposureBucket(dist.ID, userID)
	resp.Bucket = &bucket
	resp.Exposed = live && float64(bucket) < dist.ExposurePercentage
	return resp, nil
}

// evaluate applies the clock to a distributing rollout and reports whether anything changed.
// Progress never decreases; an expired window fails the rollout with progress frozen.
func (s *DistributionService) evaluate(dist *models.UpdateDistribution, now time.Time) bool {
	if dist.Status != models.DistributionDistributing {
		return false
	}
	if dist.EndDate != nil && !now.Before(*dist.EndDate) {
		markFailed(dist, models.FailureReasonWindowExpired)
		return true
	}

	progress := dist.Progress
	switch dist.Strategy {
	case models.StrategyImmediate:
		progress = 100
	case models.StrategyScheduled:
		if dist.StartDate == nil || !now.Before(*dist.StartDate) {
			progress = 100
		}
	case models.StrategyGradual:
		since := now
		if dist.LastProgressAt != nil {
			since = *dist.LastProgressAt
		}
		next, anchor := s.policy.Advance(progress, since, now)
		if next > progress {
			progress = next
			dist.LastProgressAt = &anchor
		}
	}
	if progress < dist.Progress {
		progress = dist.Progress
	}

	changed := progress != dist.Progress
	dist.Progress = progress
	dist.ExposurePercentage = exposureFor(dist)
	if dist.Progress >= 100 {
		dist.Status = models.DistributionCompleted
		completedAt := now
		dist.CompletedAt = &completedAt
		changed = true
	}
	return changed
}

// claimRecipients marks the explicit target users exposed since the last notification as
// notified and returns them. The caller notifies them only after the row is persisted.
func (s *DistributionService) claimRecipients(dist *models.UpdateDistribution) []string {
	if len(dist.TargetUsers) == 0 || dist.Status == models.DistributionFailed {
		return nil
	}
	exposed := exposedCount(dist)
	if exposed <= dist.NotifiedCount {
		return nil
	}
	recipients := append([]string(nil), dist.TargetUsers[dist.NotifiedCount:exposed]...)
	dist.NotifiedCount = exposed
	return recipients
}

func (s *DistributionService) notify(ctx context.Context, dist *models.UpdateDistribution, recipients []string) {
	for _, userID := range recipients {
		err := s.notifier.Notify(ctx, Notification{
			DistributionID:  dist.ID,
			UpdatePackageID: dist.UpdatePackageID,
			UserID:          userID,
			Kind:            dist.NotificationKind,
			SentAt:          s.now().UTC(),
		})
		if err != nil {
			s.logger.Warn("update notification failed",
				zap.String("distribution_id", dist.ID),
				zap.String("user_id", userID),
				zap.Error(err))
		}
	}
}

func (s *DistributionService) persist(ctx context.Context, dist *models.UpdateDistribution, expected models.DistributionStatus) error {
	if err := s.repo.UpdateState(ctx, dist, expected); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			current := "unknown"
			if latest, getErr := s.repo.GetByID(ctx, dist.ID); getErr == nil {
				current = string(latest.Status)
			}
			return appErrors.StateError(appErrors.ErrConflict, "distribution was modified concurrently", current)
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update distribution")
	}
	return nil
}

func markFailed(dist *models.UpdateDistribution, reason string) {
	dist.Status = models.DistributionFailed
	dist.FailureReason = &reason
}

func exposureFor(dist *models.UpdateDistribution) float64 {
	return float64(dist.Target()) * float64(dist.Progress) / 100
}

func exposedCount(dist *models.UpdateDistribution) int {
	return len(dist.TargetUsers) * dist.Progress / 100
}

func exposureBucket(distributionID, userID string) int {
	sum := sha1.Sum([]byte(distributionID + ":" + userID))
	return int(binary.BigEndian.Uint32(sum[:4]) % 100)
}

func dedupeUsers(users []string) []string {
	if len(users) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(users))
	out := make([]string, 0, len(users))
	for _, user := range users {
		user = strings.TrimSpace(user)
		if user == "" {
			continue
		}
		if _, ok := seen[user]; ok {
			continue
		}
		seen[user] = struct{}{}
		out = append(out, user)
	}
	return out
}
