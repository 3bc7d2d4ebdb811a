package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/release-distribution-api/internal/dto"
	"github.com/noah-isme/release-distribution-api/internal/models"
	"github.com/noah-isme/release-distribution-api/internal/repository"
	appErrors "github.com/noah-isme/release-distribution-api/pkg/errors"
	"github.com/noah-isme/release-distribution-api/pkg/export"
	"github.com/noah-isme/release-distribution-api/pkg/semver"
)

type rollbackStore interface {
	CreatePlan(ctx context.Context, plan *models.RollbackPlan) error
	GetPlan(ctx context.Context, id string) (*models.RollbackPlan, error)
	ListPlans(ctx context.Context, filter models.RollbackPlanFilter) ([]models.RollbackPlan, error)
	UpdatePlanState(ctx context.Context, plan *models.RollbackPlan, expected models.RollbackStatus) error
	CreateExecution(ctx context.Context, exec *models.RollbackExecution) error
	GetExecutionByPlan(ctx context.Context, planID string) (*models.RollbackExecution, error)
	UpdateExecutionState(ctx context.Context, exec *models.RollbackExecution, expected models.ExecutionStatus) error
}

type safetyEvaluator interface {
	Evaluate(ctx context.Context, scope models.VersionScope, fromVersion, toVersion string) (models.SafetyCheckResults, error)
}

type rollbackPackager interface {
	ValidateRollback(scope models.VersionScope, fromVersion, toVersion string, req dto.ExecuteRollbackRequest) error
	BuildRollback(ctx context.Context, scope models.VersionScope, fromVersion, toVersion string, req dto.ExecuteRollbackRequest, payload io.Reader, actor models.Principal) (*models.UpdatePackage, error)
}

type rollbackDistributor interface {
	StartRollback(ctx context.Context, packageID string, plan *models.RollbackPlan, actor models.Principal) (*models.UpdateDistribution, error)
}

type auditHistory interface {
	ListByResource(ctx context.Context, resource, resourceID string) ([]models.AuditLog, error)
}

type reportRenderer interface {
	Render(ctx context.Context, format models.ReportFormat, name string, data export.Dataset) (*ExportResult, error)
}

// RollbackService is the rollback controller: it creates plans with their safety checks, gates
// approval on those checks and executes approved plans by building and distributing a downgrade
// package.
type RollbackService struct {
	repo        rollbackStore
	safety      safetyEvaluator
	packager    rollbackPackager
	distributor rollbackDistributor
	reports     reportRenderer
	metrics     *MetricsService
	audit       auditTrail
	history     auditHistory
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// RollbackServiceOption configures optional collaborators.
type RollbackServiceOption func(*RollbackService)

// WithRollbackMetrics records plan outcomes.
func WithRollbackMetrics(metrics *MetricsService) RollbackServiceOption {
	return func(s *RollbackService) {
		s.metrics = metrics
	}
}

// WithRollbackAudit records plan transitions in the audit trail. Writers that can also list a
// resource's history feed the report's audit section.
func WithRollbackAudit(writer auditWriter) RollbackServiceOption {
	return func(s *RollbackService) {
		s.audit.writer = writer
		if history, ok := writer.(auditHistory); ok {
			s.history = history
		}
	}
}

// WithRollbackReports enables plan report export.
func WithRollbackReports(reports reportRenderer) RollbackServiceOption {
	return func(s *RollbackService) {
		s.reports = reports
	}
}

// WithRollbackClock overrides the time source.
func WithRollbackClock(now func() time.Time) RollbackServiceOption {
	return func(s *RollbackService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewRollbackService constructs the controller.
func NewRollbackService(repo rollbackStore, safety safetyEvaluator, packager rollbackPackager, distributor rollbackDistributor, validate *validator.Validate, logger *zap.Logger, opts ...RollbackServiceOption) *RollbackService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	svc := &RollbackService{
		repo:        repo,
		safety:      safety,
		packager:    packager,
		distributor: distributor,
		validator:   validate,
		logger:      logger,
		now:         time.Now,
		audit:       auditTrail{source: "rollback-service", logger: logger},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// CreatePlan records a rollback proposal with a freshly evaluated batch of safety checks. The
// plan starts pending whatever the checks say; failed checks only block approval.
func (s *RollbackService) CreatePlan(ctx context.Context, req dto.CreateRollbackPlanRequest, actor models.Principal) (*models.RollbackPlan, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rollback plan payload")
	}
	scope := req.Scope()
	if !scope.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a rollback plan belongs to an extension or a product, not both")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reason is required")
	}
	from, err := parseVersion(req.FromVersion)
	if err != nil {
		return nil, err
	}
	to, err := parseVersion(req.ToVersion)
	if err != nil {
		return nil, err
	}
	if semver.Compare(from, to) != semver.Greater {
		return nil, rangeError(appErrors.ErrInvalidRollbackDirection, from, to)
	}
	strategy := models.RolloutStrategy(req.Strategy)
	if strategy == "" {
		strategy = models.StrategyImmediate
	}
	if strategy == models.StrategyScheduled && req.ScheduledAt == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "scheduled rollbacks require scheduledAt")
	}

	checks, err := s.safety.Evaluate(ctx, scope, from.String(), to.String())
	if err != nil {
		return nil, err
	}

	plan := &models.RollbackPlan{
		ExtensionID:      scope.ExtensionPtr(),
		ProductID:        scope.ProductPtr(),
		FromVersion:      from.String(),
		ToVersion:        to.String(),
		Reason:           reason,
		SafetyChecks:     checks,
		RollbackStrategy: strategy,
		TargetPercentage: req.TargetPercentage,
		Status:           models.RollbackPending,
		CreatedBy:        actor.ID,
	}
	if strategy == models.StrategyScheduled {
		plan.ScheduledAt = req.ScheduledAt
	}
	if err := s.repo.CreatePlan(ctx, plan); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create rollback plan")
	}

	s.metrics.RecordRollback(plan.Status)
	s.audit.emit(ctx, actor, models.AuditActionRollbackCreate, "rollback_plan", plan.ID, nil, plan)
	s.logger.Info("rollback plan created",
		zap.String("plan_id", plan.ID),
		zap.String("from", plan.FromVersion),
		zap.String("to", plan.ToVersion),
		zap.Int("failed_checks", len(checks.Failed())))
	return plan, nil
}

// Approve moves a pending plan to approved. Approving an approved plan is a no-op.
func (s *RollbackService) Approve(ctx context.Context, id string, actor models.Principal) (*models.RollbackPlan, error) {
	plan, err := s.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	switch plan.Status {
	case models.RollbackApproved:
		return plan, nil
	case models.RollbackPending:
	default:
		return nil, appErrors.StateError(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot approve a %s rollback plan", plan.Status), string(plan.Status))
	}
	if err := unsafeChecks(plan); err != nil {
		return nil, err
	}
	if pending := plan.SafetyChecks.Pending(); len(pending) > 0 || len(plan.SafetyChecks) < len(models.SafetyCheckTypes) {
		return nil, appErrors.StateError(appErrors.ErrInvalidTransition, "safety checks have not all been evaluated", string(plan.Status))
	}

	now := s.now().UTC()
	approver := actor.ID
	plan.Status = models.RollbackApproved
	plan.ApprovedBy = &approver
	plan.ApprovedAt = &now
	if err := s.persistPlan(ctx, plan, models.RollbackPending); err != nil {
		return nil, err
	}

	s.metrics.RecordRollback(plan.Status)
	s.audit.emit(ctx, actor, models.AuditActionRollbackApprove, "rollback_plan", plan.ID,
		map[string]string{"status": string(models.RollbackPending)}, map[string]string{"status": string(plan.Status)})
	s.logger.Info("rollback plan approved", zap.String("plan_id", plan.ID), zap.String("approved_by", approver))
	return plan, nil
}

// Execute runs an approved plan: it builds the downgrade package from payload and distributes it
// with the plan's strategy. Any failure after the plan enters executing marks both the execution
// and the plan failed with the same error; nothing is retried.
func (s *RollbackService) Execute(ctx context.Context, id string, req dto.ExecuteRollbackRequest, payload io.Reader, actor models.Principal) (*dto.RollbackExecuteResponse, error) {
	plan, err := s.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	switch plan.Status {
	case models.RollbackApproved:
	case models.RollbackPending:
		return nil, appErrors.StateError(appErrors.ErrNotApproved, "rollback plan must be approved before execution", string(plan.Status))
	case models.RollbackExecuting:
		exec, err := s.repo.GetExecutionByPlan(ctx, plan.ID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rollback execution")
		}
		if exec != nil && isFinished(exec.Status) {
			return nil, s.settlePlan(ctx, plan, exec)
		}
		return &dto.RollbackExecuteResponse{Plan: plan, Execution: exec}, nil
	case models.RollbackCompleted, models.RollbackFailed:
		return nil, appErrors.StateError(appErrors.ErrAlreadyExecuted,
			fmt.Sprintf("rollback plan already %s; create a new plan", plan.Status), string(plan.Status))
	default:
		return nil, appErrors.StateError(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot execute a %s rollback plan", plan.Status), string(plan.Status))
	}
	if err := unsafeChecks(plan); err != nil {
		return nil, err
	}
	if err := s.packager.ValidateRollback(plan.Scope(), plan.FromVersion, plan.ToVersion, req); err != nil {
		return nil, err
	}

	plan.Status = models.RollbackExecuting
	if err := s.persistPlan(ctx, plan, models.RollbackApproved); err != nil {
		return nil, err
	}
	s.logger.Info("rollback execution started", zap.String("plan_id", plan.ID), zap.String("actor", actor.ID))

	affected := plan.SafetyChecks.AffectedUsers()
	exec := &models.RollbackExecution{
		RollbackPlanID: plan.ID,
		Status:         models.ExecutionPending,
		AffectedUsers:  affected,
		StartedAt:      s.now().UTC(),
	}
	if err := s.repo.CreateExecution(ctx, exec); err != nil {
		cause := appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create rollback execution")
		if errors.Is(err, repository.ErrDuplicate) {
			cause = appErrors.Clone(appErrors.ErrConflict, "rollback execution already exists for plan")
		}
		return nil, s.failExecution(ctx, plan, nil, cause)
	}
	exec.Status = models.ExecutionExecuting
	if err := s.repo.UpdateExecutionState(ctx, exec, models.ExecutionPending); err != nil {
		return nil, s.failExecution(ctx, plan, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start rollback execution"))
	}

	pkg, err := s.packager.BuildRollback(ctx, plan.Scope(), plan.FromVersion, plan.ToVersion, req, payload, actor)
	if err != nil {
		return nil, s.failExecution(ctx, plan, exec, err)
	}
	plan.UpdatePackageID = &pkg.ID

	dist, err := s.distributor.StartRollback(ctx, pkg.ID, plan, actor)
	if err != nil {
		return nil, s.failExecution(ctx, plan, exec, err)
	}
	plan.DistributionID = &dist.ID

	finished := s.now().UTC()
	exec.Status = models.ExecutionCompleted
	exec.Progress = 100
	exec.SuccessfulRollbacks = affected
	exec.FinishedAt = &finished
	if err := s.repo.UpdateExecutionState(ctx, exec, models.ExecutionExecuting); err != nil {
		return nil, s.failExecution(ctx, plan, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record rollback execution"))
	}
	plan.Status = models.RollbackCompleted
	if err := s.persistPlan(context.WithoutCancel(ctx), plan, models.RollbackExecuting); err != nil {
		s.logger.Error("failed to record rollback plan completion", zap.String("plan_id", plan.ID), zap.Error(err))
		return nil, s.failExecution(ctx, plan, exec, err)
	}

	s.metrics.RecordRollback(plan.Status)
	s.audit.emit(ctx, actor, models.AuditActionRollbackExecute, "rollback_plan", plan.ID,
		map[string]string{"status": string(models.RollbackApproved)},
		map[string]interface{}{"status": plan.Status, "updatePackageId": pkg.ID, "distributionId": dist.ID})
	s.logger.Info("rollback executed",
		zap.String("plan_id", plan.ID),
		zap.String("update_package_id", pkg.ID),
		zap.String("distribution_id", dist.ID),
		zap.Int64("affected_users", affected))
	return &dto.RollbackExecuteResponse{Plan: plan, Execution: exec}, nil
}

// failExecution records cause on the execution (when one exists) and on the plan, then returns
// cause. Bookkeeping survives cancellation of the caller's context.
func (s *RollbackService) failExecution(ctx context.Context, plan *models.RollbackPlan, exec *models.RollbackExecution, cause error) error {
	ctx = context.WithoutCancel(ctx)
	message := cause.Error()
	finished := s.now().UTC()

	if exec != nil {
		expected := exec.Status
		exec.Status = models.ExecutionFailed
		exec.Error = &message
		exec.FailedRollbacks = exec.AffectedUsers
		exec.SuccessfulRollbacks = 0
		exec.FinishedAt = &finished
		if err := s.repo.UpdateExecutionState(ctx, exec, expected); err != nil {
			s.logger.Error("failed to record rollback execution failure", zap.String("plan_id", plan.ID), zap.Error(err))
		}
	} else if existing, err := s.repo.GetExecutionByPlan(ctx, plan.ID); err == nil && !isFinished(existing.Status) {
		expected := existing.Status
		existing.Status = models.ExecutionFailed
		existing.Error = &message
		existing.FinishedAt = &finished
		if err := s.repo.UpdateExecutionState(ctx, existing, expected); err != nil {
			s.logger.Error("failed to record rollback execution failure", zap.String("plan_id", plan.ID), zap.Error(err))
		}
	}

	plan.Status = models.RollbackFailed
	plan.Error = &message
	if err := s.repo.UpdatePlanState(ctx, plan, models.RollbackExecuting); err != nil {
		s.logger.Error("failed to record rollback plan failure", zap.String("plan_id", plan.ID), zap.Error(err))
	}
	s.metrics.RecordRollback(plan.Status)
	s.logger.Warn("rollback execution failed", zap.String("plan_id", plan.ID), zap.Error(cause))
	return cause
}

// settlePlan moves a plan left executing to the terminal state its finished execution records, then
// reports the plan as already executed.
func (s *RollbackService) settlePlan(ctx context.Context, plan *models.RollbackPlan, exec *models.RollbackExecution) error {
	plan.Status = models.RollbackCompleted
	if exec.Status == models.ExecutionFailed {
		plan.Status = models.RollbackFailed
		plan.Error = exec.Error
	}
	if err := s.persistPlan(context.WithoutCancel(ctx), plan, models.RollbackExecuting); err != nil {
		return err
	}
	s.metrics.RecordRollback(plan.Status)
	s.logger.Warn("settled rollback plan from its execution record",
		zap.String("plan_id", plan.ID), zap.String("status", string(plan.Status)))
	return appErrors.StateError(appErrors.ErrAlreadyExecuted,
		fmt.Sprintf("rollback plan already %s; create a new plan", plan.Status), string(plan.Status))
}

// Cancel abandons a pending or approved plan. Cancelling a cancelled plan is a no-op.
func (s *RollbackService) Cancel(ctx context.Context, id string, actor models.Principal) (*models.RollbackPlan, error) {
	plan, err := s.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan.Status == models.RollbackCancelled {
		return plan, nil
	}
	if plan.Status != models.RollbackPending && plan.Status != models.RollbackApproved {
		return nil, appErrors.StateError(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot cancel a %s rollback plan", plan.Status), string(plan.Status))
	}
	expected := plan.Status
	cancelledBy := actor.ID
	plan.Status = models.RollbackCancelled
	plan.CancelledBy = &cancelledBy
	if err := s.persistPlan(ctx, plan, expected); err != nil {
		return nil, err
	}
	s.metrics.RecordRollback(plan.Status)
	s.audit.emit(ctx, actor, models.AuditActionRollbackCancel, "rollback_plan", plan.ID,
		map[string]string{"status": string(expected)}, map[string]string{"status": string(plan.Status)})
	s.logger.Info("rollback plan cancelled", zap.String("plan_id", plan.ID), zap.String("cancelled_by", cancelledBy))
	return plan, nil
}

// GetPlan fetches a plan by id.
func (s *RollbackService) GetPlan(ctx context.Context, id string) (*models.RollbackPlan, error) {
	plan, err := s.repo.GetPlan(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "rollback plan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rollback plan")
	}
	return plan, nil
}

// ListPlans returns plans matching the query, newest first.
func (s *RollbackService) ListPlans(ctx context.Context, query dto.RollbackPlanQuery) ([]models.RollbackPlan, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rollback plan query")
	}
	filter := models.RollbackPlanFilter{Scope: query.VersionScope.Normalize(), Limit: query.Limit, Offset: query.Offset}
	for _, status := range query.Status {
		filter.Status = append(filter.Status, models.RollbackStatus(status))
	}
	plans, err := s.repo.ListPlans(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list rollback plans")
	}
	return plans, nil
}

// GetExecution returns the execution record of a plan.
func (s *RollbackService) GetExecution(ctx context.Context, planID string) (*models.RollbackExecution, error) {
	if _, err := s.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	exec, err := s.repo.GetExecutionByPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "rollback plan has not been executed")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rollback execution")
	}
	return exec, nil
}

// Report renders the plan, its safety checks and execution outcome as CSV or PDF.
func (s *RollbackService) Report(ctx context.Context, id string, format models.ReportFormat) (*ExportResult, error) {
	if s.reports == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "report export is not configured")
	}
	plan, err := s.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	exec, err := s.repo.GetExecutionByPlan(ctx, id)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rollback execution")
		}
		exec = nil
	}
	var trail []models.AuditLog
	if s.history != nil {
		if trail, err = s.history.ListByResource(ctx, "rollback_plan", plan.ID); err != nil {
			s.logger.Warn("rollback report without audit trail", zap.String("plan_id", plan.ID), zap.Error(err))
			trail = nil
		}
	}
	return s.reports.Render(ctx, format, "rollback-"+plan.ID, rollbackDataset(plan, exec, trail))
}

func (s *RollbackService) persistPlan(ctx context.Context, plan *models.RollbackPlan, expected models.RollbackStatus) error {
	if err := s.repo.UpdatePlanState(ctx, plan, expected); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			current := "unknown"
			if latest, getErr := s.repo.GetPlan(ctx, plan.ID); getErr == nil {
				current = string(latest.Status)
			}
			return appErrors.StateError(appErrors.ErrConflict, "rollback plan was modified concurrently", current)
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update rollback plan")
	}
	return nil
}

func unsafeChecks(plan *models.RollbackPlan) error {
	failed := plan.SafetyChecks.Failed()
	if len(failed) == 0 {
		return nil
	}
	types := make([]string, len(failed))
	for i, check := range failed {
		types[i] = string(check.Type)
	}
	err := appErrors.StateError(appErrors.ErrUnsafeRollback,
		fmt.Sprintf("rollback blocked by %d failed safety check(s): %s", len(failed), strings.Join(types, ", ")), string(plan.Status))
	return appErrors.WithDetails(err, "failedChecks", types)
}

func isFinished(status models.ExecutionStatus) bool {
	return status == models.ExecutionCompleted || status == models.ExecutionFailed
}

func rollbackDataset(plan *models.RollbackPlan, exec *models.RollbackExecution, trail []models.AuditLog) export.Dataset {
	row := func(section, item, status, detail string) map[string]string {
		return map[string]string{"Section": section, "Item": item, "Status": status, "Detail": detail}
	}
	rows := []map[string]string{
		row("plan", "versions", string(plan.Status), plan.FromVersion+" -> "+plan.ToVersion),
		row("plan", "scope", "", plan.Scope().Key()),
		row("plan", "reason", "", plan.Reason),
		row("plan", "strategy", string(plan.RollbackStrategy), optionalTime(plan.ScheduledAt)),
		row("plan", "created", plan.CreatedBy, plan.CreatedAt.UTC().Format(time.RFC3339)),
	}
	if plan.ApprovedBy != nil {
		rows = append(rows, row("plan", "approved", *plan.ApprovedBy, optionalTime(plan.ApprovedAt)))
	}
	if plan.CancelledBy != nil {
		rows = append(rows, row("plan", "cancelled", *plan.CancelledBy, ""))
	}
	if plan.Error != nil {
		rows = append(rows, row("plan", "error", string(plan.Status), *plan.Error))
	}
	for _, check := range plan.SafetyChecks {
		detail := check.Message
		if check.Impact != "" {
			detail = fmt.Sprintf("%s [impact %s]", detail, check.Impact)
		}
		rows = append(rows, row("safety_check", string(check.Type), string(check.Status), detail))
	}
	if exec != nil {
		rows = append(rows,
			row("execution", "progress", string(exec.Status), strconv.Itoa(exec.Progress)+"%"),
			row("execution", "affected_users", "", strconv.FormatInt(exec.AffectedUsers, 10)),
			row("execution", "successful_rollbacks", "", strconv.FormatInt(exec.SuccessfulRollbacks, 10)),
			row("execution", "failed_rollbacks", "", strconv.FormatInt(exec.FailedRollbacks, 10)),
		)
		if exec.Error != nil {
			rows = append(rows, row("execution", "error", string(exec.Status), *exec.Error))
		}
	}
	for _, entry := range trail {
		actor := ""
		if entry.UserID != nil {
			actor = *entry.UserID
		}
		rows = append(rows, row("audit", entry.Action, actor, entry.CreatedAt.UTC().Format(time.RFC3339)))
	}
	return export.Dataset{
		Title:   fmt.Sprintf("Rollback plan %s", plan.ID),
		Headers: []string{"Section", "Item", "Status", "Detail"},
		Rows:    rows,
		Notes:   []string{"Generated " + time.Now().UTC().Format(time.RFC3339)},
	}
}

func optionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
