package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/release-distribution-api/internal/dto"
	"github.com/noah-isme/release-distribution-api/internal/models"
	appErrors "github.com/noah-isme/release-distribution-api/pkg/errors"
	"github.com/noah-isme/release-distribution-api/pkg/storage"
)

var approver = models.Principal{ID: "op-2"}

type rollbackFixture struct {
	svc       *RollbackService
	repo      *memRollbackStore
	versions  *VersionService
	packages  *memPackageStore
	artifacts *fakeArtifactStore
	dists     *memDistributionStore
	notifier  *recordingNotifier
	telemetry *fixedTelemetry
	audit     *memAuditWriter
	clock     *testClock
}

func newRollbackFixture(t *testing.T) rollbackFixture {
	t.Helper()
	versions, _, _ := newVersionFixture()
	registerVersions(t, versions, "ext-1", "1.0.0", "1.1.0", "2.0.0")

	clock := newTestClock()
	telemetry := &fixedTelemetry{count: 250}
	safety := NewSafetyCheckService(versions, telemetry, nil, WithSafetyClock(clock.Now))

	packages := &memPackageStore{}
	artifacts := newFakeArtifactStore()
	builder := NewPackageBuilderService(packages, artifacts, nil, nil)

	dists := newMemDistributionStore()
	notifier := &recordingNotifier{}
	distributor := NewDistributionService(dists, builder, nil, nil, WithDistributionClock(clock.Now), WithNotifier(notifier))

	repo := newMemRollbackStore()
	audit := &memAuditWriter{}
	svc := NewRollbackService(repo, safety, builder, distributor, nil, nil,
		WithRollbackAudit(audit),
		WithRollbackClock(clock.Now),
		WithRollbackReports(NewExportService(zap.NewNop(), nil, nil)),
		WithRollbackMetrics(NewMetricsService()))

	return rollbackFixture{
		svc:       svc,
		repo:      repo,
		versions:  versions,
		packages:  packages,
		artifacts: artifacts,
		dists:     dists,
		notifier:  notifier,
		telemetry: telemetry,
		audit:     audit,
		clock:     clock,
	}
}

func (f rollbackFixture) createPlan(t *testing.T, from, to string) *models.RollbackPlan {
	t.Helper()
	plan, err := f.svc.CreatePlan(context.Background(), dto.CreateRollbackPlanRequest{
		ExtensionID: "ext-1", FromVersion: from, ToVersion: to, Reason: "crash loop on start",
	}, operator)
	require.NoError(t, err)
	return plan
}

func (f rollbackFixture) execute(id string) (*dto.RollbackExecuteResponse, error) {
	return f.svc.Execute(context.Background(), id, dto.ExecuteRollbackRequest{ReleaseNotes: "revert"}, strings.NewReader("downgrade-bytes"), operator)
}

func TestRollbackBlockedByFailedSafetyCheck(t *testing.T) {
	f := newRollbackFixture(t)
	_, err := f.versions.DeclareCompatibility(context.Background(), dto.DeclareCompatibilityRequest{
		ExtensionID: "ext-1", Version: "2.0.0", Kind: "data", MinimumVersion: "2.0.0", Note: "schema v2",
	}, operator)
	require.NoError(t, err)

	plan := f.createPlan(t, "2.0.0", "1.1.0")
	assert.Equal(t, models.RollbackPending, plan.Status, "failed checks do not block creation")
	require.Len(t, plan.SafetyChecks, 4)
	assert.Equal(t, models.SafetyCheckFailed, plan.SafetyChecks[0].Status)

	_, err = f.svc.Approve(context.Background(), plan.ID, approver)
	require.ErrorIs(t, err, appErrors.ErrUnsafeRollback)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, []string{"data_compatibility"}, appErr.Details["failedChecks"])
	assert.Equal(t, "pending", appErr.Details["currentStatus"])
	assert.Equal(t, models.RollbackPending, f.repo.plan(plan.ID).Status)

	_, err = f.execute(plan.ID)
	require.ErrorIs(t, err, appErrors.ErrNotApproved)
	_, executed := f.repo.execution(plan.ID)
	assert.False(t, executed)
	assert.Zero(t, f.packages.count())
}

func TestRollbackApproveAndExecute(t *testing.T) {
	f := newRollbackFixture(t)
	plan := f.createPlan(t, "1.1.0", "1.0.0")
	assert.Equal(t, models.SafetyCheckWarning, plan.SafetyChecks[3].Status, "250 installations is medium impact")

	approved, err := f.svc.Approve(context.Background(), plan.ID, approver)
	require.NoError(t, err)
	assert.Equal(t, models.RollbackApproved, approved.Status)
	assert.Equal(t, "op-2", *approved.ApprovedBy)
	assert.Equal(t, f.clock.Now(), *approved.ApprovedAt)

	again, err := f.svc.Approve(context.Background(), plan.ID, approver)
	require.NoError(t, err)
	assert.Equal(t, approved.RowVersion, again.RowVersion, "re-approval writes nothing")

	resp, err := f.execute(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RollbackCompleted, resp.Plan.Status)
	require.NotNil(t, resp.Execution)
	assert.Equal(t, models.ExecutionCompleted, resp.Execution.Status)
	assert.Equal(t, 100, resp.Execution.Progress)
	assert.EqualValues(t, 250, resp.Execution.AffectedUsers)
	assert.EqualValues(t, 250, resp.Execution.SuccessfulRollbacks)
	require.NotNil(t, resp.Execution.FinishedAt)

	require.NotNil(t, resp.Plan.UpdatePackageID)
	pkg, err := f.packages.GetByID(context.Background(), *resp.Plan.UpdatePackageID)
	require.NoError(t, err)
	assert.Equal(t, models.PackageDirectionRollback, pkg.Direction)
	assert.Equal(t, "1.1.0", pkg.FromVersion)
	assert.Equal(t, "1.0.0", pkg.ToVersion)

	require.NotNil(t, resp.Plan.DistributionID)
	dist, err := f.dists.GetByID(context.Background(), *resp.Plan.DistributionID)
	require.NoError(t, err)
	assert.Equal(t, models.DistributionCompleted, dist.Status)
	assert.Equal(t, models.NotificationRequired, dist.NotificationKind)
	assert.Equal(t, plan.ID, *dist.RollbackPlanID)

	stored := f.repo.plan(plan.ID)
	assert.Equal(t, models.RollbackCompleted, stored.Status)

	_, err = f.execute(plan.ID)
	require.ErrorIs(t, err, appErrors.ErrAlreadyExecuted)
	assert.Equal(t, 1, f.packages.count())

	assert.Equal(t, []string{
		models.AuditActionRollbackCreate,
		models.AuditActionRollbackApprove,
		models.AuditActionRollbackExecute,
	}, f.audit.actions())
}

func TestRollbackExecutePendingPlanIsRejected(t *testing.T) {
	f := newRollbackFixture(t)
	plan := f.createPlan(t, "2.0.0", "1.0.0")

	_, err := f.execute(plan.ID)
	require.ErrorIs(t, err, appErrors.ErrNotApproved)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "pending", appErr.Details["currentStatus"])

	_, executed := f.repo.execution(plan.ID)
	assert.False(t, executed)
	assert.Equal(t, models.RollbackPending, f.repo.plan(plan.ID).Status)

	_, err = f.svc.GetExecution(context.Background(), plan.ID)
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestRollbackDirectionMustDecrease(t *testing.T) {
	f := newRollbackFixture(t)
	for _, tc := range []struct{ from, to string }{{"1.0.0", "1.1.0"}, {"1.1.0", "1.1.0"}, {"1.1.0", "1.1.0+rebuild"}} {
		_, err := f.svc.CreatePlan(context.Background(), dto.CreateRollbackPlanRequest{
			ExtensionID: "ext-1", FromVersion: tc.from, ToVersion: tc.to, Reason: "r",
		}, operator)
		require.ErrorIs(t, err, appErrors.ErrInvalidRollbackDirection, "%s -> %s", tc.from, tc.to)
	}
	assert.Empty(t, f.repo.plans)

	_, err := f.svc.CreatePlan(context.Background(), dto.CreateRollbackPlanRequest{
		ExtensionID: "ext-1", FromVersion: "1.1.0", ToVersion: "1.0.0", Reason: "r", Strategy: "scheduled",
	}, operator)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.CreatePlan(context.Background(), dto.CreateRollbackPlanRequest{
		ExtensionID: "ext-1", FromVersion: "1.1", ToVersion: "1.0.0", Reason: "r",
	}, operator)
	require.ErrorIs(t, err, appErrors.ErrInvalidVersionFormat)
}

func TestRollbackCancel(t *testing.T) {
	f := newRollbackFixture(t)
	plan := f.createPlan(t, "1.1.0", "1.0.0")

	cancelled, err := f.svc.Cancel(context.Background(), plan.ID, approver)
	require.NoError(t, err)
	assert.Equal(t, models.RollbackCancelled, cancelled.Status)
	assert.Equal(t, "op-2", *cancelled.CancelledBy)

	_, err = f.svc.Cancel(context.Background(), plan.ID, approver)
	require.NoError(t, err)

	_, err = f.svc.Approve(context.Background(), plan.ID, approver)
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)
	_, err = f.execute(plan.ID)
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)

	done := f.createPlan(t, "1.1.0", "1.0.0")
	_, err = f.svc.Approve(context.Background(), done.ID, approver)
	require.NoError(t, err)
	_, err = f.execute(done.ID)
	require.NoError(t, err)
	_, err = f.svc.Cancel(context.Background(), done.ID, approver)
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)
}

func TestRollbackExecutionFailureMarksPlanFailed(t *testing.T) {
	f := newRollbackFixture(t)
	plan := f.createPlan(t, "1.1.0", "1.0.0")
	_, err := f.svc.Approve(context.Background(), plan.ID, approver)
	require.NoError(t, err)

	f.artifacts.putErr = storage.ErrUnavailable
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err = f.svc.Execute(ctx, plan.ID, dto.ExecuteRollbackRequest{}, strings.NewReader("x"), operator)
	require.ErrorIs(t, err, appErrors.ErrStorageUnavailable)

	stored := f.repo.plan(plan.ID)
	assert.Equal(t, models.RollbackFailed, stored.Status)
	require.NotNil(t, stored.Error)

	exec, ok := f.repo.execution(plan.ID)
	require.True(t, ok)
	assert.Equal(t, models.ExecutionFailed, exec.Status)
	assert.EqualValues(t, 250, exec.FailedRollbacks)
	assert.Equal(t, *stored.Error, *exec.Error)

	f.artifacts.putErr = nil
	_, err = f.execute(plan.ID)
	require.ErrorIs(t, err, appErrors.ErrAlreadyExecuted)
}

func TestRollbackExecuteWhileExecutingReturnsCurrentState(t *testing.T) {
	f := newRollbackFixture(t)
	plan := f.createPlan(t, "1.1.0", "1.0.0")

	stuck := f.repo.plan(plan.ID)
	stuck.Status = models.RollbackExecuting
	f.repo.plans[plan.ID] = stuck
	require.NoError(t, f.repo.CreateExecution(context.Background(), &models.RollbackExecution{
		RollbackPlanID: plan.ID, Status: models.ExecutionExecuting, StartedAt: f.clock.Now(),
	}))

	resp, err := f.execute(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RollbackExecuting, resp.Plan.Status)
	require.NotNil(t, resp.Execution)
	assert.Equal(t, models.ExecutionExecuting, resp.Execution.Status)
	assert.Zero(t, f.packages.count())
}

func TestRollbackScheduledStrategyDefersDistribution(t *testing.T) {
	f := newRollbackFixture(t)
	at := f.clock.Now().Add(2 * time.Hour)
	plan, err := f.svc.CreatePlan(context.Background(), dto.CreateRollbackPlanRequest{
		ExtensionID: "ext-1", FromVersion: "1.1.0", ToVersion: "1.0.0", Reason: "r", Strategy: "scheduled", ScheduledAt: &at,
	}, operator)
	require.NoError(t, err)
	_, err = f.svc.Approve(context.Background(), plan.ID, approver)
	require.NoError(t, err)

	resp, err := f.execute(plan.ID)
	require.NoError(t, err)
	dist, err := f.dists.GetByID(context.Background(), *resp.Plan.DistributionID)
	require.NoError(t, err)
	assert.Equal(t, models.DistributionDistributing, dist.Status)
	assert.Equal(t, at, *dist.StartDate)
}

func TestRollbackReport(t *testing.T) {
	f := newRollbackFixture(t)
	plan := f.createPlan(t, "1.1.0", "1.0.0")
	_, err := f.svc.Approve(context.Background(), plan.ID, approver)
	require.NoError(t, err)
	_, err = f.execute(plan.ID)
	require.NoError(t, err)

	csv, err := f.svc.Report(context.Background(), plan.ID, models.ReportFormatCSV)
	require.NoError(t, err)
	body := string(csv.Body)
	assert.Contains(t, body, "Section,Item,Status,Detail")
	assert.Contains(t, body, "user_impact")
	assert.Contains(t, body, "successful_rollbacks")
	assert.Contains(t, body, "1.1.0 -> 1.0.0")
	assert.Contains(t, body, "audit,"+models.AuditActionRollbackApprove+","+approver.ID)

	pdf, err := f.svc.Report(context.Background(), plan.ID, models.ReportFormatPDF)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf.Body, []byte("%PDF")))

	_, err = f.svc.Report(context.Background(), "missing", models.ReportFormatCSV)
	require.ErrorIs(t, err, appErrors.ErrNotFound)

	f.svc.reports = nil
	_, err = f.svc.Report(context.Background(), plan.ID, models.ReportFormatCSV)
	require.ErrorIs(t, err, appErrors.ErrPreconditionFailed)
}

func TestRollbackListPlans(t *testing.T) {
	f := newRollbackFixture(t)
	f.createPlan(t, "1.1.0", "1.0.0")
	second := f.createPlan(t, "2.0.0", "1.0.0")
	_, err := f.svc.Cancel(context.Background(), second.ID, approver)
	require.NoError(t, err)

	pending, err := f.svc.ListPlans(context.Background(), dto.RollbackPlanQuery{Status: []string{"pending"}})
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	_, err = f.svc.ListPlans(context.Background(), dto.RollbackPlanQuery{Status: []string{"archived"}})
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

// TestReleaseLifecycle walks a release from registration through a gradual rollout to a rollback.
func TestReleaseLifecycle(t *testing.T) {
	f := newRollbackFixture(t)
	builder := NewPackageBuilderService(f.packages, f.artifacts, nil, nil, WithBaselineResolver(f.versions))
	distributor := NewDistributionService(f.dists, builder, nil, nil, WithDistributionClock(f.clock.Now), WithNotifier(f.notifier))

	_, err := f.versions.Register(context.Background(), dto.RegisterVersionRequest{ExtensionID: "ext-1", Version: "2.1.0"}, operator)
	require.NoError(t, err)
	forward, err := builder.Build(context.Background(), dto.BuildPackageRequest{ExtensionID: "ext-1", ToVersion: "2.1.0"}, strings.NewReader("upgrade"), operator)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", forward.FromVersion)

	dist, err := distributor.Start(context.Background(), dto.StartDistributionRequest{
		UpdatePackageID: forward.ID, Strategy: "gradual", TargetUsers: users(20),
	}, operator)
	require.NoError(t, err)
	f.clock.Advance(2 * time.Hour)
	dist, _, err = distributor.Advance(context.Background(), dist.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, dist.Progress)
	assert.Len(t, f.notifier.users(), 6)

	_, err = distributor.Fail(context.Background(), dist.ID, "error budget exhausted", operator)
	require.NoError(t, err)

	plan := f.createPlan(t, "2.1.0", "2.0.0")
	_, err = f.svc.Approve(context.Background(), plan.ID, approver)
	require.NoError(t, err)
	resp, err := f.execute(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RollbackCompleted, resp.Plan.Status)

	rollbacks, err := builder.List(context.Background(), dto.PackageQuery{Direction: "rollback"})
	require.NoError(t, err)
	require.Len(t, rollbacks, 1)
	assert.Equal(t, "2.0.0", rollbacks[0].ToVersion)
}

func TestRollbackExecuteRejectsBadPackageMetadataWithoutSideEffects(t *testing.T) {
	f := newRollbackFixture(t)
	plan := f.createPlan(t, "1.1.0", "1.0.0")
	_, err := f.svc.Approve(context.Background(), plan.ID, approver)
	require.NoError(t, err)

	for _, req := range []dto.ExecuteRollbackRequest{
		{IsDelta: true},
		{DeltaFromVersion: "1.1.0"},
		{IsDelta: true, DeltaFromVersion: "1.0.0"},
	} {
		_, err := f.svc.Execute(context.Background(), plan.ID, req, strings.NewReader("downgrade-bytes"), operator)
		require.ErrorIs(t, err, appErrors.ErrValidation, "%+v", req)
		assert.Equal(t, models.RollbackApproved, f.repo.plan(plan.ID).Status)
		_, executed := f.repo.execution(plan.ID)
		assert.False(t, executed)
	}
	assert.Zero(t, f.packages.count())

	resp, err := f.execute(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RollbackCompleted, resp.Plan.Status)
}

type flakyPlanStore struct {
	*memRollbackStore
	failing map[models.RollbackStatus]bool
}

func (s *flakyPlanStore) UpdatePlanState(ctx context.Context, plan *models.RollbackPlan, expected models.RollbackStatus) error {
	if s.failing[plan.Status] {
		return errors.New("connection reset")
	}
	return s.memRollbackStore.UpdatePlanState(ctx, plan, expected)
}

func TestRollbackPlanCompletionWriteFailureFailsBothRecords(t *testing.T) {
	f := newRollbackFixture(t)
	plan := f.createPlan(t, "1.1.0", "1.0.0")
	_, err := f.svc.Approve(context.Background(), plan.ID, approver)
	require.NoError(t, err)
	f.svc.repo = &flakyPlanStore{memRollbackStore: f.repo, failing: map[models.RollbackStatus]bool{models.RollbackCompleted: true}}

	_, err = f.execute(plan.ID)
	require.ErrorIs(t, err, appErrors.ErrInternal)
	assert.Equal(t, models.RollbackFailed, f.repo.plan(plan.ID).Status)
	require.NotNil(t, f.repo.plan(plan.ID).Error)
	exec, ok := f.repo.execution(plan.ID)
	require.True(t, ok)
	assert.Equal(t, models.ExecutionFailed, exec.Status)

	_, err = f.execute(plan.ID)
	require.ErrorIs(t, err, appErrors.ErrAlreadyExecuted)
}

func TestRollbackRetrySettlesPlanLeftExecuting(t *testing.T) {
	f := newRollbackFixture(t)
	plan := f.createPlan(t, "1.1.0", "1.0.0")
	_, err := f.svc.Approve(context.Background(), plan.ID, approver)
	require.NoError(t, err)
	store := &flakyPlanStore{memRollbackStore: f.repo, failing: map[models.RollbackStatus]bool{
		models.RollbackCompleted: true,
		models.RollbackFailed:    true,
	}}
	f.svc.repo = store

	_, err = f.execute(plan.ID)
	require.Error(t, err)
	assert.Equal(t, models.RollbackExecuting, f.repo.plan(plan.ID).Status)
	exec, _ := f.repo.execution(plan.ID)
	assert.Equal(t, models.ExecutionFailed, exec.Status)

	store.failing = nil
	_, err = f.execute(plan.ID)
	require.ErrorIs(t, err, appErrors.ErrAlreadyExecuted)
	settled := f.repo.plan(plan.ID)
	assert.Equal(t, models.RollbackFailed, settled.Status)
	require.NotNil(t, settled.Error)
	assert.Equal(t, *exec.Error, *settled.Error)
}
