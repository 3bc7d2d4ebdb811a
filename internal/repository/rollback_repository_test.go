package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/release-distribution-api/internal/models"
)

func TestRollbackRepositoryPlanRoundTrip(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRollbackRepository(db)
	plan := &models.RollbackPlan{
		FromVersion:      "1.1.0",
		ToVersion:        "1.0.0",
		Reason:           "crash on start",
		RollbackStrategy: models.StrategyImmediate,
		Status:           models.RollbackPending,
		CreatedBy:        "ops",
		SafetyChecks: models.SafetyCheckResults{
			{Type: models.SafetyCheckDependency, Status: models.SafetyCheckFailed, Message: "1.0.0 not registered"},
		},
	}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rollback_plans")).WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, repo.CreatePlan(context.Background(), plan))

	now := time.Now()
	cols := []string{"id", "extension_id", "product_id", "from_version", "to_version", "reason", "safety_checks", "rollback_strategy",
		"target_percentage", "scheduled_at", "status", "error", "created_by", "approved_by", "approved_at", "cancelled_by",
		"update_package_id", "distribution_id", "row_version", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM rollback_plans WHERE id = $1")).
		WithArgs(plan.ID).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(plan.ID, nil, nil, "1.1.0", "1.0.0", "crash on start",
			`[{"type":"dependency_check","status":"failed","message":"1.0.0 not registered","checkedAt":"2024-05-01T00:00:00Z"}]`,
			"immediate", nil, nil, "pending", nil, "ops", nil, nil, nil, nil, nil, 1, now, now))

	found, err := repo.GetPlan(context.Background(), plan.ID)
	require.NoError(t, err)
	require.Len(t, found.SafetyChecks.Failed(), 1)
	require.Equal(t, models.RollbackPending, found.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRollbackRepositoryUpdatePlanStateDetectsConcurrentChange(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRollbackRepository(db)
	approver := "lead"
	plan := &models.RollbackPlan{ID: "plan-1", Status: models.RollbackApproved, ApprovedBy: &approver, RowVersion: 1}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE rollback_plans SET")).WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, repo.UpdatePlanState(context.Background(), plan, models.RollbackPending), sql.ErrNoRows)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE rollback_plans SET")).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdatePlanState(context.Background(), plan, models.RollbackPending))
	require.Equal(t, int64(2), plan.RowVersion)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRollbackRepositoryOneExecutionPerPlan(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRollbackRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rollback_executions")).WillReturnResult(sqlmock.NewResult(1, 1))
	exec := &models.RollbackExecution{RollbackPlanID: "plan-1", Status: models.ExecutionPending}
	require.NoError(t, repo.CreateExecution(context.Background(), exec))
	require.NotEmpty(t, exec.ID)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rollback_executions")).WillReturnError(&pq.Error{Code: "23505"})
	err := repo.CreateExecution(context.Background(), &models.RollbackExecution{RollbackPlanID: "plan-1", Status: models.ExecutionPending})
	require.ErrorIs(t, err, ErrDuplicate)

	exec.Status = models.ExecutionExecuting
	mock.ExpectExec(regexp.QuoteMeta("UPDATE rollback_executions SET")).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateExecutionState(context.Background(), exec, models.ExecutionPending))
	require.Equal(t, int64(2), exec.RowVersion)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRollbackRepositoryListPlans(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRollbackRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("AND status IN ($3,$4) ORDER BY created_at DESC LIMIT 10 OFFSET 0")).
		WithArgs("ext-1", "", models.RollbackPending, models.RollbackApproved).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow("plan-1", "pending"))

	plans, err := repo.ListPlans(context.Background(), models.RollbackPlanFilter{
		Scope:  models.VersionScope{ExtensionID: "ext-1"},
		Status: []models.RollbackStatus{models.RollbackPending, models.RollbackApproved},
		Limit:  10,
	})
	require.NoError(t, err)
	require.Len(t, plans, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}
