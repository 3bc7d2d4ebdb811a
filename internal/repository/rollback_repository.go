package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/release-distribution-api/internal/models"
)

const planColumns = `id, extension_id, product_id, from_version, to_version, reason, safety_checks, rollback_strategy,
       target_percentage, scheduled_at, status, error, created_by, approved_by, approved_at, cancelled_by,
       update_package_id, distribution_id, row_version, created_at, updated_at`

const executionColumns = `id, rollback_plan_id, status, progress, affected_users, successful_rollbacks, failed_rollbacks,
       error, row_version, started_at, finished_at`

// RollbackRepository persists rollback plans and their executions.
type RollbackRepository struct {
	db *sqlx.DB
}

// NewRollbackRepository constructs the repository.
func NewRollbackRepository(db *sqlx.DB) *RollbackRepository {
	return &RollbackRepository{db: db}
}

// CreatePlan inserts a plan together with its safety check batch.
func (r *RollbackRepository) CreatePlan(ctx context.Context, plan *models.RollbackPlan) error {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	plan.UpdatedAt = now
	if plan.RowVersion == 0 {
		plan.RowVersion = 1
	}
	const query = `INSERT INTO rollback_plans
	(id, extension_id, product_id, from_version, to_version, reason, safety_checks, rollback_strategy, target_percentage, scheduled_at,
	 status, error, created_by, approved_by, approved_at, cancelled_by, update_package_id, distribution_id, row_version, created_at, updated_at)
	VALUES (:id, :extension_id, :product_id, :from_version, :to_version, :reason, :safety_checks, :rollback_strategy, :target_percentage, :scheduled_at,
	 :status, :error, :created_by, :approved_by, :approved_at, :cancelled_by, :update_package_id, :distribution_id, :row_version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, plan); err != nil {
		return fmt.Errorf("create rollback plan: %w", err)
	}
	return nil
}

// GetPlan fetches a plan by identifier.
func (r *RollbackRepository) GetPlan(ctx context.Context, id string) (*models.RollbackPlan, error) {
	query := `SELECT ` + planColumns + ` FROM rollback_plans WHERE id = $1`
	var plan models.RollbackPlan
	if err := r.db.GetContext(ctx, &plan, query, id); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ListPlans returns plans matching the filter, newest first.
func (r *RollbackRepository) ListPlans(ctx context.Context, filter models.RollbackPlanFilter) ([]models.RollbackPlan, error) {
	conditions, args := scopeConditions(filter.Scope, nil)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	limit, offset := pageBounds(filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM rollback_plans WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		planColumns, strings.Join(conditions, " AND "), limit, offset)
	var plans []models.RollbackPlan
	if err := r.db.SelectContext(ctx, &plans, query, args...); err != nil {
		return nil, fmt.Errorf("list rollback plans: %w", err)
	}
	return plans, nil
}

// UpdatePlanState persists a plan transition guarded by expected status and row version.
// sql.ErrNoRows signals a concurrent change.
func (r *RollbackRepository) UpdatePlanState(ctx context.Context, plan *models.RollbackPlan, expected models.RollbackStatus) error {
	plan.UpdatedAt = time.Now().UTC()
	const query = `UPDATE rollback_plans SET
		status = :status,
		error = :error,
		approved_by = :approved_by,
		approved_at = :approved_at,
		cancelled_by = :cancelled_by,
		update_package_id = :update_package_id,
		distribution_id = :distribution_id,
		updated_at = :updated_at,
		row_version = row_version + 1
	WHERE id = :id AND status = :expected_status AND row_version = :row_version`
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":                plan.ID,
		"status":            plan.Status,
		"error":             plan.Error,
		"approved_by":       plan.ApprovedBy,
		"approved_at":       plan.ApprovedAt,
		"cancelled_by":      plan.CancelledBy,
		"update_package_id": plan.UpdatePackageID,
		"distribution_id":   plan.DistributionID,
		"updated_at":        plan.UpdatedAt,
		"expected_status":   expected,
		"row_version":       plan.RowVersion,
	})
	if err := guardedResult(result, err, "rollback plan"); err != nil {
		return err
	}
	plan.RowVersion++
	return nil
}

// CreateExecution inserts the single execution record of a plan; a second one yields ErrDuplicate.
func (r *RollbackRepository) CreateExecution(ctx context.Context, exec *models.RollbackExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now().UTC()
	}
	if exec.RowVersion == 0 {
		exec.RowVersion = 1
	}
	const query = `INSERT INTO rollback_executions
	(id, rollback_plan_id, status, progress, affected_users, successful_rollbacks, failed_rollbacks, error, row_version, started_at, finished_at)
	VALUES (:id, :rollback_plan_id, :status, :progress, :affected_users, :successful_rollbacks, :failed_rollbacks, :error, :row_version, :started_at, :finished_at)`
	if _, err := r.db.NamedExecContext(ctx, query, exec); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create rollback execution: %w", err)
	}
	return nil
}

// GetExecutionByPlan fetches the execution record of a plan.
func (r *RollbackRepository) GetExecutionByPlan(ctx context.Context, planID string) (*models.RollbackExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM rollback_executions WHERE rollback_plan_id = $1`
	var exec models.RollbackExecution
	if err := r.db.GetContext(ctx, &exec, query, planID); err != nil {
		return nil, err
	}
	return &exec, nil
}

// UpdateExecutionState persists an execution transition guarded by expected status and row version.
func (r *RollbackRepository) UpdateExecutionState(ctx context.Context, exec *models.RollbackExecution, expected models.ExecutionStatus) error {
	const query = `UPDATE rollback_executions SET
		status = :status,
		progress = :progress,
		affected_users = :affected_users,
		successful_rollbacks = :successful_rollbacks,
		failed_rollbacks = :failed_rollbacks,
		error = :error,
		finished_at = :finished_at,
		row_version = row_version + 1
	WHERE id = :id AND status = :expected_status AND row_version = :row_version`
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":                   exec.ID,
		"status":               exec.Status,
		"progress":             exec.Progress,
		"affected_users":       exec.AffectedUsers,
		"successful_rollbacks": exec.SuccessfulRollbacks,
		"failed_rollbacks":     exec.FailedRollbacks,
		"error":                exec.Error,
		"finished_at":          exec.FinishedAt,
		"expected_status":      expected,
		"row_version":          exec.RowVersion,
	})
	if err := guardedResult(result, err, "rollback execution"); err != nil {
		return err
	}
	exec.RowVersion++
	return nil
}

func guardedResult(result sql.Result, err error, entity string) error {
	if err != nil {
		return fmt.Errorf("update %s state: %w", entity, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check %s update rows: %w", entity, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
