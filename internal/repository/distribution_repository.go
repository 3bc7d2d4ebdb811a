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

const distributionColumns = `id, update_package_id, strategy, target_users, target_percentage, start_date, end_date,
       status, progress, exposure_percentage, notified_count, notification_kind, failure_reason, rollback_plan_id,
       created_by, row_version, created_at, updated_at, last_progress_at, completed_at`

// DistributionRepository persists rollout attempts.
type DistributionRepository struct {
	db *sqlx.DB
}

// NewDistributionRepository constructs the repository.
func NewDistributionRepository(db *sqlx.DB) *DistributionRepository {
	return &DistributionRepository{db: db}
}

// Create inserts a distribution row.
func (r *DistributionRepository) Create(ctx context.Context, dist *models.UpdateDistribution) error {
	if dist.ID == "" {
		dist.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if dist.CreatedAt.IsZero() {
		dist.CreatedAt = now
	}
	dist.UpdatedAt = now
	if dist.RowVersion == 0 {
		dist.RowVersion = 1
	}
	const query = `INSERT INTO update_distributions
	(id, update_package_id, strategy, target_users, target_percentage, start_date, end_date, status, progress, exposure_percentage,
	 notified_count, notification_kind, failure_reason, rollback_plan_id, created_by, row_version, created_at, updated_at, last_progress_at, completed_at)
	VALUES (:id, :update_package_id, :strategy, :target_users, :target_percentage, :start_date, :end_date, :status, :progress, :exposure_percentage,
	 :notified_count, :notification_kind, :failure_reason, :rollback_plan_id, :created_by, :row_version, :created_at, :updated_at, :last_progress_at, :completed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, dist); err != nil {
		return fmt.Errorf("create distribution: %w", err)
	}
	return nil
}

// GetByID fetches a distribution by identifier.
func (r *DistributionRepository) GetByID(ctx context.Context, id string) (*models.UpdateDistribution, error) {
	query := `SELECT ` + distributionColumns + ` FROM update_distributions WHERE id = $1`
	var dist models.UpdateDistribution
	if err := r.db.GetContext(ctx, &dist, query, id); err != nil {
		return nil, err
	}
	return &dist, nil
}

// List returns distributions matching the filter, newest first.
func (r *DistributionRepository) List(ctx context.Context, filter models.DistributionFilter) ([]models.UpdateDistribution, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(`SELECT ` + distributionColumns + ` FROM update_distributions`)

	conditions := make([]string, 0, 2)
	if filter.UpdatePackageID != "" {
		args = append(args, filter.UpdatePackageID)
		conditions = append(conditions, fmt.Sprintf("update_package_id = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	order := "created_at DESC"
	if filter.OldestFirst {
		order = "created_at ASC, id ASC"
		if filter.After != nil {
			args = append(args, filter.After.CreatedAt, filter.After.ID)
			conditions = append(conditions, fmt.Sprintf("(created_at, id) > ($%d, $%d)", len(args)-1, len(args)))
		}
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	limit, _ := pageBounds(filter.Limit, 0)
	builder.WriteString(fmt.Sprintf(" ORDER BY %s LIMIT %d", order, limit))

	var dists []models.UpdateDistribution
	if err := r.db.SelectContext(ctx, &dists, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list distributions: %w", err)
	}
	return dists, nil
}

// UpdateState persists the mutable rollout columns. The write only applies while the row is still
// in expected status at the row version the caller read; otherwise sql.ErrNoRows is returned and
// the caller must re-read. On success dist.RowVersion is advanced.
func (r *DistributionRepository) UpdateState(ctx context.Context, dist *models.UpdateDistribution, expected models.DistributionStatus) error {
	dist.UpdatedAt = time.Now().UTC()
	const query = `UPDATE update_distributions SET
		status = :status,
		progress = :progress,
		exposure_percentage = :exposure_percentage,
		notified_count = :notified_count,
		failure_reason = :failure_reason,
		last_progress_at = :last_progress_at,
		completed_at = :completed_at,
		updated_at = :updated_at,
		row_version = row_version + 1
	WHERE id = :id AND status = :expected_status AND row_version = :row_version`
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":                  dist.ID,
		"status":              dist.Status,
		"progress":            dist.Progress,
		"exposure_percentage": dist.ExposurePercentage,
		"notified_count":      dist.NotifiedCount,
		"failure_reason":      dist.FailureReason,
		"last_progress_at":    dist.LastProgressAt,
		"completed_at":        dist.CompletedAt,
		"updated_at":          dist.UpdatedAt,
		"expected_status":     expected,
		"row_version":         dist.RowVersion,
	})
	if err != nil {
		return fmt.Errorf("update distribution state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check distribution update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	dist.RowVersion++
	return nil
}
