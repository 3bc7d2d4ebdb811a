package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/release-distribution-api/internal/models"
)

// InstallationRepository is the installation telemetry registry.
type InstallationRepository struct {
	db *sqlx.DB
}

// NewInstallationRepository constructs the repository.
func NewInstallationRepository(db *sqlx.DB) *InstallationRepository {
	return &InstallationRepository{db: db}
}

// Upsert records the version a user's installation currently runs in a scope.
func (r *InstallationRepository) Upsert(ctx context.Context, inst *models.Installation) error {
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if inst.LastSeenAt.IsZero() {
		inst.LastSeenAt = time.Now().UTC()
	}
	const query = `INSERT INTO installations (id, user_id, extension_id, product_id, version, last_seen_at)
	VALUES (:id, :user_id, :extension_id, :product_id, :version, :last_seen_at)
	ON CONFLICT (user_id, (COALESCE(extension_id, '')), (COALESCE(product_id, '')))
	DO UPDATE SET version = EXCLUDED.version, last_seen_at = EXCLUDED.last_seen_at`
	if _, err := r.db.NamedExecContext(ctx, query, inst); err != nil {
		return fmt.Errorf("upsert installation: %w", err)
	}
	return nil
}

// CountOnVersion counts installations in scope currently reporting version.
func (r *InstallationRepository) CountOnVersion(ctx context.Context, scope models.VersionScope, version string) (int64, error) {
	conditions, args := scopeConditions(scope, nil)
	args = append(args, version)
	conditions = append(conditions, fmt.Sprintf("version = $%d", len(args)))
	query := `SELECT COUNT(*) FROM installations WHERE ` + strings.Join(conditions, " AND ")
	var count int64
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count installations: %w", err)
	}
	return count, nil
}
