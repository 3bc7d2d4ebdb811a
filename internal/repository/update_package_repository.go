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

const packageColumns = `id, extension_id, product_id, from_version, to_version, direction, is_delta, delta_from_version,
       package_url, artifact_key, package_size, checksum, release_notes, created_by, created_at`

// UpdatePackageRepository persists immutable update packages.
type UpdatePackageRepository struct {
	db *sqlx.DB
}

// NewUpdatePackageRepository constructs the repository.
func NewUpdatePackageRepository(db *sqlx.DB) *UpdatePackageRepository {
	return &UpdatePackageRepository{db: db}
}

// Create inserts a package row.
func (r *UpdatePackageRepository) Create(ctx context.Context, pkg *models.UpdatePackage) error {
	if pkg.ID == "" {
		pkg.ID = uuid.NewString()
	}
	if pkg.CreatedAt.IsZero() {
		pkg.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO update_packages
	(id, extension_id, product_id, from_version, to_version, direction, is_delta, delta_from_version, package_url, artifact_key, package_size, checksum, release_notes, created_by, created_at)
	VALUES (:id, :extension_id, :product_id, :from_version, :to_version, :direction, :is_delta, :delta_from_version, :package_url, :artifact_key, :package_size, :checksum, :release_notes, :created_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, pkg); err != nil {
		return fmt.Errorf("create update package: %w", err)
	}
	return nil
}

// GetByID fetches a package by identifier.
func (r *UpdatePackageRepository) GetByID(ctx context.Context, id string) (*models.UpdatePackage, error) {
	query := `SELECT ` + packageColumns + ` FROM update_packages WHERE id = $1`
	var pkg models.UpdatePackage
	if err := r.db.GetContext(ctx, &pkg, query, id); err != nil {
		return nil, err
	}
	return &pkg, nil
}

// List returns packages of a scope, newest first.
func (r *UpdatePackageRepository) List(ctx context.Context, filter models.UpdatePackageFilter) ([]models.UpdatePackage, error) {
	conditions, args := scopeConditions(filter.Scope, nil)
	if filter.FromVersion != "" {
		args = append(args, filter.FromVersion)
		conditions = append(conditions, fmt.Sprintf("from_version = $%d", len(args)))
	}
	if filter.ToVersion != "" {
		args = append(args, filter.ToVersion)
		conditions = append(conditions, fmt.Sprintf("to_version = $%d", len(args)))
	}
	if filter.Direction != "" {
		args = append(args, filter.Direction)
		conditions = append(conditions, fmt.Sprintf("direction = $%d", len(args)))
	}
	limit, offset := pageBounds(filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM update_packages WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		packageColumns, strings.Join(conditions, " AND "), limit, offset)
	var pkgs []models.UpdatePackage
	if err := r.db.SelectContext(ctx, &pkgs, query, args...); err != nil {
		return nil, fmt.Errorf("list update packages: %w", err)
	}
	return pkgs, nil
}
