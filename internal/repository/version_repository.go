package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/release-distribution-api/internal/models"
)

const versionColumns = `id, extension_id, product_id, version, major, minor, patch, prerelease, build,
       is_stable, is_deprecated, changelog, released_by, released_at, updated_at`

// VersionRepository persists the released version catalogue.
type VersionRepository struct {
	db *sqlx.DB
}

// NewVersionRepository constructs the repository.
func NewVersionRepository(db *sqlx.DB) *VersionRepository {
	return &VersionRepository{db: db}
}

// Create inserts a released version. A clash on (scope, major, minor, patch, prerelease) yields ErrDuplicate.
func (r *VersionRepository) Create(ctx context.Context, version *models.Version) error {
	if version.ID == "" {
		version.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if version.ReleasedAt.IsZero() {
		version.ReleasedAt = now
	}
	version.UpdatedAt = now
	if version.Changelog == nil {
		version.Changelog = pq.StringArray{}
	}
	const query = `INSERT INTO versions
	(id, extension_id, product_id, version, major, minor, patch, prerelease, build, is_stable, is_deprecated, changelog, released_by, released_at, updated_at)
	VALUES (:id, :extension_id, :product_id, :version, :major, :minor, :patch, :prerelease, :build, :is_stable, :is_deprecated, :changelog, :released_by, :released_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, version); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create version: %w", err)
	}
	return nil
}

// GetByID fetches a version by identifier.
func (r *VersionRepository) GetByID(ctx context.Context, id string) (*models.Version, error) {
	query := `SELECT ` + versionColumns + ` FROM versions WHERE id = $1`
	var version models.Version
	if err := r.db.GetContext(ctx, &version, query, id); err != nil {
		return nil, err
	}
	return &version, nil
}

// FindByPrecedence fetches the version in scope with the given identity (build metadata ignored).
func (r *VersionRepository) FindByPrecedence(ctx context.Context, scope models.VersionScope, major, minor, patch int64, prerelease string) (*models.Version, error) {
	conditions, args := scopeConditions(scope, nil)
	args = append(args, major, minor, patch, prerelease)
	query := fmt.Sprintf(`SELECT %s FROM versions WHERE %s AND major = $3 AND minor = $4 AND patch = $5 AND prerelease = $6`,
		versionColumns, strings.Join(conditions, " AND "))
	var version models.Version
	if err := r.db.GetContext(ctx, &version, query, args...); err != nil {
		return nil, err
	}
	return &version, nil
}

// List returns the versions of a scope. Rows come back in numeric order only; callers apply
// full precedence ordering.
func (r *VersionRepository) List(ctx context.Context, filter models.VersionFilter) ([]models.Version, error) {
	conditions, args := scopeConditions(filter.Scope, nil)
	if filter.StableOnly {
		conditions = append(conditions, "is_stable = TRUE")
	}
	if !filter.IncludeDeprecated {
		conditions = append(conditions, "is_deprecated = FALSE")
	}
	query := fmt.Sprintf(`SELECT %s FROM versions WHERE %s ORDER BY major DESC, minor DESC, patch DESC`,
		versionColumns, strings.Join(conditions, " AND "))
	var versions []models.Version
	if err := r.db.SelectContext(ctx, &versions, query, args...); err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return versions, nil
}

// SetDeprecated flips the deprecation flag.
func (r *VersionRepository) SetDeprecated(ctx context.Context, id string, deprecated bool) error {
	const query = `UPDATE versions SET is_deprecated = $2, updated_at = $3 WHERE id = $1`
	return r.execOne(ctx, "deprecate version", query, id, deprecated, time.Now().UTC())
}

// AppendChangelog appends entries to the version changelog.
func (r *VersionRepository) AppendChangelog(ctx context.Context, id string, entries []string) error {
	const query = `UPDATE versions SET changelog = changelog || $2::text[], updated_at = $3 WHERE id = $1`
	return r.execOne(ctx, "append changelog", query, id, pq.StringArray(entries), time.Now().UTC())
}

func (r *VersionRepository) execOne(ctx context.Context, op, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check %s rows: %w", op, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
