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

// CompatibilityRepository stores compatibility declarations consulted by safety checks.
type CompatibilityRepository struct {
	db *sqlx.DB
}

// NewCompatibilityRepository constructs the repository.
func NewCompatibilityRepository(db *sqlx.DB) *CompatibilityRepository {
	return &CompatibilityRepository{db: db}
}

// Create inserts a declaration.
func (r *CompatibilityRepository) Create(ctx context.Context, decl *models.CompatibilityDeclaration) error {
	if decl.ID == "" {
		decl.ID = uuid.NewString()
	}
	if decl.CreatedAt.IsZero() {
		decl.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO version_compatibility
	(id, extension_id, product_id, version, kind, minimum_version, note, declared_by, created_at)
	VALUES (:id, :extension_id, :product_id, :version, :kind, :minimum_version, :note, :declared_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, decl); err != nil {
		return fmt.Errorf("create compatibility declaration: %w", err)
	}
	return nil
}

// ListByScope returns declarations of the given kind in scope; an empty kind returns all kinds.
func (r *CompatibilityRepository) ListByScope(ctx context.Context, scope models.VersionScope, kind models.CompatibilityKind) ([]models.CompatibilityDeclaration, error) {
	conditions, args := scopeConditions(scope, nil)
	if kind != "" {
		args = append(args, kind)
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)))
	}
	query := `SELECT id, extension_id, product_id, version, kind, minimum_version, note, declared_by, created_at
	FROM version_compatibility WHERE ` + strings.Join(conditions, " AND ") + ` ORDER BY created_at`
	var decls []models.CompatibilityDeclaration
	if err := r.db.SelectContext(ctx, &decls, query, args...); err != nil {
		return nil, fmt.Errorf("list compatibility declarations: %w", err)
	}
	return decls, nil
}
