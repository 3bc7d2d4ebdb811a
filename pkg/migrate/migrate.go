// Package migrate applies the SQL schema in migrations/ with goose.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// Runner wraps database migration capabilities.
type Runner struct {
	db            *sql.DB
	migrationsDir string
	timeout       time.Duration
	log           *zap.Logger
}

// New returns a migration runner backed by goose.
func New(db *sql.DB, migrationsDir string, log *zap.Logger) (*Runner, error) {
	if db == nil {
		return nil, errors.New("nil database handle")
	}
	if migrationsDir == "" {
		return nil, errors.New("empty migrations directory")
	}
	if _, err := os.Stat(migrationsDir); err != nil {
		return nil, fmt.Errorf("locate migrations dir: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("configure goose: %w", err)
	}
	return &Runner{db: db, migrationsDir: migrationsDir, timeout: time.Minute, log: log}, nil
}

// Up applies pending migrations.
func (r *Runner) Up(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.log.Info("applying migrations", zap.String("dir", r.migrationsDir))
	if err := goose.UpContext(runCtx, r.db, r.migrationsDir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	current, err := goose.GetDBVersionContext(runCtx, r.db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	r.log.Info("migrations applied", zap.Int64("version", current))
	return nil
}

// Status logs applied and pending migrations.
func (r *Runner) Status(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := goose.StatusContext(runCtx, r.db, r.migrationsDir); err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	return nil
}

// Down rolls back either the latest migration or down to targetVersion when it is positive.
func (r *Runner) Down(ctx context.Context, targetVersion int64) error {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if targetVersion > 0 {
		r.log.Info("rolling back migrations", zap.Int64("target", targetVersion))
		if err := goose.DownToContext(runCtx, r.db, r.migrationsDir, targetVersion); err != nil {
			return fmt.Errorf("rollback to version %d: %w", targetVersion, err)
		}
	} else {
		r.log.Info("rolling back latest migration")
		if err := goose.DownContext(runCtx, r.db, r.migrationsDir); err != nil {
			return fmt.Errorf("rollback latest migration: %w", err)
		}
	}
	r.log.Info("rollback complete")
	return nil
}
