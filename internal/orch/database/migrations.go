package database

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/tracdap/platform-gateway/internal/obslog"
	"github.com/tracdap/platform-gateway/internal/platformconfig"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrator runs goose migrations for the ticket engine's schema against a
// pgxpool-backed connection.
type Migrator struct {
	pool *pgxpool.Pool
	dir  string
}

// NewMigrator creates a Migrator using the embedded migration scripts.
func NewMigrator(pool *pgxpool.Pool) *Migrator {
	return &Migrator{pool: pool, dir: "migrations"}
}

// Up applies every pending migration.
func (m *Migrator) Up(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(m.pool)
	defer db.Close()

	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, m.dir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	obslog.Info("cache schema migrations applied")
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(m.pool)
	defer db.Close()

	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.DownContext(ctx, db, m.dir); err != nil {
		return fmt.Errorf("roll back migration: %w", err)
	}

	obslog.Info("cache schema migration rolled back")
	return nil
}

// Status reports the current migration state to the log.
func (m *Migrator) Status(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(m.pool)
	defer db.Close()

	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return goose.StatusContext(ctx, db, m.dir)
}

// RunMigrations applies migrations if cfg.AutoMigrate is set.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, cfg *platformconfig.DatabaseConfig) error {
	if !cfg.AutoMigrate {
		obslog.Info("cache schema auto-migration disabled")
		return nil
	}
	return NewMigrator(pool).Up(ctx)
}
