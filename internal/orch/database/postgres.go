// Package database wraps the orchestrator's pgxpool connection pool and
// goose-driven schema migrations for the ticket engine's persisted tables
// (cache_entry, cache_ticket).
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tracdap/platform-gateway/internal/obslog"
	"github.com/tracdap/platform-gateway/internal/platformconfig"
)

// DB is the subset of pgxpool.Pool the ticket engine needs,
// narrowed to an interface so tests can substitute pgxmock.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresDB wraps a pgxpool.Pool configured from platformconfig.DatabaseConfig.
type PostgresDB struct {
	pool *pgxpool.Pool
	cfg  *platformconfig.DatabaseConfig
}

// NewPostgresDB opens a connection pool and verifies connectivity with a
// ping before returning.
func NewPostgresDB(ctx context.Context, cfg *platformconfig.DatabaseConfig) (*PostgresDB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = cfg.ConnMaxIdleTime
	poolConfig.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	obslog.Info("connected to postgres", "host", cfg.Host, "port", cfg.Port, "database", cfg.Database, "max_conns", cfg.MaxOpenConns)

	return &PostgresDB{pool: pool, cfg: cfg}, nil
}

func (db *PostgresDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return db.pool.Exec(ctx, sql, args...)
}

func (db *PostgresDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return db.pool.Query(ctx, sql, args...)
}

func (db *PostgresDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return db.pool.QueryRow(ctx, sql, args...)
}

func (db *PostgresDB) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	return db.pool.BeginTx(ctx, txOptions)
}

func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func (db *PostgresDB) Close() {
	db.pool.Close()
	obslog.Info("postgres connection pool closed")
}

// Pool exposes the underlying pool for migrations, which need a
// *pgxpool.Pool rather than the narrowed DB interface.
func (db *PostgresDB) Pool() *pgxpool.Pool {
	return db.pool
}

// Stat returns the pool's connection statistics.
func (db *PostgresDB) Stat() *pgxpool.Stat {
	return db.pool.Stat()
}
