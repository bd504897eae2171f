// Package postgres implements domain.URLStore against PostgreSQL via pgx.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlAdvisoryLockKey is an arbitrary, well-known integer used to serialize
// schema initialization across concurrently starting edge processes, so
// CREATE TABLE races don't fail a cold-start fleet.
const ddlAdvisoryLockKey = 8812_0001

const schemaDDL = `
CREATE TABLE IF NOT EXISTS urls (
	id           BIGINT PRIMARY KEY,
	short_code   VARCHAR(12) NOT NULL UNIQUE,
	original_url TEXT NOT NULL,
	clicks       BIGINT NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_urls_clicks_desc ON urls (clicks DESC);
`

// NewPool creates a pgx connection pool from the provided DSN, instrumented
// with OpenTelemetry tracing, mirroring the teacher's NewPool.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 20
	cfg.MaxConnIdleTime = 5 * time.Minute

	cfg.ConnConfig.Tracer = otelpgx.NewTracer(
		otelpgx.WithTrimSQLInSpanName(),
	)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := otelpgx.RecordStats(pool); err != nil {
		slog.Warn("failed to record pgx stats", slog.Any("error", err))
	}

	return pool, nil
}

// EnsureSchema creates the urls table and its index if absent, holding a
// Postgres advisory lock for the duration so concurrently starting edge
// processes never race on DDL.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("op=schema.acquire: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", ddlAdvisoryLockKey); err != nil {
		return fmt.Errorf("op=schema.lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", ddlAdvisoryLockKey)
	}()

	if _, err := conn.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("op=schema.migrate: %w", err)
	}
	return nil
}
