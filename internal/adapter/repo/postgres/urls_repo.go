package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/shortlinkio/shortlink-core/internal/domain"
)

// uniqueViolationCode is the Postgres SQLSTATE for a unique-constraint
// violation, raised here by the short_code unique index.
const uniqueViolationCode = "23505"

// PgxPool is a minimal subset of pgxpool used by URLRepo, kept narrow for
// testability without a real database.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// URLRepo implements domain.URLStore against the urls table.
type URLRepo struct{ Pool PgxPool }

// NewURLRepo constructs a URLRepo over the given pool.
func NewURLRepo(p PgxPool) *URLRepo { return &URLRepo{Pool: p} }

// Insert creates a new URL record. ID must already be minted by the caller
// (the allocator/minter pipeline, not this repo). Returns ErrCustomCodeTaken
// on a short_code unique-constraint violation.
func (r *URLRepo) Insert(ctx domain.Context, rec domain.URLRecord) (domain.URLRecord, error) {
	tracer := otel.Tracer("repo.urls")
	ctx, span := tracer.Start(ctx, "urls.Insert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "urls"),
	)

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	q := `INSERT INTO urls (id, short_code, original_url, clicks, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := r.Pool.Exec(ctx, q, rec.ID, rec.ShortCode, rec.OriginalURL, rec.Clicks, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return domain.URLRecord{}, fmt.Errorf("op=urls.insert: %w", domain.ErrCustomCodeTaken)
		}
		return domain.URLRecord{}, fmt.Errorf("op=urls.insert: %w", domain.ErrUnavailable)
	}
	return rec, nil
}

// GetByCode loads a record by short code. Returns ErrNotFound if absent.
func (r *URLRepo) GetByCode(ctx domain.Context, code string) (domain.URLRecord, error) {
	tracer := otel.Tracer("repo.urls")
	ctx, span := tracer.Start(ctx, "urls.GetByCode")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "urls"),
	)

	q := `SELECT id, short_code, original_url, clicks, created_at, updated_at FROM urls WHERE short_code=$1`
	row := r.Pool.QueryRow(ctx, q, code)
	var rec domain.URLRecord
	err := row.Scan(&rec.ID, &rec.ShortCode, &rec.OriginalURL, &rec.Clicks, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.URLRecord{}, fmt.Errorf("op=urls.get_by_code: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.URLRecord{}, fmt.Errorf("op=urls.get_by_code: %w", domain.ErrUnavailable)
	}
	return rec, nil
}

// ApplyClickDeltas applies a batch of short_code -> delta increments in a
// single statement via unnest, bumping updated_at.
func (r *URLRepo) ApplyClickDeltas(ctx domain.Context, deltas map[string]int64) error {
	if len(deltas) == 0 {
		return nil
	}
	tracer := otel.Tracer("repo.urls")
	ctx, span := tracer.Start(ctx, "urls.ApplyClickDeltas")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "urls"),
		attribute.Int("batch.size", len(deltas)),
	)

	codes := make([]string, 0, len(deltas))
	amounts := make([]int64, 0, len(deltas))
	for code, delta := range deltas {
		codes = append(codes, code)
		amounts = append(amounts, delta)
	}

	q := `UPDATE urls SET clicks = urls.clicks + d.delta, updated_at = now()
	      FROM (SELECT unnest($1::text[]) AS code, unnest($2::bigint[]) AS delta) AS d
	      WHERE urls.short_code = d.code`
	if _, err := r.Pool.Exec(ctx, q, codes, amounts); err != nil {
		return fmt.Errorf("op=urls.apply_click_deltas: %w", domain.ErrUnavailable)
	}
	return nil
}

// TopByClicks returns the top-N codes ordered by clicks descending.
func (r *URLRepo) TopByClicks(ctx domain.Context, n int) ([]domain.URLRecord, error) {
	tracer := otel.Tracer("repo.urls")
	ctx, span := tracer.Start(ctx, "urls.TopByClicks")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "urls"),
	)

	q := `SELECT id, short_code, original_url, clicks, created_at, updated_at
	      FROM urls ORDER BY clicks DESC LIMIT $1`
	rows, err := r.Pool.Query(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("op=urls.top_by_clicks: %w", domain.ErrUnavailable)
	}
	defer rows.Close()

	var out []domain.URLRecord
	for rows.Next() {
		var rec domain.URLRecord
		if err := rows.Scan(&rec.ID, &rec.ShortCode, &rec.OriginalURL, &rec.Clicks, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("op=urls.top_by_clicks: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=urls.top_by_clicks: %w", domain.ErrUnavailable)
	}
	return out, nil
}
