// Package clickhouse implements domain.OLAPWriter against ClickHouse, the
// append-only analytics sink for click-delta events.
package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/shortlinkio/shortlink-core/internal/domain"
)

const insertClickEventsSQL = `INSERT INTO click_events (short_code, delta, event_time)`

// Writer implements domain.OLAPWriter over a clickhouse-go/v2 connection.
type Writer struct {
	conn driver.Conn
}

// Open dials ClickHouse from a DSN (e.g. "clickhouse://host:9000/database"),
// optionally overriding the database/credentials the DSN carries.
func Open(ctx context.Context, dsn, database, username, password string) (*Writer, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("op=clickhouse.open: %w", err)
	}
	if database != "" {
		opts.Auth.Database = database
	}
	if username != "" {
		opts.Auth.Username = username
	}
	if password != "" {
		opts.Auth.Password = password
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("op=clickhouse.open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("op=clickhouse.ping: %w", domain.ErrUnavailable)
	}
	return &Writer{conn: conn}, nil
}

// NewWriter wraps an already-constructed driver.Conn, used by tests.
func NewWriter(conn driver.Conn) *Writer { return &Writer{conn: conn} }

// EnsureSchema creates the click_events table if absent.
func (w *Writer) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS click_events (
	short_code String,
	delta      Int64,
	event_time DateTime
) ENGINE = MergeTree()
PARTITION BY toDate(event_time)
ORDER BY (short_code, event_time)
`
	if err := w.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("op=clickhouse.ensure_schema: %w", err)
	}
	return nil
}

// InsertClickEvents bulk-inserts rows via a single batch. Failures are
// surfaced to the caller (the worker logs and drops on error; this adapter
// never retries internally).
func (w *Writer) InsertClickEvents(ctx domain.Context, rows []domain.ClickEventRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := w.conn.PrepareBatch(ctx, insertClickEventsSQL)
	if err != nil {
		return fmt.Errorf("op=clickhouse.insert_click_events: %w", domain.ErrUnavailable)
	}
	for _, row := range rows {
		if err := batch.Append(row.ShortCode, row.Delta, row.EventTime); err != nil {
			return fmt.Errorf("op=clickhouse.insert_click_events: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("op=clickhouse.insert_click_events: %w", domain.ErrUnavailable)
	}
	return nil
}

// Close releases the underlying connection.
func (w *Writer) Close() error { return w.conn.Close() }
