// Package postgres owns the relational store shared by the frontier queue,
// the domain policy controller, and the worker pipeline: connection pool
// setup, schema creation, and the table/enum shapes every component writes
// through.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is the shared relational connection pool. All components borrow
// short-lived connections from it; none hold a connection across a fetch.
type Pool = pgxpool.Pool

// DB is the narrow slice of *pgxpool.Pool that frontier/policy/worker code
// depends on. Depending on this interface instead of the concrete pool
// type lets tests substitute a mock (pgxmock) without a live database;
// *pgxpool.Pool satisfies it unchanged.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// NewPool builds the shared pool per the resource model: min 1, max 10
// connections, regardless of worker count.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MinConns = 1
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// schemaSQL creates every table the crawler depends on, idempotently. This
// is the core's one allowance for schema ownership — the non-goal excludes
// migration tooling, not the table shapes the core reads and writes.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS urls_frontier (
	id               BIGSERIAL PRIMARY KEY,
	url              TEXT NOT NULL,
	source_id        INTEGER NOT NULL,
	depth            INTEGER NOT NULL DEFAULT 0,
	priority         INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL DEFAULT 'SCHEDULED',
	scheduled_for    TIMESTAMPTZ,
	last_scheduled_at TIMESTAMPTZ,
	fail_count       INTEGER NOT NULL DEFAULT 0,
	last_http_status INTEGER,
	last_error_code  TEXT,
	error_category   TEXT,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (url, source_id)
);

CREATE INDEX IF NOT EXISTS urls_frontier_dequeue_idx
	ON urls_frontier (priority DESC, id ASC)
	WHERE status = 'SCHEDULED';

CREATE TABLE IF NOT EXISTS domain_crawl_policy (
	domain          TEXT PRIMARY KEY,
	min_delay_ms    INTEGER NOT NULL DEFAULT 1000,
	last_crawled_at TIMESTAMPTZ,
	next_allowed_at TIMESTAMPTZ,
	daily_limit     INTEGER NOT NULL DEFAULT 10000,
	crawled_today   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS crawled_pages (
	id              BIGSERIAL PRIMARY KEY,
	url             TEXT NOT NULL UNIQUE,
	status_code     INTEGER,
	title           TEXT,
	content_preview TEXT,
	fetched_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS page_metadata (
	page_id      BIGINT PRIMARY KEY REFERENCES crawled_pages(id) ON DELETE CASCADE,
	html_length  INTEGER NOT NULL,
	text_length  INTEGER NOT NULL,
	link_count   INTEGER NOT NULL,
	language     TEXT,
	content_hash TEXT NOT NULL,
	keywords     TEXT
);

CREATE TABLE IF NOT EXISTS outbound_links (
	id            BIGSERIAL PRIMARY KEY,
	source_page   BIGINT NOT NULL REFERENCES crawled_pages(id) ON DELETE CASCADE,
	target_url    TEXT NOT NULL,
	is_internal   BOOLEAN NOT NULL,
	discovered_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS outbound_links_source_idx ON outbound_links (source_page);

CREATE TABLE IF NOT EXISTS crawl_error_logs (
	id         BIGSERIAL PRIMARY KEY,
	url        TEXT NOT NULL,
	category   TEXT NOT NULL,
	message    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema runs the idempotent CREATE TABLE IF NOT EXISTS script. It is
// called once at Supervisor startup; it is not a migration framework and
// never alters existing tables.
func EnsureSchema(ctx context.Context, pool DB) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
