package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	pool *pgxpool.Pool
}

type Config struct {
	DSN         string
	MaxConns    int32
	MinConns    int32
	MaxConnLife time.Duration
	MaxConnIdle time.Duration
}

func New(ctx context.Context, cfg Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLife > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLife
	}
	if cfg.MaxConnIdle > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdle
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

func (db *DB) Close() {
	db.pool.Close()
}

// Transaction runs fn in a transaction, rolling back when fn fails.
func (db *DB) Transaction(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (db *DB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return db.pool.Exec(ctx, sql, args...)
}

func (db *DB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return db.pool.Query(ctx, sql, args...)
}

func (db *DB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return db.pool.QueryRow(ctx, sql, args...)
}

// Migrate creates the tables used by the scraper when they are missing.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS material_price (
	supplier          TEXT        NOT NULL,
	product_url       TEXT        NOT NULL,
	product_name      TEXT        NOT NULL,
	category          TEXT        NOT NULL,
	price             NUMERIC     NOT NULL,
	currency          TEXT        NOT NULL,
	brand             TEXT,
	measurement_unit  TEXT,
	pack_size         TEXT,
	image_url         TEXT,
	availability      TEXT,
	description       TEXT,
	sku               TEXT,
	scraped_at        TIMESTAMPTZ NOT NULL,
	last_run_id       TEXT        NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (supplier, product_url)
);

ALTER TABLE material_price ALTER COLUMN price TYPE NUMERIC;

CREATE INDEX IF NOT EXISTS idx_material_price_category ON material_price (category);

CREATE TABLE IF NOT EXISTS outbox_event (
	id              UUID        PRIMARY KEY,
	aggregate_type  TEXT        NOT NULL,
	aggregate_id    TEXT        NOT NULL,
	event_type      TEXT        NOT NULL,
	payload         JSONB       NOT NULL,
	target_stream   TEXT        NOT NULL,
	status          TEXT        NOT NULL,
	retry_count     INT         NOT NULL DEFAULT 0,
	error_message   TEXT,
	created_at      TIMESTAMPTZ NOT NULL,
	processed_at    TIMESTAMPTZ,
	next_retry_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_outbox_event_pending ON outbox_event (status, next_retry_at);
`
