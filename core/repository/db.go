package repository

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// DB wraps the shared database handle
type DB struct {
	*sql.DB
}

// NewDB opens a Postgres connection pool
func NewDB(databaseURL string) (*DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{DB: db}, nil
}

// InitSchema creates the necessary tables. Idempotent.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS credit_accounts (
		user_id    TEXT PRIMARY KEY,
		balance    INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- One row per refunded job. The unique constraint on job_id is the
	-- idempotency guard against racing refund paths.
	CREATE TABLE IF NOT EXISTS refund_records (
		id         BIGSERIAL PRIMARY KEY,
		job_id     TEXT NOT NULL UNIQUE,
		user_id    TEXT NOT NULL,
		amount     INTEGER NOT NULL,
		reason     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- Durable pending-job ledger; polling resumes from here after restart.
	CREATE TABLE IF NOT EXISTS tracked_jobs (
		user_id          TEXT NOT NULL,
		job_id           TEXT NOT NULL,
		title            TEXT NOT NULL DEFAULT '',
		duration_seconds INTEGER NOT NULL,
		started_at       TIMESTAMPTZ NOT NULL,
		last_status      TEXT NOT NULL,
		PRIMARY KEY (user_id, job_id)
	);

	CREATE TABLE IF NOT EXISTS job_events (
		id      BIGSERIAL PRIMARY KEY,
		job_id  TEXT NOT NULL,
		user_id TEXT NOT NULL,
		at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		kind    TEXT NOT NULL,
		detail  TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events (job_id);

	-- Payment-provider webhook replay protection, keyed by event id.
	CREATE TABLE IF NOT EXISTS payment_events (
		event_id        TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL,
		pack_quantity   INTEGER NOT NULL,
		credits_granted INTEGER NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS job_artifacts (
		id         BIGSERIAL PRIMARY KEY,
		job_id     TEXT NOT NULL,
		type       TEXT NOT NULL,
		uri        TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_job_artifacts_job ON job_artifacts (job_id);
	`
	_, err := db.ExecContext(ctx, schema)
	return err
}
