package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied at startup. Statements are idempotent so restarting
// against an existing database is safe.
const schema = `
CREATE TABLE IF NOT EXISTS processed_emails (
	id                   BIGSERIAL PRIMARY KEY,
	email_id             TEXT NOT NULL,
	content_hash         TEXT NOT NULL,
	account_email        TEXT NOT NULL DEFAULT '',
	sender               TEXT NOT NULL DEFAULT '',
	subject              TEXT NOT NULL DEFAULT '',
	category             TEXT,
	amount               NUMERIC(12,2),
	status               TEXT NOT NULL,
	reason               TEXT,
	encrypted_body       TEXT,
	encrypted_html       TEXT,
	received_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	processed_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	retention_expires_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_processed_emails_email_id
	ON processed_emails (email_id);
CREATE INDEX IF NOT EXISTS idx_processed_emails_content_hash
	ON processed_emails (content_hash);
CREATE INDEX IF NOT EXISTS idx_processed_emails_status
	ON processed_emails (status, processed_at DESC);
CREATE INDEX IF NOT EXISTS idx_processed_emails_retention
	ON processed_emails (retention_expires_at)
	WHERE retention_expires_at IS NOT NULL;

ALTER TABLE processed_emails ADD COLUMN IF NOT EXISTS amount NUMERIC(12,2);

CREATE TABLE IF NOT EXISTS manual_rules (
	id              BIGSERIAL PRIMARY KEY,
	email_pattern   TEXT,
	subject_pattern TEXT,
	purpose         TEXT,
	priority        INTEGER NOT NULL DEFAULT 50,
	confidence      DOUBLE PRECISION NOT NULL DEFAULT 0,
	match_count     INTEGER NOT NULL DEFAULT 0,
	is_shadow_mode  BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_manual_rules_active
	ON manual_rules (priority DESC) WHERE is_shadow_mode = FALSE;

CREATE TABLE IF NOT EXISTS category_rules (
	id                BIGSERIAL PRIMARY KEY,
	match_type        TEXT NOT NULL,
	pattern           TEXT NOT NULL,
	assigned_category TEXT NOT NULL,
	priority          INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS preferences (
	id         BIGSERIAL PRIMARY KEY,
	type       TEXT NOT NULL,
	item       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_preferences_type_item
	ON preferences (type, item);

CREATE TABLE IF NOT EXISTS learning_candidates (
	id              BIGSERIAL PRIMARY KEY,
	type            TEXT NOT NULL DEFAULT 'Receipt',
	sender          TEXT NOT NULL,
	subject_pattern TEXT,
	example_subject TEXT,
	confidence      DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	matches         INTEGER NOT NULL DEFAULT 1,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS processing_runs (
	id                BIGSERIAL PRIMARY KEY,
	status            TEXT NOT NULL,
	started_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	completed_at      TIMESTAMPTZ,
	poll_interval_min INTEGER NOT NULL DEFAULT 0,
	emails_checked    INTEGER NOT NULL DEFAULT 0,
	emails_processed  INTEGER NOT NULL DEFAULT 0,
	emails_forwarded  INTEGER NOT NULL DEFAULT 0,
	error_message     TEXT
);

CREATE INDEX IF NOT EXISTS idx_processing_runs_started
	ON processing_runs (started_at DESC);
`

// EnsureSchema creates all tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
