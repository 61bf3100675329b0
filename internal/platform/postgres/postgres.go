// Package postgres opens the shared PostgreSQL pool and owns the schema.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"gatekeeper/internal/platform/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS captcha_sessions (
	chat_id            BIGINT      NOT NULL,
	user_id            BIGINT      NOT NULL,
	display_name       TEXT        NOT NULL DEFAULT '',
	question           TEXT        NOT NULL,
	accepted_answers   TEXT[]      NOT NULL,
	options            TEXT[]      NOT NULL DEFAULT '{}',
	attempts           INTEGER     NOT NULL DEFAULT 0,
	attempt_limit      INTEGER     NOT NULL DEFAULT 0,
	strict             BOOLEAN     NOT NULL DEFAULT false,
	status             TEXT        NOT NULL,
	challenge_message  BIGINT      NOT NULL DEFAULT 0,
	transient_messages BIGINT[]    NOT NULL DEFAULT '{}',
	created_at         TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (chat_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_captcha_sessions_created_at ON captcha_sessions (created_at);
ALTER TABLE captcha_sessions ADD COLUMN IF NOT EXISTS attempt_limit INTEGER NOT NULL DEFAULT 0;
ALTER TABLE captcha_sessions ADD COLUMN IF NOT EXISTS strict BOOLEAN NOT NULL DEFAULT false;

CREATE TABLE IF NOT EXISTS chat_settings (
	chat_id    BIGINT      PRIMARY KEY,
	policy     JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS group_statistics (
	chat_id      BIGINT      NOT NULL,
	recorded_at  TIMESTAMPTZ NOT NULL,
	member_count INTEGER     NOT NULL,
	PRIMARY KEY (chat_id, recorded_at)
);
`

// Open connects to PostgreSQL, verifies the connection and applies the schema.
func Open(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates the gatekeeper tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate postgres schema: %w", err)
	}
	return nil
}
