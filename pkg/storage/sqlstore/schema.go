package sqlstore

import (
	"context"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'USER',
		provider TEXT NOT NULL DEFAULT 'LOCAL',
		enabled BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		verification_code TEXT NOT NULL DEFAULT '',
		verification_expires_at TIMESTAMPTZ,
		reset_code TEXT NOT NULL DEFAULT '',
		reset_expires_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS usage_records (
		account_id BIGINT PRIMARY KEY REFERENCES accounts(id),
		tier TEXT NOT NULL DEFAULT 'FREE',
		tier_selected BOOLEAN NOT NULL DEFAULT FALSE,
		last_request_date TEXT NOT NULL,
		daily_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id TEXT PRIMARY KEY,
		subject TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_subject ON refresh_tokens(subject)`,
	`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_expires_at ON refresh_tokens(expires_at)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'USER',
		provider TEXT NOT NULL DEFAULT 'LOCAL',
		enabled BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		verification_code TEXT NOT NULL DEFAULT '',
		verification_expires_at TIMESTAMP,
		reset_code TEXT NOT NULL DEFAULT '',
		reset_expires_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS usage_records (
		account_id INTEGER PRIMARY KEY REFERENCES accounts(id),
		tier TEXT NOT NULL DEFAULT 'FREE',
		tier_selected BOOLEAN NOT NULL DEFAULT 0,
		last_request_date TEXT NOT NULL,
		daily_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id TEXT PRIMARY KEY,
		subject TEXT NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_subject ON refresh_tokens(subject)`,
	`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_expires_at ON refresh_tokens(expires_at)`,
}

// Migrate creates tables and indexes that do not exist yet
func (s *Store) Migrate(ctx context.Context) error {
	statements := postgresSchema
	if s.dialect == DialectSQLite {
		statements = sqliteSchema
	}

	for i, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
