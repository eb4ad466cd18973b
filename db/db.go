// Package db provides the Postgres connection, schema migrations and the
// playback history store.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

// Connect opens a Postgres pool for dsn and verifies it answers.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	database.SetMaxOpenConns(8)
	database.SetMaxIdleConns(4)
	database.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return database, nil
}

// Migrate applies the schema with idempotent statements. It is the fallback
// when the versioned migrations cannot run, and is what tests use.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS playback_history (
			id BIGSERIAL PRIMARY KEY,
			token TEXT NOT NULL UNIQUE,
			queue_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			user_login TEXT NOT NULL DEFAULT '',
			played_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			ended_at TIMESTAMPTZ,
			end_reason TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_playback_history_kind_name_played ON playback_history (kind, name, played_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_playback_history_played ON playback_history (played_at DESC)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}
