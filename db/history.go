package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Entry is one playback as recorded when it started.
type Entry struct {
	Token     string     `json:"token"`
	QueueID   string     `json:"queue_id"`
	Kind      string     `json:"kind"`
	Name      string     `json:"name"`
	User      string     `json:"user,omitempty"`
	PlayedAt  time.Time  `json:"played_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndReason string     `json:"end_reason,omitempty"`
}

// History persists playbacks in Postgres.
type History struct {
	db *sql.DB
}

// NewHistory wraps an open pool.
func NewHistory(db *sql.DB) *History { return &History{db: db} }

// Record inserts a started playback.
func (h *History) Record(ctx context.Context, e Entry) error {
	if e.PlayedAt.IsZero() {
		e.PlayedAt = time.Now().UTC()
	}
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO playback_history (token, queue_id, kind, name, user_login, played_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		e.Token, e.QueueID, e.Kind, e.Name, e.User, e.PlayedAt)
	if err != nil {
		return fmt.Errorf("record playback %s: %w", e.Token, err)
	}
	return nil
}

// Finish stamps the end of a playback. Unknown tokens are ignored.
func (h *History) Finish(ctx context.Context, token, reason string, at time.Time) error {
	_, err := h.db.ExecContext(ctx,
		`UPDATE playback_history SET ended_at=$2, end_reason=$3 WHERE token=$1 AND ended_at IS NULL`,
		token, at, reason)
	if err != nil {
		return fmt.Errorf("finish playback %s: %w", token, err)
	}
	return nil
}

// LastPlayed returns when kind/name last started; ok is false if never.
func (h *History) LastPlayed(ctx context.Context, kind, name string) (time.Time, bool, error) {
	var at time.Time
	err := h.db.QueryRowContext(ctx,
		`SELECT played_at FROM playback_history WHERE kind=$1 AND name=$2 ORDER BY played_at DESC LIMIT 1`,
		kind, name).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last played %s/%s: %w", kind, name, err)
	}
	return at, true, nil
}

// Recent returns the newest entries first.
func (h *History) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT token, queue_id, kind, name, user_login, played_at, ended_at, COALESCE(end_reason,'') FROM playback_history ORDER BY played_at DESC, id DESC LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("recent playbacks: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e     Entry
			ended sql.NullTime
		)
		if err := rows.Scan(&e.Token, &e.QueueID, &e.Kind, &e.Name, &e.User, &e.PlayedAt, &ended, &e.EndReason); err != nil {
			return nil, fmt.Errorf("scan playback: %w", err)
		}
		if ended.Valid {
			t := ended.Time
			e.EndedAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
