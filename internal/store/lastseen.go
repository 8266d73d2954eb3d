// Package store provides PostgreSQL-backed persistence for the one durable
// effect the relay produces: a user's last-seen timestamp, written
// best-effort when the user goes offline. Everything else the relay touches
// is volatile by design.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LastSeenStore writes presence timestamps to PostgreSQL.
type LastSeenStore struct {
	db *sql.DB
}

// NewLastSeenStore creates a store backed by the given database handle.
func NewLastSeenStore(db *sql.DB) *LastSeenStore {
	return &LastSeenStore{db: db}
}

// Touch upserts the user's last-seen timestamp. Called fire-and-forget from
// the disconnect path; the caller logs failures and never retries.
func (s *LastSeenStore) Touch(ctx context.Context, userID string, ts time.Time) error {
	const query = `
		INSERT INTO user_presence (user_id, last_seen)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET last_seen = EXCLUDED.last_seen`

	_, err := s.db.ExecContext(ctx, query, userID, ts.UTC())
	if err != nil {
		return fmt.Errorf("store: upsert last_seen for %s: %w", userID, err)
	}
	return nil
}

// Get returns the persisted last-seen timestamp for a user, or false if the
// user has never gone offline on any relay instance.
func (s *LastSeenStore) Get(ctx context.Context, userID string) (time.Time, bool, error) {
	const query = `SELECT last_seen FROM user_presence WHERE user_id = $1`

	var ts time.Time
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: query last_seen for %s: %w", userID, err)
	}
	return ts, true, nil
}
