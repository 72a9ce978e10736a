package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/gitforme/gitforme/internal/apperror"
	"github.com/gitforme/gitforme/internal/model"
	"github.com/gitforme/gitforme/internal/repository"
)

// compile-time check that *DB implements repository.SessionRepository
var _ repository.SessionRepository = (*DB)(nil)

// sessionTTL bounds every session's lifetime. It matches auth.TokenTTL —
// the cookie and the fallback token carry the same 24-hour grant.
const sessionTTL = 24 * time.Hour

// Create mints a new session for userID.
//
// The session ID is an xid: 12 random-ish bytes base32-encoded, generated
// from machine ID + pid + timestamp + counter. Unguessable enough for a
// session identifier and sortable by creation time as a bonus.
//
// Called from two places: the OAuth callback (first session) and the bearer
// strategy's healing path (re-established session). Both just want "a fresh
// session for this user", so creation always inserts a new row; stale rows
// age out via expiry.
func (db *DB) Create(ctx context.Context, userID string) (*model.Session, error) {
	now := time.Now()
	sess := &model.Session{
		ID:        xid.New().String(),
		UserID:    userID,
		ExpiresAt: now.Add(sessionTTL),
		CreatedAt: now,
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, expires_at, created_at)
		 VALUES (?, ?, ?, ?)`,
		sess.ID,
		sess.UserID,
		sess.ExpiresAt,
		sess.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: creating session for user %s: %w", userID, err)
	}

	return sess, nil
}

// Get returns the session for the given ID.
//
// Expiry is enforced HERE, on read: a row past its expires_at is reported as
// not found even if DeleteExpired hasn't reaped it yet. The filter lives in
// the query so there is no window where a stale row authenticates a request.
func (db *DB) Get(ctx context.Context, id string) (*model.Session, error) {
	var s model.Session

	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, expires_at, created_at
		 FROM sessions WHERE id = ? AND expires_at > ?`,
		id, time.Now(),
	).Scan(
		&s.ID,
		&s.UserID,
		&s.ExpiresAt,
		&s.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("session", id)
		}
		return nil, fmt.Errorf("sqlite: getting session %s: %w", id, err)
	}

	return &s, nil
}

// Delete removes the session. Deleting a session that doesn't exist is a
// no-op — logout must be idempotent across tabs.
func (db *DB) Delete(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting session %s: %w", id, err)
	}
	return nil
}

// DeleteExpired reaps all sessions past their expiry.
// Run periodically by the server; correctness doesn't depend on it because
// Get filters expired rows anyway.
func (db *DB) DeleteExpired(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, time.Now())
	if err != nil {
		return fmt.Errorf("sqlite: deleting expired sessions: %w", err)
	}
	return nil
}
