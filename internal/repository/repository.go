// Package repository defines the storage interfaces the rest of the
// application depends on. Concrete backends live in subpackages
// (repository/sqlite); consumers only ever see these interfaces, which is
// what lets tests swap in in-memory fakes.
package repository

import (
	"context"

	"github.com/gitforme/gitforme/internal/model"
)

// UserRepository is the Credential Store: the durable association between an
// internal user identity and its GitHub identity + access token.
type UserRepository interface {
	// Upsert inserts or updates a user keyed by GitHub numeric ID.
	// First login creates the record (filling user.ID); subsequent logins
	// for the same GitHub ID keep the internal ID and replace the stored
	// access token and profile fields.
	Upsert(ctx context.Context, user *model.User) error

	// GetByID returns the user for the given internal ID, or
	// apperror.ErrNotFound.
	GetByID(ctx context.Context, id string) (*model.User, error)

	// Count returns the total number of registered users.
	Count(ctx context.Context) (int64, error)
}

// SessionRepository is the Session Store: the ephemeral, TTL-bounded mapping
// from an opaque session ID (carried in a cookie) to a user identity.
type SessionRepository interface {
	// Create mints a new session for userID with a fresh ID and a 24h expiry.
	Create(ctx context.Context, userID string) (*model.Session, error)

	// Get returns the session for the given ID. Missing AND expired rows
	// both yield apperror.ErrNotFound — an expired session must never
	// authenticate a request, whether or not the reaper has run.
	Get(ctx context.Context, id string) (*model.Session, error)

	// Delete removes the session (logout). Deleting a nonexistent session
	// is not an error.
	Delete(ctx context.Context, id string) error

	// DeleteExpired reaps all sessions past their expiry.
	DeleteExpired(ctx context.Context) error
}
