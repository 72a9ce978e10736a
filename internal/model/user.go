// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents a registered user account.
//
// We use GitHub OAuth as the only identity provider, so the primary external
// identifier is the GitHub user ID (an integer). We still generate our own
// internal string ID (xid) so our primary keys aren't tied to a third party's
// numbering scheme.
//
// WHY AccessToken json:"-"?
// The stored GitHub access token is used server-side to call the GitHub API
// on the user's behalf. It must NEVER be serialized into a client-facing
// response — `json:"-"` makes the encoder skip the field entirely, so even a
// handler that naively encodes the whole struct can't leak it.
type User struct {
	ID          string    `json:"id"        db:"id"`
	GitHubID    int64     `json:"githubId"  db:"github_id"` // GitHub's numeric user ID — stable, never changes
	Username    string    `json:"username"  db:"username"`  // GitHub login, e.g. "alice"
	Email       string    `json:"email"     db:"email"`     // Primary public email, or a synthesized noreply address
	AvatarURL   string    `json:"avatarUrl" db:"avatar_url"`
	AccessToken string    `json:"-"         db:"access_token"` // GitHub OAuth token — server-side only
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}
