package model

import "time"

// Session is the server-side authentication record referenced by the session
// cookie. The cookie carries only the opaque ID; everything else lives here.
//
// A session expires 24 hours after creation. Expired rows are treated as
// absent by the store's Get and are eventually reaped by DeleteExpired —
// both behaviours matter, because a row that is merely past its expiry must
// never authenticate a request even if the reaper hasn't run yet.
type Session struct {
	ID        string    `json:"id"        db:"id"`
	UserID    string    `json:"userId"    db:"user_id"`
	ExpiresAt time.Time `json:"expiresAt" db:"expires_at"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Expired reports whether the session is past its expiry at time now.
// Taking the clock as a parameter keeps the check testable without sleeping.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
