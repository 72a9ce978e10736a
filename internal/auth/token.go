// Package auth implements the credential machinery for GitForMe:
// the GitHub OAuth provider, the fallback token service, and the request
// reconciler that decides — per request — whether the caller is authenticated.
//
// DUAL-MODE AUTHENTICATION OVERVIEW:
// 1. User logs in via GitHub OAuth → server creates a SESSION (server-side
//    record, referenced by an HttpOnly cookie) AND issues a FALLBACK TOKEN
//    (signed JWT handed to the client).
// 2. Normal requests authenticate via the session cookie.
// 3. When cookies are blocked (ad-blockers, third-party-cookie restrictions,
//    cross-site embedding), the client presents the fallback token as an
//    Authorization: Bearer header instead.
// 4. A valid bearer token HEALS the session: the server re-creates the
//    session record and re-sets the cookie, so later requests in the same
//    browser context can use the cheaper session path again.
//
// WHY BOTH?
// Sessions are revocable (logout deletes the record) and cheap to check.
// The JWT is self-contained — it works even when the cookie never arrives.
// Together they cover both the happy path and the cookie-hostile one.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL is the lifetime of a fallback token. It matches the session TTL
// deliberately: cookie and token are two carriers of the same 24-hour grant.
const TokenTTL = 24 * time.Hour

const issuer = "gitforme"

// TokenService mints and validates the signed fallback credential.
//
// The token is stateless — nothing is stored server-side. All the information
// needed to honor it (the internal user ID and the expiry) is inside the
// signed payload. The signature ensures nobody can alter it without the
// secret key.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the given HMAC secret.
// The secret should be at least 32 bytes of random data in production.
// Example: TOKEN_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: token secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret)}, nil
}

// claims is the JWT payload. We use the standard "sub" (Subject) claim to
// carry the internal user ID — never the GitHub ID, and never the GitHub
// access token.
type claims struct {
	jwt.RegisteredClaims
}

// Issue creates and signs a fallback token for the given userID,
// valid for TokenTTL (24 hours) from now.
func (s *TokenService) Issue(userID string) (string, error) {
	return s.IssueWithDuration(userID, TokenTTL)
}

// IssueWithDuration creates a token with a custom expiry duration.
// Negative durations produce an already-expired token — used by tests to
// exercise the expiry path without sleeping.
func (s *TokenService) IssueWithDuration(userID string, d time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a fallback token string.
// Returns the userID (the "sub" claim) if the token is valid.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid (wasn't tampered with)
//   - Token is not expired (ExpiresAt is in the future, and is required)
//   - Issuer matches "gitforme" (prevents tokens from other apps)
//   - Algorithm is HS256 (prevents algorithm confusion attacks)
//
// Note: validity here says nothing about whether the user still EXISTS.
// The reconciler performs that check separately against the credential
// store, because a token must not outlive its user.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			// Reject tokens that aren't signed with HMAC at all
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		// Translate jwt library errors into cleaner messages
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("auth: token expired")
		}
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("auth: invalid token claims")
	}

	if c.Subject == "" {
		return "", fmt.Errorf("auth: token has no subject")
	}

	return c.Subject, nil
}
