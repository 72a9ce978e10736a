// Package service — authentication business logic.
//
// AuthService is the orchestration layer between the HTTP handlers and the
// stores/token machinery:
//
//	AuthHandler (HTTP) → AuthService (business rules) → UserRepository (DB)
//	                                                  → SessionRepository (DB)
//	                                                  ↘ TokenService (JWT)
//
// KEY RESPONSIBILITIES:
//   - Orchestrate the GitHub OAuth callback: upsert the user, create the
//     session, mint the fallback token
//   - Back the advisory verification endpoints (verifyUser / verifyToken),
//     including session healing on the token path
//   - Encapsulate all auth rules in one place, away from HTTP concerns
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gitforme/gitforme/internal/apperror"
	"github.com/gitforme/gitforme/internal/auth"
	"github.com/gitforme/gitforme/internal/model"
	"github.com/gitforme/gitforme/internal/repository"
)

// AuthService handles the authentication business logic.
type AuthService struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	tokens   *auth.TokenService
	logger   *slog.Logger
}

// NewAuthService creates an AuthService with all required dependencies.
// Call this in server.go when wiring the dependency graph.
func NewAuthService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	tokens *auth.TokenService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		logger:   logger,
	}
}

// AuthResult is returned by LoginOrRegisterGitHub. It bundles everything the
// callback handler needs to finish the flow in one step: the user record,
// the session to put in the cookie, and the fallback token to embed in the
// redirect URL.
type AuthResult struct {
	User    *model.User
	Session *model.Session
	Token   string
}

// LoginOrRegisterGitHub completes a GitHub login.
//
// After the handler exchanges the OAuth code for a profile + access token,
// this method:
//
//  1. Upserts the user (create on first login, token/profile refresh after),
//     synthesizing a noreply contact address when GitHub hides the email
//  2. Creates the server-side session
//  3. Mints the 24h fallback token
//
// WHY UPSERT (not insert + conflict check)?
// GitHub's numeric ID is stable and unique, so we can always upsert on it.
// First login → INSERT; subsequent logins → UPDATE, replacing the stored
// access token with the latest one.
func (s *AuthService) LoginOrRegisterGitHub(ctx context.Context, ghUser *auth.GitHubUser, accessToken string) (*AuthResult, error) {
	if ghUser == nil {
		return nil, fmt.Errorf("service/auth: GitHub user must not be nil")
	}

	email := ghUser.Email
	if email == "" {
		// GitHub users can hide their email. The record needs SOME contact
		// address, so synthesize the conventional noreply one.
		email = fmt.Sprintf("%s@users.noreply.github.com", ghUser.Login)
	}

	user := &model.User{
		GitHubID:    ghUser.ID,
		Username:    ghUser.Login,
		Email:       email,
		AvatarURL:   ghUser.AvatarURL,
		AccessToken: accessToken,
	}

	// After this call, user.ID is populated by the repository.
	if err := s.users.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: upserting user (githubID=%d): %w", ghUser.ID, err)
	}

	sess, err := s.sessions.Create(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: creating session for user %s: %w", user.ID, err)
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing fallback token for user %s: %w", user.ID, err)
	}

	s.logger.Info("user authenticated via GitHub",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
		slog.String("sessionID", sess.ID),
	)

	return &AuthResult{User: user, Session: sess, Token: token}, nil
}

// VerifySession resolves a session ID to its user — the cookie half of the
// advisory verification endpoint. Unknown, expired, and orphaned sessions
// all return ErrUnauthorized; the endpoint reports them uniformly as
// "no active session".
func (s *AuthService) VerifySession(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, apperror.Unauthorized("No active session.")
	}

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("No active session.")
		}
		return nil, fmt.Errorf("service/auth: looking up session: %w", err)
	}

	user, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			// Session outlived its user. Treat as unauthenticated.
			s.logger.Warn("session references deleted user",
				slog.String("sessionID", sess.ID),
				slog.String("userID", sess.UserID),
			)
			return nil, apperror.Unauthorized("No active session.")
		}
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", sess.UserID, err)
	}

	return user, nil
}

// VerifyToken validates a fallback token, confirms its user still exists,
// and RE-ESTABLISHES the session — the token half of the verification
// endpoint. Returns the user and the freshly created session so the handler
// can set the cookie.
//
// Every failure mode (bad signature, expired, orphaned user) maps to the
// same generic ErrUnauthorized: token-internal detail never reaches the
// client.
func (s *AuthService) VerifyToken(ctx context.Context, tokenStr string) (*model.User, *model.Session, error) {
	if tokenStr == "" {
		return nil, nil, apperror.Unauthorized("No token provided")
	}

	userID, err := s.tokens.Validate(tokenStr)
	if err != nil {
		s.logger.Warn("token verification failed", slog.String("error", err.Error()))
		return nil, nil, apperror.Unauthorized("Invalid token")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.Warn("valid token for deleted user", slog.String("userID", userID))
			return nil, nil, apperror.Unauthorized("Invalid token")
		}
		return nil, nil, fmt.Errorf("service/auth: fetching user %s: %w", userID, err)
	}

	sess, err := s.sessions.Create(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("service/auth: re-establishing session for user %s: %w", user.ID, err)
	}

	s.logger.Info("session re-established via fallback token",
		slog.String("userID", user.ID),
		slog.String("sessionID", sess.ID),
	)

	return user, sess, nil
}

// Logout destroys the session record. The handler clears the cookie
// regardless of the outcome here — local cleanup must always happen.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil // nothing server-side to destroy
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("service/auth: destroying session %s: %w", sessionID, err)
	}
	return nil
}

// GetUserByID returns the user for the given internal ID.
// Used by protected handlers after the reconciler put the ID in context.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, fmt.Errorf("service/auth: user ID must not be empty")
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", id, err)
	}

	return user, nil
}

// UserCount returns the number of registered users, for the public stats
// endpoint.
func (s *AuthService) UserCount(ctx context.Context) (int64, error) {
	n, err := s.users.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("service/auth: counting users: %w", err)
	}
	return n, nil
}
