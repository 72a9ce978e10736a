package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gitforme/gitforme/internal/apperror"
	"github.com/gitforme/gitforme/internal/repository"
)

// contextKey is an unexported type used for context keys in this package.
// A package-private key type prevents other packages from reading or
// shadowing the userID value we store in the request context.
type contextKey string

const userIDKey contextKey = "userID"

// Credential is the outcome of a successful strategy: who the caller is and
// which mechanism proved it.
type Credential struct {
	UserID string
	Method string // "session" or "bearer_token"
}

// CredentialStrategy is one way a request can prove its identity.
//
// EXPLICIT STRATEGY ORDER:
// The reconciler evaluates a fixed, documented list of strategies and the
// first match wins. Each strategy reports one of three outcomes:
//
//	(cred, nil)  — the request carried this credential and it checked out
//	(nil, nil)   — the request does not carry this kind of credential at
//	               all (or carries a stale one that simply counts as
//	               absent, like an expired session cookie) → try the next
//	               strategy
//	(nil, err)   — the request carried this credential and it is INVALID
//	               (or the backing store failed) → stop, do not fall
//	               through to weaker strategies
//
// The ResponseWriter is passed in because a strategy may set a cookie as a
// side effect (session healing). Strategies never write a body or status.
type CredentialStrategy interface {
	Name() string
	Authenticate(w http.ResponseWriter, r *http.Request) (*Credential, error)
}

// SessionStrategy authenticates via the session cookie — the primary path.
type SessionStrategy struct {
	Sessions repository.SessionRepository
}

func (s *SessionStrategy) Name() string { return "session" }

// Authenticate resolves the session cookie to a user identity.
// A missing cookie, an unknown session ID, or an expired session all count
// as "no credential" — the caller may still succeed via the bearer token.
func (s *SessionStrategy) Authenticate(_ http.ResponseWriter, r *http.Request) (*Credential, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, nil // no session cookie — not an error, just anonymous here
	}

	sess, err := s.Sessions.Get(r.Context(), cookie.Value)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			// Stale cookie: the session expired or was destroyed by logout.
			// Fall through so the fallback token gets a chance to heal it.
			return nil, nil
		}
		// Store unavailable — surface as a 5xx, not an auth rejection.
		return nil, err
	}

	return &Credential{UserID: sess.UserID, Method: "session"}, nil
}

// BearerTokenStrategy authenticates via the Authorization: Bearer header —
// the fallback path used when cookies never made it to the server.
type BearerTokenStrategy struct {
	Tokens   *TokenService
	Users    repository.UserRepository
	Sessions repository.SessionRepository
	Cookies  CookieConfig
	Logger   *slog.Logger
}

func (s *BearerTokenStrategy) Name() string { return "bearer_token" }

// Authenticate verifies the bearer token, confirms the encoded user still
// exists, and on success RE-ESTABLISHES the session (new record + cookie).
//
// ORPHANED TOKENS:
// Signature and expiry alone are not enough. The token encodes a user ID
// that may have been deleted since issuance; silently creating a session for
// a nonexistent user would resurrect a dead account. So existence in the
// credential store is checked before the token is honored.
//
// SESSION HEALING:
// The healing write is idempotent in effect — concurrent requests from the
// same client each create a session mapping to the same user, and the last
// Set-Cookie wins in the browser. If the write itself fails we still accept
// the request: the token alone proved the identity, healing is only an
// optimization.
func (s *BearerTokenStrategy) Authenticate(w http.ResponseWriter, r *http.Request) (*Credential, error) {
	header := r.Header.Get("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return nil, nil // no bearer credential presented
	}

	tokenStr := strings.TrimPrefix(header, "Bearer ")
	if tokenStr == "" {
		return nil, nil
	}

	userID, err := s.Tokens.Validate(tokenStr)
	if err != nil {
		// Bad signature, expired, malformed. Do NOT fall through — an
		// explicitly presented, invalid credential is a hard rejection.
		s.Logger.Warn("bearer token rejected", slog.String("error", err.Error()))
		return nil, apperror.Unauthorized("Unauthorized: Invalid token.")
	}

	if _, err := s.Users.GetByID(r.Context(), userID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.Logger.Warn("bearer token references deleted user", slog.String("userID", userID))
			return nil, apperror.Unauthorized("User not found.")
		}
		return nil, err
	}

	if sess, err := s.Sessions.Create(r.Context(), userID); err != nil {
		s.Logger.Error("session healing failed",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
	} else {
		s.Cookies.Write(w, sess.ID)
		s.Logger.Info("session re-established from fallback token",
			slog.String("userID", userID),
			slog.String("sessionID", sess.ID),
		)
	}

	return &Credential{UserID: userID, Method: "bearer_token"}, nil
}

// Reconciler runs the ordered strategy list against incoming requests.
type Reconciler struct {
	strategies []CredentialStrategy
	logger     *slog.Logger
}

// NewReconciler creates a Reconciler evaluating the given strategies in order.
func NewReconciler(logger *slog.Logger, strategies ...CredentialStrategy) *Reconciler {
	return &Reconciler{strategies: strategies, logger: logger}
}

// Reconcile determines the effective identity for the request, or rejects.
// First matching strategy wins; a hard failure from any strategy stops the
// scan (no downgrade to a weaker credential after an invalid one).
func (rc *Reconciler) Reconcile(w http.ResponseWriter, r *http.Request) (*Credential, error) {
	for _, strategy := range rc.strategies {
		cred, err := strategy.Authenticate(w, r)
		if err != nil {
			return nil, err
		}
		if cred != nil {
			rc.logger.Debug("request authenticated",
				slog.String("method", strategy.Name()),
				slog.String("userID", cred.UserID),
				slog.String("path", r.URL.Path),
			)
			return cred, nil
		}
	}
	return nil, apperror.Unauthorized("Unauthorized: You must be logged in.")
}

// RequireAuth is the middleware form of Reconcile for protected routes.
// On success the userID lands in the request context; on failure the chain
// stops with 401 (or 500 when a backing store is unreachable — a store
// outage is not an authentication verdict).
func (rc *Reconciler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred, err := rc.Reconcile(w, r)
		if err != nil {
			var appErr *apperror.AppError
			if errors.As(err, &appErr) && errors.Is(err, apperror.ErrUnauthorized) {
				writeAuthError(w, http.StatusUnauthorized, appErr.Message)
				return
			}
			rc.logger.Error("auth reconciliation failed", slog.String("error", err.Error()))
			writeAuthError(w, http.StatusInternalServerError, "An internal error occurred")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, cred.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserIDFromContext retrieves the authenticated user's ID from the request
// context. Returns ("", false) if the request never passed RequireAuth.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// writeAuthError writes the minimal JSON error body the gate uses.
// The handler package has richer helpers; the gate keeps its own tiny one so
// the auth package doesn't depend on handlers.
// The body shape matches the API contract: {"message": "..."}
func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}

// compile-time checks that both strategies satisfy the interface
var (
	_ CredentialStrategy = (*SessionStrategy)(nil)
	_ CredentialStrategy = (*BearerTokenStrategy)(nil)
)
