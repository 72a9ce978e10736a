package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/rs/xid"

	"github.com/gitforme/gitforme/internal/apperror"
	"github.com/gitforme/gitforme/internal/auth"
	"github.com/gitforme/gitforme/internal/service"
)

// GitHubExchanger is the slice of the OAuth provider the handler needs.
// *auth.GitHubProvider satisfies it; tests substitute a fake so the callback
// flow runs without talking to GitHub.
type GitHubExchanger interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GitHubUser, string, error)
}

// AuthHandler manages the GitHub OAuth login flow and the verification /
// logout endpoints the browser client drives.
//
// HANDLER RESPONSIBILITIES:
//   - HandleGitHubLogin    → redirect the browser to GitHub's authorize page
//   - HandleGitHubCallback → code exchange, upsert, session + fallback token,
//     redirect back to the frontend
//   - HandleVerifyUser     → advisory: is the session cookie good?
//   - HandleVerifyToken    → advisory: is this fallback token good? (heals
//     the session on success)
//   - HandleLogout         → destroy session, clear cookie
//   - HandleMe             → the authenticated user's projection (behind the
//     reconciler gate)
type AuthHandler struct {
	github      GitHubExchanger
	authSvc     *service.AuthService
	cookies     auth.CookieConfig
	frontendURL string
	logger      *slog.Logger
}

// NewAuthHandler creates an AuthHandler. All dependencies are injected here;
// the handler has no knowledge of how they're constructed.
func NewAuthHandler(
	github GitHubExchanger,
	authSvc *service.AuthService,
	cookies auth.CookieConfig,
	frontendURL string,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		github:      github,
		authSvc:     authSvc,
		cookies:     cookies,
		frontendURL: frontendURL,
		logger:      logger,
	}
}

// statusResponse is the body shape of the verify endpoints:
// {"status": true, "user": {...}} or {"status": false, "message": "..."}.
// The user field uses `any` so the model's json tags (including the
// access-token `json:"-"`) control exactly what serializes.
type statusResponse struct {
	Status  bool   `json:"status"`
	User    any    `json:"user,omitempty"`
	Message string `json:"message,omitempty"`
}

// HandleGitHubLogin redirects the user to GitHub's authorization page.
//
// HTTP: GET /api/auth/github
//
// CSRF PROTECTION VIA STATE:
// We generate a random state string and store it in a short-lived cookie.
// When GitHub calls back, HandleGitHubCallback verifies the state matches.
// This proves the callback was initiated by this server, not a CSRF attacker.
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10 minutes — long enough to approve, short enough to limit risk
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes the OAuth login flow.
//
// HTTP: GET /api/auth/github/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code for a GitHub profile + access token
//  3. Upsert the user, create the session, mint the fallback token
//  4. Set the session cookie
//  5. Redirect to the frontend with ?success=true&token=<fallback-token>
//
// FAILURE POLICY:
// Anything that goes wrong AFTER the request is structurally valid redirects
// to the frontend's login view with a generic error flag. Returning a raw
// error page here would strand the user mid-OAuth with no way back into the
// app, and leaking provider error detail helps nobody but an attacker.
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	// --- Step 1: Validate CSRF state ---
	stateCookie, err := r.Cookie("oauth_state")
	if err != nil || stateCookie.Value == "" {
		h.logger.Warn("auth callback: missing state cookie")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}

	if r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: state mismatch",
			slog.String("expected", stateCookie.Value),
			slog.String("got", r.URL.Query().Get("state")),
		)
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}

	// Clear the state cookie — it's single-use
	http.SetCookie(w, &http.Cookie{
		Name:   "oauth_state",
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	// User denied authorization on GitHub's consent screen
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization",
			slog.String("error", errParam),
		)
		h.redirectError(w, r)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	// --- Step 2: Exchange code for GitHub profile + access token ---
	ghUser, accessToken, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: GitHub exchange failed", slog.String("error", err.Error()))
		h.redirectError(w, r)
		return
	}

	// --- Step 3: Upsert user, create session, mint fallback token ---
	result, err := h.authSvc.LoginOrRegisterGitHub(r.Context(), ghUser, accessToken)
	if err != nil {
		h.logger.Error("auth callback: login failed",
			slog.Int64("githubID", ghUser.ID),
			slog.String("error", err.Error()),
		)
		h.redirectError(w, r)
		return
	}

	// --- Step 4: Set the session cookie ---
	h.cookies.Write(w, result.Session.ID)

	// --- Step 5: Redirect to the frontend carrying the fallback token ---
	// The client persists it locally and presents it as a bearer credential
	// whenever the cookie doesn't make it through.
	redirect := h.frontendURL + "/?success=true&token=" + url.QueryEscape(result.Token)
	http.Redirect(w, r, redirect, http.StatusSeeOther)
}

// redirectError sends the browser back to the frontend's login view with a
// generic failure flag. Provider detail stays in the server logs.
func (h *AuthHandler) redirectError(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.frontendURL+"/login?error=auth_failed", http.StatusSeeOther)
}

// HandleVerifyUser reports whether the session cookie identifies a user.
//
// HTTP: POST /api/auth/verifyUser
//
// This is ADVISORY, not a gate: a missing or dead session answers
// 200 {"status":false} rather than 401, because the client's coordinator
// treats "no session" as a normal state (it falls back to the token path).
func (h *AuthHandler) HandleVerifyUser(w http.ResponseWriter, r *http.Request) {
	var sessionID string
	if cookie, err := r.Cookie(auth.SessionCookieName); err == nil {
		sessionID = cookie.Value
	}

	user, err := h.authSvc.VerifySession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, apperror.ErrUnauthorized) {
			writeJSON(w, http.StatusOK, statusResponse{Status: false, Message: "No active session."})
			return
		}
		h.logger.Error("verifyUser: session lookup failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: true, User: user})
}

// verifyTokenRequest is the body of POST /api/auth/verifyToken.
type verifyTokenRequest struct {
	Token string `json:"token"`
}

// HandleVerifyToken verifies a fallback token and heals the session.
//
// HTTP: POST /api/auth/verifyToken {"token": "..."}
//
// Unlike HandleVerifyUser this one DOES answer 401 on failure — the client
// only calls it when the session path already failed, so a bad token is the
// end of the line and the client needs the hard signal to clear its state.
func (h *AuthHandler) HandleVerifyToken(w http.ResponseWriter, r *http.Request) {
	var req verifyTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeJSON(w, http.StatusUnauthorized, statusResponse{Status: false, Message: "No token provided"})
		return
	}

	user, sess, err := h.authSvc.VerifyToken(r.Context(), req.Token)
	if err != nil {
		if errors.Is(err, apperror.ErrUnauthorized) {
			writeJSON(w, http.StatusUnauthorized, statusResponse{Status: false, Message: "Invalid token"})
			return
		}
		h.logger.Error("verifyToken: verification failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	// Healing side effect: the fresh session rides back on the cookie so
	// subsequent requests in this browser context use the cheap path.
	h.cookies.Write(w, sess.ID)

	writeJSON(w, http.StatusOK, statusResponse{Status: true, User: user})
}

// HandleLogout destroys the session and clears the cookie.
//
// HTTP: POST /api/auth/logout
//
// WHY POST AND NOT GET?
// Logout is a state-changing operation. GET would be vulnerable to CSRF and
// to browsers pre-fetching the URL.
//
// The fallback token cannot be revoked server-side (it's stateless); the
// client deletes its local copy, and the token ages out within 24 hours.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var sessionID string
	if cookie, err := r.Cookie(auth.SessionCookieName); err == nil {
		sessionID = cookie.Value
	}

	if err := h.authSvc.Logout(r.Context(), sessionID); err != nil {
		h.logger.Error("logout failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Logout failed"})
		return
	}

	h.cookies.Clear(w)
	writeJSON(w, http.StatusOK, map[string]bool{"status": true})
}

// HandleMe returns the authenticated user's projection.
//
// HTTP: GET /api/github/me
// Auth: Required (behind the reconciler gate)
//
// The model's json tags keep the GitHub access token out of the response.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		// Should never happen behind RequireAuth, but be safe.
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized: You must be logged in."})
		return
	}

	user, err := h.authSvc.GetUserByID(r.Context(), userID)
	if err != nil {
		h.logger.Error("HandleMe: user lookup failed", slog.String("userID", userID))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}
