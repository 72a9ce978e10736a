package auth

import (
	"net/http"
	"time"
)

// SessionCookieName is the cookie that carries the opaque session ID.
const SessionCookieName = "gfm_session"

// CookieConfig describes how the session cookie is written.
//
// CROSS-SITE COOKIES:
// The GitForMe frontend and API live on different origins in production, so
// the session cookie has to travel cross-site: that requires SameSite=None,
// which browsers only accept together with Secure. In local development
// (plain http) we use SameSite=Lax instead — None+insecure would be silently
// dropped by the browser.
type CookieConfig struct {
	Secure   bool
	SameSite http.SameSite
	MaxAge   time.Duration
}

// DefaultCookieConfig returns the cookie settings for the given environment.
func DefaultCookieConfig(production bool) CookieConfig {
	cfg := CookieConfig{
		Secure:   production,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   24 * time.Hour,
	}
	if production {
		cfg.SameSite = http.SameSiteNoneMode
	}
	return cfg
}

// Write sets the session cookie on the response.
// HttpOnly = JavaScript cannot read it (XSS protection).
func (c CookieConfig) Write(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(c.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}

// Clear tells the browser to delete the session cookie immediately.
func (c CookieConfig) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}
