// Package config centralises everything the server reads from its environment.
//
// CONFIGURATION STRATEGY:
// All settings come from environment variables, with a .env file loaded first
// for development convenience (godotenv). Production deployments set real
// environment variables and ship no .env file — godotenv silently does nothing
// when the file is absent.
//
// Collecting every os.Getenv call in one Load() function means the rest of the
// codebase receives a plain Config struct and never touches the environment.
// Missing required secrets fail fast at startup instead of surfacing as a
// cryptic 500 on the first login attempt.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config carries all server settings, grouped by concern.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	GitHub   GitHubConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port        int
	FrontendURL string // where OAuth redirects land, e.g. http://localhost:5173
	Production  bool   // toggles Secure/SameSite=None cookies and strict CORS
}

// DatabaseConfig holds the SQLite settings.
type DatabaseConfig struct {
	Path string // SQLite file path, or ":memory:" for tests
}

// AuthConfig holds the signing secret for fallback tokens.
// Session and token lifetimes are both 24 hours — the session cookie and the
// fallback token are two carriers of the same grant, so they expire together.
type AuthConfig struct {
	TokenSecret string
}

// GitHubConfig holds the OAuth app credentials.
type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

// Load builds a Config from the environment, loading .env first if present.
//
// Required: TOKEN_SECRET, GITHUB_CLIENT_ID, GITHUB_CLIENT_SECRET.
// Everything else has a development default.
func Load() (*Config, error) {
	// Load .env if it exists. Errors (file missing) are deliberately ignored —
	// production has no .env file.
	_ = godotenv.Load()

	port, err := strconv.Atoi(getEnv("PORT", "3000"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid PORT: %w", err)
	}

	tokenSecret := os.Getenv("TOKEN_SECRET")
	if tokenSecret == "" {
		return nil, fmt.Errorf("config: TOKEN_SECRET environment variable is required")
	}

	clientID := os.Getenv("GITHUB_CLIENT_ID")
	clientSecret := os.Getenv("GITHUB_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("config: GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET are required")
	}

	production := os.Getenv("NODE_ENV") == "production" || os.Getenv("ENV") == "production"

	cfg := &Config{
		Server: ServerConfig{
			Port:        port,
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),
			Production:  production,
		},
		Database: DatabaseConfig{
			Path: getEnv("DB_PATH", "data/gitforme.db"),
		},
		Auth: AuthConfig{
			TokenSecret: tokenSecret,
		},
		GitHub: GitHubConfig{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			CallbackURL:  getEnv("GITHUB_CALLBACK_URL", fmt.Sprintf("http://localhost:%d/api/auth/github/callback", port)),
		},
	}

	return cfg, nil
}

// getEnv returns the value of the environment variable, or fallback if unset.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
