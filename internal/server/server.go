// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer — it connects handlers, middleware, and routes.
// Think of it as the control centre that decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// WHY SEPARATE FROM main.go?
// Keeping server setup in its own package makes it:
// - Testable (we can create a test server without running main)
// - Reusable (multiple entry points could use the same server config)
// - Clean (main.go stays minimal — just "start the server")
//
// DEPENDENCY INJECTION FLOW:
// main.go loads config and creates the logger, then:
//   Server.New() creates: sqlite.DB → TokenService → AuthService →
//   GitHubProvider → handlers → Reconciler (session strategy first,
//   bearer strategy second)
//
// This is the "composition root" pattern — all dependencies are wired
// in one place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/gitforme/gitforme/internal/auth"
	"github.com/gitforme/gitforme/internal/config"
	"github.com/gitforme/gitforme/internal/handler"
	"github.com/gitforme/gitforme/internal/middleware"
	sqliteRepo "github.com/gitforme/gitforme/internal/repository/sqlite"
	"github.com/gitforme/gitforme/internal/service"
)

// reapInterval is how often expired sessions are swept from the database.
// Expired rows are already invisible to lookups (the query filters on
// expires_at), so the sweep is purely housekeeping — hourly is plenty.
const reapInterval = time.Hour

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection (db). When the server shuts down,
// we must close this connection to flush any pending writes and release the
// file lock. This is handled in Start() during graceful shutdown.
type Server struct {
	router *chi.Mux
	config config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
}

// New creates a new Server with the given config.
//
// DEPENDENCY INJECTION & WIRING:
// This is where the entire dependency chain is assembled:
//  1. Create the database connection (sqlite.New)
//  2. Create the token service and auth service with the DB
//  3. Create the OAuth provider and the handlers
//  4. Build the reconciler (ordered credential strategies) and wire routes
//
// Each layer only receives what it needs:
// - Service gets the repository interfaces (not the concrete sqlite.DB)
// - Handlers get the service (not the repository or DB)
//
// IMPORT ALIAS:
// We import repository/sqlite as `sqliteRepo` to avoid confusion with
// the sqlite driver package. Import aliases are common in Go when
// package names would otherwise collide or be unclear.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setupRoutes(); err != nil {
		db.Close() // Clean up DB if route setup fails
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET  /api/health               → Liveness probe (JSON)
// GET  /api/stats/user-count     → Public user count (JSON)
// GET  /api/auth/github          → Redirect to GitHub's consent screen
// GET  /api/auth/github/callback → OAuth completion, redirect to frontend
// POST /api/auth/verifyUser      → Advisory session check (JSON)
// POST /api/auth/verifyToken     → Advisory token check + session healing
// POST /api/auth/logout          → Destroy session, clear cookie
// GET  /api/github/me            → Authenticated user (behind the gate)
//
// MIDDLEWARE ORDER MATTERS:
// Middleware executes in the order it's added. Our order:
// 1. RequestID — assigns unique ID to each request (for tracing)
// 2. RealIP — extracts real client IP from proxy headers
// 3. Logger — logs each request with timing info
// 4. Recoverer — catches panics and returns 500 instead of crashing
// 5. CORS — the browser frontend lives on a different origin
func (s *Server) setupRoutes() error {
	// === Global Middleware ===
	// These run on EVERY request, in order

	s.router.Use(chimiddleware.RequestID) // Adds X-Request-ID header
	s.router.Use(chimiddleware.RealIP)    // Extracts real IP from X-Forwarded-For
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer) // Recovers from panics, returns 500

	// === CORS ===
	// The frontend runs on its own origin and sends the session cookie
	// cross-site, so AllowCredentials must be on — which in turn forbids
	// the "*" origin wildcard. The allow-list is the configured frontend,
	// the deployed production origins, and the localhost dev ports.
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{
			s.config.Server.FrontendURL,
			"https://www.gitforme.tech",
			"https://gitforme.tech",
			"https://gitforme-jbsp.vercel.app",
			"https://gitforme-bot.onrender.com",
			"http://localhost:5173",
			"http://localhost:3000",
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", "X-Forwarded-Proto", "X-Application"},
		ExposedHeaders:   []string{"Set-Cookie"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// === Dependency Wiring ===
	// DEPENDENCY CHAIN:
	//   s.db (sqlite.DB) → implements repository.UserRepository and
	//   repository.SessionRepository
	//   AuthService receives the repository interfaces
	//   Handlers receive the service
	//
	// Notice: the handlers never touch the database directly.
	// The service never touches HTTP. Clean separation!
	tokens, err := auth.NewTokenService(s.config.Auth.TokenSecret)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	authSvc := service.NewAuthService(s.db, s.db, tokens, s.logger)

	github := auth.NewGitHubProvider(
		s.config.GitHub.ClientID,
		s.config.GitHub.ClientSecret,
		s.config.GitHub.CallbackURL,
	)

	cookies := auth.DefaultCookieConfig(s.config.Server.Production)

	authHandler := handler.NewAuthHandler(github, authSvc, cookies, s.config.Server.FrontendURL, s.logger)
	statsHandler := handler.NewStatsHandler(authSvc, s.logger)

	// === The Gate ===
	// Strategy order is the whole contract: the session cookie is consulted
	// first, the bearer token only when no usable session exists.
	gate := auth.NewReconciler(s.logger,
		&auth.SessionStrategy{Sessions: s.db},
		&auth.BearerTokenStrategy{
			Tokens:   tokens,
			Users:    s.db,
			Sessions: s.db,
			Cookies:  cookies,
			Logger:   s.logger,
		},
	)

	// === API Routes ===
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", handler.HandleHealth)
		r.Get("/stats/user-count", statsHandler.HandleUserCount)

		r.Route("/auth", func(r chi.Router) {
			r.Get("/github", authHandler.HandleGitHubLogin)
			r.Get("/github/callback", authHandler.HandleGitHubCallback)
			r.Post("/verifyUser", authHandler.HandleVerifyUser)
			r.Post("/verifyToken", authHandler.HandleVerifyToken)
			r.Post("/logout", authHandler.HandleLogout)
		})

		// Everything in here requires a reconciled credential
		r.Group(func(r chi.Router) {
			r.Use(gate.RequireAuth)
			r.Get("/github/me", authHandler.HandleMe)
		})
	})

	return nil
}

// Handler exposes the assembled router, mainly for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.router
}

// reapSessions periodically deletes expired session rows until ctx is done.
func (s *Server) reapSessions(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.db.DeleteExpired(ctx); err != nil {
				s.logger.Error("session reaper failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Stop the session reaper
// 4. Close the database connection (flushes WAL, releases file lock)
//
// If we skip step 4, the database file might be left in an inconsistent state.
// The `defer s.db.Close()` ensures this happens even if something panics.
func (s *Server) Start() error {
	// Ensure the database is closed when the server stops.
	// This runs AFTER everything else in this function finishes.
	defer s.db.Close()

	// Background reaper for expired sessions, stopped on shutdown
	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	go s.reapSessions(reaperCtx)

	// Create the HTTP server with sensible timeouts
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Channel to receive OS signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErrors := make(chan error, 1)

	// Start the server in a goroutine (so it doesn't block)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Server.Port)),
			slog.String("database", s.config.Database.Path),
			slog.Bool("production", s.config.Server.Production),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		// Server failed to start
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		// Received shutdown signal
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		// Give in-flight requests 30 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
