package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"
)

// State is the coordinator's observable authentication state.
type State int

const (
	// StateLoading is the initial state, before the first verification
	// completes.
	StateLoading State = iota
	// StateAuthenticated means the server confirmed an identity.
	StateAuthenticated
	// StateUnauthenticated means both credential paths failed.
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// User is the server's projection of the authenticated user. The json tags
// must match the server's wire shape (camelCase, as the model serializes),
// not this package's naming taste.
type User struct {
	ID        string `json:"id"`
	GitHubID  int64  `json:"githubId"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl"`
}

// verifyResponse is the body shape of both verification endpoints.
type verifyResponse struct {
	Status  bool   `json:"status"`
	User    *User  `json:"user"`
	Message string `json:"message"`
}

// Config configures a Coordinator. BaseURL and Tokens are required.
type Config struct {
	// BaseURL is the server root, e.g. "http://localhost:3000".
	BaseURL string

	// Tokens persists the fallback token.
	Tokens TokenStore

	// MarkerPath is the shared cross-process marker file. Empty disables
	// marker writes (and WatchMarker fails).
	MarkerPath string

	// OnChange, when set, observes every committed state transition.
	OnChange func(State, *User)

	// RedirectDelay is the pause between persisting a redirect-carried
	// token and the follow-up verification, covering session-store lag
	// right after the OAuth callback. Zero means the 1s default; tests set
	// it to something tiny.
	RedirectDelay time.Duration

	// HTTPClient overrides the internal client. When nil the coordinator
	// builds one with a cookie jar, which is what makes the session path
	// work at all.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Coordinator drives the client's authentication state machine.
//
// VERIFICATION ORDER (same as the server's gate, seen from the other side):
//  1. POST /api/auth/verifyUser — rides on the session cookie in the jar
//  2. POST /api/auth/verifyToken — presents the stored fallback token;
//     success heals the session (the response cookie lands in the jar)
//
// Success of either commits authenticated; failure of both commits
// unauthenticated.
//
// OVERLAPPING VERIFICATIONS:
// Triggers can fire concurrently (focus + marker event, say). Each Verify
// claims a generation number at START; only the result of the newest
// generation may commit. "Last request wins" rather than "last response
// wins": a slow response from a verification issued BEFORE a logout must
// not resurrect the authenticated state afterwards.
type Coordinator struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	user       *User
	generation uint64
}

// New creates a Coordinator in StateLoading. Call Verify to leave it.
func New(cfg Config) (*Coordinator, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("client: BaseURL is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("client: Tokens is required")
	}
	if cfg.RedirectDelay == 0 {
		cfg.RedirectDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		httpClient = &http.Client{Jar: jar, Timeout: 15 * time.Second}
	}

	return &Coordinator{
		cfg:    cfg,
		http:   httpClient,
		logger: cfg.Logger,
		state:  StateLoading,
	}, nil
}

// State returns the current state and user snapshot.
func (c *Coordinator) State() (State, *User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.user
}

// claim allocates a new verification generation, invalidating the commit
// rights of every verification already in flight.
func (c *Coordinator) claim() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	return c.generation
}

// commit applies a state transition if gen is still current. The OnChange
// callback fires outside the lock so subscribers may call back into the
// coordinator.
func (c *Coordinator) commit(gen uint64, state State, user *User) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.logger.Debug("dropping stale verification result",
			slog.Uint64("generation", gen),
			slog.String("state", state.String()),
		)
		return
	}
	c.state = state
	c.user = user
	onChange := c.cfg.OnChange
	c.mu.Unlock()

	if onChange != nil {
		onChange(state, user)
	}
}

// Verify runs the session-then-token verification sequence and commits the
// outcome. Safe to call from any goroutine, any number of times.
func (c *Coordinator) Verify(ctx context.Context) {
	gen := c.claim()

	// --- Path 1: session cookie ---
	if user, ok := c.verifySession(ctx); ok {
		c.commit(gen, StateAuthenticated, user)
		return
	}

	// --- Path 2: fallback token ---
	token, err := c.cfg.Tokens.Load()
	if err != nil {
		c.logger.Warn("token load failed", slog.String("error", err.Error()))
		token = ""
	}
	if token == "" {
		c.commit(gen, StateUnauthenticated, nil)
		return
	}

	user, verdict := c.verifyToken(ctx, token)
	if verdict == tokenAccepted {
		c.commit(gen, StateAuthenticated, user)
		return
	}
	if verdict == tokenRejected {
		// The server examined the token and said no — it is dead weight now
		if err := c.cfg.Tokens.Clear(); err != nil {
			c.logger.Warn("token clear failed", slog.String("error", err.Error()))
		}
	}
	c.commit(gen, StateUnauthenticated, nil)
}

// verifySession asks the server whether the session cookie (if the jar has
// one) names a live session. Any failure just means "try the token path".
func (c *Coordinator) verifySession(ctx context.Context) (*User, bool) {
	resp, err := c.post(ctx, "/api/auth/verifyUser", nil)
	if err != nil {
		c.logger.Debug("session verification unreachable", slog.String("error", err.Error()))
		return nil, false
	}
	defer resp.Body.Close()

	var body verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, false
	}
	if !body.Status || body.User == nil {
		return nil, false
	}
	return body.User, true
}

type tokenVerdict int

const (
	tokenAccepted tokenVerdict = iota
	tokenRejected              // the server said the token is invalid
	tokenUnknown               // network failure, no verdict
)

// verifyToken presents the stored token. On success the healed session
// cookie lands in the jar as a side effect of the response.
func (c *Coordinator) verifyToken(ctx context.Context, token string) (*User, tokenVerdict) {
	payload, _ := json.Marshal(map[string]string{"token": token})
	resp, err := c.post(ctx, "/api/auth/verifyToken", payload)
	if err != nil {
		c.logger.Debug("token verification unreachable", slog.String("error", err.Error()))
		return nil, tokenUnknown
	}
	defer resp.Body.Close()

	var body verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, tokenUnknown
	}
	if resp.StatusCode == http.StatusOK && body.Status && body.User != nil {
		return body.User, tokenAccepted
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, tokenRejected
	}
	return nil, tokenUnknown
}

// HandleRedirect inspects a URL the application landed on. If it carries
// the OAuth-return payload (success=true plus a token), the token is
// persisted, verification is kicked off immediately (plus a delayed second
// pass), and the cleaned URL is returned with handled=true. Otherwise the
// URL comes back untouched.
//
// WHY THE SECOND, DELAYED PASS:
// The callback redirect can outrun the session row becoming visible to
// verification. Re-verifying once more after a short pause smooths that
// over; the stored token makes the outcome correct either way.
func (c *Coordinator) HandleRedirect(rawURL string) (cleaned string, handled bool, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL, false, fmt.Errorf("parsing redirect URL: %w", err)
	}

	q := u.Query()
	token := q.Get("token")
	if q.Get("success") != "true" || token == "" {
		return rawURL, false, nil
	}

	if err := c.cfg.Tokens.Save(token); err != nil {
		return rawURL, false, fmt.Errorf("persisting redirect token: %w", err)
	}

	q.Del("success")
	q.Del("token")
	u.RawQuery = q.Encode()

	// Verify right away — the freshly persisted token usually succeeds on
	// the spot. The delayed second pass covers the case where the session
	// store lags the redirect; the generation counter keeps the two from
	// clobbering each other.
	go c.Verify(context.Background())
	time.AfterFunc(c.cfg.RedirectDelay, func() {
		c.Verify(context.Background())
	})

	return u.String(), true, nil
}

// Login transitions directly to authenticated, persists the token if one
// was provided, and writes the marker so sibling processes re-verify.
func (c *Coordinator) Login(user *User, token string) error {
	if token != "" {
		if err := c.cfg.Tokens.Save(token); err != nil {
			return fmt.Errorf("persisting token: %w", err)
		}
	}

	gen := c.claim() // invalidate in-flight verifications
	c.commit(gen, StateAuthenticated, user)

	c.writeMarker()
	return nil
}

// Logout tells the server to destroy the session (best effort), then
// unconditionally clears local state and signals sibling processes. A dead
// server must never trap the user in a logged-in UI.
func (c *Coordinator) Logout(ctx context.Context) {
	if resp, err := c.post(ctx, "/api/auth/logout", nil); err != nil {
		c.logger.Warn("server logout failed", slog.String("error", err.Error()))
	} else {
		drain(resp.Body)
	}

	if err := c.cfg.Tokens.Clear(); err != nil {
		c.logger.Warn("token clear failed", slog.String("error", err.Error()))
	}

	gen := c.claim()
	c.commit(gen, StateUnauthenticated, nil)

	c.writeMarker()
}

// Focus is the "window regained focus" trigger: just re-verify.
func (c *Coordinator) Focus(ctx context.Context) {
	c.Verify(ctx)
}

// WatchMarker re-verifies whenever another process rewrites the marker
// file, until ctx is cancelled. It blocks, so run it in its own goroutine.
func (c *Coordinator) WatchMarker(ctx context.Context) error {
	if c.cfg.MarkerPath == "" {
		return fmt.Errorf("client: no MarkerPath configured")
	}

	mw, err := NewMarkerWatcher(c.cfg.MarkerPath)
	if err != nil {
		return err
	}
	defer mw.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-mw.Events():
			if !ok {
				return nil
			}
			c.Verify(ctx)
		}
	}
}

func (c *Coordinator) writeMarker() {
	if c.cfg.MarkerPath == "" {
		return
	}
	if err := WriteMarker(c.cfg.MarkerPath); err != nil {
		c.logger.Warn("marker write failed", slog.String("error", err.Error()))
	}
}

func (c *Coordinator) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}
