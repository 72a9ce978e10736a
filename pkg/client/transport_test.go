package client

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// =========================================================================
// RETRY POLICY TESTS
// =========================================================================

func TestDefaultRetryPolicy(t *testing.T) {
	tests := []struct {
		name           string
		status         int
		alreadyRetried bool
		tokenAvailable bool
		want           RetryDecision
	}{
		{"success passes", http.StatusOK, false, true, DecisionPass},
		{"server error passes", http.StatusInternalServerError, false, true, DecisionPass},
		{"403 passes", http.StatusForbidden, false, true, DecisionPass},
		{"first 401 with token retries", http.StatusUnauthorized, false, true, DecisionRetry},
		{"first 401 without token passes", http.StatusUnauthorized, false, false, DecisionPass},
		{"second 401 expires", http.StatusUnauthorized, true, true, DecisionExpire},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DefaultRetryPolicy(tt.status, tt.alreadyRetried, tt.tokenAvailable)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =========================================================================
// TRANSPORT TESTS
// =========================================================================

// recordingServer answers 401 for the first failCount requests, then 200,
// and records every request's headers.
type recordingServer struct {
	mu        sync.Mutex
	failCount int
	requests  []http.Header
	bodies    []string
}

func (s *recordingServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		s.mu.Lock()
		s.requests = append(s.requests, r.Header.Clone())
		s.bodies = append(s.bodies, string(body))
		fail := len(s.requests) <= s.failCount
		s.mu.Unlock()

		if fail {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"Unauthorized: Invalid token."}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}
}

func (s *recordingServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func TestTransport_AttachesBearerWhenAbsent(t *testing.T) {
	rec := &recordingServer{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	tr := &Transport{Tokens: NewMemTokenStore("tok_abc")}
	client := &http.Client{Transport: tr}

	resp, err := client.Get(srv.URL + "/api/github/me")
	assert.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 1, rec.count())
	assert.Equal(t, "Bearer tok_abc", rec.requests[0].Get("Authorization"))
	assert.Equal(t, "XMLHttpRequest", rec.requests[0].Get("X-Requested-With"))
	assert.Equal(t, "GitForMe", rec.requests[0].Get("X-Application"))
}

func TestTransport_KeepsCallerAuthorization(t *testing.T) {
	rec := &recordingServer{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	tr := &Transport{Tokens: NewMemTokenStore("tok_abc")}
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/github/me", nil)
	req.Header.Set("Authorization", "Bearer caller-supplied")

	resp, err := (&http.Client{Transport: tr}).Do(req)
	assert.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "Bearer caller-supplied", rec.requests[0].Get("Authorization"))
}

func TestTransport_RetriesOnceThenSucceeds(t *testing.T) {
	rec := &recordingServer{failCount: 1}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	tokens := NewMemTokenStore("tok_abc")
	tr := &Transport{Tokens: tokens}

	resp, err := (&http.Client{Transport: tr}).Get(srv.URL + "/api/github/me")
	assert.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, rec.count(), "exactly one retry")
	assert.Equal(t, "Bearer tok_abc", rec.requests[1].Get("Authorization"))

	// token survives a successful retry
	tok, _ := tokens.Load()
	assert.Equal(t, "tok_abc", tok)
}

func TestTransport_RetryReplaysRequestBody(t *testing.T) {
	rec := &recordingServer{failCount: 1}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	tr := &Transport{Tokens: NewMemTokenStore("tok_abc")}
	resp, err := (&http.Client{Transport: tr}).Post(
		srv.URL+"/api/thing", "application/json", strings.NewReader(`{"n":1}`))
	assert.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 2, rec.count())
	assert.Equal(t, `{"n":1}`, rec.bodies[0])
	assert.Equal(t, `{"n":1}`, rec.bodies[1], "retry must carry the same body")
}

func TestTransport_DoubleUnauthorizedClearsAndExpires(t *testing.T) {
	rec := &recordingServer{failCount: 2}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	marker := filepath.Join(t.TempDir(), "auth_state")
	tokens := NewMemTokenStore("tok_dead")

	var gotReason string
	tr := &Transport{
		Tokens:     tokens,
		MarkerPath: marker,
		OnExpired:  func(reason string) { gotReason = reason },
	}

	resp, err := (&http.Client{Transport: tr}).Get(srv.URL + "/api/github/me")
	if resp != nil {
		resp.Body.Close()
	}

	assert.True(t, errors.Is(err, ErrSessionExpired), "got: %v", err)
	assert.Equal(t, 2, rec.count(), "never a third attempt")
	assert.Equal(t, ReasonSessionExpired, gotReason)

	tok, _ := tokens.Load()
	assert.Empty(t, tok, "dead token must be cleared")

	_, statErr := os.Stat(marker)
	assert.NoError(t, statErr, "marker must be written so siblings re-verify")
}

func TestTransport_UnauthorizedWithoutTokenPassesThrough(t *testing.T) {
	rec := &recordingServer{failCount: 10}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	tr := &Transport{Tokens: NewMemTokenStore("")}
	resp, err := (&http.Client{Transport: tr}).Get(srv.URL + "/api/github/me")
	assert.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 1, rec.count(), "nothing to retry with")
	assert.Empty(t, rec.requests[0].Get("Authorization"))
}

func TestTransport_NetworkFailureIsNoResponse(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // nothing listens anymore

	tr := &Transport{Tokens: NewMemTokenStore("tok_abc")}
	resp, err := (&http.Client{Transport: tr}).Get(srv.URL + "/api/github/me")
	if resp != nil {
		resp.Body.Close()
	}

	assert.True(t, errors.Is(err, ErrNoResponse), "got: %v", err)
}
