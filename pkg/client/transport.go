package client

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrSessionExpired is returned when a request failed with 401 even after
// the bearer-token retry. The client's credentials are gone: the transport
// has already cleared the stored token and written the cross-process marker
// before returning this.
var ErrSessionExpired = errors.New("client: session expired")

// ErrNoResponse is returned when the request produced no HTTP response at
// all. In the browser this pattern usually meant an ad blocker killing the
// request; here it covers any transport-level failure. Callers should treat
// it as "try again", not as an authentication verdict.
var ErrNoResponse = errors.New("client: no response received")

// ReasonSessionExpired is the reason code carried to the login view when
// credentials are cleared.
const ReasonSessionExpired = "session_expired"

// RetryDecision is the verdict of the retry policy for one response.
type RetryDecision int

const (
	// DecisionPass returns the response to the caller unchanged.
	DecisionPass RetryDecision = iota
	// DecisionRetry re-sends the request once with the token attached.
	DecisionRetry
	// DecisionExpire gives up: clear the token, write the marker, fail.
	DecisionExpire
)

// RetryPolicy decides what to do with a response. It is a pure function of
// the visible facts — status code, whether this request already was a retry,
// whether a token is available — so it can be tested in isolation and the
// transport stays free of hidden per-request state.
type RetryPolicy func(status int, alreadyRetried, tokenAvailable bool) RetryDecision

// DefaultRetryPolicy: retry a 401 exactly once if a token exists to retry
// with. A second 401, or a 401 with a token that cannot be re-sent, means
// the credentials are dead. A 401 with no token at all passes through —
// there is nothing to escalate with, and the caller may simply be probing.
func DefaultRetryPolicy(status int, alreadyRetried, tokenAvailable bool) RetryDecision {
	if status != http.StatusUnauthorized {
		return DecisionPass
	}
	if !tokenAvailable {
		return DecisionPass
	}
	if alreadyRetried {
		return DecisionExpire
	}
	return DecisionRetry
}

// Transport is an http.RoundTripper that attaches the fallback token and
// runs the retry-on-401 policy.
//
// ATTACHMENT RULES:
//   - Authorization is set from the TokenStore ONLY when the caller left it
//     empty. Session-cookie requests win implicitly: the cookie rides along
//     regardless, and the server consults it before the bearer header.
//   - X-Requested-With and X-Application are always set; the server's CORS
//     allow-list admits them and the original frontend sent both.
//
// RETRY RULES (see DefaultRetryPolicy):
// One retry with the token forcibly attached, then give up: clear the
// stored token, write the cross-process marker so sibling clients re-verify,
// and return ErrSessionExpired.
type Transport struct {
	// Base does the actual round trip. nil means http.DefaultTransport.
	Base http.RoundTripper

	// Tokens supplies the fallback token. Required.
	Tokens TokenStore

	// MarkerPath, when non-empty, is rewritten whenever credentials are
	// cleared, so other processes sharing it re-verify.
	MarkerPath string

	// Policy decides pass/retry/expire per response. nil means
	// DefaultRetryPolicy.
	Policy RetryPolicy

	// OnExpired, when set, is called with the reason code after credentials
	// are cleared. This is the hook the coordinator uses to flip its state
	// to unauthenticated (the browser redirected to /login?reason=... here).
	OnExpired func(reason string)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) policy() RetryPolicy {
	if t.Policy != nil {
		return t.Policy
	}
	return DefaultRetryPolicy
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.Tokens.Load()
	if err != nil {
		return nil, fmt.Errorf("loading token: %w", err)
	}

	// RoundTrippers must not mutate the caller's request
	first := req.Clone(req.Context())
	first.Header.Set("X-Requested-With", "XMLHttpRequest")
	first.Header.Set("X-Application", "GitForMe")
	if first.Header.Get("Authorization") == "" && token != "" {
		first.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.base().RoundTrip(first)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoResponse, err)
	}

	switch t.policy()(resp.StatusCode, false, token != "") {
	case DecisionPass:
		return resp, nil
	case DecisionExpire:
		resp.Body.Close()
		return nil, t.expire()
	}

	// DecisionRetry. Replaying a request with a body needs GetBody; without
	// it the retry is impossible and the policy's intent (this token was the
	// last resort) collapses to expiry.
	retry, ok := t.rewind(req)
	if !ok {
		resp.Body.Close()
		return nil, t.expire()
	}
	resp.Body.Close()

	retry.Header.Set("X-Requested-With", "XMLHttpRequest")
	retry.Header.Set("X-Application", "GitForMe")
	retry.Header.Set("Authorization", "Bearer "+token)

	resp, err = t.base().RoundTrip(retry)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoResponse, err)
	}

	if t.policy()(resp.StatusCode, true, true) == DecisionExpire {
		resp.Body.Close()
		return nil, t.expire()
	}
	return resp, nil
}

// rewind produces a fresh copy of req whose body can be sent again.
func (t *Transport) rewind(req *http.Request) (*http.Request, bool) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	clone.Body = body
	return clone, true
}

// expire clears the stored token, signals every other client via the
// marker, and notifies the local consumer. Cleanup failures are secondary
// to reporting the expiry itself, so they are folded into the message.
func (t *Transport) expire() error {
	if err := t.Tokens.Clear(); err != nil {
		return fmt.Errorf("%w (token clear failed: %v)", ErrSessionExpired, err)
	}
	if t.MarkerPath != "" {
		if err := WriteMarker(t.MarkerPath); err != nil {
			return fmt.Errorf("%w (marker write failed: %v)", ErrSessionExpired, err)
		}
	}
	if t.OnExpired != nil {
		t.OnExpired(ReasonSessionExpired)
	}
	return ErrSessionExpired
}

// statically assert the interface
var _ http.RoundTripper = (*Transport)(nil)

// drain is a tiny helper for callers that inspect only the status code.
func drain(r io.ReadCloser) {
	io.Copy(io.Discard, r)
	r.Close()
}
