package tokens

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Quota is the rate limit state GitHub last reported for one token
type Quota struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// Transport attaches a token to every request it sends: the one pinned on the
// request context by WithToken, otherwise the next one from Pick. One HTTP call
// consumes exactly one token. The quota headers of each response are recorded
// against the token that made the call.
type Transport struct {
	Rotator *Rotator
	Base    http.RoundTripper
	// MinRemaining is the lowest remaining quota a token may be used with;
	// values below 1 mean the token is skipped only once it is exhausted
	MinRemaining int

	mu     sync.Mutex
	quotas map[string]Quota

	// replaced in tests
	now func() time.Time
}

// NewTransport wraps base (http.DefaultTransport when nil)
func NewTransport(r *Rotator, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{
		Rotator: r,
		Base:    base,
		quotas:  make(map[string]Quota),
		now:     time.Now,
	}
}

type tokenKey struct{}

// WithToken pins the token the Transport uses for requests made with ctx
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, ok := req.Context().Value(tokenKey{}).(string)
	if !ok || token == "" {
		token = t.Pick()
	}

	// RoundTrippers must not modify the caller's request
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.Base.RoundTrip(clone)
	if err == nil {
		t.record(token, resp.Header)
	}
	return resp, err
}

// Client returns an *http.Client using this transport
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

// Pick returns the rotator's next token, skipping tokens whose quota is below
// MinRemaining until their reset. When every token is low the rotator's next
// token is returned unchanged.
func (t *Transport) Pick() string {
	n := t.Rotator.Len()
	first := t.Rotator.Next()
	if t.usable(first) {
		return first
	}
	for i := 1; i < n; i++ {
		tok := t.Rotator.Next()
		if t.usable(tok) {
			return tok
		}
	}
	return first
}

func (t *Transport) usable(token string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	q, ok := t.quotas[token]
	return !ok || !t.lowLocked(q)
}

func (t *Transport) lowLocked(q Quota) bool {
	return q.Remaining < t.floor() && q.Reset.After(t.now())
}

func (t *Transport) floor() int {
	if t.MinRemaining < 1 {
		return 1
	}
	return t.MinRemaining
}

func (t *Transport) record(token string, h http.Header) {
	limit, err := strconv.Atoi(h.Get("X-RateLimit-Limit"))
	if err != nil {
		return
	}
	remaining, err := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	if err != nil {
		return
	}
	q := Quota{Limit: limit, Remaining: remaining}
	if reset, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		q.Reset = time.Unix(reset, 0)
	}

	t.mu.Lock()
	t.quotas[token] = q
	t.mu.Unlock()
}

// Exhausted reports whether every token is known to be below the quota floor,
// and if so the earliest time one of them resets.
func (t *Transport) Exhausted() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var earliest time.Time
	for _, tok := range t.Rotator.Tokens() {
		q, ok := t.quotas[tok]
		if !ok || !t.lowLocked(q) {
			return time.Time{}, false
		}
		if earliest.IsZero() || q.Reset.Before(earliest) {
			earliest = q.Reset
		}
	}
	return earliest, true
}

// Remaining sums the last reported remaining quota over all tokens seen so
// far, or returns -1 before any response carried quota headers.
func (t *Transport) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.quotas) == 0 {
		return -1
	}
	total := 0
	for _, q := range t.quotas {
		total += q.Remaining
	}
	return total
}
