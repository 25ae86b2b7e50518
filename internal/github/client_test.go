package github

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/rohankatakam/harvest/internal/errors"
	"github.com/rohankatakam/harvest/internal/metrics"
	"github.com/rohankatakam/harvest/internal/tokens"
)

type recordedAuth struct {
	mu      sync.Mutex
	headers []string
}

func (r *recordedAuth) add(h string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.headers = append(r.headers, h)
}

func setupTestClient(t *testing.T, handler http.Handler, opts Options, toks ...string) *Client {
	t.Helper()
	if len(toks) == 0 {
		toks = []string{"t1"}
	}

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	rotator, err := tokens.NewRotator(toks)
	require.NoError(t, err)

	c, err := NewClient(rotator, opts, metrics.NewRecorder(nil))
	require.NoError(t, err)

	pointAt(t, c, srv.URL)
	return c
}

func pointAt(t *testing.T, c *Client, serverURL string) {
	t.Helper()
	base, err := url.Parse(serverURL + "/")
	require.NoError(t, err)
	for _, gh := range c.clients {
		gh.BaseURL = base
	}
}

func rateHeaders(w http.ResponseWriter, remaining int, reset time.Time) {
	w.Header().Set("X-RateLimit-Limit", "5000")
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
}

func TestNewClient_RequiresTokens(t *testing.T) {
	_, err := NewClient(nil, Options{}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestListCommits_PaginatesAndRotatesTokens(t *testing.T) {
	auth := &recordedAuth{}
	mux := http.NewServeMux()
	var srvURL string

	mux.HandleFunc("/repos/octo/hello/commits", func(w http.ResponseWriter, r *http.Request) {
		auth.add(r.Header.Get("Authorization"))
		rateHeaders(w, 4000, time.Now().Add(time.Hour))
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))

		switch r.URL.Query().Get("page") {
		case "", "1":
			w.Header().Set("Link", fmt.Sprintf(`<%s/repos/octo/hello/commits?page=2&per_page=100>; rel="next"`, srvURL))
			fmt.Fprint(w, `[
				{"sha":"c3","commit":{"committer":{"name":"Bob","email":"bob@x","date":"2024-01-03T00:00:00Z"}},"parents":[{"sha":"c2"}]},
				{"sha":"c2","commit":{"committer":{"name":"Alice","email":"alice@x","date":"2024-01-02T00:00:00Z"}},"parents":[{"sha":"c1"}]}
			]`)
		case "2":
			fmt.Fprint(w, `[
				{"sha":"c1","commit":{"committer":{"name":"Alice","email":"alice@x","date":"2024-01-01T00:00:00Z"}},"parents":[]}
			]`)
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	rotator, err := tokens.NewRotator([]string{"t1", "t2"})
	require.NoError(t, err)
	c, err := NewClient(rotator, Options{}, nil)
	require.NoError(t, err)
	pointAt(t, c, srv.URL)

	commits, err := c.ListCommits(context.Background(), "octo", "hello")
	require.NoError(t, err)
	require.Len(t, commits, 3)

	assert.Equal(t, "c3", commits[0].NativeID)
	assert.Equal(t, "Bob", commits[0].CommitterName)
	assert.Equal(t, "bob@x", commits[0].CommitterEmail)
	assert.Equal(t, []string{"c2"}, commits[0].ParentIDs)
	assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), commits[0].CommittedAt.UTC())
	assert.Empty(t, commits[2].ParentIDs)

	assert.Equal(t, []string{"Bearer t1", "Bearer t2"}, auth.headers)
	assert.Equal(t, 8000, c.RemainingQuota(), "quota is summed over both tokens")
}

func TestCompare_MapsFiles(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/hello/compare/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octo/hello/compare/aaa...bbb", r.URL.Path)
		fmt.Fprint(w, `{"files":[
			{"filename":"README.md","status":"modified"},
			{"filename":"new.go","status":"added"},
			{"filename":"old.go","status":"removed"},
			{"filename":"b.go","status":"renamed","previous_filename":"a.go"}
		]}`)
	})

	c := setupTestClient(t, mux, Options{})
	changes, err := c.Compare(context.Background(), "octo", "hello", "aaa", "bbb")
	require.NoError(t, err)
	require.Len(t, changes, 4)
	assert.Equal(t, "README.md", changes[0].Path)
	assert.Equal(t, "modified", changes[0].Status)
	assert.Equal(t, "renamed", changes[3].Status)
}

func TestGetRepository(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/hello", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"full_name":"octo/hello","default_branch":"main","html_url":"https://github.com/octo/hello"}`)
	})
	mux.HandleFunc("/repos/octo/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	})

	c := setupTestClient(t, mux, Options{})

	info, err := c.GetRepository(context.Background(), "octo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "octo/hello", info.FullName)
	assert.Equal(t, "main", info.DefaultBranch)

	_, err = c.GetRepository(context.Background(), "octo", "missing")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeWorkspace))
}

func TestListCommits_TransportFailureIsExtractionError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/hello/commits", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	c := setupTestClient(t, mux, Options{})
	_, err := c.ListCommits(context.Background(), "octo", "hello")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeExtraction))
}

func TestThrottle_WaitsWhenQuotaLow(t *testing.T) {
	reset := time.Now().Add(30 * time.Minute)
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/hello/compare/", func(w http.ResponseWriter, r *http.Request) {
		rateHeaders(w, 10, reset)
		fmt.Fprint(w, `{"files":[]}`)
	})

	c := setupTestClient(t, mux, Options{MinRemaining: 50})
	var waits []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	ctx := context.Background()
	assert.Equal(t, -1, c.RemainingQuota())

	_, err := c.Compare(ctx, "octo", "hello", "a", "b")
	require.NoError(t, err)
	assert.Empty(t, waits, "nothing observed before the first call")
	assert.Equal(t, 10, c.RemainingQuota())

	_, err = c.Compare(ctx, "octo", "hello", "b", "c")
	require.NoError(t, err)
	require.Len(t, waits, 1)
	assert.InDelta(t, 30*time.Minute, waits[0], float64(time.Minute))
}

func TestThrottle_CancelledContext(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/hello/compare/", func(w http.ResponseWriter, r *http.Request) {
		rateHeaders(w, 1, time.Now().Add(time.Hour))
		fmt.Fprint(w, `{"files":[]}`)
	})

	c := setupTestClient(t, mux, Options{MinRemaining: 50})

	_, err := c.Compare(context.Background(), "octo", "hello", "a", "b")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Compare(ctx, "octo", "hello", "b", "c")
	require.Error(t, err)
}

func noSleep(c *Client) *[]time.Duration {
	var waits []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return &waits
}

func TestCompare_ExhaustedTokenIsSkipped(t *testing.T) {
	auth := &recordedAuth{}
	reset := time.Now().Add(time.Hour)
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/hello/compare/", func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		auth.add(h)
		if h == "Bearer t1" {
			rateHeaders(w, 0, reset)
		} else {
			rateHeaders(w, 4999, reset)
		}
		fmt.Fprint(w, `{"files":[]}`)
	})

	c := setupTestClient(t, mux, Options{}, "t1", "t2")
	waits := noSleep(c)

	ctx := context.Background()
	_, err := c.Compare(ctx, "octo", "hello", "a", "b")
	require.NoError(t, err)
	_, err = c.Compare(ctx, "octo", "hello", "b", "c")
	require.NoError(t, err)
	_, err = c.Compare(ctx, "octo", "hello", "c", "d")
	require.NoError(t, err)

	assert.Equal(t, []string{"Bearer t1", "Bearer t2", "Bearer t2"}, auth.headers)
	assert.Empty(t, *waits)
	assert.Equal(t, 4999, c.RemainingQuota())
}

func TestCompare_RateLimitedTokenRetriesOnNext(t *testing.T) {
	auth := &recordedAuth{}
	reset := time.Now().Add(time.Hour)
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/hello/compare/", func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		auth.add(h)
		if h == "Bearer t1" {
			rateHeaders(w, 0, reset)
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"message":"API rate limit exceeded for user ID 1."}`)
			return
		}
		rateHeaders(w, 4999, reset)
		fmt.Fprint(w, `{"files":[{"filename":"a.go","status":"added"}]}`)
	})

	c := setupTestClient(t, mux, Options{}, "t1", "t2")
	waits := noSleep(c)

	changes, err := c.Compare(context.Background(), "octo", "hello", "a", "b")
	require.NoError(t, err)
	require.Len(t, changes, 1)

	assert.Equal(t, []string{"Bearer t1", "Bearer t2"}, auth.headers)
	assert.Empty(t, *waits)
}

func TestThrottle_WaitsOnlyWhenEveryTokenIsLow(t *testing.T) {
	auth := &recordedAuth{}
	reset := time.Now().Add(20 * time.Minute)
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/hello/compare/", func(w http.ResponseWriter, r *http.Request) {
		auth.add(r.Header.Get("Authorization"))
		rateHeaders(w, 10, reset)
		fmt.Fprint(w, `{"files":[]}`)
	})

	c := setupTestClient(t, mux, Options{MinRemaining: 50}, "t1", "t2")
	waits := noSleep(c)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := c.Compare(ctx, "octo", "hello", "a", "b")
		require.NoError(t, err)
	}
	assert.Empty(t, *waits, "t2 still had unknown quota")

	_, err := c.Compare(ctx, "octo", "hello", "a", "b")
	require.NoError(t, err)
	require.Len(t, *waits, 1)
	assert.InDelta(t, 20*time.Minute, (*waits)[0], float64(time.Minute))
	assert.Equal(t, []string{"Bearer t1", "Bearer t2", "Bearer t1"}, auth.headers)
}

func TestNewClient_RateLimitScalesWithTokens(t *testing.T) {
	rotator, err := tokens.NewRotator([]string{"t1", "t2", "t3"})
	require.NoError(t, err)

	c, err := NewClient(rotator, Options{RateLimit: 1.5}, nil)
	require.NoError(t, err)
	assert.Equal(t, rate.Limit(4.5), c.rateLimiter.Limit())

	c, err = NewClient(rotator, Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, rate.Inf, c.rateLimiter.Limit())
}

func TestCompare_WarnsAtFileCap(t *testing.T) {
	files := make([]string, maxCompareFiles)
	for i := range files {
		files[i] = fmt.Sprintf(`{"filename":"f%d.go","status":"modified"}`, i)
	}
	body := `{"files":[` + strings.Join(files, ",") + `]}`

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/hello/compare/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	})

	c := setupTestClient(t, mux, Options{})
	var buf bytes.Buffer
	c.logger = slog.New(slog.NewTextHandler(&buf, nil))

	changes, err := c.Compare(context.Background(), "octo", "hello", "a", "b")
	require.NoError(t, err)
	assert.Len(t, changes, maxCompareFiles)
	assert.Contains(t, buf.String(), "file listing cap")
	assert.Contains(t, buf.String(), "files=300")
}
