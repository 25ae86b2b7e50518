package github

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/time/rate"

	"github.com/rohankatakam/harvest/internal/errors"
	"github.com/rohankatakam/harvest/internal/logging"
	"github.com/rohankatakam/harvest/internal/metrics"
	"github.com/rohankatakam/harvest/internal/models"
	"github.com/rohankatakam/harvest/internal/tokens"
)

const (
	backendName = "github"
	perPage     = 100
	maxRetries  = 3

	// GitHub's compare endpoint lists at most this many files per comparison
	maxCompareFiles = 300
)

// Options tune the client's throttling
type Options struct {
	// BaseURL points at a GitHub Enterprise API (empty for github.com)
	BaseURL string
	// RateLimit is the sustained request rate per token in requests/second; the
	// client allows RateLimit times the number of tokens. 0 disables the limiter
	RateLimit float64
	// MinRemaining retires a token until its reset once its remaining quota drops
	// below it; requests pause only when every token is retired
	MinRemaining int
	// Timeout per HTTP request; 0 means none
	Timeout time.Duration
}

// Client lists commits and compares commit pairs through the GitHub REST API.
// Every request is authenticated with the next token from the rotator that
// still has quota left. Each token has its own go-github client, so go-github's
// pre-request quota check only ever refuses the token that is exhausted.
type Client struct {
	clients     map[string]*github.Client
	transport   *tokens.Transport
	rateLimiter *rate.Limiter
	metrics     *metrics.Recorder
	logger      *slog.Logger

	// replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a GitHub client that rotates the given tokens per request
func NewClient(rotator *tokens.Rotator, opts Options, recorder *metrics.Recorder) (*Client, error) {
	if rotator == nil || rotator.Len() == 0 {
		return nil, errors.ConfigError("github client needs at least one token")
	}

	transport := tokens.NewTransport(rotator, nil)
	transport.MinRemaining = opts.MinRemaining
	httpClient := transport.Client()
	httpClient.Timeout = opts.Timeout

	clients := make(map[string]*github.Client, rotator.Len())
	for _, token := range rotator.Tokens() {
		client := github.NewClient(httpClient)
		if opts.BaseURL != "" {
			var err error
			client, err = client.WithEnterpriseURLs(opts.BaseURL, opts.BaseURL)
			if err != nil {
				return nil, errors.ConfigErrorf("invalid github.base_url %q: %v", opts.BaseURL, err)
			}
		}
		clients[token] = client
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit * float64(rotator.Len()))
	}

	return &Client{
		clients:     clients,
		transport:   transport,
		rateLimiter: rate.NewLimiter(limit, rotator.Len()),
		metrics:     recorder,
		logger:      logging.Component("github"),
		sleep:       sleepContext,
	}, nil
}

// GetRepository looks up repository metadata
func (c *Client) GetRepository(ctx context.Context, owner, name string) (*models.RepositoryInfo, error) {
	var repo *github.Repository
	err := c.do(ctx, "get_repository", func(ctx context.Context, gh *github.Client) error {
		var err error
		repo, _, err = gh.Repositories.Get(ctx, owner, name)
		return err
	})
	if err != nil {
		return nil, errors.WorkspaceErrorf(err, "get repository %s/%s", owner, name)
	}

	return &models.RepositoryInfo{
		Owner:         owner,
		Name:          name,
		FullName:      repo.GetFullName(),
		DefaultBranch: repo.GetDefaultBranch(),
		HTMLURL:       repo.GetHTMLURL(),
	}, nil
}

// ListCommits returns the full history reachable from the default branch, newest first
func (c *Client) ListCommits(ctx context.Context, owner, name string) ([]models.CommitInfo, error) {
	opts := &github.CommitsListOptions{
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var all []models.CommitInfo
	for {
		var commits []*github.RepositoryCommit
		var next int
		err := c.do(ctx, "list_commits", func(ctx context.Context, gh *github.Client) error {
			commitsPage, resp, err := gh.Repositories.ListCommits(ctx, owner, name, opts)
			commits = commitsPage
			if resp != nil {
				next = resp.NextPage
			}
			return err
		})
		if err != nil {
			return nil, errors.ExtractionErrorf(err, "list commits of %s/%s (page %d)", owner, name, opts.Page)
		}

		for _, commit := range commits {
			committer := commit.GetCommit().GetCommitter()
			info := models.CommitInfo{
				NativeID:       commit.GetSHA(),
				CommitterName:  committer.GetName(),
				CommitterEmail: committer.GetEmail(),
				CommittedAt:    committer.GetDate().Time,
			}
			for _, parent := range commit.Parents {
				info.ParentIDs = append(info.ParentIDs, parent.GetSHA())
			}
			all = append(all, info)
		}

		if next == 0 {
			break
		}
		opts.Page = next
	}

	c.logger.Debug("listed commits", "repository", owner+"/"+name, "count", len(all))
	return all, nil
}

// Compare returns the files changed between base and head
func (c *Client) Compare(ctx context.Context, owner, name, base, head string) ([]models.FileChange, error) {
	opts := &github.ListOptions{PerPage: perPage}

	var changes []models.FileChange
	for {
		var comparison *github.CommitsComparison
		var next int
		err := c.do(ctx, "compare", func(ctx context.Context, gh *github.Client) error {
			page, resp, err := gh.Repositories.CompareCommits(ctx, owner, name, base, head, opts)
			comparison = page
			if resp != nil {
				next = resp.NextPage
			}
			return err
		})
		if err != nil {
			return nil, errors.ExtractionErrorf(err, "compare %s..%s", shortSHA(base), shortSHA(head))
		}

		for _, f := range comparison.Files {
			changes = append(changes, models.FileChange{
				Path:   f.GetFilename(),
				Status: f.GetStatus(),
			})
		}

		if next == 0 {
			break
		}
		opts.Page = next
	}

	if len(changes) >= maxCompareFiles {
		c.logger.Warn("compare hit the file listing cap, later changes are missing",
			"repository", owner+"/"+name,
			"base", shortSHA(base),
			"head", shortSHA(head),
			"files", len(changes))
	}
	return changes, nil
}

// RemainingQuota returns the remaining request quota summed over all tokens,
// or -1 before any response
func (c *Client) RemainingQuota() int {
	return c.transport.Remaining()
}

// do runs one API call behind the limiter on the go-github client of the
// picked token, records its outcome and retries when GitHub reports that the
// rate limit was hit.
func (c *Client) do(ctx context.Context, op string, call func(ctx context.Context, gh *github.Client) error) error {
	for attempt := 0; ; attempt++ {
		if err := c.throttle(ctx); err != nil {
			return err
		}

		token := c.transport.Pick()
		err := call(tokens.WithToken(ctx, token), c.clients[token])
		c.observe()
		c.metrics.RemoteCall(backendName, op, err)

		if err == nil {
			return nil
		}

		wait, limited := retryDelay(err)
		if !limited || attempt >= maxRetries {
			return err
		}
		if wait == 0 {
			continue
		}

		c.logger.Warn("rate limited, waiting before retry",
			"operation", op,
			"wait", wait.Round(time.Second),
			"attempt", attempt+1)
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// throttle waits for the limiter and, when every token is low on quota, for
// the earliest token reset
func (c *Client) throttle(ctx context.Context) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return errors.ExtractionError(err, "rate limiter")
	}

	reset, exhausted := c.transport.Exhausted()
	if !exhausted {
		return nil
	}

	wait := time.Until(reset)
	if wait <= 0 {
		return nil
	}

	c.logger.Warn("remote quota low on every token, pausing until reset",
		"remaining", c.transport.Remaining(),
		"reset", reset.Format(time.RFC3339))
	return c.sleep(ctx, wait)
}

func (c *Client) observe() {
	if remaining := c.transport.Remaining(); remaining >= 0 {
		c.metrics.SetQuota(remaining)
	}
}

// retryDelay reports whether err is a rate limit response and how long to wait
// before the retry. A primary rate limit is tied to the token that hit it, so
// the retry goes out at once on the next token and throttle pauses if none is left.
func retryDelay(err error) (time.Duration, bool) {
	var rateErr *github.RateLimitError
	if stderrors.As(err, &rateErr) {
		return 0, true
	}

	var abuseErr *github.AbuseRateLimitError
	if stderrors.As(err, &abuseErr) {
		wait := abuseErr.GetRetryAfter()
		if wait <= 0 {
			wait = time.Minute
		}
		return wait, true
	}

	var respErr *github.ErrorResponse
	if stderrors.As(err, &respErr) && respErr.Response != nil && respErr.Response.StatusCode == http.StatusTooManyRequests {
		return time.Minute, true
	}

	return 0, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
