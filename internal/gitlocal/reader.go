// Package gitlocal serves commit history and commit-pair diffs from a local
// mirror of the repository instead of the hosting API. It has no request quota.
package gitlocal

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"github.com/rohankatakam/harvest/internal/errors"
	"github.com/rohankatakam/harvest/internal/logging"
	"github.com/rohankatakam/harvest/internal/metrics"
	"github.com/rohankatakam/harvest/internal/models"
	"github.com/rohankatakam/harvest/internal/tokens"
)

const backendName = "local"

// Statuses reported by Compare
const (
	StatusAdded    = "added"
	StatusModified = "modified"
	StatusDeleted  = "deleted"
	StatusRenamed  = "renamed"
)

// ReadOptions configures a Reader
type ReadOptions struct {
	// CloneDir holds one bare mirror per repository at <CloneDir>/<owner>/<name>
	CloneDir string
	// BaseURL is the git host, https://github.com when empty
	BaseURL string
	// Rotator authenticates clone and fetch, optional for public repositories
	Rotator *tokens.Rotator
}

// Reader implements the remote client over go-git mirrors
type Reader struct {
	opts    ReadOptions
	metrics *metrics.Recorder
	logger  *slog.Logger

	mu    sync.Mutex
	repos map[string]*git.Repository
}

// NewReader creates a reader rooted at opts.CloneDir
func NewReader(opts ReadOptions, recorder *metrics.Recorder) *Reader {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://github.com"
	}
	return &Reader{
		opts:    opts,
		metrics: recorder,
		logger:  logging.Component("gitlocal"),
		repos:   make(map[string]*git.Repository),
	}
}

// GetRepository opens the mirror, cloning or fetching it first
func (r *Reader) GetRepository(ctx context.Context, owner, name string) (*models.RepositoryInfo, error) {
	repo, err := r.sync(ctx, owner, name)
	r.metrics.RemoteCall(backendName, "get_repository", err)
	if err != nil {
		return nil, errors.WorkspaceErrorf(err, "open repository %s/%s", owner, name)
	}

	info := &models.RepositoryInfo{
		Owner:    owner,
		Name:     name,
		FullName: owner + "/" + name,
		HTMLURL:  r.remoteURL(owner, name),
	}
	if head, err := repo.Reference(plumbing.HEAD, false); err == nil && head.Type() == plumbing.SymbolicReference {
		info.DefaultBranch = head.Target().Short()
	}
	return info, nil
}

// ListCommits walks history from HEAD, newest first by committer time
func (r *Reader) ListCommits(ctx context.Context, owner, name string) ([]models.CommitInfo, error) {
	commits, err := r.listCommits(ctx, owner, name)
	r.metrics.RemoteCall(backendName, "list_commits", err)
	if err != nil {
		return nil, errors.ExtractionErrorf(err, "list commits of %s/%s", owner, name)
	}
	return commits, nil
}

func (r *Reader) listCommits(ctx context.Context, owner, name string) ([]models.CommitInfo, error) {
	repo, err := r.open(ctx, owner, name)
	if err != nil {
		return nil, err
	}

	ref, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash(), Order: git.LogOrderCommitterTime})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var commits []models.CommitInfo
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		info := models.CommitInfo{
			NativeID:       c.Hash.String(),
			CommitterName:  c.Committer.Name,
			CommitterEmail: c.Committer.Email,
			CommittedAt:    c.Committer.When,
		}
		for _, p := range c.ParentHashes {
			info.ParentIDs = append(info.ParentIDs, p.String())
		}
		commits = append(commits, info)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return commits, nil
}

// Compare diffs the trees of base and head with rename detection
func (r *Reader) Compare(ctx context.Context, owner, name, base, head string) ([]models.FileChange, error) {
	changes, err := r.compare(ctx, owner, name, base, head)
	r.metrics.RemoteCall(backendName, "compare", err)
	if err != nil {
		return nil, errors.ExtractionErrorf(err, "compare %s..%s", base, head)
	}
	return changes, nil
}

func (r *Reader) compare(ctx context.Context, owner, name, base, head string) ([]models.FileChange, error) {
	repo, err := r.open(ctx, owner, name)
	if err != nil {
		return nil, err
	}

	baseTree, err := commitTree(repo, base)
	if err != nil {
		return nil, err
	}
	headTree, err := commitTree(repo, head)
	if err != nil {
		return nil, err
	}

	diff, err := object.DiffTreeWithOptions(ctx, baseTree, headTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, fmt.Errorf("diff trees: %w", err)
	}

	changes := make([]models.FileChange, 0, len(diff))
	for _, ch := range diff {
		action, err := ch.Action()
		if err != nil {
			return nil, err
		}

		switch action {
		case merkletrie.Insert:
			changes = append(changes, models.FileChange{Path: ch.To.Name, Status: StatusAdded})
		case merkletrie.Delete:
			changes = append(changes, models.FileChange{Path: ch.From.Name, Status: StatusDeleted})
		case merkletrie.Modify:
			status := StatusModified
			if ch.From.Name != ch.To.Name {
				status = StatusRenamed
			}
			changes = append(changes, models.FileChange{Path: ch.To.Name, Status: status})
		}
	}

	return changes, nil
}

// RemainingQuota is always unknown for local mirrors
func (r *Reader) RemainingQuota() int {
	return -1
}

func commitTree(repo *git.Repository, sha string) (*object.Tree, error) {
	commit, err := repo.CommitObject(plumbing.NewHash(sha))
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", sha, err)
	}
	return commit.Tree()
}

// open returns the cached repository, syncing it on first use
func (r *Reader) open(ctx context.Context, owner, name string) (*git.Repository, error) {
	r.mu.Lock()
	repo, ok := r.repos[owner+"/"+name]
	r.mu.Unlock()
	if ok {
		return repo, nil
	}
	return r.sync(ctx, owner, name)
}

func (r *Reader) sync(ctx context.Context, owner, name string) (*git.Repository, error) {
	path := r.Path(owner, name)

	repo, err := git.PlainOpen(path)
	switch {
	case err == nil:
		if err := r.fetch(ctx, repo); err != nil {
			return nil, err
		}
	case stderrors.Is(err, git.ErrRepositoryNotExists):
		r.logger.Info("cloning repository", "repository", owner+"/"+name, "path", path)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		repo, err = git.PlainCloneContext(ctx, path, true, &git.CloneOptions{
			URL:  r.remoteURL(owner, name),
			Auth: r.auth(),
		})
		if err != nil {
			return nil, fmt.Errorf("clone: %w", err)
		}
	default:
		return nil, err
	}

	r.mu.Lock()
	r.repos[owner+"/"+name] = repo
	r.mu.Unlock()
	return repo, nil
}

func (r *Reader) fetch(ctx context.Context, repo *git.Repository) error {
	if _, err := repo.Remote(git.DefaultRemoteName); err != nil {
		// a repository without origin is used as is
		return nil
	}

	err := repo.FetchContext(ctx, &git.FetchOptions{
		RefSpecs: []config.RefSpec{"+refs/heads/*:refs/heads/*"},
		Auth:     r.auth(),
		Force:    true,
	})
	if err != nil && !stderrors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetch: %w", err)
	}
	return nil
}

func (r *Reader) auth() transport.AuthMethod {
	if r.opts.Rotator == nil || r.opts.Rotator.Len() == 0 {
		return nil
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: r.opts.Rotator.Next()}
}

func (r *Reader) remoteURL(owner, name string) string {
	return fmt.Sprintf("%s/%s/%s.git", strings.TrimSuffix(r.opts.BaseURL, "/"), owner, name)
}

// Path is where the mirror of owner/name lives
func (r *Reader) Path(owner, name string) string {
	return filepath.Join(r.opts.CloneDir, owner, name)
}
