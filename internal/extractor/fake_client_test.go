package extractor

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/harvest/internal/models"
	"github.com/rohankatakam/harvest/internal/storage"
)

// fakeClient serves a fixed history. Commits are added oldest first and
// listed newest first, like the hosting API does.
type fakeClient struct {
	commits    []models.CommitInfo
	diffs      map[string][]models.FileChange
	compareErr map[string]error
	listErr    error
	repoErr    error
	quota      int
	compares   []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		diffs:      make(map[string][]models.FileChange),
		compareErr: make(map[string]error),
		quota:      -1,
	}
}

var baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func (f *fakeClient) commit(sha, committer string, parents ...string) *fakeClient {
	f.commits = append(f.commits, models.CommitInfo{
		NativeID:       sha,
		CommitterName:  committer,
		CommitterEmail: committer + "@example.com",
		CommittedAt:    baseTime.Add(time.Duration(len(f.commits)) * time.Hour),
		ParentIDs:      parents,
	})
	return f
}

func (f *fakeClient) diff(base, head string, changes ...models.FileChange) *fakeClient {
	f.diffs[base+".."+head] = changes
	return f
}

func (f *fakeClient) GetRepository(ctx context.Context, owner, name string) (*models.RepositoryInfo, error) {
	if f.repoErr != nil {
		return nil, f.repoErr
	}
	return &models.RepositoryInfo{Owner: owner, Name: name, FullName: owner + "/" + name, DefaultBranch: "main"}, nil
}

func (f *fakeClient) ListCommits(ctx context.Context, owner, name string) ([]models.CommitInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]models.CommitInfo, 0, len(f.commits))
	for i := len(f.commits) - 1; i >= 0; i-- {
		out = append(out, f.commits[i])
	}
	return out, nil
}

func (f *fakeClient) Compare(ctx context.Context, owner, name, base, head string) ([]models.FileChange, error) {
	key := base + ".." + head
	f.compares = append(f.compares, key)
	if err := f.compareErr[key]; err != nil {
		return nil, err
	}
	return f.diffs[key], nil
}

func (f *fakeClient) RemainingQuota() int {
	return f.quota
}

func change(path, status string) models.FileChange {
	return models.FileChange{Path: path, Status: status}
}

func setupTestStore(t *testing.T) storage.Store {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store, err := storage.NewSQLiteStore(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func setupTestSource(t *testing.T, store storage.Store, url string) *models.Source {
	t.Helper()
	source := &models.Source{URL: url, Owner: "octo", Name: "hello"}
	require.NoError(t, store.SaveSource(context.Background(), source))
	return source
}

func sha(i int) string {
	return fmt.Sprintf("c%03d", i)
}
