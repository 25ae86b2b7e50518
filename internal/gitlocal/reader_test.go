package gitlocal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/harvest/internal/errors"
	"github.com/rohankatakam/harvest/internal/models"
)

type testRepo struct {
	t    *testing.T
	repo *git.Repository
	wt   *git.Worktree
	root string
	when time.Time
}

// createTestRepo initializes octo/hello inside cloneDir, where the reader expects its mirror
func createTestRepo(t *testing.T, cloneDir string) *testRepo {
	root := filepath.Join(cloneDir, "octo", "hello")
	repo, err := git.PlainInit(root, false)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)

	return &testRepo{t: t, repo: repo, wt: wt, root: root, when: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (r *testRepo) write(name, content string) {
	require.NoError(r.t, os.WriteFile(filepath.Join(r.root, name), []byte(content), 0644))
	_, err := r.wt.Add(name)
	require.NoError(r.t, err)
}

func (r *testRepo) remove(name string) {
	_, err := r.wt.Remove(name)
	require.NoError(r.t, err)
}

func (r *testRepo) move(from, to string) {
	_, err := r.wt.Move(from, to)
	require.NoError(r.t, err)
}

func (r *testRepo) commit(committer string) string {
	r.when = r.when.Add(time.Hour)
	sig := &object.Signature{Name: committer, Email: committer + "@example.com", When: r.when}
	hash, err := r.wt.Commit("change", &git.CommitOptions{Author: sig, Committer: sig})
	require.NoError(r.t, err)
	return hash.String()
}

func byPath(changes []models.FileChange) map[string]string {
	out := make(map[string]string, len(changes))
	for _, c := range changes {
		out[c.Path] = c.Status
	}
	return out
}

func TestReader_ListCommitsAndCompare(t *testing.T) {
	cloneDir := t.TempDir()
	tr := createTestRepo(t, cloneDir)

	tr.write("a.txt", "one\n")
	tr.write("b.txt", "two\n")
	c1 := tr.commit("alice")

	tr.write("a.txt", "one changed\n")
	tr.remove("b.txt")
	tr.write("c.txt", "a file long enough to be recognised after a rename\n")
	c2 := tr.commit("bob")

	tr.move("c.txt", "d.txt")
	c3 := tr.commit("alice")

	reader := NewReader(ReadOptions{CloneDir: cloneDir}, nil)
	ctx := context.Background()

	info, err := reader.GetRepository(ctx, "octo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "octo/hello", info.FullName)
	assert.Equal(t, "master", info.DefaultBranch)

	commits, err := reader.ListCommits(ctx, "octo", "hello")
	require.NoError(t, err)
	require.Len(t, commits, 3)
	assert.Equal(t, []string{c3, c2, c1}, []string{commits[0].NativeID, commits[1].NativeID, commits[2].NativeID})
	assert.Equal(t, "bob", commits[1].CommitterName)
	assert.Equal(t, []string{c1}, commits[1].ParentIDs)
	assert.Empty(t, commits[2].ParentIDs)

	changes, err := reader.Compare(ctx, "octo", "hello", c1, c2)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"a.txt": StatusModified,
		"b.txt": StatusDeleted,
		"c.txt": StatusAdded,
	}, byPath(changes))

	changes, err = reader.Compare(ctx, "octo", "hello", c2, c3)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"d.txt": StatusRenamed}, byPath(changes))

	assert.Equal(t, -1, reader.RemainingQuota())
}

func TestReader_UnknownCommit(t *testing.T) {
	cloneDir := t.TempDir()
	tr := createTestRepo(t, cloneDir)
	tr.write("a.txt", "x\n")
	c1 := tr.commit("alice")

	reader := NewReader(ReadOptions{CloneDir: cloneDir}, nil)
	_, err := reader.Compare(context.Background(), "octo", "hello", c1, "0123456789012345678901234567890123456789")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeExtraction))
}

func TestReader_RemoteURL(t *testing.T) {
	reader := NewReader(ReadOptions{CloneDir: "/tmp/clones", BaseURL: "https://ghe.example.com/"}, nil)
	assert.Equal(t, "https://ghe.example.com/octo/hello.git", reader.remoteURL("octo", "hello"))
	assert.Equal(t, filepath.Join("/tmp/clones", "octo", "hello"), reader.Path("octo", "hello"))
}
