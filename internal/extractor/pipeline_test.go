package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/harvest/internal/errors"
	"github.com/rohankatakam/harvest/internal/metrics"
	"github.com/rohankatakam/harvest/internal/models"
	"github.com/rohankatakam/harvest/internal/tokens"
)

func sampleHistory() *fakeClient {
	return newFakeClient().
		commit("C1", "alice").
		commit("C2", "bob", "C1").
		commit("C3", "alice", "C1", "C2").
		diff("C1", "C2", change("a.txt", "modified"), change("new.txt", "added")).
		diff("C1", "C3", change("b.txt", "modified")).
		diff("C2", "C3", change("b.txt", "modified"), change("new.txt", "deleted"))
}

func TestRun_FullExtraction(t *testing.T) {
	store := setupTestStore(t)
	client := sampleHistory()
	client.quota = 4990

	ex := NewSourceExtractor("https://github.com/octo/hello", client, store, Options{})
	require.NoError(t, Run(context.Background(), ex, nil))

	source := ex.Source()
	require.NotNil(t, source)
	assert.Equal(t, "octo", source.Owner)
	assert.Equal(t, "hello", source.Name)

	counts, err := store.CountEntities(context.Background(), source.ID)
	require.NoError(t, err)
	assert.Equal(t, &models.EntityCounts{Authors: 2, Events: 3, Items: 3, Actions: 5}, counts)

	stats := ex.Stats()
	assert.Equal(t, 3, stats.Events)
	assert.Equal(t, 5, stats.Actions)
	assert.Equal(t, 3, stats.ActionsByKind[models.ActionEdit])
	assert.Equal(t, 1, stats.ActionsByKind[models.ActionCreate])
	assert.Equal(t, 1, stats.ActionsByKind[models.ActionDelete])
}

func TestRun_Rerun(t *testing.T) {
	store := setupTestStore(t)
	url := "https://github.com/octo/hello"

	require.NoError(t, Run(context.Background(), NewSourceExtractor(url, sampleHistory(), store, Options{}), nil))
	ex := NewSourceExtractor(url, sampleHistory(), store, Options{})
	require.NoError(t, Run(context.Background(), ex, nil))

	counts, err := store.CountEntities(context.Background(), ex.Source().ID)
	require.NoError(t, err)
	assert.Equal(t, &models.EntityCounts{Authors: 2, Events: 3, Items: 3, Actions: 5}, counts)

	sources, err := store.ListSources(context.Background())
	require.NoError(t, err)
	assert.Len(t, sources, 1)
}

func TestInitializeWorkspace_Errors(t *testing.T) {
	store := setupTestStore(t)

	ex := NewSourceExtractor("not-a-repository", sampleHistory(), store, Options{})
	err := ex.InitializeWorkspace(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	client := sampleHistory()
	client.repoErr = fmt.Errorf("404 Not Found")
	ex = NewSourceExtractor("https://github.com/octo/missing", client, store, Options{})
	err = ex.InitializeWorkspace(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeWorkspace))

	sources, err := store.ListSources(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sources, "nothing persisted for a workspace that failed")
}

func TestExtract_BeforeInitialize(t *testing.T) {
	ex := NewSourceExtractor("https://github.com/octo/hello", sampleHistory(), setupTestStore(t), Options{})

	_, err := ex.ExtractEvents(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))

	err = ex.ExtractActions(context.Background(), &models.Event{NativeID: "C1"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
}

func TestRun_TransportFailureIsExtractionError(t *testing.T) {
	store := setupTestStore(t)
	client := sampleHistory()
	client.compareErr["C1..C3"] = fmt.Errorf("connection reset")

	ex := NewSourceExtractor("https://github.com/octo/hello", client, store, Options{})
	err := Run(context.Background(), ex, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeExtraction))

	counts, err := store.CountEntities(context.Background(), ex.Source().ID)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Events)
	assert.Equal(t, 2, counts.Actions, "actions of C2 were saved before the failure")
}

func TestRunAll_MultipleSources(t *testing.T) {
	store := setupTestStore(t)
	recorder := metrics.NewRecorder(nil)

	p := &Pipeline{
		Parallel: 2,
		Metrics:  recorder,
		Factory: func(url string, logger *slog.Logger) (Extractor, error) {
			return NewSourceExtractor(url, sampleHistory(), store, Options{Logger: logger, Metrics: recorder}), nil
		},
	}

	urls := []string{"https://github.com/octo/one", "https://github.com/octo/two"}
	summaries, err := p.RunAll(context.Background(), urls)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.NotEqual(t, summaries[0].RunID, summaries[1].RunID)
	for i, s := range summaries {
		assert.Equal(t, urls[i], s.URL)
		require.NotNil(t, s.Source)
		assert.Equal(t, 5, s.Stats.Actions)

		counts, err := store.CountEntities(context.Background(), s.Source.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, counts.Authors, "authors are not shared between sources")
	}
}

func TestRunAll_EmptyTokenListFailsBeforeExtraction(t *testing.T) {
	store := setupTestStore(t)
	var created bool

	p := &Pipeline{
		Factory: func(url string, logger *slog.Logger) (Extractor, error) {
			if _, err := tokens.NewRotator([]string{}); err != nil {
				return nil, err
			}
			created = true
			return NewSourceExtractor(url, sampleHistory(), store, Options{}), nil
		},
	}

	_, err := p.RunAll(context.Background(), []string{"https://github.com/octo/hello"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.False(t, created)

	sources, err := store.ListSources(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sources)
}
