package storage

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/harvest/internal/models"
)

// setupTestStore creates an in-memory SQLite store with one source
func setupTestStore(t *testing.T) (*SQLiteStore, *models.Source) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store, err := NewSQLiteStore(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	source := &models.Source{URL: "https://github.com/octo/hello", Owner: "octo", Name: "hello"}
	require.NoError(t, store.SaveSource(context.Background(), source))
	require.NotZero(t, source.ID)

	return store, source
}

func TestSaveSource_GetOrCreate(t *testing.T) {
	store, source := setupTestStore(t)
	ctx := context.Background()

	again := &models.Source{URL: source.URL, Owner: "octo", Name: "hello"}
	require.NoError(t, store.SaveSource(ctx, again))
	assert.Equal(t, source.ID, again.ID)

	sources, err := store.ListSources(ctx)
	require.NoError(t, err)
	assert.Len(t, sources, 1)

	_, err = store.GetSource(ctx, "https://github.com/none/none")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuthor_GetOrCreate(t *testing.T) {
	store, source := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetAuthor(ctx, source.ID, "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	a1 := &models.Author{SourceID: source.ID, Name: "alice", Email: "alice"}
	require.NoError(t, store.SaveAuthor(ctx, a1))
	a2 := &models.Author{SourceID: source.ID, Name: "alice", Email: "alice"}
	require.NoError(t, store.SaveAuthor(ctx, a2))

	assert.Equal(t, a1.ID, a2.ID)

	got, err := store.GetAuthor(ctx, source.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, a1.ID, got.ID)

	counts, err := store.CountEntities(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Authors)
}

func TestEvent_ParentsAndAuthorsRoundTrip(t *testing.T) {
	store, source := setupTestStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	author := &models.Author{SourceID: source.ID, Name: "bob", Email: "bob"}
	require.NoError(t, store.SaveAuthor(ctx, author))

	c1 := &models.Event{SourceID: source.ID, NativeID: "c1", Timestamp: ts, Authors: []*models.Author{author}}
	c2 := &models.Event{SourceID: source.ID, NativeID: "c2", Timestamp: ts.Add(time.Hour), Authors: []*models.Author{author}}
	require.NoError(t, store.SaveEvent(ctx, c1))
	require.NoError(t, store.SaveEvent(ctx, c2))

	merge := &models.Event{
		SourceID:  source.ID,
		NativeID:  "c3",
		Timestamp: ts.Add(2 * time.Hour),
		Parents:   []*models.Event{c2, c1},
		Authors:   []*models.Author{author},
	}
	require.NoError(t, store.SaveEvent(ctx, merge))

	got, err := store.GetEvent(ctx, source.ID, "c3")
	require.NoError(t, err)
	assert.Equal(t, merge.ID, got.ID)
	assert.True(t, got.Timestamp.Equal(merge.Timestamp))

	events, err := store.ListEvents(ctx, source.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "c1", events[0].NativeID)
	assert.Empty(t, events[0].Parents)
	assert.Equal(t, []string{"c2", "c1"}, events[2].ParentIDs(), "parent order must be preserved")
	require.Len(t, events[2].Authors, 1)
	assert.Equal(t, "bob", events[2].Authors[0].Name)
}

func TestSaveEvent_Idempotent(t *testing.T) {
	store, source := setupTestStore(t)
	ctx := context.Background()

	e1 := &models.Event{SourceID: source.ID, NativeID: "abc", Timestamp: time.Now().UTC()}
	require.NoError(t, store.SaveEvent(ctx, e1))
	e2 := &models.Event{SourceID: source.ID, NativeID: "abc", Timestamp: time.Now().UTC()}
	require.NoError(t, store.SaveEvent(ctx, e2))

	assert.Equal(t, e1.ID, e2.ID)
	counts, err := store.CountEntities(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Events)
}

func TestSaveEvent_RejectsUnsavedParent(t *testing.T) {
	store, source := setupTestStore(t)

	orphan := &models.Event{NativeID: "ghost"}
	e := &models.Event{SourceID: source.ID, NativeID: "child", Timestamp: time.Now(), Parents: []*models.Event{orphan}}
	assert.Error(t, store.SaveEvent(context.Background(), e))
}

func TestItemsAndActions(t *testing.T) {
	store, source := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	parent := &models.Event{SourceID: source.ID, NativeID: "p", Timestamp: now}
	require.NoError(t, store.SaveEvent(ctx, parent))
	child := &models.Event{SourceID: source.ID, NativeID: "c", Timestamp: now, Parents: []*models.Event{parent}}
	require.NoError(t, store.SaveEvent(ctx, child))

	item := &models.Item{SourceID: source.ID, Path: "a.txt"}
	require.NoError(t, store.SaveItem(ctx, item))
	same := &models.Item{SourceID: source.ID, Path: "a.txt"}
	require.NoError(t, store.SaveItem(ctx, same))
	assert.Equal(t, item.ID, same.ID)

	action := &models.Action{SourceID: source.ID, Event: child, ParentEvent: parent, Item: item, Kind: models.ActionEdit}
	require.NoError(t, store.SaveAction(ctx, action))
	assert.NotZero(t, action.ID)

	actions, err := store.ListActions(ctx, source.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionEdit, actions[0].Kind)
	assert.Equal(t, "a.txt", actions[0].Item.Path)
	assert.Equal(t, "c", actions[0].Event.NativeID)
	assert.Equal(t, "p", actions[0].ParentEvent.NativeID)
}

func TestSourcesAreIsolated(t *testing.T) {
	store, source := setupTestStore(t)
	ctx := context.Background()

	other := &models.Source{URL: "https://github.com/octo/other", Owner: "octo", Name: "other"}
	require.NoError(t, store.SaveSource(ctx, other))

	require.NoError(t, store.SaveAuthor(ctx, &models.Author{SourceID: source.ID, Name: "carol"}))

	_, err := store.GetAuthor(ctx, other.ID, "carol")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_UnknownType(t *testing.T) {
	_, err := Open("mongo", "", "", nil)
	assert.Error(t, err)

	_, err = Open("postgres", "", "", nil)
	assert.Error(t, err)
}
