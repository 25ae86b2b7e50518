package storage

import (
	"context"
	"errors"

	"github.com/rohankatakam/harvest/internal/models"
)

// Common errors
var (
	ErrNotFound = errors.New("not found")
)

// Store persists the entities extracted from a source.
// Save methods are get-or-create on each entity's natural key and set the ID
// field of the value they are given.
type Store interface {
	// Source operations
	SaveSource(ctx context.Context, source *models.Source) error
	GetSource(ctx context.Context, url string) (*models.Source, error)
	ListSources(ctx context.Context) ([]*models.Source, error)

	// Author operations, keyed by (source, name)
	GetAuthor(ctx context.Context, sourceID int64, name string) (*models.Author, error)
	SaveAuthor(ctx context.Context, author *models.Author) error

	// Event operations, keyed by (source, native id). GetEvent does not load parents.
	GetEvent(ctx context.Context, sourceID int64, nativeID string) (*models.Event, error)
	SaveEvent(ctx context.Context, event *models.Event) error
	ListEvents(ctx context.Context, sourceID int64) ([]*models.Event, error)

	// Item operations, keyed by (source, path)
	GetItem(ctx context.Context, sourceID int64, path string) (*models.Item, error)
	SaveItem(ctx context.Context, item *models.Item) error

	// Action operations, keyed by (event, parent event, item)
	SaveAction(ctx context.Context, action *models.Action) error
	ListActions(ctx context.Context, sourceID int64) ([]*models.Action, error)

	CountEntities(ctx context.Context, sourceID int64) (*models.EntityCounts, error)

	// Close connection
	Close() error
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
