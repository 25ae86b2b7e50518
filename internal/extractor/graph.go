package extractor

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/rohankatakam/harvest/internal/errors"
	"github.com/rohankatakam/harvest/internal/metrics"
	"github.com/rohankatakam/harvest/internal/models"
	"github.com/rohankatakam/harvest/internal/storage"
)

// GraphStats describes a completed event extraction
type GraphStats struct {
	Commits        int
	Events         int
	Authors        int
	MissingParents int
}

// GraphBuilder persists the commit history of a source as Events, oldest first
type GraphBuilder struct {
	client        RemoteRepositoryClient
	authors       *AuthorResolver
	store         storage.Store
	strictParents bool
	metrics       *metrics.Recorder
	logger        *slog.Logger
}

func NewGraphBuilder(client RemoteRepositoryClient, authors *AuthorResolver, store storage.Store, opts Options) *GraphBuilder {
	return &GraphBuilder{
		client:        client,
		authors:       authors,
		store:         store,
		strictParents: opts.StrictParents,
		metrics:       opts.Metrics,
		logger:        opts.logger("graph"),
	}
}

// Build lists every commit and persists one Event per commit. A parent is
// always persisted before its children; a parent that cannot be resolved is
// logged and left out unless strict parents are enabled. Events persisted
// before a failure remain in the store.
func (b *GraphBuilder) Build(ctx context.Context, source *models.Source) ([]*models.Event, GraphStats, error) {
	var stats GraphStats

	commits, err := b.client.ListCommits(ctx, source.Owner, source.Name)
	if err != nil {
		return nil, stats, err
	}
	stats.Commits = len(commits)

	ordered := oldestFirst(commits)
	events := make([]*models.Event, 0, len(ordered))
	byNativeID := make(map[string]*models.Event, len(ordered))

	for _, commit := range ordered {
		if err := ctx.Err(); err != nil {
			return events, stats, err
		}

		author, err := b.authors.Resolve(ctx, commit.CommitterName, commit.CommitterEmail)
		if err != nil {
			return events, stats, err
		}

		parents := make([]*models.Event, 0, len(commit.ParentIDs))
		for _, pid := range commit.ParentIDs {
			parent, err := b.resolveParent(ctx, source, byNativeID, pid)
			if stderrors.Is(err, storage.ErrNotFound) {
				stats.MissingParents++
				b.metrics.MissingParent(source.FullName())
				if b.strictParents {
					return events, stats, errors.New(errors.ErrorTypeExtraction, errors.SeverityCritical,
						"event "+commit.NativeID+" references unknown parent "+pid)
				}
				b.logger.Warn("parent event not found, edge omitted",
					"event", commit.NativeID,
					"parent", pid)
				continue
			}
			if err != nil {
				return events, stats, err
			}
			parents = append(parents, parent)
		}

		event := &models.Event{
			SourceID:  source.ID,
			NativeID:  commit.NativeID,
			Timestamp: commit.CommittedAt,
			Parents:   parents,
			Authors:   []*models.Author{author},
		}
		if err := b.store.SaveEvent(ctx, event); err != nil {
			return events, stats, err
		}

		byNativeID[event.NativeID] = event
		events = append(events, event)
		b.metrics.EventSaved(source.FullName())
	}

	stats.Events = len(events)
	stats.Authors = b.authors.Len()

	b.logger.Info("events extracted",
		"events", stats.Events,
		"authors", stats.Authors,
		"missing_parents", stats.MissingParents)
	return events, stats, nil
}

// resolveParent looks in this run's events first, then in the store
func (b *GraphBuilder) resolveParent(ctx context.Context, source *models.Source, seen map[string]*models.Event, nativeID string) (*models.Event, error) {
	if e, ok := seen[nativeID]; ok {
		return e, nil
	}
	return b.store.GetEvent(ctx, source.ID, nativeID)
}

// oldestFirst reverses a newest-first listing and then moves any commit that
// would precede one of its listed parents after that parent. Listings are
// normally already in that order; clock skew between committers can break it.
func oldestFirst(newestFirst []models.CommitInfo) []models.CommitInfo {
	n := len(newestFirst)
	reversed := make([]models.CommitInfo, n)
	index := make(map[string]int, n)
	for i := range newestFirst {
		reversed[i] = newestFirst[n-1-i]
		index[reversed[i].NativeID] = i
	}

	ordered := make([]models.CommitInfo, 0, n)
	visited := make([]bool, n)

	var visit func(i int)
	visit = func(i int) {
		if visited[i] {
			return
		}
		visited[i] = true
		for _, pid := range reversed[i].ParentIDs {
			if j, ok := index[pid]; ok {
				visit(j)
			}
		}
		ordered = append(ordered, reversed[i])
	}

	for i := range reversed {
		visit(i)
	}
	return ordered
}
