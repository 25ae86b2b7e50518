package graph

import (
	"context"
	"log/slog"

	"github.com/rohankatakam/harvest/internal/logging"
	"github.com/rohankatakam/harvest/internal/models"
	"github.com/rohankatakam/harvest/internal/storage"
)

// Runner executes one parameterized write query
type Runner interface {
	Run(ctx context.Context, query string, params map[string]any) error
}

// ExportStats counts the rows sent for each part of the graph
type ExportStats struct {
	Events  int
	Parents int
	Authors int
	Actions int
}

// Exporter copies the persisted graph of a source into Neo4j. MERGE makes
// repeated exports idempotent.
type Exporter struct {
	runner    Runner
	store     storage.Store
	batchSize int
	logger    *slog.Logger
}

// NewExporter creates an exporter; batchSize <= 0 uses DefaultBatchSize
func NewExporter(runner Runner, store storage.Store, batchSize int) *Exporter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Exporter{
		runner:    runner,
		store:     store,
		batchSize: batchSize,
		logger:    logging.Component("export"),
	}
}

// DefaultBatchSize is the number of UNWIND rows per query
const DefaultBatchSize = 1000

// Export writes source, events, parent edges, authorship and actions
func (x *Exporter) Export(ctx context.Context, source *models.Source) (*ExportStats, error) {
	events, err := x.store.ListEvents(ctx, source.ID)
	if err != nil {
		return nil, err
	}
	actions, err := x.store.ListActions(ctx, source.ID)
	if err != nil {
		return nil, err
	}

	for _, q := range schemaQueries {
		if err := x.runner.Run(ctx, q, nil); err != nil {
			return nil, err
		}
	}

	err = x.runner.Run(ctx, mergeSourceQuery, map[string]any{
		"source": source.URL,
		"owner":  source.Owner,
		"name":   source.Name,
	})
	if err != nil {
		return nil, err
	}

	eventRows := EventRows(events)
	parentRows := ParentRows(events)
	authorRows := AuthorRows(events)
	actionRows := ActionRows(actions)

	steps := []struct {
		query string
		rows  []map[string]any
	}{
		{mergeEventsQuery, eventRows},
		{mergeParentsQuery, parentRows},
		{mergeAuthorsQuery, authorRows},
		{mergeActionsQuery, actionRows},
	}
	for _, step := range steps {
		if err := x.runBatched(ctx, source, step.query, step.rows); err != nil {
			return nil, err
		}
	}

	stats := &ExportStats{
		Events:  len(eventRows),
		Parents: len(parentRows),
		Authors: len(authorRows),
		Actions: len(actionRows),
	}
	x.logger.Info("graph exported",
		"repository", source.FullName(),
		"events", stats.Events,
		"parents", stats.Parents,
		"actions", stats.Actions)
	return stats, nil
}

func (x *Exporter) runBatched(ctx context.Context, source *models.Source, query string, rows []map[string]any) error {
	for start := 0; start < len(rows); start += x.batchSize {
		end := min(start+x.batchSize, len(rows))
		err := x.runner.Run(ctx, query, map[string]any{
			"source": source.URL,
			"rows":   rows[start:end],
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// EventRows builds the UNWIND rows for Event nodes
func EventRows(events []*models.Event) []map[string]any {
	rows := make([]map[string]any, 0, len(events))
	for _, e := range events {
		rows = append(rows, map[string]any{
			"native_id": e.NativeID,
			"timestamp": e.Timestamp,
		})
	}
	return rows
}

// ParentRows builds one row per parent edge, keeping the parent position
func ParentRows(events []*models.Event) []map[string]any {
	var rows []map[string]any
	for _, e := range events {
		for pos, p := range e.Parents {
			rows = append(rows, map[string]any{
				"child":    e.NativeID,
				"parent":   p.NativeID,
				"position": int64(pos),
			})
		}
	}
	return rows
}

func AuthorRows(events []*models.Event) []map[string]any {
	var rows []map[string]any
	for _, e := range events {
		for _, a := range e.Authors {
			rows = append(rows, map[string]any{
				"event": e.NativeID,
				"name":  a.Name,
				"email": a.Email,
			})
		}
	}
	return rows
}

func ActionRows(actions []*models.Action) []map[string]any {
	rows := make([]map[string]any, 0, len(actions))
	for _, a := range actions {
		rows = append(rows, map[string]any{
			"event":  a.Event.NativeID,
			"parent": a.ParentEvent.NativeID,
			"path":   a.Item.Path,
			"kind":   a.Kind.String(),
		})
	}
	return rows
}
