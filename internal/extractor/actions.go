package extractor

import (
	"context"
	"log/slog"

	"github.com/rohankatakam/harvest/internal/metrics"
	"github.com/rohankatakam/harvest/internal/models"
	"github.com/rohankatakam/harvest/internal/storage"
)

// ClassifyStatus maps a diff status to an ActionKind. GitHub reports deletions
// as "removed"; both spellings map to Delete. Any other status, including
// renamed and copied, is Unknown.
func ClassifyStatus(status string) models.ActionKind {
	switch status {
	case "added":
		return models.ActionCreate
	case "modified":
		return models.ActionEdit
	case "deleted", "removed":
		return models.ActionDelete
	default:
		return models.ActionUnknown
	}
}

// ActionExtractor diffs an event against each of its parents and persists one
// Action per changed file per parent.
type ActionExtractor struct {
	client  RemoteRepositoryClient
	items   *ItemResolver
	store   storage.Store
	filter  *PathFilter
	metrics *metrics.Recorder
	logger  *slog.Logger
}

func NewActionExtractor(client RemoteRepositoryClient, items *ItemResolver, store storage.Store, opts Options) *ActionExtractor {
	return &ActionExtractor{
		client:  client,
		items:   items,
		store:   store,
		filter:  opts.Filter,
		metrics: opts.Metrics,
		logger:  opts.logger("actions"),
	}
}

// Extract persists the actions of event. event.Parents must already be
// persisted. A root event yields nothing. On a remote failure the actions
// saved so far are kept and the error is returned.
func (x *ActionExtractor) Extract(ctx context.Context, source *models.Source, event *models.Event) ([]*models.Action, error) {
	var actions []*models.Action

	for _, parent := range event.Parents {
		changes, err := x.client.Compare(ctx, source.Owner, source.Name, parent.NativeID, event.NativeID)
		if err != nil {
			return actions, err
		}

		for _, change := range changes {
			if !x.filter.Match(change.Path) {
				continue
			}

			kind := ClassifyStatus(change.Status)
			if kind == models.ActionUnknown {
				x.logger.Debug("unclassified file status",
					"event", event.ShortID(),
					"path", change.Path,
					"status", change.Status)
			}

			item, err := x.items.Resolve(ctx, change.Path)
			if err != nil {
				return actions, err
			}

			action := &models.Action{
				SourceID:    source.ID,
				Event:       event,
				ParentEvent: parent,
				Item:        item,
				Kind:        kind,
			}
			if err := x.store.SaveAction(ctx, action); err != nil {
				return actions, err
			}

			actions = append(actions, action)
			x.metrics.ActionSaved(source.FullName(), kind)
		}
	}

	return actions, nil
}
