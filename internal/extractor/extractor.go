package extractor

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/rohankatakam/harvest/internal/config"
	"github.com/rohankatakam/harvest/internal/errors"
	"github.com/rohankatakam/harvest/internal/logging"
	"github.com/rohankatakam/harvest/internal/metrics"
	"github.com/rohankatakam/harvest/internal/models"
	"github.com/rohankatakam/harvest/internal/storage"
)

// Options shared by the extraction components
type Options struct {
	// StrictParents fails the run on a parent that cannot be resolved
	StrictParents bool
	Filter        *PathFilter
	Metrics       *metrics.Recorder
	Logger        *slog.Logger
}

func (o Options) logger(component string) *slog.Logger {
	if o.Logger != nil {
		return o.Logger.With("component", component)
	}
	return logging.Component(component)
}

// Stats accumulates what one SourceExtractor persisted
type Stats struct {
	GraphStats
	Actions       int
	ActionsByKind map[models.ActionKind]int
}

// SourceExtractor extracts a single repository. Its resolvers, and their
// caches, belong to this source only.
type SourceExtractor struct {
	url    string
	client RemoteRepositoryClient
	store  storage.Store
	opts   Options
	logger *slog.Logger

	source  *models.Source
	graph   *GraphBuilder
	actions *ActionExtractor
	stats   Stats
}

var _ Extractor = (*SourceExtractor)(nil)

func NewSourceExtractor(url string, client RemoteRepositoryClient, store storage.Store, opts Options) *SourceExtractor {
	return &SourceExtractor{
		url:    url,
		client: client,
		store:  store,
		opts:   opts,
		logger: opts.logger("extractor"),
		stats:  Stats{ActionsByKind: make(map[models.ActionKind]int)},
	}
}

// InitializeWorkspace resolves owner/name from the URL, checks the repository
// exists remotely and records the Source.
func (e *SourceExtractor) InitializeWorkspace(ctx context.Context) error {
	owner, name, err := config.ParseRepositoryURL(e.url)
	if err != nil {
		return err
	}

	info, err := e.client.GetRepository(ctx, owner, name)
	if err != nil {
		return typed(err, errors.ErrorTypeWorkspace, "get repository "+owner+"/"+name)
	}

	source, err := e.store.GetSource(ctx, e.url)
	if stderrors.Is(err, storage.ErrNotFound) {
		source = &models.Source{URL: e.url, Owner: owner, Name: name}
		err = e.store.SaveSource(ctx, source)
	}
	if err != nil {
		return err
	}

	e.source = source
	e.graph = NewGraphBuilder(e.client, NewAuthorResolver(e.store, source), e.store, e.opts)
	e.actions = NewActionExtractor(e.client, NewItemResolver(e.store, source), e.store, e.opts)

	e.logger.Info("workspace initialized",
		"repository", source.FullName(),
		"default_branch", info.DefaultBranch,
		"source_id", source.ID)
	return nil
}

// ExtractEvents builds the event graph of the whole history
func (e *SourceExtractor) ExtractEvents(ctx context.Context) ([]*models.Event, error) {
	if e.source == nil {
		return nil, errors.InternalErrorf("workspace not initialized for %s", e.url)
	}

	events, stats, err := e.graph.Build(ctx, e.source)
	e.stats.GraphStats = stats
	if err != nil {
		return events, typed(err, errors.ErrorTypeExtraction, "extract events of "+e.source.FullName())
	}
	return events, nil
}

// ExtractActions persists the actions of one event
func (e *SourceExtractor) ExtractActions(ctx context.Context, event *models.Event) error {
	if e.source == nil {
		return errors.InternalErrorf("workspace not initialized for %s", e.url)
	}

	actions, err := e.actions.Extract(ctx, e.source, event)
	for _, a := range actions {
		e.stats.Actions++
		e.stats.ActionsByKind[a.Kind]++
	}
	if err != nil {
		return typed(err, errors.ErrorTypeExtraction, "extract actions of "+event.ShortID())
	}
	return nil
}

// Source returns the initialized source, nil before InitializeWorkspace
func (e *SourceExtractor) Source() *models.Source {
	return e.source
}

func (e *SourceExtractor) Stats() Stats {
	return e.stats
}

// RemainingQuota reports the client's quota
func (e *SourceExtractor) RemainingQuota() int {
	return e.client.RemainingQuota()
}

// typed keeps errors that already carry a type and wraps the rest as t
func typed(err error, t errors.ErrorType, message string) error {
	var e *errors.Error
	if stderrors.As(err, &e) || stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.Wrap(err, t, errors.SeverityCritical, message)
}
