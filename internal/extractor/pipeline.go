package extractor

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rohankatakam/harvest/internal/metrics"
	"github.com/rohankatakam/harvest/internal/models"
)

// Summary reports one source run
type Summary struct {
	URL      string
	RunID    string
	Source   *models.Source
	Stats    Stats
	Duration time.Duration
}

// Factory builds the extractor for one repository URL. logger carries the run id.
type Factory func(url string, logger *slog.Logger) (Extractor, error)

// Pipeline runs extractions for one or more sources
type Pipeline struct {
	// Parallel bounds how many sources are extracted at once
	Parallel int
	Factory  Factory
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
}

// Run drives one extractor: workspace initialization, the whole event graph,
// then the actions of every event in persistence order.
func Run(ctx context.Context, ex Extractor, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	if err := ex.InitializeWorkspace(ctx); err != nil {
		return err
	}
	logQuota(logger, ex, "workspace")

	events, err := ex.ExtractEvents(ctx)
	if err != nil {
		return err
	}
	logQuota(logger, ex, "events")

	for i, event := range events {
		if err := ex.ExtractActions(ctx, event); err != nil {
			return err
		}
		if (i+1)%500 == 0 {
			logger.Info("action extraction progress", "events_done", i+1, "events_total", len(events))
		}
	}
	logQuota(logger, ex, "actions")

	return nil
}

// RunAll extracts every URL, each with its own extractor and run id. The first
// failure cancels the remaining runs.
func (p *Pipeline) RunAll(ctx context.Context, urls []string) ([]*Summary, error) {
	base := p.Logger
	if base == nil {
		base = slog.Default()
	}
	parallel := p.Parallel
	if parallel < 1 {
		parallel = 1
	}

	summaries := make([]*Summary, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	for i, url := range urls {
		i, url := i, url
		g.Go(func() error {
			runID := uuid.NewString()
			logger := base.With("run_id", runID, "source", url)

			ex, err := p.Factory(url, logger)
			if err != nil {
				return err
			}

			start := time.Now()
			logger.Info("extraction started")
			err = Run(gctx, ex, logger)
			elapsed := time.Since(start)

			summary := &Summary{URL: url, RunID: runID, Duration: elapsed}
			if se, ok := ex.(*SourceExtractor); ok {
				summary.Source = se.Source()
				summary.Stats = se.Stats()
			}
			summaries[i] = summary

			label := url
			if summary.Source != nil {
				label = summary.Source.FullName()
			}
			p.Metrics.ObserveRun(label, elapsed, err)

			if err != nil {
				logger.Error("extraction failed", "error", err, "duration", elapsed.Round(time.Millisecond))
				return err
			}

			logger.Info("extraction finished",
				"events", summary.Stats.Events,
				"actions", summary.Stats.Actions,
				"missing_parents", summary.Stats.MissingParents,
				"duration", elapsed.Round(time.Millisecond))
			return nil
		})
	}

	err := g.Wait()
	return summaries, err
}

func logQuota(logger *slog.Logger, ex Extractor, phase string) {
	qr, ok := ex.(quotaReporter)
	if !ok {
		return
	}
	if remaining := qr.RemainingQuota(); remaining >= 0 {
		logger.Info("remote quota", "phase", phase, "remaining", remaining)
	}
}
