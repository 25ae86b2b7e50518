package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rohankatakam/harvest/internal/cache"
	"github.com/rohankatakam/harvest/internal/config"
	"github.com/rohankatakam/harvest/internal/extractor"
	"github.com/rohankatakam/harvest/internal/gitlocal"
	"github.com/rohankatakam/harvest/internal/github"
	"github.com/rohankatakam/harvest/internal/metrics"
	"github.com/rohankatakam/harvest/internal/models"
	"github.com/rohankatakam/harvest/internal/tokens"
)

var (
	extractBackend  string
	extractStrict   bool
	extractParallel int
	extractNoCache  bool
	extractMetrics  string
)

var extractCmd = &cobra.Command{
	Use:   "extract [repository-url...]",
	Short: "Extract events and actions from one or more repositories",
	Long: `Extract the full commit history of each repository: one event per commit
with its parents and committer, then one action per file changed against each
parent. Repositories default to 'repository' and 'repositories' from the config.

Re-running over the same store reuses existing entities instead of duplicating them.`,
	Example: `  harvest extract https://github.com/octo/hello
  harvest extract --backend local --parallel 2 https://github.com/a/b https://github.com/c/d`,
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVar(&extractBackend, "backend", "", "history backend: github or local (default from config)")
	extractCmd.Flags().BoolVar(&extractStrict, "strict-parents", false, "fail when a parent commit cannot be resolved")
	extractCmd.Flags().IntVar(&extractParallel, "parallel", 0, "number of repositories extracted at once")
	extractCmd.Flags().BoolVar(&extractNoCache, "no-cache", false, "do not use the on-disk compare cache")
	extractCmd.Flags().StringVar(&extractMetrics, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if len(args) > 0 {
		cfg.Repository = ""
		cfg.Repositories = args
	}
	if extractBackend != "" {
		cfg.Extract.Backend = extractBackend
	}
	if extractStrict {
		cfg.Extract.StrictParents = true
	}
	if extractParallel > 0 {
		cfg.Extract.ParallelSources = extractParallel
	}
	if extractNoCache {
		cfg.Cache.Enabled = false
	}
	if extractMetrics != "" {
		cfg.Metrics.Addr = extractMetrics
	}

	result := cfg.Validate(config.ValidationContextExtract)
	if result.HasErrors() {
		return fmt.Errorf("%s", result.Error())
	}
	for _, w := range result.Warnings {
		logger.Warn(w)
	}

	recorder := metrics.NewRecorder(nil)
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := recorder.Serve(ctx, cfg.Metrics.Addr); err != nil {
				logger.WithError(err).Warn("Metrics server stopped")
			}
		}()
	}

	client, closeClient, err := newRemoteClient(recorder)
	if err != nil {
		return err
	}
	defer closeClient()

	filter, err := extractor.NewPathFilter(cfg.Extract.Include, cfg.Extract.Exclude)
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	pipeline := &extractor.Pipeline{
		Parallel: cfg.Extract.ParallelSources,
		Metrics:  recorder,
		Logger:   slog.Default(),
		Factory: func(url string, log *slog.Logger) (extractor.Extractor, error) {
			return extractor.NewSourceExtractor(url, client, store, extractor.Options{
				StrictParents: cfg.Extract.StrictParents,
				Filter:        filter,
				Metrics:       recorder,
				Logger:        log,
			}), nil
		},
	}

	urls := cfg.RepositoryURLs()
	logger.Infof("Extracting %d repositories with the %s backend", len(urls), cfg.Extract.Backend)

	summaries, err := pipeline.RunAll(ctx, urls)
	printSummaries(summaries)
	return err
}

// newRemoteClient builds the configured backend, wrapped by the compare cache when enabled
func newRemoteClient(recorder *metrics.Recorder) (extractor.RemoteRepositoryClient, func(), error) {
	var client extractor.RemoteRepositoryClient

	switch cfg.Extract.Backend {
	case "local":
		// public mirrors clone without credentials
		var rotator *tokens.Rotator
		if toks, err := cfg.Tokens(); err == nil {
			rotator, _ = tokens.NewRotator(toks)
		}
		client = gitlocal.NewReader(gitlocal.ReadOptions{
			CloneDir: cfg.Extract.CloneDir,
			Rotator:  rotator,
		}, recorder)

	default:
		toks, err := cfg.Tokens()
		if err != nil {
			return nil, nil, err
		}
		rotator, err := tokens.NewRotator(toks)
		if err != nil {
			return nil, nil, err
		}
		logger.Debugf("Rotating %d GitHub tokens", rotator.Len())

		gh, err := github.NewClient(rotator, github.Options{
			BaseURL:      cfg.GitHub.BaseURL,
			RateLimit:    cfg.GitHub.RateLimit,
			MinRemaining: cfg.GitHub.MinRemaining,
			Timeout:      cfg.GitHub.Timeout,
		}, recorder)
		if err != nil {
			return nil, nil, err
		}
		client = gh
	}

	if !cfg.Cache.Enabled {
		return client, func() {}, nil
	}

	db, err := cache.Open(cfg.Cache.Path)
	if err != nil {
		return nil, nil, err
	}
	cached := cache.NewCachedClient(client, db)
	return cached, func() {
		hits, misses := cached.Stats()
		logger.Debugf("Compare cache: %d hits, %d misses", hits, misses)
		db.Close()
	}, nil
}

func printSummaries(summaries []*extractor.Summary) {
	bold := color.New(color.Bold)
	for _, s := range summaries {
		if s == nil {
			continue
		}
		name := s.URL
		if s.Source != nil {
			name = s.Source.FullName()
		}

		fmt.Println()
		bold.Println(name)
		fmt.Printf("  Run:      %s (%s)\n", s.RunID, s.Duration.Round(time.Millisecond))
		fmt.Printf("  Events:   %d (%d authors)\n", s.Stats.Events, s.Stats.Authors)
		fmt.Printf("  Actions:  %d %s\n", s.Stats.Actions, formatKinds(s.Stats.ActionsByKind))
		if s.Stats.MissingParents > 0 {
			color.Yellow("  Missing parents: %d (edges omitted)", s.Stats.MissingParents)
		}
	}
}

func formatKinds(byKind map[models.ActionKind]int) string {
	var parts []string
	for _, k := range models.ActionKinds {
		if n := byKind[k]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", k, n))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
