package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rohankatakam/harvest/internal/config"
	"github.com/rohankatakam/harvest/internal/graph"
	"github.com/rohankatakam/harvest/internal/models"
)

var exportBatchSize int

var exportCmd = &cobra.Command{
	Use:   "export [repository-url...]",
	Short: "Export extracted graphs to Neo4j",
	Long: `Export the events, parent edges, authors and actions stored for each
repository into Neo4j. Without arguments every extracted repository is exported.
Exports are idempotent.`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().IntVar(&exportBatchSize, "batch-size", graph.DefaultBatchSize, "rows per UNWIND query")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	result := cfg.Validate(config.ValidationContextExport)
	if result.HasErrors() {
		return fmt.Errorf("%s", result.Error())
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	var sources []*models.Source
	if len(args) == 0 {
		if sources, err = store.ListSources(ctx); err != nil {
			return err
		}
	} else {
		for _, url := range args {
			s, err := store.GetSource(ctx, url)
			if err != nil {
				return fmt.Errorf("repository %s has not been extracted: %w", url, err)
			}
			sources = append(sources, s)
		}
	}

	client, err := graph.NewClient(ctx, cfg.Neo4j.URI, cfg.Neo4j.User, cfg.Neo4j.Password, cfg.Neo4j.Database)
	if err != nil {
		return err
	}
	defer client.Close(ctx)

	exporter := graph.NewExporter(client, store, exportBatchSize)
	for _, s := range sources {
		stats, err := exporter.Export(ctx, s)
		if err != nil {
			return fmt.Errorf("export %s: %w", s.FullName(), err)
		}
		color.Green("✓ %s: %d events, %d parent edges, %d actions", s.FullName(), stats.Events, stats.Parents, stats.Actions)
	}
	return nil
}
