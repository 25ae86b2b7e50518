package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and what has been extracted so far",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	title := color.New(color.FgGreen).Add(color.Underline)
	title.Println("harvest status")

	fmt.Printf("\nConfiguration:\n")
	fmt.Printf("  Storage:  %s", cfg.Storage.Type)
	if cfg.Storage.Type == "sqlite" {
		fmt.Printf(" (%s)", cfg.Storage.LocalPath)
	}
	fmt.Println()
	fmt.Printf("  Backend:  %s\n", cfg.Extract.Backend)
	fmt.Printf("  Cache:    %v\n", cfg.Cache.Enabled)

	if toks, err := cfg.Tokens(); err != nil {
		fmt.Printf("  Tokens:   %s\n", color.RedString("%v", err))
	} else {
		fmt.Printf("  Tokens:   %s\n", color.GreenString("%d configured", len(toks)))
	}

	store, err := openStore()
	if err != nil {
		fmt.Printf("\n%s\n", color.RedString("Store unavailable: %v", err))
		return nil
	}
	defer store.Close()

	sources, err := store.ListSources(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("\nSources:\n")
	if len(sources) == 0 {
		color.Yellow("  none yet, run 'harvest extract <url>'")
		return nil
	}

	fmt.Printf("  %-40s %8s %8s %8s %8s\n", "REPOSITORY", "AUTHORS", "EVENTS", "ITEMS", "ACTIONS")
	fmt.Printf("  %s\n", strings.Repeat("-", 76))
	for _, s := range sources {
		counts, err := store.CountEntities(ctx, s.ID)
		if err != nil {
			return err
		}
		fmt.Printf("  %-40s %8d %8d %8d %8d\n", s.FullName(), counts.Authors, counts.Events, counts.Items, counts.Actions)
	}
	return nil
}
