package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

var seedTimeout time.Duration

var seedCmd = &cobra.Command{
	Use:   "seed [opml-file]",
	Short: "Seed the document store from RSS feeds",
	Long:  "Fetch every feed in the OPML file once and store its items under the feed's folder scope.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().DurationVar(&seedTimeout, "timeout", 10*time.Minute, "Overall seeding deadline")
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg := globalConfig
	if len(args) == 1 {
		cfg.Seed.OPMLPath = args[0]
	}
	if cfg.Seed.OPMLPath == "" {
		return fmt.Errorf("no OPML file given and seed.opml_path is not set")
	}
	if cfg.Stores.PostgresDSN == "" {
		slog.Warn("seeding the in-memory store; items are discarded on exit")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), seedTimeout)
	defer cancel()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	seeder, err := newSeeder(cfg, b, slog.Default())
	if err != nil {
		return err
	}
	results, err := seeder.SeedAll(ctx)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	total := 0
	for _, n := range results {
		total += n
	}
	fmt.Printf("Seeded %d items from %d/%d feeds\n", total, len(results), len(seeder.Feeds()))
	return nil
}
