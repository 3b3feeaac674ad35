package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/feedwindow/internal/authors"
	"github.com/bryan-buckman/feedwindow/internal/database"
	"github.com/bryan-buckman/feedwindow/internal/pager"
	"github.com/bryan-buckman/feedwindow/internal/remote"
	"github.com/bryan-buckman/feedwindow/internal/rss"
	"github.com/bryan-buckman/feedwindow/internal/server"
	"github.com/bryan-buckman/feedwindow/internal/window"
)

var serveNoPoll bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long:  "Serve the feed window API and poll the configured feeds in the background.",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveNoPoll, "no-poll", false, "Do not seed feeds in the background")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := globalConfig
	logger := slog.Default()
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	db, err := database.New(cfg.Stores.SQLitePath)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer db.Close()

	sink := b.sink(logger)
	win := window.New(db,
		window.WithCapacity(cfg.Window.Capacity),
		window.WithPageSize(cfg.Window.PageSize),
		window.WithLogger(logger),
		window.WithSink(sink),
	)
	scopes, err := db.Scopes(ctx)
	if err != nil {
		return fmt.Errorf("list cached scopes: %w", err)
	}
	for _, scope := range scopes {
		if err := win.Load(ctx, scope); err != nil {
			logger.Warn("warming cached window failed", "scope", scope, "error", err)
		}
	}

	memo := authors.New(b.directory(), authors.WithLogger(logger))
	gateway := remote.NewGateway(b.docs, remote.WithLogger(logger), remote.WithSink(sink))
	coord := pager.New(gateway, win, memo,
		pager.WithCapacity(win.Capacity()),
		pager.WithPageSize(win.PageSize()),
		pager.WithLogger(logger),
		pager.WithSink(sink),
	)
	defer coord.Close()

	seeder, err := newSeeder(cfg, b, logger)
	if err != nil {
		return err
	}
	if !serveNoPoll {
		poller := rss.NewPoller(seeder, cfg.Seed.Interval)
		poller.Start()
		defer poller.Stop()
	}

	srv := server.New(coord, win, memo, server.WithSeeder(seeder), server.WithLogger(logger))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
