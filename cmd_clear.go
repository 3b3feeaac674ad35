package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/feedwindow/internal/database"
	"github.com/bryan-buckman/feedwindow/internal/events"
	"github.com/bryan-buckman/feedwindow/internal/window"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cached window",
	Long:  "Delete all locally cached feed items, as on logout.",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

func init() {
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, args []string) error {
	db, err := database.New(globalConfig.Stores.SQLitePath)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer db.Close()

	scopes, err := db.Scopes(cmd.Context())
	if err != nil {
		return fmt.Errorf("list cached scopes: %w", err)
	}
	rec := &events.Recorder{}
	win := window.New(db, window.WithLogger(slog.Default()), window.WithSink(rec))
	win.ClearAll(cmd.Context())
	if failed := rec.Events(); len(failed) > 0 {
		return fmt.Errorf("clear did not commit: %s", failed[0].Message)
	}
	fmt.Printf("Cleared %d cached scopes\n", len(scopes))
	return nil
}
