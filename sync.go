package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/RyanLisse/vibex-sync/internal/engine"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued offline operations once",
		Long: `Probe the remote service and, if reachable, replay every queued
offline operation in order. Exits non-zero when operations remain failed
after the run.`,
		RunE: runSync,
	}
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.client.Ping(ctx); err != nil {
		return fmt.Errorf("remote service unreachable: %w", err)
	}

	// Marking the connection up triggers the reconnect hook, which drains
	// the queue before SetConnectionState returns.
	a.engine.Monitor().SetConnectionState(engine.ConnConnected)

	stats := a.engine.Stats()
	if stats.FailedOperations > 0 {
		for _, msg := range a.engine.SyncErrors() {
			a.logger.Error("sync failure", slog.String("detail", msg))
		}

		return fmt.Errorf("%d operations failed", stats.FailedOperations)
	}

	statusf(flagQuiet, "Sync complete. %d operations pending.\n", stats.PendingOperations)

	return nil
}
