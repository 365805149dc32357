package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/RyanLisse/vibex-sync/internal/config"
	"github.com/RyanLisse/vibex-sync/internal/engine"
	"github.com/RyanLisse/vibex-sync/internal/remote"
)

// pingInterval is the reachability probe cadence when no websocket feed is
// configured.
const pingInterval = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync engine until interrupted",
		Long: `Run the sync engine in the foreground.

Connects to the remote change feed (or polls reachability when no feed is
configured), applies remote changes to the local store, and replays queued
offline operations whenever the connection comes back. Reloads the config
file on change. Stop with Ctrl-C.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	logger := a.logger
	cfg := a.holder.Config()
	monitor := a.engine.Monitor()

	logger.Info("sync engine starting",
		slog.String("remote", cfg.Remote.BaseURL),
		slog.String("store", cfg.Store.Path),
		slog.String("mode", cfg.Sync.Mode),
	)

	group, ctx := errgroup.WithContext(ctx)

	if cfg.Remote.FeedURL != "" {
		feed := remote.NewFeed(cfg.Remote.FeedURL, logger)

		group.Go(func() error {
			return feed.Run(ctx,
				func(connected bool) {
					if connected {
						monitor.SetConnectionState(engine.ConnConnected)
					} else {
						monitor.SetConnectionState(engine.ConnDisconnected)
					}
				},
				func(ctx context.Context, ev remote.ChangeEvent) {
					if err := a.engine.HandleRemoteChange(ctx, ev.Table, ev.Op, ev.Record); err != nil {
						logger.Error("applying remote change failed",
							slog.String("table", ev.Table),
							slog.String("op", string(ev.Op)),
							slog.String("error", err.Error()),
						)
					}
				},
			)
		})
	} else {
		group.Go(func() error {
			return pingLoop(ctx, a.client, monitor)
		})
	}

	group.Go(func() error {
		return config.Watch(ctx, a.holder, logger, func(next *config.Config) {
			a.engine.Queue().SetMaxRetries(next.Sync.MaxRetries)
			a.engine.SetDefaultMode(next.Sync.QueryMode())
		})
	})

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("sync engine stopped")

	return nil
}

// pingLoop probes the remote service and feeds the result to the connection
// monitor. The monitor's reconnect hook takes care of draining the queue
// when a probe succeeds after a gap.
func pingLoop(ctx context.Context, client *remote.Client, monitor *engine.Monitor) error {
	probe := func() {
		if err := client.Ping(ctx); err != nil {
			monitor.SetConnectionState(engine.ConnDisconnected)
		} else {
			monitor.SetConnectionState(engine.ConnConnected)
		}
	}

	probe()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			probe()
		}
	}
}
