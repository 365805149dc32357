package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/RyanLisse/vibex-sync/internal/config"
	"github.com/RyanLisse/vibex-sync/internal/engine"
	"github.com/RyanLisse/vibex-sync/internal/localstore"
	"github.com/RyanLisse/vibex-sync/internal/remote"
)

// version is set at build time via ldflags.
var version = "dev"

// defaultConfigPath is used when --config is not passed.
const defaultConfigPath = "vibex-sync.toml"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "vibex-sync",
		Short:   "Offline-first data synchronization engine",
		Long:    "Keeps a local SQLite store and a remote sync service converged, queueing mutations while offline and replaying them on reconnect.",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newQueueCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// configPath resolves the effective config file path.
func configPath() string {
	if flagConfigPath != "" {
		return flagConfigPath
	}

	return defaultConfigPath
}

// loadHolder loads the config file (or defaults) into a Holder shared by
// all long-lived components.
func loadHolder() (*config.Holder, error) {
	path := configPath()

	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return config.NewHolder(cfg, path), nil
}

// buildLogger creates an slog.Logger from the config's logging section.
// --verbose and --quiet override the configured level; --json forces the
// JSON handler. Format "auto" picks text on a terminal, JSON otherwise.
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo

	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	format := cfg.Logging.Format
	if flagJSON {
		format = "json"
	}

	if format == "auto" {
		if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			format = "text"
		} else {
			format = "json"
		}
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// authHTTPClient returns an HTTP client carrying the configured bearer
// token. An empty token yields nil, letting the remote client use its
// default unauthenticated client.
func authHTTPClient(ctx context.Context, token string) *http.Client {
	if token == "" {
		return nil
	}

	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
}

// app bundles the assembled components behind every subcommand.
type app struct {
	holder *config.Holder
	logger *slog.Logger
	store  *localstore.Store
	client *remote.Client
	engine *engine.Engine
}

// buildApp assembles the full stack: config, logger, local store, remote
// client, and the sync engine. The caller must Close it.
func buildApp(ctx context.Context) (*app, error) {
	holder, err := loadHolder()
	if err != nil {
		return nil, err
	}

	cfg := holder.Config()
	logger := buildLogger(cfg)

	store, err := localstore.Open(cfg.Store.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}

	client := remote.NewClient(cfg.Remote.BaseURL, authHTTPClient(ctx, cfg.Remote.Token), logger)

	eng, err := engine.New(ctx, engine.Config{
		Local:       store,
		Remote:      client,
		QueueStore:  store,
		Retryable:   remote.IsRetryable,
		Strategy:    cfg.Sync.Strategy(),
		MaxRetries:  cfg.Sync.MaxRetries,
		DefaultMode: cfg.Sync.QueryMode(),
		Logger:      logger,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("building engine: %w", err)
	}

	return &app{
		holder: holder,
		logger: logger,
		store:  store,
		client: client,
		engine: eng,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
