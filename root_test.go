package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanLisse/vibex-sync/internal/config"
)

// Global flag reset pattern: newRootCmd() binds flags via StringVar/BoolVar,
// which reset the global flag variables to their zero values. Tests set
// globals AFTER newRootCmd() returns, or restore them in t.Cleanup.

func resetFlags(t *testing.T) {
	t.Helper()

	oldConfig := flagConfigPath
	oldJSON := flagJSON
	oldVerbose := flagVerbose
	oldQuiet := flagQuiet

	t.Cleanup(func() {
		flagConfigPath = oldConfig
		flagJSON = oldJSON
		flagVerbose = oldVerbose
		flagQuiet = oldQuiet
	})

	flagConfigPath = ""
	flagJSON = false
	flagVerbose = false
	flagQuiet = false
}

func TestRootCmdRegistersSubcommands(t *testing.T) {
	cmd := newRootCmd()

	want := []string{"serve", "sync", "status", "queue", "config"}
	for _, name := range want {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, "subcommand %s", name)
		assert.Equal(t, name, sub.Name())
	}
}

func TestConfigPathFlagPrecedence(t *testing.T) {
	resetFlags(t)

	assert.Equal(t, defaultConfigPath, configPath())

	flagConfigPath = "/etc/vibex/custom.toml"
	assert.Equal(t, "/etc/vibex/custom.toml", configPath())
}

func TestBuildLoggerLevels(t *testing.T) {
	resetFlags(t)

	cfg := config.DefaultConfig()

	logger := buildLogger(cfg)
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))

	flagVerbose = true
	logger = buildLogger(cfg)
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))

	flagVerbose = false
	flagQuiet = true
	logger = buildLogger(cfg)
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelError))
}

func TestAuthHTTPClient(t *testing.T) {
	assert.Nil(t, authHTTPClient(context.Background(), ""))
	assert.NotNil(t, authHTTPClient(context.Background(), "token-123"))
}
