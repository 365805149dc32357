// Package config implements TOML configuration loading, validation, and
// live reload for vibex-sync. Unknown keys in the config file are fatal:
// silently ignoring a typo leads to hard-to-debug sync behavior.
package config

import (
	"time"

	"github.com/RyanLisse/vibex-sync/internal/engine"
)

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Sync    SyncConfig    `toml:"sync"`
	Remote  RemoteConfig  `toml:"remote"`
	Store   StoreConfig   `toml:"store"`
	Logging LoggingConfig `toml:"logging"`
}

// SyncConfig controls query routing, conflict resolution, and the offline
// queue's retry budget.
type SyncConfig struct {
	Mode             string `toml:"mode"`              // local_first, server_first, hybrid
	ConflictStrategy string `toml:"conflict_strategy"` // last_write_wins, user_priority, field_merge
	MaxRetries       int    `toml:"max_retries"`
	RefetchInterval  string `toml:"refetch_interval"` // fallback poll for live subscriptions
}

// RemoteConfig points at the remote sync service.
type RemoteConfig struct {
	BaseURL string `toml:"base_url"`
	FeedURL string `toml:"feed_url"` // websocket change feed; empty disables the feed
	Token   string `toml:"token"`
}

// StoreConfig controls the local SQLite store.
type StoreConfig struct {
	Path string `toml:"path"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // auto, text, json
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			Mode:             "hybrid",
			ConflictStrategy: "last_write_wins",
			MaxRetries:       3,
			RefetchInterval:  "30s",
		},
		Remote: RemoteConfig{
			BaseURL: "http://localhost:8080",
		},
		Store: StoreConfig{
			Path: "vibex-sync.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// QueryMode converts the configured mode string to the engine type.
// Call Validate first; an unknown mode falls back to hybrid here.
func (c SyncConfig) QueryMode() engine.QueryMode {
	switch c.Mode {
	case "local_first":
		return engine.ModeLocalFirst
	case "server_first":
		return engine.ModeServerFirst
	default:
		return engine.ModeHybrid
	}
}

// Strategy converts the configured conflict strategy string to the engine
// type. Call Validate first; an unknown strategy falls back to last-write-wins.
func (c SyncConfig) Strategy() engine.Strategy {
	switch c.ConflictStrategy {
	case "user_priority":
		return engine.StrategyUserPriority
	case "field_merge":
		return engine.StrategyFieldMerge
	default:
		return engine.StrategyLastWriteWins
	}
}

// Refetch parses the refetch interval, falling back to the engine default
// when unset.
func (c SyncConfig) Refetch() time.Duration {
	d, err := time.ParseDuration(c.RefetchInterval)
	if err != nil || d <= 0 {
		return engine.DefaultRefetchInterval
	}

	return d
}
