package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RyanLisse/vibex-sync/internal/engine"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}

	return path
}

func TestLoadParsesAllSections(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
[sync]
mode = "server_first"
conflict_strategy = "field_merge"
max_retries = 5
refetch_interval = "10s"

[remote]
base_url = "https://sync.example.com"
feed_url = "wss://sync.example.com/feed"
token = "secret"

[store]
path = "/tmp/test.db"

[logging]
level = "debug"
format = "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Sync.Mode != "server_first" || cfg.Sync.MaxRetries != 5 {
		t.Errorf("sync section not parsed: %+v", cfg.Sync)
	}

	if cfg.Remote.FeedURL != "wss://sync.example.com/feed" {
		t.Errorf("remote section not parsed: %+v", cfg.Remote)
	}

	if cfg.Logging.Format != "json" {
		t.Errorf("logging section not parsed: %+v", cfg.Logging)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
[remote]
base_url = "https://sync.example.com"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Sync.Mode != "hybrid" || cfg.Sync.MaxRetries != 3 {
		t.Errorf("defaults not applied for unset keys: %+v", cfg.Sync)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
[sync]
mode = "hybrid"
max_retrys = 4
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("unknown key should be rejected")
	}

	if !strings.Contains(err.Error(), "max_retrys") {
		t.Errorf("error should name the unknown key: %v", err)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
[sync]
mode = "fastest"
conflict_strategy = "coin_flip"
max_retries = 0
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("invalid values should be rejected")
	}

	// All problems reported in one pass.
	for _, want := range []string{"sync.mode", "sync.conflict_strategy", "sync.max_retries"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s: %v", want, err)
		}
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	t.Parallel()

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("missing file should yield defaults: %v", err)
	}

	if cfg.Sync.Mode != "hybrid" {
		t.Errorf("unexpected defaults: %+v", cfg.Sync)
	}
}

func TestSyncConfigConversions(t *testing.T) {
	t.Parallel()

	c := SyncConfig{Mode: "local_first", ConflictStrategy: "user_priority", RefetchInterval: "15s"}

	if c.QueryMode() != engine.ModeLocalFirst {
		t.Errorf("mode conversion wrong: %v", c.QueryMode())
	}

	if c.Strategy() != engine.StrategyUserPriority {
		t.Errorf("strategy conversion wrong: %v", c.Strategy())
	}

	if c.Refetch() != 15*time.Second {
		t.Errorf("refetch conversion wrong: %v", c.Refetch())
	}

	if (SyncConfig{}).Refetch() != engine.DefaultRefetchInterval {
		t.Error("unset refetch interval should fall back to the engine default")
	}
}

func TestHolderUpdateVisibleToReaders(t *testing.T) {
	t.Parallel()

	h := NewHolder(DefaultConfig(), "/etc/vibex/config.toml")

	if h.Path() != "/etc/vibex/config.toml" {
		t.Errorf("unexpected path %s", h.Path())
	}

	next := DefaultConfig()
	next.Sync.Mode = "server_first"
	h.Update(next)

	if h.Config().Sync.Mode != "server_first" {
		t.Error("update not visible through Config()")
	}
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sub", "config.toml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("generated config should load cleanly: %v", err)
	}

	if cfg.Sync.Mode != DefaultConfig().Sync.Mode {
		t.Errorf("generated config drifted from defaults: %+v", cfg.Sync)
	}

	if err := WriteDefault(path); err == nil {
		t.Error("existing file should not be overwritten")
	}
}
