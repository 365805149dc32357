package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// exampleConfig is written by `vibex-sync config init`. Every key carries
// its default so the file documents itself.
const exampleConfig = `# vibex-sync configuration

[sync]
# Query routing: local_first, server_first, or hybrid.
mode = "hybrid"
# Conflict resolution: last_write_wins, user_priority, or field_merge.
conflict_strategy = "last_write_wins"
# Retry budget per queued offline operation.
max_retries = 3
# Fallback poll interval for live subscriptions.
refetch_interval = "30s"

[remote]
base_url = "http://localhost:8080"
# Websocket change feed. Leave empty to disable live updates.
feed_url = ""
token = ""

[store]
path = "vibex-sync.db"

[logging]
level = "info"
format = "auto"
`

// WriteDefault writes the example config file to path, creating parent
// directories. It refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config: %s already exists", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config: checking %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: creating directory for %s: %w", path, err)
	}

	if err := os.WriteFile(path, []byte(exampleConfig), 0o600); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}

	return nil
}
