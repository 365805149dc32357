package config

import (
	"fmt"
	"strings"
	"time"
)

var (
	validModes = map[string]bool{
		"local_first": true, "server_first": true, "hybrid": true,
	}
	validStrategies = map[string]bool{
		"last_write_wins": true, "user_priority": true, "field_merge": true,
	}
	validLevels = map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	validFormats = map[string]bool{
		"auto": true, "text": true, "json": true,
	}
)

// Validate checks a Config for invalid values. It collects all problems
// rather than stopping at the first, so one edit-and-retry cycle fixes
// everything.
func Validate(cfg *Config) error {
	var problems []string

	if !validModes[cfg.Sync.Mode] {
		problems = append(problems, fmt.Sprintf(
			"sync.mode %q must be one of local_first, server_first, hybrid", cfg.Sync.Mode))
	}

	if !validStrategies[cfg.Sync.ConflictStrategy] {
		problems = append(problems, fmt.Sprintf(
			"sync.conflict_strategy %q must be one of last_write_wins, user_priority, field_merge",
			cfg.Sync.ConflictStrategy))
	}

	if cfg.Sync.MaxRetries < 1 {
		problems = append(problems, fmt.Sprintf(
			"sync.max_retries %d must be at least 1", cfg.Sync.MaxRetries))
	}

	if cfg.Sync.RefetchInterval != "" {
		if d, err := time.ParseDuration(cfg.Sync.RefetchInterval); err != nil || d <= 0 {
			problems = append(problems, fmt.Sprintf(
				"sync.refetch_interval %q must be a positive duration like 30s", cfg.Sync.RefetchInterval))
		}
	}

	if cfg.Remote.BaseURL == "" {
		problems = append(problems, "remote.base_url must not be empty")
	}

	if cfg.Store.Path == "" {
		problems = append(problems, "store.path must not be empty")
	}

	if !validLevels[cfg.Logging.Level] {
		problems = append(problems, fmt.Sprintf(
			"logging.level %q must be one of debug, info, warn, error", cfg.Logging.Level))
	}

	if !validFormats[cfg.Logging.Format] {
		problems = append(problems, fmt.Sprintf(
			"logging.format %q must be one of auto, text, json", cfg.Logging.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	return nil
}
