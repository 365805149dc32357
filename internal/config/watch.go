package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of filesystem events most editors
// produce for a single save.
const reloadDebounce = 250 * time.Millisecond

// Watch reloads the Holder's config whenever its file changes on disk. A
// reload that fails to parse or validate logs the failure and keeps the
// previous config. onReload, if non-nil, runs after each successful reload.
// Watch blocks until ctx ends.
func Watch(ctx context.Context, holder *Holder, logger *slog.Logger, onReload func(*Config)) error {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory rather than the file: editors save via
	// rename-and-replace, which invalidates a watch on the file itself.
	path := holder.Path()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("config: watching %s: %w", filepath.Dir(path), err)
	}

	target := filepath.Clean(path)

	debounce := time.NewTimer(reloadDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}

	pending := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != target {
				continue
			}

			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if pending {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
			}

			debounce.Reset(reloadDebounce)
			pending = true

		case <-debounce.C:
			pending = false

			cfg, err := Load(path)
			if err != nil {
				logger.Warn("config reload failed, keeping previous config",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)

				continue
			}

			holder.Update(cfg)
			logger.Info("config reloaded", slog.String("path", path))

			if onReload != nil {
				onReload(cfg)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}
