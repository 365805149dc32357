package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultRefetchInterval is the fallback refetch cadence when the caller
// does not specify one.
const DefaultRefetchInterval = 30 * time.Second

// Watcher couples a live table subscription with a periodic fallback
// refetch. The refetch is purely additive: records already delivered on the
// live path are deduplicated by primary key and never delivered twice.
// Stop releases the subscription and cancels the timer; no handler fires
// after Stop returns.
type Watcher struct {
	engine   *Engine
	table    string
	params   map[string]any
	mode     QueryMode
	handlers Handlers
	interval time.Duration
	logger   *slog.Logger

	mu          sync.Mutex
	seen        map[string]struct{}
	stopped     bool
	live        sync.WaitGroup // in-flight live deliveries; registered under mu
	unsubscribe func()
	cancel      context.CancelFunc
	done        chan struct{}
}

// Watch starts a Watcher for a table. predicate filters the live
// subscription; params filters the fallback refetch (the two should express
// the same constraint). interval <= 0 uses DefaultRefetchInterval.
func (e *Engine) Watch(ctx context.Context, table string, predicate Predicate, handlers Handlers, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultRefetchInterval
	}

	params := make(map[string]any, len(predicate))
	for k, v := range predicate {
		params[k] = v
	}

	ctx, cancel := context.WithCancel(ctx)

	w := &Watcher{
		engine:   e,
		table:    table,
		params:   params,
		mode:     ModeLocalFirst,
		handlers: handlers,
		interval: interval,
		logger:   e.logger,
		seen:     make(map[string]struct{}),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	// The live path marks every delivered record as seen before handing it
	// to the caller, so a concurrent refetch cannot duplicate it.
	w.unsubscribe = e.Subscribe(table, predicate, Handlers{
		OnInsert:       w.liveHandler(handlers.OnInsert),
		OnUpdate:       w.liveHandler(handlers.OnUpdate),
		OnDelete:       w.liveHandler(handlers.OnDelete),
		OnConflict:     w.liveHandler(handlers.OnConflict),
		OnSyncComplete: w.liveHandler(handlers.OnSyncComplete),
	})

	go w.refetchLoop(ctx)

	return w
}

// Stop cancels the watcher: the subscription is released and the refetch
// timer stopped. Idempotent. Blocks until the refetch loop has exited and
// every in-flight live delivery has completed, so no handler can fire once
// Stop returns. Must not be called from inside a handler.
func (w *Watcher) Stop() {
	w.mu.Lock()

	if w.stopped {
		w.mu.Unlock()
		return
	}

	w.stopped = true
	w.mu.Unlock()

	w.cancel()
	w.unsubscribe()
	w.live.Wait()
	<-w.done
}

// liveHandler wraps a caller handler so delivered records are recorded for
// refetch dedupe and nothing fires after Stop. A delivery registers in the
// live group under the same lock that Stop uses to set stopped: either it
// registers first and Stop waits for it, or it observes stopped and drops
// the event.
func (w *Watcher) liveHandler(fn func(SyncEvent)) func(SyncEvent) {
	return func(ev SyncEvent) {
		w.mu.Lock()

		if w.stopped {
			w.mu.Unlock()
			return
		}

		if id := RecordID(ev.Record); id != "" {
			w.seen[id] = struct{}{}
		}

		w.live.Add(1)
		w.mu.Unlock()

		defer w.live.Done()

		if fn != nil {
			fn(ev)
		}
	}
}

// refetchLoop periodically re-queries the table and delivers rows never seen
// on the live path as synthetic insert events.
func (w *Watcher) refetchLoop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.refetchOnce(ctx)
		}
	}
}

func (w *Watcher) refetchOnce(ctx context.Context) {
	rows, err := w.engine.Query(ctx, w.table, w.params, w.mode)
	if err != nil {
		w.logger.Warn("fallback refetch failed",
			slog.String("table", w.table),
			slog.String("error", err.Error()),
		)

		return
	}

	for _, rec := range rows {
		id := RecordID(rec)
		if id == "" {
			continue
		}

		w.mu.Lock()

		if w.stopped {
			w.mu.Unlock()
			return
		}

		if _, dup := w.seen[id]; dup {
			w.mu.Unlock()
			continue
		}

		w.seen[id] = struct{}{}
		w.mu.Unlock()

		if w.handlers.OnInsert != nil {
			w.handlers.OnInsert(SyncEvent{
				Type:      EventInsert,
				Table:     w.table,
				Record:    rec,
				Timestamp: time.Now(),
				OwnerID:   RecordOwner(rec),
				Source:    SourceLocal,
			})
		}
	}
}
