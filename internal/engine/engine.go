package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Config holds the collaborators and policy knobs for New. Local, Remote,
// and QueueStore are required; everything else has a sensible default.
type Config struct {
	Local      Accessor
	Remote     Accessor
	QueueStore QueueStore

	// Retryable classifies replay failures as transient (retryable) or
	// permanent. Defaults to treating every failure as transient.
	Retryable RetryClassifier

	// Strategy is the conflict resolution strategy applied when a remote
	// change collides with a divergent local copy. Defaults to
	// last-write-wins.
	Strategy Strategy

	// MaxRetries is the replay budget per queued operation. Defaults to
	// DefaultMaxRetries.
	MaxRetries int

	// DefaultMode routes Query calls that pass an empty mode. Defaults to
	// ModeHybrid.
	DefaultMode QueryMode

	Logger *slog.Logger
}

// Engine wires the monitor, registry, queue, resolver, hybrid query
// executor, and mutation executor into the consumer-facing API: Query for
// reads, Execute for writes, Subscribe for change notifications, plus sync
// health introspection.
type Engine struct {
	monitor  *Monitor
	registry *Registry
	queue    *Queue
	hybrid   *HybridQuery
	exec     *Executor
	local    Accessor
	strategy Strategy
	logger   *slog.Logger

	modeMu      sync.RWMutex
	defaultMode QueryMode
}

// New creates a fully wired Engine. The queue snapshot is restored from
// cfg.QueueStore, and the monitor's reconnect hook is bound to a queue
// drain, so going online automatically replays offline work.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Local == nil || cfg.Remote == nil || cfg.QueueStore == nil {
		return nil, fmt.Errorf("engine: Local, Remote, and QueueStore are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	strategy := cfg.Strategy
	if strategy == "" {
		strategy = StrategyLastWriteWins
	}

	defaultMode := cfg.DefaultMode
	if defaultMode == "" {
		defaultMode = ModeHybrid
	}

	monitor := NewMonitor(logger)
	registry := NewRegistry(logger)

	queue, err := NewQueue(ctx, cfg.QueueStore, logger)
	if err != nil {
		return nil, err
	}

	if cfg.MaxRetries > 0 {
		queue.SetMaxRetries(cfg.MaxRetries)
	}

	exec := NewExecutor(cfg.Local, cfg.Remote, queue, monitor, registry, logger)
	queue.BindReplayer(exec.Replay, cfg.Retryable)

	e := &Engine{
		monitor:     monitor,
		registry:    registry,
		queue:       queue,
		hybrid:      NewHybridQuery(cfg.Local, cfg.Remote, registry, logger),
		exec:        exec,
		local:       cfg.Local,
		strategy:    strategy,
		defaultMode: defaultMode,
		logger:      logger,
	}

	// Reconnect synchronously kicks off a drain. Drain is reentrant-safe,
	// so a simultaneous manual sync is harmless.
	monitor.SetReconnectHook(func() {
		if drainErr := e.Drain(context.Background()); drainErr != nil {
			logger.Error("reconnect drain failed", slog.String("error", drainErr.Error()))
		}
	})

	return e, nil
}

// Monitor exposes the connection monitor for state readers and the
// connectivity signal boundary.
func (e *Engine) Monitor() *Monitor { return e.monitor }

// Queue exposes the offline operation queue for introspection.
func (e *Engine) Queue() *Queue { return e.queue }

// Query executes a read through the hybrid query executor. An empty mode
// uses the engine's configured default.
func (e *Engine) Query(ctx context.Context, table string, params map[string]any, mode QueryMode) ([]Record, error) {
	if mode == "" {
		mode = e.DefaultMode()
	}

	return e.hybrid.Query(ctx, table, params, mode)
}

// DefaultMode returns the mode applied to Query calls that pass none.
func (e *Engine) DefaultMode() QueryMode {
	e.modeMu.RLock()
	defer e.modeMu.RUnlock()

	return e.defaultMode
}

// SetDefaultMode changes the default query mode. Used by config live reload.
func (e *Engine) SetDefaultMode(mode QueryMode) {
	switch mode {
	case ModeLocalFirst, ModeServerFirst, ModeHybrid:
	default:
		return
	}

	e.modeMu.Lock()
	defer e.modeMu.Unlock()

	e.defaultMode = mode
}

// Execute applies a mutation through the realtime mutation executor.
func (e *Engine) Execute(ctx context.Context, table string, op OperationType, data Record, optimistic bool) (*ExecResult, error) {
	return e.exec.Execute(ctx, table, op, data, optimistic)
}

// Subscribe registers table change handlers filtered by predicate and
// returns an idempotent unsubscribe function.
func (e *Engine) Subscribe(table string, predicate Predicate, handlers Handlers) func() {
	_, unsubscribe := e.registry.Subscribe(table, predicate, handlers)
	return unsubscribe
}

// Drain replays the offline queue, tracking sync state on the monitor for
// the duration. Safe to call concurrently with the reconnect hook: a call
// that loses the drain slot returns immediately without touching the
// monitor, so the in-flight drain keeps reporting its own state.
func (e *Engine) Drain(ctx context.Context) error {
	if !e.queue.tryBeginDrain() {
		return nil
	}
	defer e.queue.endDrain()

	e.monitor.SetSyncState(SyncSyncing)

	err := e.queue.drain(ctx)

	switch {
	case err != nil:
		e.monitor.SetSyncState(SyncError)
	case e.queue.Stats().FailedOperations > 0:
		e.monitor.SetSyncState(SyncError)
	default:
		e.monitor.SetSyncState(SyncIdle)
	}

	return err
}

// HandleRemoteChange ingests one change notification from the remote feed:
// it detects and resolves conflicts against the local copy, mirrors the
// settled record into the local store, and publishes the event.
func (e *Engine) HandleRemoteChange(ctx context.Context, table string, op OperationType, data Record) error {
	if op == OpDelete {
		if _, err := e.local.Execute(ctx, table, OpDelete, data); err != nil {
			return fmt.Errorf("engine: applying remote delete on %s: %w", table, err)
		}

		e.registry.Publish(SyncEvent{
			Type:    EventDelete,
			Table:   table,
			Record:  data,
			OwnerID: RecordOwner(data),
			Source:  SourceRemote,
		})

		return nil
	}

	settled, conflict, err := e.reconcileRemote(ctx, table, data)
	if err != nil {
		return err
	}

	storeOp := op
	if conflict != nil {
		storeOp = OpUpdate
	}

	if _, err := e.local.Execute(ctx, table, storeOp, settled); err != nil {
		return fmt.Errorf("engine: applying remote %s on %s: %w", op, table, err)
	}

	if conflict != nil {
		e.registry.Publish(SyncEvent{
			Type:     EventConflict,
			Table:    table,
			Record:   settled,
			Conflict: conflict,
			OwnerID:  RecordOwner(settled),
			Source:   SourceRemote,
		})

		return nil
	}

	e.registry.Publish(SyncEvent{
		Type:    EventType(op),
		Table:   table,
		Record:  settled,
		OwnerID: RecordOwner(settled),
		Source:  SourceRemote,
	})

	return nil
}

// reconcileRemote checks an incoming remote record against the local copy.
// A divergent local copy produces a ConflictResolution via the configured
// strategy; the resolved record is what gets stored and broadcast.
func (e *Engine) reconcileRemote(ctx context.Context, table string, remote Record) (Record, *ConflictDetail, error) {
	id := RecordID(remote)
	if id == "" {
		return remote, nil, nil
	}

	rows, err := e.local.Query(ctx, table, map[string]any{"id": id})
	if err != nil {
		return nil, nil, fmt.Errorf("engine: reading local copy for conflict check on %s: %w", table, err)
	}

	if len(rows) == 0 || recordsEqual(rows[0], remote) {
		return remote, nil, nil
	}

	local := rows[0]

	resolution, err := Resolve(table, local, remote, e.strategy)
	if err != nil {
		return nil, nil, err
	}

	e.logger.Info("conflict resolved",
		slog.String("table", table),
		slog.String("id", id),
		slog.String("strategy", string(resolution.Strategy)),
		slog.String("winner", string(resolution.Winner)),
	)

	detail := &ConflictDetail{
		Local:    local,
		Remote:   remote,
		Resolved: resolution.Resolved,
		Strategy: resolution.Strategy,
	}

	return resolution.Resolved, detail, nil
}

// recordsEqual reports whether two records carry identical fields.
func recordsEqual(a, b Record) bool {
	if len(a) != len(b) {
		return false
	}

	for k, av := range a {
		bv, ok := b[k]
		if !ok || !valuesEqual(av, bv) {
			return false
		}
	}

	return true
}

// Stats returns the live sync health snapshot, including connectivity.
func (e *Engine) Stats() Stats {
	s := e.queue.Stats()
	s.IsOnline = e.monitor.Online()

	return s
}

// SyncErrors returns the human-readable failure messages from the queue.
func (e *Engine) SyncErrors() []string {
	return e.queue.Errors()
}

// RecentEvents returns the rolling diagnostic buffer of SyncEvents.
func (e *Engine) RecentEvents() []SyncEvent {
	return e.registry.RecentEvents()
}
