package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxRetries is the replay attempt budget for a queued operation
// unless the caller overrides it.
const DefaultMaxRetries = 3

// ReplayFunc applies one queued operation against the remote service. The
// Engine wires this to the mutation executor's non-optimistic path.
type ReplayFunc func(ctx context.Context, op OfflineOperation) error

// RetryClassifier reports whether a replay failure is transient (retryable)
// or permanent. Permanent failures skip the retry budget and move straight
// to the failed set.
type RetryClassifier func(err error) bool

// Queue is the durable offline operation queue. Pending operations replay in
// enqueue order, which guarantees FIFO per table. Every mutation of the
// queue persists the full snapshot through the injected QueueStore before
// returning, so a crash loses at most the operation in flight.
type Queue struct {
	// persistMu serializes each mutation with its snapshot write. Without
	// it two mutators could save snapshots in the opposite order of their
	// mutations, and a crash after the stale write would lose the newer
	// one. Always acquired before mu; never held by readers.
	persistMu sync.Mutex

	mu      sync.Mutex
	pending []OfflineOperation
	failed  []OfflineOperation
	errs    []string

	store      QueueStore
	replay     ReplayFunc
	retryable  RetryClassifier
	maxRetries int
	logger     *slog.Logger

	draining atomic.Bool
	lastSync atomic.Int64 // Unix nanoseconds of last completed drain

	now func() time.Time
}

// NewQueue creates a Queue backed by store, restoring any snapshot persisted
// by a previous process.
func NewQueue(ctx context.Context, store QueueStore, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}

	snap, err := store.LoadQueue(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: loading queue snapshot: %w", err)
	}

	q := &Queue{
		pending:    snap.Pending,
		failed:     snap.Failed,
		errs:       snap.Errors,
		store:      store,
		retryable:  func(error) bool { return true },
		maxRetries: DefaultMaxRetries,
		logger:     logger,
		now:        time.Now,
	}

	if len(q.pending) > 0 || len(q.failed) > 0 {
		logger.Info("restored offline queue",
			slog.Int("pending", len(q.pending)),
			slog.Int("failed", len(q.failed)),
		)
	}

	return q, nil
}

// BindReplayer installs the replay function and failure classifier used by
// Drain. Must be called before the first drain.
func (q *Queue) BindReplayer(replay ReplayFunc, retryable RetryClassifier) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.replay = replay

	if retryable != nil {
		q.retryable = retryable
	}
}

// SetMaxRetries overrides the default retry budget for newly enqueued
// operations.
func (q *Queue) SetMaxRetries(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > 0 {
		q.maxRetries = n
	}
}

// Enqueue appends a mutation to the queue and persists the snapshot. A
// persistence failure is fatal to the enqueue: the in-memory append is
// rolled back and the error returned, since losing queue durability would
// break the engine's core guarantee.
func (q *Queue) Enqueue(ctx context.Context, opType OperationType, table string, data Record, ownerID string) (string, error) {
	now := q.now()

	op := OfflineOperation{
		ID:         fmt.Sprintf("%s-%s-%d-%s", table, opType, now.UnixNano(), uuid.NewString()[:8]),
		Type:       opType,
		Table:      table,
		Data:       CloneRecord(data),
		Timestamp:  now,
		MaxRetries: q.currentMaxRetries(),
		OwnerID:    ownerID,
	}

	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	q.mu.Lock()
	q.pending = append(q.pending, op)
	snap := q.snapshotLocked()
	q.mu.Unlock()

	if err := q.store.SaveQueue(ctx, snap); err != nil {
		// Roll back by ID: the failed operation is removed, never whatever
		// happens to sit at the tail.
		q.mu.Lock()
		q.removeLocked(op.ID)
		q.mu.Unlock()

		return "", fmt.Errorf("engine: persisting queue after enqueue: %w", err)
	}

	q.logger.Info("operation queued",
		slog.String("id", op.ID),
		slog.String("table", table),
		slog.String("type", string(opType)),
	)

	return op.ID, nil
}

// Drain replays pending operations in enqueue order. It is reentrant-safe:
// a drain triggered while another is in progress is a no-op. Each
// operation's outcome is handled independently; one poisoned mutation never
// blocks the rest of the queue. Transient failures increment the
// operation's retry count and leave it queued until retries reach
// maxRetries, at which point it moves to the failed set with a
// human-readable error. Permanent failures move to the failed set
// immediately.
func (q *Queue) Drain(ctx context.Context) error {
	if !q.tryBeginDrain() {
		q.logger.Debug("drain already in progress, skipping")
		return nil
	}
	defer q.endDrain()

	return q.drain(ctx)
}

// tryBeginDrain claims the single-drain slot. Callers that claim it must
// release it with endDrain. The Engine uses the pair directly so a no-op
// drain never touches the monitor's sync state.
func (q *Queue) tryBeginDrain() bool {
	return q.draining.CompareAndSwap(false, true)
}

func (q *Queue) endDrain() {
	q.draining.Store(false)
}

// drain does the work of Drain. The caller holds the drain slot.
func (q *Queue) drain(ctx context.Context) error {
	q.mu.Lock()
	replay := q.replay
	q.mu.Unlock()

	if replay == nil {
		return fmt.Errorf("engine: drain called before BindReplayer")
	}

	// Attempt each operation pending at drain start exactly once, in
	// enqueue order. A transient failure leaves the operation in place
	// (retries incremented) and blocks later operations on the same table
	// for this pass, preserving per-table replay order. Other tables
	// continue: one poisoned mutation never stalls the whole queue.
	blocked := make(map[string]bool)

	for _, op := range q.Pending() {
		if ctx.Err() != nil {
			return fmt.Errorf("engine: drain canceled: %w", ctx.Err())
		}

		if blocked[op.Table] {
			continue
		}

		var persistErr error

		err := replay(ctx, op)
		if err == nil {
			persistErr = q.commit(ctx, op.ID)
		} else {
			var requeued bool

			requeued, persistErr = q.fail(ctx, op.ID, err)
			if requeued {
				blocked[op.Table] = true
			}
		}

		// The snapshot write is the durability guarantee; if it fails the
		// drain stops so the in-memory and persisted views stay aligned.
		if persistErr != nil {
			return persistErr
		}
	}

	q.lastSync.Store(q.now().UnixNano())
	q.logger.Info("drain complete", slog.Int("remaining", q.Stats().QueueSize))

	return nil
}

// commit removes a successfully replayed operation and persists.
func (q *Queue) commit(ctx context.Context, id string) error {
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	q.mu.Lock()
	q.removeLocked(id)
	snap := q.snapshotLocked()
	q.mu.Unlock()

	if err := q.store.SaveQueue(ctx, snap); err != nil {
		return fmt.Errorf("engine: persisting queue after replay: %w", err)
	}

	return nil
}

// fail records one failed replay attempt: increments retries, and either
// leaves the operation in place (transient, budget left) or moves it to the
// failed set (budget exhausted or permanent error). Returns whether the
// operation remains queued.
func (q *Queue) fail(ctx context.Context, id string, cause error) (requeued bool, err error) {
	permanent := !q.retryable(cause)

	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	q.mu.Lock()

	idx := q.indexLocked(id)
	if idx < 0 {
		q.mu.Unlock()
		return false, nil
	}

	q.pending[idx].Retries++
	op := q.pending[idx]

	if permanent || op.Retries >= op.MaxRetries {
		q.removeLocked(id)
		q.failed = append(q.failed, op)

		msg := fmt.Sprintf("%s on %s failed after %d retries: %v", op.Type, op.Table, op.Retries, cause)
		if permanent {
			msg = fmt.Sprintf("%s on %s failed permanently: %v", op.Type, op.Table, cause)
		}

		q.errs = append(q.errs, msg)

		q.logger.Warn("operation moved to failed set",
			slog.String("id", op.ID),
			slog.String("table", op.Table),
			slog.Bool("permanent", permanent),
			slog.Int("retries", op.Retries),
		)
	} else {
		requeued = true

		q.logger.Debug("operation kept queued after transient failure",
			slog.String("id", op.ID),
			slog.Int("retries", op.Retries),
		)
	}

	snap := q.snapshotLocked()
	q.mu.Unlock()

	if err := q.store.SaveQueue(ctx, snap); err != nil {
		return requeued, fmt.Errorf("engine: persisting queue after failed replay: %w", err)
	}

	return requeued, nil
}

// RetryFailed moves every failed operation back to the pending queue with a
// fresh retry budget and persists the snapshot.
func (q *Queue) RetryFailed(ctx context.Context) (int, error) {
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	q.mu.Lock()

	moved := len(q.failed)
	for _, op := range q.failed {
		op.Retries = 0
		q.pending = append(q.pending, op)
	}

	q.failed = nil
	q.errs = nil
	snap := q.snapshotLocked()
	q.mu.Unlock()

	if moved == 0 {
		return 0, nil
	}

	if err := q.store.SaveQueue(ctx, snap); err != nil {
		return 0, fmt.Errorf("engine: persisting queue after retry-failed: %w", err)
	}

	return moved, nil
}

// Stats returns a live snapshot of queue health. IsOnline and
// SyncInProgress are filled in by the Engine, which owns the monitor.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{
		QueueSize:         len(q.pending),
		PendingOperations: len(q.pending),
		FailedOperations:  len(q.failed),
		SyncInProgress:    q.draining.Load(),
	}

	if ns := q.lastSync.Load(); ns > 0 {
		s.LastSyncTime = time.Unix(0, ns)
	}

	return s
}

// Pending returns a copy of the pending operations in enqueue order.
func (q *Queue) Pending() []OfflineOperation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]OfflineOperation, len(q.pending))
	copy(out, q.pending)

	return out
}

// Failed returns a copy of the failed set.
func (q *Queue) Failed() []OfflineOperation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]OfflineOperation, len(q.failed))
	copy(out, q.failed)

	return out
}

// Errors returns the human-readable failure messages accumulated so far.
func (q *Queue) Errors() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]string, len(q.errs))
	copy(out, q.errs)

	return out
}

func (q *Queue) currentMaxRetries() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.maxRetries
}

func (q *Queue) snapshotLocked() QueueSnapshot {
	snap := QueueSnapshot{
		Pending: make([]OfflineOperation, len(q.pending)),
		Failed:  make([]OfflineOperation, len(q.failed)),
		Errors:  make([]string, len(q.errs)),
	}

	copy(snap.Pending, q.pending)
	copy(snap.Failed, q.failed)
	copy(snap.Errors, q.errs)

	return snap
}

func (q *Queue) indexLocked(id string) int {
	for i, op := range q.pending {
		if op.ID == id {
			return i
		}
	}

	return -1
}

func (q *Queue) removeLocked(id string) {
	idx := q.indexLocked(id)
	if idx < 0 {
		return
	}

	q.pending = append(q.pending[:idx], q.pending[idx+1:]...)
}
