package engine

import (
	"context"
	"fmt"
	"log/slog"
)

// ExecResult reports what happened to a mutation: the resulting record, and
// whether it was applied remotely or merely accepted into the offline queue.
type ExecResult struct {
	Record Record
	// Queued is true when the mutation was captured offline. The caller has
	// been told "accepted for sync", not "synced".
	Queued bool
	// OperationID identifies the queued operation when Queued is true.
	OperationID string
}

// Executor is the single choke point for every insert/update/delete. Online,
// it applies the optimistic local effect, attempts the remote effect, and
// rolls the local view back to its retained pre-image if the remote side
// fails. Offline, it applies locally and enqueues for later replay without
// touching the network.
type Executor struct {
	local    Accessor
	remote   Accessor
	queue    *Queue
	monitor  *Monitor
	registry *Registry
	logger   *slog.Logger
}

// NewExecutor creates an Executor with the given collaborators.
func NewExecutor(local, remote Accessor, queue *Queue, monitor *Monitor, registry *Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		local:    local,
		remote:   remote,
		queue:    queue,
		monitor:  monitor,
		registry: registry,
		logger:   logger,
	}
}

// Execute applies one mutation. When the monitor reports offline, the remote
// call is never attempted: the change is applied locally (when optimistic)
// and enqueued, and the returned result carries Queued=true.
func (e *Executor) Execute(ctx context.Context, table string, op OperationType, data Record, optimistic bool) (*ExecResult, error) {
	if !e.monitor.Online() {
		return e.executeOffline(ctx, table, op, data, optimistic)
	}

	if optimistic {
		return e.executeOptimistic(ctx, table, op, data)
	}

	return e.executeRemoteFirst(ctx, table, op, data, SourceLocal)
}

// executeOffline applies the local effect and queues the remote one.
func (e *Executor) executeOffline(ctx context.Context, table string, op OperationType, data Record, optimistic bool) (*ExecResult, error) {
	preImage := e.deletePreImage(ctx, table, op, data)

	var localRec Record

	if optimistic {
		rec, err := e.local.Execute(ctx, table, op, data)
		if err != nil {
			return nil, fmt.Errorf("engine: offline local %s on %s: %w", op, table, err)
		}

		localRec = rec
	}

	opID, err := e.queue.Enqueue(ctx, op, table, data, RecordOwner(data))
	if err != nil {
		return nil, err
	}

	e.publishMutation(op, table, localRec, preImage, data, SourceLocal)

	e.logger.Info("mutation accepted for sync",
		slog.String("table", table),
		slog.String("type", string(op)),
		slog.String("operation_id", opID),
	)

	return &ExecResult{Record: localRec, Queued: true, OperationID: opID}, nil
}

// executeOptimistic applies the change locally first for low-latency
// feedback, retaining the pre-mutation image, then attempts the remote
// effect. On remote failure the local view is rolled back to the pre-image
// by an explicit compensating action and the failure is surfaced.
func (e *Executor) executeOptimistic(ctx context.Context, table string, op OperationType, data Record) (*ExecResult, error) {
	preImage, err := e.capturePreImage(ctx, table, op, data)
	if err != nil {
		return nil, err
	}

	localRec, err := e.local.Execute(ctx, table, op, data)
	if err != nil {
		return nil, fmt.Errorf("engine: optimistic local %s on %s: %w", op, table, err)
	}

	remoteRec, err := e.remote.Execute(ctx, table, op, data)
	if err != nil {
		if rbErr := e.rollback(ctx, table, op, data, preImage); rbErr != nil {
			e.logger.Error("optimistic rollback failed",
				slog.String("table", table),
				slog.String("error", rbErr.Error()),
			)

			return nil, fmt.Errorf("engine: remote %s on %s failed (%w); rollback also failed: %v", op, table, err, rbErr)
		}

		return nil, fmt.Errorf("engine: remote %s on %s (local change rolled back): %w", op, table, err)
	}

	rec := remoteRec
	if rec == nil {
		rec = localRec
	}

	e.publishMutation(op, table, rec, preImage, data, SourceLocal)

	return &ExecResult{Record: rec}, nil
}

// executeRemoteFirst performs the remote effect and mirrors it locally only
// after the remote side confirms. This is the non-optimistic path used
// directly and by queue replay.
func (e *Executor) executeRemoteFirst(ctx context.Context, table string, op OperationType, data Record, source EventSource) (*ExecResult, error) {
	remoteRec, err := e.remote.Execute(ctx, table, op, data)
	if err != nil {
		return nil, fmt.Errorf("engine: remote %s on %s: %w", op, table, err)
	}

	// The pre-image must be read before the local mirror erases it.
	preImage := e.deletePreImage(ctx, table, op, data)

	localRec, err := e.local.Execute(ctx, table, op, data)
	if err != nil {
		// Remote already committed; the local mirror will catch up on the
		// next remote change notification. Surface the error regardless.
		return nil, fmt.Errorf("engine: mirroring remote %s on %s locally: %w", op, table, err)
	}

	rec := remoteRec
	if rec == nil {
		rec = localRec
	}

	e.publishMutation(op, table, rec, preImage, data, source)

	return &ExecResult{Record: rec}, nil
}

// Replay applies one queued offline operation through the non-optimistic
// path, emitting its event with source=sync. Wired into Queue.Drain.
func (e *Executor) Replay(ctx context.Context, op OfflineOperation) error {
	_, err := e.executeRemoteFirst(ctx, op.Table, op.Type, op.Data, SourceSync)
	return err
}

// capturePreImage snapshots the record a mutation is about to replace so a
// failed remote attempt can be compensated exactly, rather than re-queried.
// Inserts have no pre-image.
func (e *Executor) capturePreImage(ctx context.Context, table string, op OperationType, data Record) (Record, error) {
	if op == OpInsert {
		return nil, nil
	}

	id := RecordID(data)
	if id == "" {
		return nil, fmt.Errorf("engine: %s on %s requires an id field", op, table)
	}

	rows, err := e.local.Query(ctx, table, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("engine: capturing pre-image for %s on %s: %w", op, table, err)
	}

	if len(rows) == 0 {
		return nil, nil
	}

	return CloneRecord(rows[0]), nil
}

// rollback undoes an optimistic local mutation using the retained pre-image.
func (e *Executor) rollback(ctx context.Context, table string, op OperationType, data, preImage Record) error {
	switch op {
	case OpInsert:
		_, err := e.local.Execute(ctx, table, OpDelete, data)
		return err
	case OpUpdate:
		if preImage == nil {
			// The row did not exist before the optimistic upsert.
			_, err := e.local.Execute(ctx, table, OpDelete, data)
			return err
		}

		_, err := e.local.Execute(ctx, table, OpUpdate, preImage)

		return err
	case OpDelete:
		if preImage == nil {
			return nil
		}

		_, err := e.local.Execute(ctx, table, OpInsert, preImage)

		return err
	default:
		return fmt.Errorf("engine: rollback: unknown operation %q", op)
	}
}

// deletePreImage fetches the local copy a delete is about to remove, for
// event enrichment only. Best-effort: a lookup failure degrades the event,
// not the mutation.
func (e *Executor) deletePreImage(ctx context.Context, table string, op OperationType, data Record) Record {
	if op != OpDelete {
		return nil
	}

	pre, err := e.capturePreImage(ctx, table, op, data)
	if err != nil {
		e.logger.Warn("pre-image lookup for delete event failed",
			slog.String("table", table),
			slog.String("error", err.Error()),
		)

		return nil
	}

	return pre
}

// publishMutation emits the SyncEvent for a completed (or locally accepted)
// mutation. Delete events carry the full pre-delete image: accessors only
// return the id for a delete, and subscribers filtering on other fields
// (ownerId in particular) must still see deletes of their records.
func (e *Executor) publishMutation(op OperationType, table string, rec, pre, data Record, source EventSource) {
	if op == OpDelete {
		merged := CloneRecord(pre)
		if merged == nil {
			merged = CloneRecord(data)
		}

		for k, v := range rec {
			merged[k] = v
		}

		rec = merged
	}

	if rec == nil {
		rec = data
	}

	e.registry.Publish(SyncEvent{
		Type:    EventType(op),
		Table:   table,
		Record:  rec,
		OwnerID: RecordOwner(rec),
		Source:  source,
	})
}
