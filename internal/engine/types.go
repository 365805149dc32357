// Package engine implements the offline-first synchronization engine: a
// connection monitor, hybrid local/remote query execution, a subscription
// registry, a durable offline operation queue with bounded retries, a
// deterministic conflict resolver, and the realtime mutation executor that
// every insert/update/delete passes through.
package engine

import (
	"context"
	"time"
)

// ConnectionState describes the transport-level connection to the remote
// service. Owned by the Monitor; everything else is a reader.
type ConnectionState string

// Connection states, in transition order.
const (
	ConnDisconnected ConnectionState = "disconnected"
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
	ConnError        ConnectionState = "error"
)

// SyncState describes what the engine is currently doing with its queue.
type SyncState string

// Sync states.
const (
	SyncIdle    SyncState = "idle"
	SyncSyncing SyncState = "syncing"
	SyncError   SyncState = "error"
)

// Record is a single logical row: a flat field→value map as decoded from
// JSON. Records are passed by reference; code that needs to retain or modify
// one must clone it first (see CloneRecord).
type Record map[string]any

// OperationType is the kind of mutation applied to a table.
type OperationType string

// Mutation types.
const (
	OpInsert OperationType = "insert"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// EventType is the kind of SyncEvent delivered to subscribers.
type EventType string

// Event types. The first three mirror OperationType; conflict and
// sync_complete are engine-generated.
const (
	EventInsert       EventType = "insert"
	EventUpdate       EventType = "update"
	EventDelete       EventType = "delete"
	EventConflict     EventType = "conflict"
	EventSyncComplete EventType = "sync_complete"
)

// EventSource identifies which path produced a SyncEvent: a direct local
// mutation, a remote change notification, or a queue replay.
type EventSource string

// Event sources.
const (
	SourceLocal  EventSource = "local"
	SourceRemote EventSource = "remote"
	SourceSync   EventSource = "sync"
)

// SyncEvent is the single normalized notification shape for all table
// changes, conflicts, and query completions. Ephemeral: events live only in
// the registry's rolling diagnostic buffer.
type SyncEvent struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Table     string          `json:"table"`
	Record    Record          `json:"record,omitempty"`
	Conflict  *ConflictDetail `json:"conflict,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	OwnerID   string          `json:"ownerId,omitempty"`
	Source    EventSource     `json:"source"`
}

// ConflictDetail carries both sides of a resolved conflict on a conflict
// event.
type ConflictDetail struct {
	Local    Record   `json:"local"`
	Remote   Record   `json:"remote"`
	Resolved Record   `json:"resolved"`
	Strategy Strategy `json:"strategy"`
}

// OfflineOperation is a mutation captured while the remote service was
// unreachable. Owned exclusively by the Queue from enqueue until it is
// removed after a confirmed replay or moved to the failed set.
type OfflineOperation struct {
	ID         string        `json:"id"`
	Type       OperationType `json:"type"`
	Table      string        `json:"table"`
	Data       Record        `json:"data"`
	Timestamp  time.Time     `json:"timestamp"`
	Retries    int           `json:"retries"`
	MaxRetries int           `json:"maxRetries"`
	OwnerID    string        `json:"ownerId,omitempty"`
}

// Strategy selects a conflict resolution algorithm.
type Strategy string

// Conflict resolution strategies.
const (
	StrategyLastWriteWins Strategy = "last-write-wins"
	StrategyUserPriority  Strategy = "user-priority"
	StrategyFieldMerge    Strategy = "field-merge"
)

// Winner identifies which side a ConflictResolution chose.
type Winner string

// Resolution winners.
const (
	WinnerLocal  Winner = "local"
	WinnerRemote Winner = "remote"
	WinnerMerged Winner = "merged"
)

// ConflictResolution is the immutable outcome of resolving one conflict.
// Re-running Resolve on identical inputs yields an identical resolution.
type ConflictResolution struct {
	Resolved Record            `json:"resolved"`
	Strategy Strategy          `json:"strategy"`
	Winner   Winner            `json:"winner"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// Field-merge reporting: field names that differed between the two
	// sides versus field names merged without conflict. Both sorted.
	ConflictFields []string `json:"conflictFields,omitempty"`
	MergedFields   []string `json:"mergedFields,omitempty"`
}

// QueryMode selects which accessors the hybrid query executor consults.
type QueryMode string

// Query modes.
const (
	ModeLocalFirst  QueryMode = "local-first"
	ModeServerFirst QueryMode = "server-first"
	ModeHybrid      QueryMode = "hybrid"
)

// Stats is a point-in-time snapshot of queue and sync health. Computed on
// demand, never cached.
type Stats struct {
	QueueSize         int       `json:"queueSize"`
	PendingOperations int       `json:"pendingOperations"`
	FailedOperations  int       `json:"failedOperations"`
	LastSyncTime      time.Time `json:"lastSyncTime"`
	IsOnline          bool      `json:"isOnline"`
	SyncInProgress    bool      `json:"syncInProgress"`
}

// Accessor executes logical reads and writes against one side of the sync
// pair. The local store and the remote service both satisfy it, so the
// hybrid query executor and the mutation executor are indifferent to which
// side they are talking to.
type Accessor interface {
	// Query returns the rows of table matching the equality filters in
	// params. A nil or empty params map returns every row.
	Query(ctx context.Context, table string, params map[string]any) ([]Record, error)

	// Execute applies a single mutation and returns the resulting record
	// (the stored row for inserts/updates, the removed row's key for
	// deletes).
	Execute(ctx context.Context, table string, op OperationType, data Record) (Record, error)
}

// QueueStore is the durable persistence boundary for the offline queue. The
// full snapshot is written on every queue mutation so the in-memory and
// persisted views never diverge by more than the operation in flight.
type QueueStore interface {
	SaveQueue(ctx context.Context, snap QueueSnapshot) error
	LoadQueue(ctx context.Context) (QueueSnapshot, error)
}

// QueueSnapshot is the serialized form of the offline queue: pending
// operations in enqueue order, the failed set, and the surfaced error list.
type QueueSnapshot struct {
	Pending []OfflineOperation `json:"pending"`
	Failed  []OfflineOperation `json:"failed"`
	Errors  []string           `json:"errors"`
}

// CloneRecord returns a shallow copy of rec. Values are shared; this is
// sufficient for the flat scalar records the engine deals in.
func CloneRecord(rec Record) Record {
	if rec == nil {
		return nil
	}

	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}

	return out
}

// RecordID extracts the primary key of a record, or "" if absent.
func RecordID(rec Record) string {
	id, _ := rec["id"].(string)
	return id
}

// RecordOwner extracts the ownerId field of a record, or "" if absent.
func RecordOwner(rec Record) string {
	owner, _ := rec["ownerId"].(string)
	return owner
}
