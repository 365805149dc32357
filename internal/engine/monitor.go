package engine

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// StateListener receives connection/sync state change notifications.
type StateListener func(conn ConnectionState, sync SyncState)

// Monitor is the single owner of the process-wide connection and sync state.
// All other components read state through it or subscribe for change
// notifications; none of them mutate state directly.
//
// On the disconnected→connected transition the monitor synchronously invokes
// its reconnect hook (wired to the offline queue drain by the Engine) before
// notifying listeners, so the queue starts draining before any consumer
// reacts to the new state.
type Monitor struct {
	mu        sync.Mutex
	conn      ConnectionState
	syncState SyncState
	listeners map[string]StateListener
	reconnect func()
	logger    *slog.Logger
}

// NewMonitor creates a Monitor starting in the disconnected/idle state.
func NewMonitor(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		conn:      ConnDisconnected,
		syncState: SyncIdle,
		listeners: make(map[string]StateListener),
		logger:    logger,
	}
}

// States returns the current connection and sync state.
func (m *Monitor) States() (ConnectionState, SyncState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.conn, m.syncState
}

// Online reports whether the remote service is currently reachable.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.conn == ConnConnected
}

// Subscribe registers a listener for state changes and returns an
// unsubscribe function. Unsubscribing is idempotent.
func (m *Monitor) Subscribe(fn StateListener) func() {
	id := uuid.NewString()

	m.mu.Lock()
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// SetReconnectHook installs the function invoked synchronously when the
// connection transitions from a non-connected state to connected. The Engine
// wires this to the queue drain.
func (m *Monitor) SetReconnectHook(fn func()) {
	m.mu.Lock()
	m.reconnect = fn
	m.mu.Unlock()
}

// SetConnectionState transitions the connection state and notifies
// listeners. A transition into connected fires the reconnect hook first.
func (m *Monitor) SetConnectionState(next ConnectionState) {
	m.mu.Lock()

	prev := m.conn
	if prev == next {
		m.mu.Unlock()
		return
	}

	m.conn = next
	hook := m.reconnect
	syncState := m.syncState
	listeners := m.snapshotListenersLocked()
	m.mu.Unlock()

	m.logger.Info("connection state changed",
		slog.String("from", string(prev)),
		slog.String("to", string(next)),
	)

	if next == ConnConnected && prev != ConnConnected && hook != nil {
		hook()
	}

	for _, fn := range listeners {
		fn(next, syncState)
	}
}

// SetSyncState transitions the sync state and notifies listeners.
func (m *Monitor) SetSyncState(next SyncState) {
	m.mu.Lock()

	if m.syncState == next {
		m.mu.Unlock()
		return
	}

	m.syncState = next
	conn := m.conn
	listeners := m.snapshotListenersLocked()
	m.mu.Unlock()

	m.logger.Debug("sync state changed", slog.String("to", string(next)))

	for _, fn := range listeners {
		fn(conn, next)
	}
}

// snapshotListenersLocked returns listeners in deterministic (sorted-key)
// order. Caller must hold m.mu.
func (m *Monitor) snapshotListenersLocked() []StateListener {
	ids := make([]string, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	out := make([]StateListener, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.listeners[id])
	}

	return out
}
