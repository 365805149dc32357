package engine

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// eventBufferSize caps the rolling diagnostic buffer of recent SyncEvents.
const eventBufferSize = 100

// Predicate is a conjunction of equality filters evaluated against a record
// before a handler fires. String comparisons are NFC-normalized so records
// written from different platforms compare equal. An empty predicate matches
// every record.
type Predicate map[string]any

// Matches reports whether every filter in the predicate holds for rec.
// A filter on a field the record lacks does not match.
func (p Predicate) Matches(rec Record) bool {
	for field, want := range p {
		got, ok := rec[field]
		if !ok {
			return false
		}

		if !valuesEqual(got, want) {
			return false
		}
	}

	return true
}

// valuesEqual compares two record values, NFC-normalizing strings and
// widening numeric types (JSON decodes all numbers as float64).
func valuesEqual(a, b any) bool {
	as, aok := a.(string)
	bs, bok := b.(string)

	if aok && bok {
		return norm.NFC.String(as) == norm.NFC.String(bs)
	}

	af, aok := toFloat(a)
	bf, bok := toFloat(b)

	if aok && bok {
		return af == bf
	}

	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Handlers is the callback set for one subscription. Nil handlers are
// skipped. OnConflict and OnSyncComplete are optional extensions beyond the
// insert/update/delete trio.
type Handlers struct {
	OnInsert       func(SyncEvent)
	OnUpdate       func(SyncEvent)
	OnDelete       func(SyncEvent)
	OnConflict     func(SyncEvent)
	OnSyncComplete func(SyncEvent)
}

// subscription is one registered listener: an explicit (table, id) entry in
// the dispatch table rather than an ad hoc closure.
type subscription struct {
	id        string
	table     string
	predicate Predicate
	handlers  Handlers
}

// Registry fans table change notifications out to subscribed listeners.
// Dispatch iterates subscriptions in sorted-ID order so delivery is
// deterministic. Events are delivered synchronously in the task that
// published them.
type Registry struct {
	mu     sync.Mutex
	tables map[string]map[string]*subscription // table → subscription ID → sub
	buffer []SyncEvent
	logger *slog.Logger
}

// NewRegistry creates an empty subscription registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		tables: make(map[string]map[string]*subscription),
		logger: logger,
	}
}

// Subscribe registers handlers for a table, filtered by predicate, and
// returns the subscription ID plus an unsubscribe function. Unsubscribing is
// idempotent and safe after the registry has been cleared.
func (r *Registry) Subscribe(table string, predicate Predicate, handlers Handlers) (string, func()) {
	sub := &subscription{
		id:        uuid.NewString(),
		table:     table,
		predicate: predicate,
		handlers:  handlers,
	}

	r.mu.Lock()

	if r.tables[table] == nil {
		r.tables[table] = make(map[string]*subscription)
	}

	r.tables[table][sub.id] = sub
	r.mu.Unlock()

	r.logger.Debug("subscription registered",
		slog.String("table", table),
		slog.String("id", sub.id),
	)

	return sub.id, func() { r.unsubscribe(table, sub.id) }
}

func (r *Registry) unsubscribe(table, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.tables[table]
	if !ok {
		return
	}

	delete(subs, id)

	if len(subs) == 0 {
		delete(r.tables, table)
	}
}

// SubscriberCount returns the number of live subscriptions for a table.
func (r *Registry) SubscriberCount(table string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.tables[table])
}

// Publish delivers an event to every matching subscription for its table,
// synchronously, in deterministic order. Record-carrying events are filtered
// by each subscription's predicate; record-less events (sync_complete) reach
// every subscriber of the table.
func (r *Registry) Publish(ev SyncEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	r.mu.Lock()
	r.appendBufferLocked(ev)
	subs := r.snapshotSubsLocked(ev.Table)
	r.mu.Unlock()

	for _, sub := range subs {
		if ev.Record != nil && !sub.predicate.Matches(ev.Record) {
			continue
		}

		if h := handlerFor(sub.handlers, ev.Type); h != nil {
			h(ev)
		}
	}
}

// RecentEvents returns a copy of the rolling diagnostic buffer, oldest
// first.
func (r *Registry) RecentEvents() []SyncEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]SyncEvent, len(r.buffer))
	copy(out, r.buffer)

	return out
}

func (r *Registry) appendBufferLocked(ev SyncEvent) {
	r.buffer = append(r.buffer, ev)
	if len(r.buffer) > eventBufferSize {
		r.buffer = r.buffer[len(r.buffer)-eventBufferSize:]
	}
}

// snapshotSubsLocked returns the table's subscriptions sorted by ID.
// Caller must hold r.mu.
func (r *Registry) snapshotSubsLocked(table string) []*subscription {
	subs := r.tables[table]
	if len(subs) == 0 {
		return nil
	}

	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	out := make([]*subscription, 0, len(ids))
	for _, id := range ids {
		out = append(out, subs[id])
	}

	return out
}

// handlerFor maps an event type to the corresponding handler, or nil.
func handlerFor(h Handlers, t EventType) func(SyncEvent) {
	switch t {
	case EventInsert:
		return h.OnInsert
	case EventUpdate:
		return h.OnUpdate
	case EventDelete:
		return h.OnDelete
	case EventConflict:
		return h.OnConflict
	case EventSyncComplete:
		return h.OnSyncComplete
	default:
		return nil
	}
}
