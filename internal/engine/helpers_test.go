package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
)

// errPermanent marks failures the test classifier treats as non-retryable.
var errPermanent = errors.New("constraint violation")

// testRetryable is the classifier wired into test queues: everything is
// transient except errPermanent.
func testRetryable(err error) bool {
	return !errors.Is(err, errPermanent)
}

type testLogWriter struct{ t *testing.T }

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// testLogger returns an slog.Logger at Debug level that writes to t.Log,
// so engine activity appears in test output with -v.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// memStore is an in-memory Accessor used as either side of the sync pair.
// It records every Execute call and can be set to fail.
type memStore struct {
	mu      sync.Mutex
	tables  map[string]map[string]Record
	calls   []string // "op table id" in call order
	failAll error    // returned by every call when set
	failOps int      // fail this many Execute calls, then succeed
	failErr error    // error used by failOps
}

func newMemStore() *memStore {
	return &memStore{tables: make(map[string]map[string]Record)}
}

func (s *memStore) Query(_ context.Context, table string, params map[string]any) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failAll != nil {
		return nil, s.failAll
	}

	var out []Record

	for _, rec := range s.tables[table] {
		if Predicate(params).Matches(rec) {
			out = append(out, CloneRecord(rec))
		}
	}

	return out, nil
}

func (s *memStore) Execute(_ context.Context, table string, op OperationType, data Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failAll != nil {
		return nil, s.failAll
	}

	if s.failOps > 0 {
		s.failOps--

		err := s.failErr
		if err == nil {
			err = errors.New("injected failure")
		}

		return nil, err
	}

	id := RecordID(data)
	if id == "" {
		id = fmt.Sprintf("auto-%d", len(s.calls))
		data = CloneRecord(data)
		data["id"] = id
	}

	s.calls = append(s.calls, fmt.Sprintf("%s %s %s", op, table, id))

	if s.tables[table] == nil {
		s.tables[table] = make(map[string]Record)
	}

	switch op {
	case OpInsert, OpUpdate:
		s.tables[table][id] = CloneRecord(data)
	case OpDelete:
		delete(s.tables[table], id)
		// Real accessors only return the id for a delete.
		return Record{"id": id}, nil
	}

	return CloneRecord(data), nil
}

// get returns the stored record, or nil.
func (s *memStore) get(table, id string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tables[table][id]
	if !ok {
		return nil
	}

	return CloneRecord(rec)
}

func (s *memStore) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.calls))
	copy(out, s.calls)

	return out
}

// memQueueStore is an in-memory QueueStore with injectable save failure.
type memQueueStore struct {
	mu       sync.Mutex
	snap     QueueSnapshot
	saves    int
	saveErr  error
	loadErr  error
	hasState bool
}

func (s *memQueueStore) SaveQueue(_ context.Context, snap QueueSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveErr != nil {
		return s.saveErr
	}

	s.snap = snap
	s.saves++
	s.hasState = true

	return nil
}

func (s *memQueueStore) LoadQueue(_ context.Context) (QueueSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loadErr != nil {
		return QueueSnapshot{}, s.loadErr
	}

	return s.snap, nil
}

func (s *memQueueStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saves
}

// newTestQueue builds a queue on a fresh memQueueStore.
func newTestQueue(t *testing.T) (*Queue, *memQueueStore) {
	t.Helper()

	store := &memQueueStore{}

	q, err := NewQueue(context.Background(), store, testLogger(t))
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	return q, store
}
