package engine

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestWatcher_LiveEventsMarkRecordsSeen(t *testing.T) {
	t.Parallel()

	e, _, _, _ := newTestEngine(t)
	e.Monitor().SetConnectionState(ConnConnected)
	ctx := context.Background()

	var (
		mu  sync.Mutex
		ids []string
	)

	w := e.Watch(ctx, "tasks", nil, Handlers{
		OnInsert: func(ev SyncEvent) {
			mu.Lock()
			ids = append(ids, RecordID(ev.Record))
			mu.Unlock()
		},
	}, 10*time.Millisecond)
	defer w.Stop()

	if _, err := e.Execute(ctx, "tasks", OpInsert, Record{"id": "live-1"}, true); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// The record is now in the local store, so the fallback refetch sees it
	// too. Give the ticker several cycles to prove dedupe holds.
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if len(ids) != 1 || ids[0] != "live-1" {
		t.Errorf("deliveries = %v, want exactly one live-1 (no refetch duplicate)", ids)
	}
}

func TestWatcher_RefetchDeliversRecordsMissedByLivePath(t *testing.T) {
	t.Parallel()

	e, local, _, _ := newTestEngine(t)
	ctx := context.Background()

	var (
		mu  sync.Mutex
		ids []string
	)

	w := e.Watch(ctx, "tasks", nil, Handlers{
		OnInsert: func(ev SyncEvent) {
			mu.Lock()
			ids = append(ids, RecordID(ev.Record))
			mu.Unlock()
		},
	}, 10*time.Millisecond)
	defer w.Stop()

	// Write behind the engine's back: no live event fires.
	seedStore(t, local, "tasks", Record{"id": "quiet-1"})

	deadline := time.After(2 * time.Second)

	for {
		mu.Lock()
		n := len(ids)
		mu.Unlock()

		if n > 0 {
			break
		}

		select {
		case <-deadline:
			t.Fatal("fallback refetch never delivered the missed record")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Further ticks must not deliver it again.
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if len(ids) != 1 || ids[0] != "quiet-1" {
		t.Errorf("deliveries = %v, want exactly one quiet-1", ids)
	}
}

func TestWatcher_StopIsFinalAndIdempotent(t *testing.T) {
	t.Parallel()

	e, local, _, _ := newTestEngine(t)
	ctx := context.Background()

	var (
		mu    sync.Mutex
		fired int
	)

	w := e.Watch(ctx, "tasks", nil, Handlers{
		OnInsert: func(SyncEvent) {
			mu.Lock()
			fired++
			mu.Unlock()
		},
	}, 10*time.Millisecond)

	w.Stop()
	w.Stop() // idempotent

	// Neither the live path nor the refetch path may fire after Stop.
	seedStore(t, local, "tasks", Record{"id": "after-stop"})

	if _, err := e.Execute(ctx, "tasks", OpInsert, Record{"id": "after-stop-2"}, true); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if fired != 0 {
		t.Errorf("handlers fired %d times after Stop, want 0", fired)
	}
}

// Stop must not return while a live delivery is still running, and no
// handler may start after it has returned.
func TestWatcher_StopWaitsForInFlightDelivery(t *testing.T) {
	t.Parallel()

	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})

	w := e.Watch(ctx, "tasks", nil, Handlers{
		OnInsert: func(SyncEvent) {
			close(entered)
			<-release
		},
	}, time.Hour)

	go func() {
		_, _ = e.Execute(ctx, "tasks", OpInsert, Record{"id": "1"}, true)
	}()

	<-entered

	stopped := make(chan struct{})

	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a delivery was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the delivery finished")
	}
}
