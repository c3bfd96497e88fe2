package eventlog_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"uibridge/pkg/eventlog"
	"uibridge/pkg/protocol"

	_ "modernc.org/sqlite"
)

func TestOpen_CreatesDirectoryAndSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "events.db")

	store, err := eventlog.Open(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.Record(context.Background(), eventlog.Event{Type: protocol.EventWorkerStarted, Source: "test", PID: 7}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
}

func TestNewStore_DoesNotCloseCallerDB(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(1)

	store, err := eventlog.NewStore(context.Background(), db)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := store.Record(context.Background(), eventlog.Event{Type: "x", Source: "test"}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("caller db was closed: %v", err)
	}
}

func TestStore_ConcurrentRecord(t *testing.T) {
	store, err := eventlog.Open(context.Background(), filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.Record(context.Background(), eventlog.Event{Type: protocol.EventCallFailed, Source: "test"})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent Record failed: %v", err)
		}
	}
}

func TestMemory_RecordAndCount(t *testing.T) {
	var m eventlog.Memory
	ctx := context.Background()
	_ = m.Record(ctx, eventlog.Event{Type: protocol.EventWorkerStarted})
	_ = m.Record(ctx, eventlog.Event{Type: protocol.EventWorkerRestarted})
	_ = m.Record(ctx, eventlog.Event{Type: protocol.EventWorkerStarted})

	if got := m.Count(protocol.EventWorkerStarted); got != 2 {
		t.Errorf("expected 2 starts, got %d", got)
	}
	events := m.Events()
	if len(events) != 3 || events[0].ID != 1 || events[2].ID != 3 {
		t.Fatalf("unexpected events: %+v", events)
	}
	if events[0].CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be stamped")
	}
}

func TestPayload(t *testing.T) {
	if got := eventlog.Payload(nil); got != "" {
		t.Errorf("expected empty payload, got %q", got)
	}

	got := eventlog.Payload(map[string]any{"exit_code": 3, "reason": "hang"})
	var back map[string]any
	if err := json.Unmarshal([]byte(got), &back); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if back["reason"] != "hang" {
		t.Errorf("unexpected payload: %s", got)
	}

	bad := eventlog.Payload(map[string]any{"ch": make(chan int)})
	if bad == "" {
		t.Error("expected error payload for unmarshalable value")
	}
}
