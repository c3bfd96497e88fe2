// Package eventlog records worker lifecycle and request events in SQLite and
// reads them back for the CLI and the dashboard.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"uibridge/pkg/protocol"

	_ "modernc.org/sqlite" // SQLite driver
)

// Event is a single row of the event log.
type Event struct {
	ID        int64
	Type      string
	Source    string
	CallID    string
	Operation string
	PID       int
	Payload   string
	CreatedAt time.Time
}

// Recorder accepts events. Implementations must be safe for concurrent use.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, Event) error { return nil }

// Payload marshals fields into the JSON text stored in Event.Payload.
// Unmarshalable values degrade to an error string rather than failing the
// caller.
func Payload(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Sprintf(`{"payload_error":%q}`, err.Error())
	}
	return string(data)
}

// Store is a Recorder backed by the events table.
type Store struct {
	db    *sql.DB
	owned bool
}

// Open opens (creating if needed) the SQLite database at path with WAL and a
// busy timeout, and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create event log dir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// PRAGMAs below are per connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}

	s, err := NewStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewStore wraps an already open database and applies the schema. The
// caller keeps ownership of db.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, protocol.SchemaDDL); err != nil {
		return nil, fmt.Errorf("init event schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Record inserts ev. CreatedAt and ID are assigned by the database.
func (s *Store) Record(ctx context.Context, ev Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (type, source, call_id, operation, pid, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.Type, ev.Source, ev.CallID, ev.Operation, ev.PID, ev.Payload)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// Close closes the database if Open created it.
func (s *Store) Close() error {
	if s.owned && s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("close event log: %w", err)
		}
	}
	return nil
}

// Memory keeps events in process. It backs tests and one-shot CLI runs
// that have no database.
type Memory struct {
	mu     sync.Mutex
	events []Event
	nextID int64
}

// Record implements Recorder.
func (m *Memory) Record(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	ev.ID = m.nextID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of recorded events, oldest first.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Count returns how many events of type evType were recorded.
func (m *Memory) Count(evType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.Type == evType {
			n++
		}
	}
	return n
}
