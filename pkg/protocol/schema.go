package protocol

// SchemaDDL defines the SQLite schema for the controller event log.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- Worker lifecycle and request events
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    source TEXT NOT NULL,
    call_id TEXT,
    operation TEXT,
    pid INTEGER,
    payload TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);
`

// Event types written to the events table.
const (
	EventWorkerStarted   = "worker_started"
	EventWorkerExited    = "worker_exited"
	EventWorkerStopped   = "worker_stopped"
	EventWorkerRestarted = "worker_restarted"
	EventWorkerStale     = "worker_stale"
	EventCallFailed      = "call_failed"
	EventDiagnosis       = "diagnosis"
	EventLateResponse    = "late_response"
	EventStaleLine       = "stale_line"
)
