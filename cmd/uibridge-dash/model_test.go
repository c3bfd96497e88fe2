package main

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"uibridge/pkg/eventlog"
	"uibridge/pkg/protocol"
)

func sampleEvents() []eventlog.Event {
	return []eventlog.Event{
		{ID: 1, Type: protocol.EventWorkerStarted, Source: "supervisor", PID: 100},
		{ID: 2, Type: protocol.EventCallFailed, Source: "pipeline", Operation: "Ping", PID: 100, Payload: `{"category":"Timeout"}`},
		{ID: 3, Type: protocol.EventDiagnosis, Source: "pipeline", Operation: "Ping", PID: 100, Payload: `{"diagnosis":"Hang"}`},
		{ID: 4, Type: protocol.EventWorkerRestarted, Source: "supervisor", PID: 100},
		{ID: 5, Type: protocol.EventWorkerStarted, Source: "supervisor", PID: 101},
	}
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	got, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return got
}

func TestDashModel_Init(t *testing.T) {
	m := newModel("/nonexistent/events.db")
	if !m.polling {
		t.Error("expected first poll to be in flight")
	}
	if cmd := m.Init(); cmd == nil {
		t.Error("expected Init() to return a command, got nil")
	}
}

func TestEventsMsgUpdatesCounters(t *testing.T) {
	m := newModel("events.db")
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 20})
	m = update(t, m, eventsMsg{events: sampleEvents(), online: true})

	if m.lastID != 5 {
		t.Errorf("lastID = %d, want 5", m.lastID)
	}
	want := Counters{Starts: 2, Restarts: 1, Failures: 1, Diagnoses: 1, LastPID: 101}
	if m.counters != want {
		t.Errorf("counters = %+v, want %+v", m.counters, want)
	}
	if m.polling {
		t.Error("polling still set after eventsMsg")
	}

	view := m.View()
	for _, s := range []string{"pid 101", "restarts 1", protocol.EventDiagnosis} {
		if !strings.Contains(view, s) {
			t.Errorf("view missing %q:\n%s", s, view)
		}
	}
}

func TestEventsMsgSkipsSeenIDs(t *testing.T) {
	m := newModel("events.db")
	m = update(t, m, eventsMsg{events: sampleEvents(), online: true})
	m = update(t, m, eventsMsg{events: sampleEvents()[3:], online: true})
	if len(m.events) != 5 {
		t.Fatalf("got %d events after replay, want 5", len(m.events))
	}
}

func TestAppendEventsCapsTimeline(t *testing.T) {
	m := newModel("events.db")
	batch := make([]eventlog.Event, maxEvents+10)
	for i := range batch {
		batch[i] = eventlog.Event{ID: int64(i + 1), Type: protocol.EventStaleLine}
	}
	m.appendEvents(batch)
	if len(m.events) != maxEvents {
		t.Fatalf("len = %d, want %d", len(m.events), maxEvents)
	}
	if m.events[0].ID != 11 {
		t.Errorf("oldest kept id = %d, want 11", m.events[0].ID)
	}
}

func TestFilterCycle(t *testing.T) {
	m := newModel("events.db")
	m = update(t, m, eventsMsg{events: sampleEvents(), online: true})

	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("f")})
	if m.filter != FilterFailures {
		t.Fatalf("filter = %v, want failures", m.filter)
	}
	timeline := m.renderTimeline()
	if strings.Contains(timeline, protocol.EventWorkerStarted) {
		t.Errorf("failures filter shows lifecycle events:\n%s", timeline)
	}
	if !strings.Contains(timeline, protocol.EventCallFailed) {
		t.Errorf("failures filter hides call_failed:\n%s", timeline)
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("f")})
	if m.filter != FilterLifecycle {
		t.Fatalf("filter = %v, want lifecycle", m.filter)
	}
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("f")})
	if m.filter != FilterAll {
		t.Fatalf("filter = %v, want all", m.filter)
	}
}

func TestStatusBarStates(t *testing.T) {
	m := newModel("/tmp/missing.db")
	m = update(t, m, eventsMsg{})
	if !strings.Contains(m.renderStatusBar(), "no event log") {
		t.Errorf("offline status bar = %q", m.renderStatusBar())
	}

	m = update(t, m, eventsMsg{online: true, err: errors.New("disk I/O error")})
	if !strings.Contains(m.renderStatusBar(), "disk I/O error") {
		t.Errorf("error status bar = %q", m.renderStatusBar())
	}
}

func TestTickSkipsWhilePolling(t *testing.T) {
	m := newModel("events.db")
	m = update(t, m, tickMsg{})
	if !m.polling {
		t.Fatal("polling cleared by tick")
	}
	m = update(t, m, eventsMsg{online: true})
	m = update(t, m, tickMsg{})
	if !m.polling {
		t.Fatal("tick after poll did not start a new poll")
	}
}

func TestQuitKeys(t *testing.T) {
	m := newModel("events.db")
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune("q")},
		{Type: tea.KeyCtrlC},
	} {
		_, cmd := m.Update(key)
		if cmd == nil {
			t.Fatalf("%s: expected quit command", key)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%s: command did not quit", key)
		}
	}
}
