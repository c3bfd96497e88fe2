package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"uibridge/pkg/eventlog"
	"uibridge/pkg/protocol"
)

// maxEvents bounds the timeline kept in memory.
const maxEvents = 2000

// tickMsg is sent by Bubble Tea on every tick interval.
type tickMsg time.Time

// eventsMsg carries events fetched since the last poll.
type eventsMsg struct {
	events []eventlog.Event
	online bool
	err    error
}

// tickCmd returns a command that sends a tickMsg after 1 second.
func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchEventsCmd polls the event log for events newer than afterID.
func fetchEventsCmd(dbPath string, afterID int64) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		events, online, err := fetchEvents(ctx, dbPath, afterID)
		return eventsMsg{events: events, online: online, err: err}
	}
}

// Counters aggregates the event types the status bar shows.
type Counters struct {
	Starts    int
	Restarts  int
	Failures  int
	Diagnoses int
	LastPID   int
}

func (c *Counters) add(ev eventlog.Event) {
	switch ev.Type {
	case protocol.EventWorkerStarted:
		c.Starts++
		c.LastPID = ev.PID
	case protocol.EventWorkerRestarted:
		c.Restarts++
	case protocol.EventCallFailed:
		c.Failures++
	case protocol.EventDiagnosis:
		c.Diagnoses++
	}
}

// Model is the Bubble Tea model for the dashboard.
type Model struct {
	dbPath string

	events   []eventlog.Event
	lastID   int64
	counters Counters
	filter   Filter
	online   bool
	polling  bool
	err      error

	width    int
	height   int
	timeline viewport.Model
	spinner  spinner.Model
	styles   Styles
}

// newModel creates a Model reading the event log at dbPath.
func newModel(dbPath string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	theme := DefaultTheme()
	sp.Style = sp.Style.Foreground(theme.Secondary)

	return Model{
		dbPath:   dbPath,
		polling:  true,
		timeline: viewport.New(0, 0),
		spinner:  sp,
		styles:   NewStyles(theme),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, fetchEventsCmd(m.dbPath, 0), tickCmd())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.timeline.Width = max(20, msg.Width)
		m.timeline.Height = max(3, msg.Height-2)
		m.refreshTimeline(true)

	case eventsMsg:
		m.polling = false
		m.online = msg.online
		m.err = msg.err
		if len(msg.events) > 0 {
			follow := m.timeline.AtBottom()
			m.appendEvents(msg.events)
			m.refreshTimeline(follow)
		}

	case tickMsg:
		if m.polling {
			return m, tickCmd()
		}
		m.polling = true
		return m, tea.Batch(fetchEventsCmd(m.dbPath, m.lastID), tickCmd())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// handleKeyPress processes keyboard input.
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "f":
		m.filter = m.filter.next()
		m.refreshTimeline(true)
		return m, nil
	case "g", "home":
		m.timeline.GotoTop()
		return m, nil
	case "G", "end":
		m.timeline.GotoBottom()
		return m, nil
	}
	var cmd tea.Cmd
	m.timeline, cmd = m.timeline.Update(msg)
	return m, cmd
}

// appendEvents adds a batch to the timeline and advances the poll cursor.
func (m *Model) appendEvents(events []eventlog.Event) {
	for _, ev := range events {
		if ev.ID <= m.lastID {
			continue
		}
		m.lastID = ev.ID
		m.counters.add(ev)
		m.events = append(m.events, ev)
	}
	if over := len(m.events) - maxEvents; over > 0 {
		m.events = append(m.events[:0:0], m.events[over:]...)
	}
}

// refreshTimeline re-renders the filtered events into the viewport.
func (m *Model) refreshTimeline(follow bool) {
	m.timeline.SetContent(m.renderTimeline())
	if follow {
		m.timeline.GotoBottom()
	}
}

func (m Model) renderTimeline() string {
	var lines []string
	for _, ev := range m.events {
		if m.filter.Match(ev) {
			lines = append(lines, renderEvent(ev, m.styles))
		}
	}
	if len(lines) == 0 {
		return m.styles.Muted.Render("No events")
	}
	return strings.Join(lines, "\n")
}

// View implements tea.Model.
func (m Model) View() string {
	return m.renderStatusBar() + "\n" + m.timeline.View() + "\n" + m.renderHelp()
}

// renderStatusBar renders event log state and aggregate counters.
func (m Model) renderStatusBar() string {
	indicator := " "
	if m.polling {
		indicator = m.spinner.View()
	}

	var state string
	switch {
	case m.err != nil:
		state = m.styles.Failure.Render("error: " + m.err.Error())
	case !m.online:
		state = m.styles.Muted.Render("no event log at " + m.dbPath)
	default:
		c := m.counters
		state = fmt.Sprintf("pid %d  starts %d  restarts %d  failures %d  diagnoses %d",
			c.LastPID, c.Starts, c.Restarts, c.Failures, c.Diagnoses)
	}

	return m.styles.StatusBar.Render(fmt.Sprintf("%s %s  %s  [%s]",
		indicator, m.styles.Title.Render("uibridge"), state, m.filter))
}

func (m Model) renderHelp() string {
	return m.styles.Muted.Render("f filter  g/G top/bottom  ↑/↓ scroll  q quit")
}
