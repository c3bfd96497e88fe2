package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"uibridge/pkg/eventlog"
	"uibridge/pkg/protocol"
)

// fetchBatch bounds how many new events one poll pulls.
const fetchBatch = 500

// fetchEvents returns events with an id above afterID, oldest first.
// A missing database means no controller has run yet and is not an error.
func fetchEvents(ctx context.Context, dbPath string, afterID int64) ([]eventlog.Event, bool, error) {
	reader, err := eventlog.NewReader(dbPath)
	if err != nil {
		return nil, false, nil
	}
	defer func() { _ = reader.Close() }()

	events, err := reader.QueryEvents(ctx, eventlog.QueryOpts{
		AfterID: afterID,
		Limit:   fetchBatch,
	})
	if err != nil {
		return nil, true, fmt.Errorf("query events: %w", err)
	}
	slices.Reverse(events)
	return events, true, nil
}

// Filter narrows the timeline to a group of event types.
type Filter int

const (
	// FilterAll shows every event.
	FilterAll Filter = iota
	// FilterFailures shows failed calls and diagnoses.
	FilterFailures
	// FilterLifecycle shows worker process events.
	FilterLifecycle
)

func (f Filter) String() string {
	switch f {
	case FilterFailures:
		return "failures"
	case FilterLifecycle:
		return "lifecycle"
	default:
		return "all"
	}
}

// next cycles to the following filter.
func (f Filter) next() Filter {
	return (f + 1) % 3
}

// Match reports whether ev passes the filter.
func (f Filter) Match(ev eventlog.Event) bool {
	switch f {
	case FilterFailures:
		return isFailure(ev.Type)
	case FilterLifecycle:
		return isLifecycle(ev.Type)
	default:
		return true
	}
}

func isFailure(t string) bool {
	return t == protocol.EventCallFailed || t == protocol.EventDiagnosis
}

func isLifecycle(t string) bool {
	switch t {
	case protocol.EventWorkerStarted, protocol.EventWorkerExited, protocol.EventWorkerStopped,
		protocol.EventWorkerRestarted, protocol.EventWorkerStale:
		return true
	}
	return false
}

// renderEvent formats one timeline row.
func renderEvent(ev eventlog.Event, styles Styles) string {
	const (
		typeWidth = 16
		opWidth   = 14
	)
	style := styles.Muted
	switch {
	case isFailure(ev.Type):
		style = styles.Failure
	case ev.Type == protocol.EventWorkerRestarted || ev.Type == protocol.EventWorkerStale ||
		ev.Type == protocol.EventLateResponse || ev.Type == protocol.EventStaleLine:
		style = styles.Warning
	case isLifecycle(ev.Type):
		style = styles.Lifecycle
	}

	op := ev.Operation
	if op == "" {
		op = "-"
	}
	row := fmt.Sprintf("%s  %s  pid %-7d %-*s %s",
		ev.CreatedAt.Format("15:04:05"),
		style.Render(fmt.Sprintf("%-*s", typeWidth, truncate(ev.Type, typeWidth))),
		ev.PID,
		opWidth, truncate(op, opWidth),
		ev.Payload)
	return strings.TrimRight(row, " ")
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
