package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"uibridge/pkg/eventlog"
)

// eventsConfig holds flags for the events command.
type eventsConfig struct {
	eventType string
	callID    string
	operation string
	limit     int
	asJSON    bool
	follow    bool
}

// newEventsCmd creates the "uibridge events" subcommand.
func newEventsCmd(g *globals) *cobra.Command {
	var cfg eventsConfig

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Query the worker event log",
		Long:  "Displays worker lifecycle and call failure events, oldest first.\nOptionally follow new events.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := g.cfg.DBPath()
			if err != nil {
				return err
			}
			reader, err := eventlog.NewReader(path)
			if err != nil {
				return fmt.Errorf("open event log %s: %w", path, err)
			}
			defer func() { _ = reader.Close() }()

			w := cmd.OutOrStdout()
			if cfg.follow {
				return followEvents(cmd.Context(), reader, w, cfg, time.Second)
			}
			_, err = printEvents(cmd.Context(), reader, w, cfg, 0)
			return err
		},
	}

	cmd.Flags().StringVar(&cfg.eventType, "type", "", "only events of this type (e.g. diagnosis)")
	cmd.Flags().StringVar(&cfg.callID, "call", "", "only events of this call id")
	cmd.Flags().StringVar(&cfg.operation, "op", "", "only events of this operation")
	cmd.Flags().IntVar(&cfg.limit, "limit", 20, "number of recent events to show")
	cmd.Flags().BoolVar(&cfg.asJSON, "json", false, "one JSON object per line")
	cmd.Flags().BoolVarP(&cfg.follow, "follow", "f", false, "poll for new events every 1s")

	return cmd
}

// printEvents writes matching events after afterID in chronological order
// and returns the highest id written.
func printEvents(ctx context.Context, r *eventlog.Reader, w io.Writer, cfg eventsConfig, afterID int64) (int64, error) {
	events, err := r.QueryEvents(ctx, eventlog.QueryOpts{
		EventType: cfg.eventType,
		CallID:    cfg.callID,
		Operation: cfg.operation,
		AfterID:   afterID,
		Limit:     cfg.limit,
	})
	if err != nil {
		return afterID, err
	}
	if len(events) == 0 && afterID == 0 && !cfg.asJSON && !cfg.follow {
		fmt.Fprintln(w, "no events found")
		return afterID, nil
	}

	slices.Reverse(events)
	last := afterID
	for _, ev := range events {
		if err := writeEvent(w, ev, cfg.asJSON); err != nil {
			return last, err
		}
		last = max(last, ev.ID)
	}
	return last, nil
}

// followEvents prints the recent tail, then polls for newer events until
// ctx is done.
func followEvents(ctx context.Context, r *eventlog.Reader, w io.Writer, cfg eventsConfig, every time.Duration) error {
	last, err := printEvents(ctx, r, w, cfg, 0)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if last, err = printEvents(ctx, r, w, cfg, last); err != nil {
				return err
			}
		}
	}
}

func writeEvent(w io.Writer, ev eventlog.Event, asJSON bool) error {
	if asJSON {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event %d: %w", ev.ID, err)
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}
	// Format: timestamp | type | source | pid | operation | call_id | payload
	_, err := fmt.Fprintf(w, "%s | %-16s | %-10s | %-7d | %-12s | %-36s | %s\n",
		ev.CreatedAt.Format(time.DateTime), ev.Type, ev.Source, ev.PID, ev.Operation, ev.CallID, ev.Payload)
	return err
}
