package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"uibridge/internal/logging"
	"uibridge/pkg/protocol"
)

// newCallCmd creates the "uibridge call" subcommand.
func newCallCmd(g *globals) *cobra.Command {
	var (
		params  []string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "call OPERATION",
		Short: "Execute one operation through a supervised worker",
		Long: `Starts a worker, sends OPERATION with the given parameters, prints the
result Data as JSON and stops the worker.

Parameter values that parse as JSON are sent as JSON, anything else as a
string: -p id=42 sends a number, -p name=OK sends "OK".`,
		Example: "  uibridge call Echo -p x=1\n  uibridge call Sleep -p ms=500 --timeout 2s",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseParams(params)
			if err != nil {
				return err
			}
			if timeout <= 0 {
				timeout = g.cfg.Pipeline.DefaultTimeout.Std()
			}

			s, err := g.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = s.Close(context.Background()) }()

			data, err := s.client.Execute(cmd.Context(), args[0], p, timeout)
			if err != nil {
				return err
			}
			return writeData(cmd.OutOrStdout(), data)
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "parameter as key=value (repeatable, order kept)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "request timeout (default pipeline.default_timeout)")

	return cmd
}

// parseParams turns key=value pairs into ordered parameters.
func parseParams(pairs []string) (protocol.Params, error) {
	params := protocol.Params{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("parameter %q: want key=value", pair)
		}
		if json.Valid([]byte(value)) {
			params = params.Set(key, json.RawMessage(value))
		} else {
			params = params.Set(key, value)
		}
	}
	return params, nil
}

// writeData prints data, indented when w is a terminal.
func writeData(w io.Writer, data json.RawMessage) error {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	if f, ok := w.(*os.File); ok && logging.IsTerminal(f) {
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err == nil {
			data = buf.Bytes()
		}
	}
	if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
