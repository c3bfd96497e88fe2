package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"uibridge/pkg/protocol"
)

// executor runs one request. *pipeline.Client implements it.
type executor interface {
	Execute(ctx context.Context, op string, params protocol.Params, timeout time.Duration) (json.RawMessage, error)
}

// newServeCmd creates the "uibridge serve" subcommand.
func newServeCmd(g *globals) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Relay request lines from stdin through a supervised worker",
		Long: `Reads one JSON request per line on stdin, executes it through the
pipeline and writes one JSON response per line on stdout. Unlike the raw
worker, hangs and crashes come back as failures and the worker is replaced
behind the scenes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if timeout <= 0 {
				timeout = g.cfg.Pipeline.DefaultTimeout.Std()
			}
			s, err := g.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = s.Close(context.Background()) }()

			return relay(cmd.Context(), s.client, cmd.InOrStdin(), cmd.OutOrStdout(), timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-request timeout (default pipeline.default_timeout)")

	return cmd
}

// relay answers every request line from in on out until EOF.
func relay(ctx context.Context, client executor, in io.Reader, out io.Writer, timeout time.Duration) error {
	w := bufio.NewWriter(out)
	sc := protocol.NewLineScanner(in)
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var resp protocol.Response
		req, err := protocol.DecodeRequest(line)
		if err != nil {
			resp = protocol.Fail(err.Error())
		} else if data, err := client.Execute(ctx, req.Operation, req.Parameters, timeout); err != nil {
			resp = protocol.Fail(err.Error())
		} else {
			resp = protocol.Response{Success: true, Data: data}
		}

		encoded, err := protocol.EncodeResponse(resp)
		if err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
		if _, err := w.Write(encoded); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flush response: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	return nil
}
