package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"uibridge/pkg/workerhost"
)

// newWorkerCmd creates the "uibridge worker" subcommand.
func newWorkerCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Serve requests on stdin/stdout as a worker process",
		Long: `Reads one JSON request per line on stdin and writes one JSON response
per line on stdout. Closing stdin shuts the worker down. Logs go to stderr.

This command is typically spawned by a controller, not by humans.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			host := workerhost.New(workerhost.Builtins(), g.cfg.Host(),
				workerhost.WithLogger(g.logger.Named("worker")))
			if err := host.Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
				return fmt.Errorf("worker: %w", err)
			}
			return nil
		},
	}
}
