package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"uibridge/internal/appversion"
	"uibridge/internal/logging"
	"uibridge/pkg/config"
)

// globals is the state shared by subcommands once flags are parsed.
type globals struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
}

// newRootCmd creates the root uibridge command with all subcommands attached.
func newRootCmd() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:   "uibridge",
		Short: "Out-of-process UI automation bridge",
		Long: "uibridge runs UI automation calls in a supervised worker process.\n" +
			"A hung or crashed worker is diagnosed, killed and replaced without\ntaking the controller down.",
		Version:       fmt.Sprintf("uibridge %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return g.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if g.logger != nil {
				_ = g.logger.Sync()
			}
		},
	}

	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (default $UIBRIDGE_CONFIG or ~/.uibridge/config.yaml)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	cmd.AddCommand(
		newWorkerCmd(g),
		newCallCmd(g),
		newServeCmd(g),
		newEventsCmd(g),
		newDashCmd(),
		newConfigCmd(g),
	)

	return cmd
}

// load resolves configuration and builds the logger.
func (g *globals) load() error {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("--log-level: %w", err)
		}
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	g.cfg, g.logger = cfg, logger
	return nil
}
