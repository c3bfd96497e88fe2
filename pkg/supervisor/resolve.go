package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"uibridge/pkg/protocol"
)

// Resolver builds the command for a fresh worker. It must not bind the
// command to a request-scoped context: the worker outlives any one call.
type Resolver func(ctx context.Context) (*exec.Cmd, error)

// CommandResolver runs cfg.Command with cfg.Args. Script entry points are
// expressed as an interpreter command with the script as first argument.
func CommandResolver(cfg Config) Resolver {
	return func(context.Context) (*exec.Cmd, error) {
		if cfg.Command == "" {
			return nil, errors.New("no worker command configured")
		}
		path, err := exec.LookPath(cfg.Command)
		if err != nil {
			return nil, fmt.Errorf("locate worker %s: %w", cfg.Command, err)
		}
		//nolint:gosec // intentionally spawning worker subprocess
		cmd := exec.Command(path, cfg.Args...)
		cmd.Dir = cfg.Dir
		if len(cfg.Env) > 0 {
			cmd.Env = append(os.Environ(), cfg.Env...)
		}
		return cmd, nil
	}
}

// SelfResolver re-executes the running binary as `<self> worker <args...>`.
func SelfResolver(cfg Config) Resolver {
	return func(context.Context) (*exec.Cmd, error) {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate own executable: %w", err)
		}
		args := append([]string{protocol.WorkerCommand}, cfg.Args...)
		//nolint:gosec // intentionally spawning worker subprocess
		cmd := exec.Command(self, args...)
		cmd.Dir = cfg.Dir
		if len(cfg.Env) > 0 {
			cmd.Env = append(os.Environ(), cfg.Env...)
		}
		return cmd, nil
	}
}
