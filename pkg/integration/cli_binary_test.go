// Package integration_test drives the compiled uibridge binary end to end:
// the binary is both the controller and, through self-spawn, the worker.
package integration_test

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// buildBinary compiles the uibridge binary into a temp directory and returns
// the path to the compiled binary. Build failure is a hard fatal (not a skip),
// so CI catches regressions immediately.
func buildBinary(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping CLI binary smoke tests in short mode")
	}

	root := integrationProjectRoot(t)

	binDir := t.TempDir()
	binPath := filepath.Join(binDir, "uibridge")

	build := exec.Command("go", "build", "-o", binPath, "./cmd/uibridge") //nolint:gosec // test-only, args are constant
	build.Dir = root
	out, err := build.CombinedOutput()
	if err != nil {
		t.Fatalf("go build ./cmd/uibridge failed: %v\n%s", err, out)
	}

	return binPath
}

// integrationProjectRoot walks up from the package directory to find go.mod.
func integrationProjectRoot(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find project root (go.mod)")
		}
		dir = parent
	}
}

// isolatedEnv returns an environment whose state directory is a fresh temp
// dir, so no test touches ~/.uibridge.
func isolatedEnv(t *testing.T) (env []string, home string) {
	t.Helper()
	home = t.TempDir()
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "UIBRIDGE_") {
			continue
		}
		env = append(env, kv)
	}
	return append(env, "UIBRIDGE_HOME="+home, "UIBRIDGE_LOG_LEVEL=error"), home
}

// TestBinary_AllSubcommandsHelp verifies that every subcommand responds to
// --help with exit code 0 and non-empty stdout.
func TestBinary_AllSubcommandsHelp(t *testing.T) {
	binPath := buildBinary(t)
	env, _ := isolatedEnv(t)

	subcommands := [][]string{
		{"--help"},
		{"worker", "--help"},
		{"call", "--help"},
		{"serve", "--help"},
		{"events", "--help"},
		{"dash", "--help"},
		{"config", "--help"},
	}

	for _, args := range subcommands {
		name := strings.Join(args, " ")
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cmd := exec.Command(binPath, args...) //nolint:gosec // test-only
			cmd.Env = env
			out, err := cmd.Output()
			if err != nil {
				var exitErr *exec.ExitError
				if errors.As(err, &exitErr) {
					t.Fatalf("uibridge %s exited non-zero (%d)\nstdout: %s\nstderr: %s",
						name, exitErr.ExitCode(), out, exitErr.Stderr)
				}
				t.Fatalf("uibridge %s failed: %v\nstdout: %s", name, err, out)
			}
			if len(out) == 0 {
				t.Errorf("uibridge %s: expected non-empty stdout, got empty", name)
			}
		})
	}
}

// TestBinary_CallErrors verifies that bad invocations exit non-zero with an
// explanation instead of hanging or crashing.
func TestBinary_CallErrors(t *testing.T) {
	binPath := buildBinary(t)

	cases := []struct {
		name string
		args []string
		env  []string
		want string
	}{
		{
			name: "missing_worker_command",
			args: []string{"call", "Ping"},
			env:  []string{"UIBRIDGE_WORKER_COMMAND=/nonexistent/uibridge-worker"},
			want: "start worker",
		},
		{
			name: "bad_param",
			args: []string{"call", "Echo", "-p", "novalue"},
			want: "want key=value",
		},
		{
			name: "unknown_operation",
			args: []string{"call", "Nope", "--timeout", "10s"},
			want: "NotSupported",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			env, _ := isolatedEnv(t)
			cmd := exec.Command(binPath, tc.args...) //nolint:gosec // test-only
			cmd.Env = append(env, tc.env...)
			combined, err := cmd.CombinedOutput()
			if err == nil {
				t.Fatalf("uibridge %s: expected non-zero exit\noutput: %s", strings.Join(tc.args, " "), combined)
			}
			if !strings.Contains(string(combined), tc.want) {
				t.Errorf("uibridge %s: output missing %q\ngot: %s", strings.Join(tc.args, " "), tc.want, combined)
			}
		})
	}
}
