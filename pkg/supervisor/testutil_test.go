package supervisor //nolint:testpackage // white-box tests drive handles directly

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"uibridge/pkg/eventlog"
)

// helperEnv selects a fake worker behaviour when the test binary is
// re-executed as a worker.
const helperEnv = "UIBRIDGE_TEST_WORKER"

func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(runHelperWorker(mode))
	}
	os.Exit(m.Run())
}

func runHelperWorker(mode string) int {
	switch mode {
	case "echo":
		echoLines(os.Stdin, os.Stdout)
		return 0
	case "stderr":
		fmt.Fprintln(os.Stderr, "ready")
		echoLines(os.Stdin, os.Stdout)
		return 0
	case "crash":
		fmt.Fprintln(os.Stderr, "fatal: target vanished")
		return 3
	case "exit-on-line":
		_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
		return 7
	case "stubborn":
		signal.Ignore(syscall.SIGTERM)
		_, _ = io.Copy(io.Discard, os.Stdin)
		time.Sleep(time.Hour)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown helper mode %q\n", mode)
		return 2
	}
}

func echoLines(r io.Reader, w io.Writer) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fmt.Fprintln(w, sc.Text())
	}
}

// helperConfig runs the test binary itself as a worker in the given mode.
func helperConfig(mode string) Config {
	return Config{
		Command:         os.Args[0],
		Env:             []string{helperEnv + "=" + mode},
		SettleDelay:     100 * time.Millisecond,
		ShutdownTimeout: 500 * time.Millisecond,
		KillGrace:       200 * time.Millisecond,
	}
}

// newTestSupervisor builds a supervisor that is stopped at cleanup.
func newTestSupervisor(t *testing.T, mode string, opts ...Option) (*Supervisor, *eventlog.Memory) {
	t.Helper()
	events := &eventlog.Memory{}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithRecorder(events)}, opts...)
	s := New(helperConfig(mode), opts...)
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s, events
}

// waitFor polls condition every tick until it returns true or timeout expires.
func waitFor(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("waitFor: condition not met within %v", timeout)
}

// readLine waits for one stdout line from h.
func readLine(t *testing.T, h *Handle, timeout time.Duration) string {
	t.Helper()
	select {
	case line, ok := <-h.Lines():
		if !ok {
			t.Fatalf("stdout closed: %v", h.ReadErr())
		}
		return string(line)
	case <-time.After(timeout):
		t.Fatalf("no stdout line within %v", timeout)
		return ""
	}
}
