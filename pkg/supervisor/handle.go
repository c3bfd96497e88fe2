package supervisor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"uibridge/pkg/protocol"
)

// linesBuffer is how many unread stdout lines a handle keeps before the
// reader blocks.
const linesBuffer = 16

// Handle is one worker process: identity, streams and lifecycle state. It
// is created and disposed only by a Supervisor.
type Handle struct {
	pid     int
	started time.Time
	command string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stderr  *Tail

	lines   chan []byte
	readErr error // valid once lines is closed

	stderrDone chan struct{}
	exited     chan struct{}
	exitCode   int // valid once exited is closed

	closed    chan struct{}
	closeOnce sync.Once
	writeMu   sync.Mutex

	mu    sync.Mutex
	state protocol.State
	stale bool
}

func newHandle(cmd *exec.Cmd, stdin io.WriteCloser, stderrLines int, now time.Time) *Handle {
	return &Handle{
		pid:        cmd.Process.Pid,
		started:    now,
		command:    describe(cmd),
		cmd:        cmd,
		stdin:      stdin,
		stderr:     NewTail(stderrLines),
		lines:      make(chan []byte, linesBuffer),
		stderrDone: make(chan struct{}),
		exited:     make(chan struct{}),
		closed:     make(chan struct{}),
		state:      protocol.StateStarting,
	}
}

// PID returns the worker's process id.
func (h *Handle) PID() int { return h.pid }

// StartedAt returns when the process was started.
func (h *Handle) StartedAt() time.Time { return h.started }

// Command returns a printable form of the worker command line.
func (h *Handle) Command() string { return h.command }

// State returns the current lifecycle state.
func (h *Handle) State() protocol.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) setState(s protocol.State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = s
}

// compareAndSetState moves to next only from one of the given states.
func (h *Handle) compareAndSetState(next protocol.State, from ...protocol.State) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range from {
		if h.state == s {
			h.state = next
			return true
		}
	}
	return false
}

// Stale reports whether the worker executable changed after this process
// was started.
func (h *Handle) Stale() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stale
}

func (h *Handle) markStale() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stale = true
}

// Exited is closed once the process has been reaped.
func (h *Handle) Exited() <-chan struct{} { return h.exited }

// ExitCode returns the exit code once the process has exited. Processes
// killed by a signal report -1.
func (h *Handle) ExitCode() (int, bool) {
	select {
	case <-h.exited:
		return h.exitCode, true
	default:
		return 0, false
	}
}

// Lines delivers stdout lines. It is closed when stdout reaches EOF or
// fails; ReadErr then reports why.
func (h *Handle) Lines() <-chan []byte { return h.lines }

// ReadErr returns the stdout read error after Lines is closed. A clean EOF
// yields nil.
func (h *Handle) ReadErr() error { return h.readErr }

// LastStderr returns the most recent stderr line. Best effort: it may lag
// the process.
func (h *Handle) LastStderr() string { return h.stderr.Last() }

// StderrLines returns the retained stderr lines, oldest first.
func (h *Handle) StderrLines() []string { return h.stderr.Lines() }

// Send writes one envelope line to the worker's stdin. Callers hold the
// pipeline gate, so writes never interleave.
func (h *Handle) Send(line []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if _, err := h.stdin.Write(line); err != nil {
		return fmt.Errorf("write to worker %d: %w", h.pid, err)
	}
	return nil
}

// readStdout forwards stdout lines until EOF, a read error, or disposal.
func (h *Handle) readStdout(r io.ReadCloser) {
	defer close(h.lines)
	defer func() { _ = r.Close() }()

	sc := protocol.NewLineScanner(r)
	for sc.Scan() {
		line := bytes.Clone(sc.Bytes())
		select {
		case h.lines <- line:
		case <-h.closed:
			return
		}
	}
	h.readErr = sc.Err()
}

// drainStderr keeps the stderr pipe empty so the worker never blocks on
// it, retaining the most recent lines.
func (h *Handle) drainStderr(r io.ReadCloser, logger *zap.Logger) {
	defer close(h.stderrDone)
	defer func() { _ = r.Close() }()

	sc := protocol.NewLineScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		h.stderr.Add(line)
		logger.Debug("worker stderr", zap.Int("pid", h.pid), zap.String("line", line))
	}
	if err := sc.Err(); err != nil {
		logger.Warn("worker stderr unreadable, discarding", zap.Int("pid", h.pid), zap.Error(err))
		_, _ = io.Copy(io.Discard, r)
	}
}

// release unblocks the stdout reader after disposal.
func (h *Handle) release() {
	h.closeOnce.Do(func() { close(h.closed) })
}

func exitCodeOf(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func describe(cmd *exec.Cmd) string {
	if cmd == nil {
		return ""
	}
	return strings.Join(cmd.Args, " ")
}
