// Package supervisor owns the worker child process: it starts it in its own
// process group, drains its stderr, reaps it, probes it, and tears down the
// whole tree on shutdown or restart.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"uibridge/pkg/eventlog"
	"uibridge/pkg/protocol"
)

// ErrStopped is returned by Ensure after Stop.
var ErrStopped = errors.New("supervisor stopped")

// source is the Source column of events written by the supervisor.
const source = "supervisor"

const (
	// stderrFlushWait bounds how long the reaper waits for the stderr drain
	// so the final line is captured.
	stderrFlushWait = 500 * time.Millisecond

	// killWait bounds the wait for the reaper after a forced kill.
	killWait = 5 * time.Second
)

// Config holds worker command and lifecycle timing.
type Config struct {
	Command string   // worker executable; empty re-executes the current binary
	Args    []string // extra arguments
	Env     []string // extra KEY=VALUE pairs appended to the parent environment
	Dir     string   // working directory

	SettleDelay     time.Duration // Starting -> Running (default 250ms)
	ShutdownTimeout time.Duration // wait after closing stdin (default 3s)
	KillGrace       time.Duration // SIGTERM -> SIGKILL (default 500ms)
	StderrLines     int           // retained stderr lines (default 50)
}

func (c Config) withDefaults() Config {
	if c.SettleDelay <= 0 {
		c.SettleDelay = 250 * time.Millisecond
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 3 * time.Second
	}
	if c.KillGrace <= 0 {
		c.KillGrace = 500 * time.Millisecond
	}
	if c.StderrLines <= 0 {
		c.StderrLines = 50
	}
	return c
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithResolver replaces the command resolver.
func WithResolver(r Resolver) Option {
	return func(s *Supervisor) { s.resolve = r }
}

// WithProber replaces the responsiveness probe.
func WithProber(p Prober) Option {
	return func(s *Supervisor) { s.prober = p }
}

// WithLogger sets the logger. The default discards.
func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithRecorder sets where lifecycle events are recorded.
func WithRecorder(r eventlog.Recorder) Option {
	return func(s *Supervisor) { s.events = r }
}

// Supervisor owns at most one live worker handle. Lifecycle transitions are
// serialized internally; request traffic is serialized by the caller.
type Supervisor struct {
	cfg     Config
	resolve Resolver
	prober  Prober
	logger  *zap.Logger
	events  eventlog.Recorder
	nowFunc func() time.Time

	lifecycle sync.Mutex // held across start and terminate

	mu       sync.Mutex
	handle   *Handle
	previous *Handle
	stopped  bool
	starts   int
}

// New creates a Supervisor. No process is started until Ensure.
func New(cfg Config, opts ...Option) *Supervisor {
	cfg = cfg.withDefaults()
	s := &Supervisor{
		cfg:     cfg,
		prober:  DefaultProber,
		logger:  zap.NewNop(),
		events:  eventlog.Nop{},
		nowFunc: time.Now,
	}
	if cfg.Command == "" {
		s.resolve = SelfResolver(cfg)
	} else {
		s.resolve = CommandResolver(cfg)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Supervisor) Config() Config { return s.cfg }

// Current returns the live handle, if any.
func (s *Supervisor) Current() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// State returns the state of the current handle. Best effort.
func (s *Supervisor) State() protocol.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.handle != nil:
		return s.handle.State()
	case s.previous != nil:
		return protocol.StateDisposed
	default:
		return protocol.StateNotStarted
	}
}

// LastStderr returns the most recent stderr line of the current worker, or
// of the previous one once it has been discarded. Best effort.
func (s *Supervisor) LastStderr() string {
	s.mu.Lock()
	h := s.handle
	if h == nil {
		h = s.previous
	}
	s.mu.Unlock()
	if h == nil {
		return ""
	}
	return h.LastStderr()
}

// Starts returns how many worker processes have been started.
func (s *Supervisor) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

// Ensure returns a Running handle, starting a fresh worker when there is
// none or the current one has exited, been marked unresponsive, or gone
// stale.
func (s *Supervisor) Ensure(ctx context.Context) (*Handle, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	stopped, h := s.stopped, s.handle
	s.mu.Unlock()
	if stopped {
		return nil, ErrStopped
	}

	if h != nil {
		st := h.State()
		if st == protocol.StateRunning && !h.Stale() {
			return h, nil
		}
		reason := "worker " + string(st)
		if st == protocol.StateRunning {
			reason = "executable changed"
		}
		s.discard(ctx, h, reason)
	}
	return s.start(ctx)
}

// MarkUnresponsive records that h failed a diagnosis. The next Ensure
// replaces it.
func (s *Supervisor) MarkUnresponsive(h *Handle) {
	if h == nil {
		return
	}
	if h.compareAndSetState(protocol.StateUnresponsive, protocol.StateRunning) {
		s.logger.Warn("worker marked unresponsive", zap.Int("pid", h.PID()))
	}
}

// Restart tears down h if it is still the current handle. The next Ensure
// starts a fresh worker.
func (s *Supervisor) Restart(ctx context.Context, h *Handle, reason string) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	current := s.handle
	s.mu.Unlock()
	if h == nil || current != h {
		return
	}
	s.discard(ctx, h, reason)
}

// Kill force-kills h's process tree if it is still the current handle,
// skipping the stdin-close wait. The next Ensure starts a fresh worker.
func (s *Supervisor) Kill(ctx context.Context, h *Handle, reason string) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	current := s.handle
	s.mu.Unlock()
	if h == nil || current != h {
		return
	}
	s.forget(h)
	_ = h.stdin.Close()
	s.kill(h)
	s.logger.Info("worker killed",
		zap.Int("pid", h.PID()),
		zap.String("reason", reason))
	s.record(ctx, eventlog.Event{
		Type: protocol.EventWorkerRestarted,
		PID:  h.PID(),
		Payload: eventlog.Payload(map[string]any{
			"reason":   reason,
			"graceful": false,
			"forced":   true,
		}),
	})
}

// Stop shuts the current worker down and refuses further Ensure calls.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	h := s.handle
	s.handle = nil
	if h != nil {
		s.previous = h
	}
	s.mu.Unlock()

	if h == nil {
		return nil
	}
	graceful := s.terminate(h)
	s.logger.Info("worker stopped", zap.Int("pid", h.PID()), zap.Bool("graceful", graceful))
	s.record(ctx, eventlog.Event{
		Type:    protocol.EventWorkerStopped,
		PID:     h.PID(),
		Payload: eventlog.Payload(map[string]any{"graceful": graceful}),
	})
	if _, exited := h.ExitCode(); !exited {
		return fmt.Errorf("worker %d did not exit after kill", h.PID())
	}
	return nil
}

// Probe reports whether h is alive and responsive.
func (s *Supervisor) Probe(h *Handle) ProbeResult {
	if code, exited := h.ExitCode(); exited {
		return ProbeResult{Detail: fmt.Sprintf("exited with code %d", code)}
	}
	return s.prober(h.PID())
}

func (s *Supervisor) start(ctx context.Context) (*Handle, error) {
	cmd, err := s.resolve(ctx)
	if err != nil {
		return nil, &protocol.StartError{Err: fmt.Errorf("resolve worker command: %w", err)}
	}
	command := describe(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &protocol.StartError{Command: command, Err: fmt.Errorf("stdin pipe: %w", err)}
	}
	// Plain os.Pipe so Wait does not close the read ends under the readers.
	outR, outW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, &protocol.StartError{Command: command, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		closeAll(outR, outW)
		return nil, &protocol.StartError{Command: command, Err: fmt.Errorf("stderr pipe: %w", err)}
	}
	cmd.Stdout = outW
	cmd.Stderr = errW
	setProcAttrs(cmd)

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		closeAll(outR, outW, errR, errW)
		return nil, &protocol.StartError{Command: command, Err: err}
	}
	// The child holds its own copies.
	closeAll(outW, errW)

	h := newHandle(cmd, stdin, s.cfg.StderrLines, s.nowFunc())
	go h.readStdout(outR)
	go h.drainStderr(errR, s.logger)
	go s.reap(h)

	s.mu.Lock()
	s.handle = h
	s.starts++
	s.mu.Unlock()

	s.logger.Info("worker started", zap.Int("pid", h.PID()), zap.String("command", command))
	s.record(ctx, eventlog.Event{
		Type:    protocol.EventWorkerStarted,
		PID:     h.PID(),
		Payload: eventlog.Payload(map[string]any{"command": command}),
	})

	settle := time.NewTimer(s.cfg.SettleDelay)
	defer settle.Stop()
	select {
	case <-h.exited:
		code, _ := h.ExitCode()
		s.forget(h)
		h.release()
		h.setState(protocol.StateDisposed)
		return nil, &protocol.StartError{Command: command, ExitCode: &code, Stderr: h.LastStderr()}
	case <-ctx.Done():
		s.forget(h)
		s.kill(h)
		return nil, &protocol.StartError{Command: command, Err: ctx.Err()}
	case <-settle.C:
	}

	if !h.compareAndSetState(protocol.StateRunning, protocol.StateStarting) {
		// Exited between the timer firing and here.
		code, _ := h.ExitCode()
		s.forget(h)
		h.release()
		h.setState(protocol.StateDisposed)
		return nil, &protocol.StartError{Command: command, ExitCode: &code, Stderr: h.LastStderr()}
	}
	return h, nil
}

// reap waits for the process and records how it ended.
func (s *Supervisor) reap(h *Handle) {
	err := h.cmd.Wait()

	flush := time.NewTimer(stderrFlushWait)
	select {
	case <-h.stderrDone:
	case <-flush.C:
	}
	flush.Stop()

	h.exitCode = exitCodeOf(h.cmd, err)

	s.logger.Info("worker exited",
		zap.Int("pid", h.PID()),
		zap.Int("exit_code", h.exitCode),
		zap.String("last_stderr", h.LastStderr()))
	s.record(context.Background(), eventlog.Event{
		Type: protocol.EventWorkerExited,
		PID:  h.PID(),
		Payload: eventlog.Payload(map[string]any{
			"exit_code":   h.exitCode,
			"last_stderr": h.LastStderr(),
		}),
	})

	h.compareAndSetState(protocol.StateExited,
		protocol.StateStarting, protocol.StateRunning, protocol.StateUnresponsive)
	close(h.exited)
}

// discard removes h as the current handle and terminates it.
// Callers hold s.lifecycle.
func (s *Supervisor) discard(ctx context.Context, h *Handle, reason string) {
	s.forget(h)
	graceful := s.terminate(h)
	s.logger.Info("worker discarded",
		zap.Int("pid", h.PID()),
		zap.String("reason", reason),
		zap.Bool("graceful", graceful))
	s.record(ctx, eventlog.Event{
		Type: protocol.EventWorkerRestarted,
		PID:  h.PID(),
		Payload: eventlog.Payload(map[string]any{
			"reason":   reason,
			"graceful": graceful,
		}),
	})
}

func (s *Supervisor) forget(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == h {
		s.handle = nil
	}
	s.previous = h
}

// terminate closes stdin and waits for a clean exit, escalating to killing
// the process tree. It reports whether the worker exited on its own.
func (s *Supervisor) terminate(h *Handle) bool {
	defer h.setState(protocol.StateDisposed)
	defer h.release()

	_ = h.stdin.Close()
	wait := time.NewTimer(s.cfg.ShutdownTimeout)
	defer wait.Stop()
	select {
	case <-h.exited:
		return true
	case <-wait.C:
	}

	s.logger.Warn("worker ignored stdin close, terminating process group", zap.Int("pid", h.PID()))
	if err := terminateTree(h.cmd.Process); err != nil {
		s.logger.Debug("terminate process group", zap.Int("pid", h.PID()), zap.Error(err))
	}
	grace := time.NewTimer(s.cfg.KillGrace)
	defer grace.Stop()
	select {
	case <-h.exited:
		return false
	case <-grace.C:
	}
	s.kill(h)
	return false
}

// kill force-kills the process tree and waits for the reaper.
func (s *Supervisor) kill(h *Handle) {
	defer h.setState(protocol.StateDisposed)
	defer h.release()

	select {
	case <-h.exited:
		return
	default:
	}
	if err := killTree(h.cmd.Process); err != nil {
		s.logger.Warn("kill process group", zap.Int("pid", h.PID()), zap.Error(err))
	}
	t := time.NewTimer(killWait)
	defer t.Stop()
	select {
	case <-h.exited:
	case <-t.C:
		s.logger.Error("worker survived kill", zap.Int("pid", h.PID()))
	}
}

func (s *Supervisor) record(ctx context.Context, ev eventlog.Event) {
	ev.Source = source
	if err := s.events.Record(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Warn("record event", zap.String("type", ev.Type), zap.Error(err))
	}
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
