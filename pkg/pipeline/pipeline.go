// Package pipeline runs requests against a supervised worker one at a time:
// acquire the gate, ensure a worker, write one line, read one line, and
// escalate through grace, diagnosis and restart when the worker is late.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"uibridge/pkg/eventlog"
	"uibridge/pkg/protocol"
	"uibridge/pkg/supervisor"
	"uibridge/pkg/translate"
)

// source is the Source column of events written by the pipeline.
const source = "pipeline"

// exitWait bounds how long a crash report waits for the exit code once
// stdout has closed.
const exitWait = time.Second

// Policy tunes timeout escalation.
type Policy struct {
	// LateWindow is how long to wait for a response after diagnosis before
	// restarting the worker (default 1s).
	LateWindow time.Duration
	// MaxGrace caps the grace period, which is otherwise half the timeout
	// (default protocol.MaxGrace).
	MaxGrace time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.LateWindow <= 0 {
		p.LateWindow = time.Second
	}
	if p.MaxGrace <= 0 {
		p.MaxGrace = protocol.MaxGrace
	}
	return p
}

func (p Policy) grace(timeout time.Duration) time.Duration {
	return min(timeout/2, p.MaxGrace)
}

// Stats are cumulative counters for a Client.
type Stats struct {
	Calls         int64
	Failures      int64
	Restarts      int64
	LateResponses int64
	StaleLines    int64
}

// Option configures a Client.
type Option func(*Client)

// WithPolicy sets the escalation policy.
func WithPolicy(p Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithLogger sets the logger. The default discards.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRecorder sets where call events are recorded.
func WithRecorder(r eventlog.Recorder) Option {
	return func(c *Client) { c.events = r }
}

// Client serializes full request cycles against one supervised worker.
// It is safe for concurrent use.
type Client struct {
	sup    *supervisor.Supervisor
	gate   *semaphore.Weighted
	policy Policy
	logger *zap.Logger
	events eventlog.Recorder

	calls, failures, restarts, late, stale atomic.Int64
}

// New creates a Client over sup. The Client owns sup from here on: Close
// stops it.
func New(sup *supervisor.Supervisor, opts ...Option) *Client {
	c := &Client{
		sup:    sup,
		gate:   semaphore.NewWeighted(1),
		logger: zap.NewNop(),
		events: eventlog.Nop{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.policy = c.policy.withDefaults()
	return c
}

// Supervisor returns the supervisor the client drives.
func (c *Client) Supervisor() *supervisor.Supervisor { return c.sup }

// Stats returns a snapshot of the counters.
func (c *Client) Stats() Stats {
	return Stats{
		Calls:         c.calls.Load(),
		Failures:      c.failures.Load(),
		Restarts:      c.restarts.Load(),
		LateResponses: c.late.Load(),
		StaleLines:    c.stale.Load(),
	}
}

// Close waits for the in-flight request, then stops the worker gracefully.
func (c *Client) Close(ctx context.Context) error {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("wait for in-flight request: %w", err)
	}
	defer c.gate.Release(1)
	if err := c.sup.Stop(ctx); err != nil {
		return fmt.Errorf("stop worker: %w", err)
	}
	return nil
}

// call is the per-request context.
type call struct {
	id      string
	op      string
	params  protocol.Params
	timeout time.Duration
	start   time.Time
}

// Execute sends op to the worker and returns the response Data. Timeout
// must be positive. Failures are *protocol.CallError.
func (c *Client) Execute(ctx context.Context, op string, params protocol.Params, timeout time.Duration) (data json.RawMessage, err error) {
	c.calls.Add(1)
	cl := &call{id: uuid.NewString(), op: op, params: params, timeout: timeout}

	defer func() {
		if r := recover(); r != nil {
			data, err = nil, translate.Unhandled(op, params, r)
		}
		if err != nil {
			c.failed(ctx, cl, err)
		}
	}()

	if op == "" {
		return nil, c.callError(cl, protocol.CategoryInvalidArgument, "operation is empty", nil)
	}
	if timeout <= 0 {
		return nil, c.callError(cl, protocol.CategoryInvalidArgument,
			fmt.Sprintf("timeout must be positive, got %v", timeout), nil)
	}

	if err := c.gate.Acquire(ctx, 1); err != nil {
		return nil, c.callError(cl, protocol.CategoryTimeout,
			fmt.Sprintf("gave up waiting for the worker: %v", err), err)
	}
	defer c.gate.Release(1)

	cl.start = time.Now()
	resp, err := c.roundTrip(ctx, cl)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, translate.Failure(resp, op, params)
	}
	return resp.Data, nil
}

// Call executes op and decodes the result into T.
func Call[T any](ctx context.Context, c *Client, op string, params protocol.Params, timeout time.Duration) (T, error) {
	data, err := c.Execute(ctx, op, params, timeout)
	if err != nil {
		var zero T
		return zero, err
	}
	return translate.Decode[T](data, op, params)
}

// roundTrip performs one write and waits for one line. Callers hold the
// gate.
func (c *Client) roundTrip(ctx context.Context, cl *call) (protocol.Response, error) {
	line, err := protocol.EncodeRequest(protocol.Request{Operation: cl.op, Parameters: cl.params})
	if err != nil {
		return protocol.Response{}, c.callError(cl, protocol.CategoryInvalidArgument, err.Error(), err)
	}

	h, err := c.ensure(ctx, cl)
	if err != nil {
		return protocol.Response{}, err
	}

	sent := make(chan error, 1)
	go func() { sent <- h.Send(line) }()

	primary := time.NewTimer(cl.timeout)
	defer primary.Stop()
	var graceC <-chan time.Time

	for {
		select {
		case err := <-sent:
			sent = nil
			if err != nil {
				c.restart(ctx, cl, h, "write failed")
				ce := c.callError(cl, protocol.CategoryInvalidOperation,
					fmt.Sprintf("could not send request to worker: %v", err), err)
				ce.Restarted = true
				ce.Stderr = h.LastStderr()
				return protocol.Response{}, ce
			}

		case raw, ok := <-h.Lines():
			if !ok {
				return protocol.Response{}, c.streamClosed(ctx, cl, h)
			}
			resp, err := protocol.DecodeResponse(raw)
			if err != nil {
				ce := c.callError(cl, protocol.CategoryInvalidOperation, err.Error(), err)
				ce.Stderr = h.LastStderr()
				return protocol.Response{}, ce
			}
			return resp, nil

		case <-primary.C:
			grace := c.policy.grace(cl.timeout)
			c.logger.Info("request exceeded timeout, allowing grace",
				zap.String("call_id", cl.id),
				zap.String("operation", cl.op),
				zap.Duration("timeout", cl.timeout),
				zap.Duration("grace", grace))
			t := time.NewTimer(grace)
			defer t.Stop()
			graceC = t.C

		case <-graceC:
			return protocol.Response{}, c.diagnose(ctx, cl, h)

		case <-ctx.Done():
			if sent != nil {
				c.finishSend(cl, sent)
			}
			c.restart(ctx, cl, h, "caller cancelled")
			ce := c.callError(cl, protocol.CategoryTimeout,
				fmt.Sprintf("cancelled while waiting for the worker: %v", ctx.Err()), ctx.Err())
			ce.Elapsed = time.Since(cl.start)
			ce.Restarted = true
			return protocol.Response{}, ce
		}
	}
}

// finishSend lets a write already in flight complete before the worker is
// torn down, waiting at most the call's timeout.
func (c *Client) finishSend(cl *call, sent <-chan error) {
	t := time.NewTimer(cl.timeout)
	defer t.Stop()
	select {
	case <-sent:
	case <-t.C:
		c.logger.Warn("request write still blocked after cancellation",
			zap.String("call_id", cl.id),
			zap.String("operation", cl.op))
	}
}

// ensure returns a running worker with no unread output.
func (c *Client) ensure(ctx context.Context, cl *call) (*supervisor.Handle, error) {
	h, err := c.sup.Ensure(ctx)
	if err == nil && !c.drainStale(ctx, cl, h) {
		// stdout already closed: the worker is on its way out.
		c.restart(ctx, cl, h, "worker stdout closed")
		h, err = c.sup.Ensure(ctx)
	}
	if err != nil {
		cat := protocol.CategoryInvalidOperation
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			cat = protocol.CategoryTimeout
		}
		return nil, c.callError(cl, cat, fmt.Sprintf("worker unavailable: %v", err), err)
	}
	return h, nil
}

// drainStale discards lines nobody is waiting for. It reports false if
// stdout is closed.
func (c *Client) drainStale(ctx context.Context, cl *call, h *supervisor.Handle) bool {
	for {
		select {
		case raw, ok := <-h.Lines():
			if !ok {
				return false
			}
			c.stale.Add(1)
			text := protocol.Truncate(string(raw), protocol.MaxRawRunes)
			c.logger.Warn("discarding stale worker output",
				zap.String("call_id", cl.id),
				zap.Int("pid", h.PID()),
				zap.String("line", text))
			c.record(ctx, cl, h, protocol.EventStaleLine, map[string]any{"line": text})
		default:
			return true
		}
	}
}

// streamClosed handles stdout EOF or a read failure while waiting.
func (c *Client) streamClosed(ctx context.Context, cl *call, h *supervisor.Handle) error {
	if rerr := h.ReadErr(); rerr != nil {
		c.restart(ctx, cl, h, "stdout unreadable")
		ce := c.callError(cl, protocol.CategoryInvalidOperation,
			fmt.Sprintf("worker response unreadable: %v", rerr), rerr)
		ce.Restarted = true
		ce.Stderr = h.LastStderr()
		return ce
	}
	return c.crashed(ctx, cl, h)
}

// crashed reports a worker that exited with the request in flight.
func (c *Client) crashed(ctx context.Context, cl *call, h *supervisor.Handle) error {
	t := time.NewTimer(exitWait)
	select {
	case <-h.Exited():
	case <-t.C:
	}
	t.Stop()

	ce := c.callError(cl, protocol.CategoryTimeout, "worker process exited before responding", nil)
	ce.Diagnosis = protocol.DiagnosisProcessCrashed
	ce.Stderr = h.LastStderr()
	if code, ok := h.ExitCode(); ok {
		ce.ExitCode = &code
	}
	c.recordDiagnosis(ctx, cl, h, ce)
	c.restart(ctx, cl, h, "worker exited")
	ce.Restarted = true
	ce.Elapsed = time.Since(cl.start)
	return ce
}

// diagnose runs once both the timeout and the grace period have elapsed.
func (c *Client) diagnose(ctx context.Context, cl *call, h *supervisor.Handle) error {
	probe := c.sup.Probe(h)
	if !probe.Alive {
		return c.crashed(ctx, cl, h)
	}

	d := protocol.DiagnosisShortTimeout
	if !probe.Responsive {
		d = protocol.DiagnosisHang
	}
	grace := c.policy.grace(cl.timeout)
	ce := c.callError(cl, protocol.CategoryTimeout,
		fmt.Sprintf("no response within %v (+%v grace): %s", cl.timeout, grace, d.Advice()),
		context.DeadlineExceeded)
	ce.Diagnosis = d
	c.recordDiagnosis(ctx, cl, h, ce)

	if c.awaitLate(ctx, cl, h) {
		ce.Elapsed = time.Since(cl.start)
		ce.Stderr = h.LastStderr()
		return ce
	}

	if d == protocol.DiagnosisHang {
		c.sup.MarkUnresponsive(h)
	}
	ce.Stderr = h.LastStderr()
	if code, ok := h.ExitCode(); ok {
		ce.ExitCode = &code
	}
	c.restart(ctx, cl, h, "no response after "+string(d))
	ce.Restarted = true
	ce.Elapsed = time.Since(cl.start)
	return ce
}

// awaitLate gives a diagnosed request one last window. A line arriving in
// it is consumed, keeping the stream in step, and the worker is kept.
func (c *Client) awaitLate(ctx context.Context, cl *call, h *supervisor.Handle) bool {
	t := time.NewTimer(c.policy.LateWindow)
	defer t.Stop()
	select {
	case raw, ok := <-h.Lines():
		if !ok {
			return false
		}
		c.late.Add(1)
		c.logger.Info("late response consumed",
			zap.String("call_id", cl.id),
			zap.String("operation", cl.op),
			zap.Duration("elapsed", time.Since(cl.start)))
		c.record(ctx, cl, h, protocol.EventLateResponse, map[string]any{
			"elapsed_ms": time.Since(cl.start).Milliseconds(),
			"line":       protocol.Truncate(string(raw), protocol.MaxRawRunes),
		})
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Client) restart(ctx context.Context, cl *call, h *supervisor.Handle, reason string) {
	c.restarts.Add(1)
	c.logger.Warn("restarting worker",
		zap.String("call_id", cl.id),
		zap.String("operation", cl.op),
		zap.Int("pid", h.PID()),
		zap.String("reason", reason))
	c.sup.Kill(ctx, h, reason)
}

func (c *Client) callError(cl *call, cat protocol.Category, msg string, err error) *protocol.CallError {
	return &protocol.CallError{
		Category:  cat,
		Operation: cl.op,
		Params:    translate.Summarize(cl.params, 0),
		Message:   msg,
		Err:       err,
	}
}

func (c *Client) failed(ctx context.Context, cl *call, err error) {
	c.failures.Add(1)
	fields := map[string]any{
		"category": string(protocol.CategoryOf(err)),
		"message":  err.Error(),
	}
	var ce *protocol.CallError
	if errors.As(err, &ce) && ce.Diagnosis != "" {
		fields["diagnosis"] = string(ce.Diagnosis)
	}
	c.logger.Debug("call failed", zap.String("call_id", cl.id), zap.Error(err))
	c.record(ctx, cl, nil, protocol.EventCallFailed, fields)
}

func (c *Client) recordDiagnosis(ctx context.Context, cl *call, h *supervisor.Handle, ce *protocol.CallError) {
	c.logger.Warn("request diagnosed",
		zap.String("call_id", cl.id),
		zap.String("operation", cl.op),
		zap.Int("pid", h.PID()),
		zap.String("command", h.Command()),
		zap.Duration("uptime", time.Since(h.StartedAt())),
		zap.String("diagnosis", string(ce.Diagnosis)))
	fields := map[string]any{
		"diagnosis": string(ce.Diagnosis),
		"uptime_ms": time.Since(h.StartedAt()).Milliseconds(),
	}
	if ce.ExitCode != nil {
		fields["exit_code"] = *ce.ExitCode
	}
	if lines := h.StderrLines(); len(lines) > 0 {
		fields["stderr"] = lines
	}
	c.record(ctx, cl, h, protocol.EventDiagnosis, fields)
}

func (c *Client) record(ctx context.Context, cl *call, h *supervisor.Handle, evType string, fields map[string]any) {
	ev := eventlog.Event{
		Type:      evType,
		Source:    source,
		CallID:    cl.id,
		Operation: cl.op,
		Payload:   eventlog.Payload(fields),
	}
	if h != nil {
		ev.PID = h.PID()
	}
	if err := c.events.Record(context.WithoutCancel(ctx), ev); err != nil {
		c.logger.Warn("record event", zap.String("type", evType), zap.Error(err))
	}
}
