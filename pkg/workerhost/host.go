// Package workerhost is the worker side of the protocol: it reads request
// lines, runs the registered handler on a dedicated thread, and writes one
// response line per request.
package workerhost

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"uibridge/pkg/protocol"
	"uibridge/pkg/threadcall"
)

// Config tunes handler execution.
type Config struct {
	// HandlerTimeout bounds each handler; zero means no bound.
	HandlerTimeout time.Duration
	// ThreadInit runs on the handler's thread before it, with the returned
	// release running on the same thread after.
	ThreadInit func() (release func(), err error)
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger. Worker logs must go to stderr: stdout carries
// the protocol.
func WithLogger(l *zap.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// Host serves requests from a Registry.
type Host struct {
	reg    *Registry
	cfg    Config
	logger *zap.Logger
}

// New creates a Host.
func New(reg *Registry, cfg Config, opts ...Option) *Host {
	h := &Host{reg: reg, cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve answers request lines from in on out until in reaches EOF, which is
// the controller's shutdown signal, or ctx is done. Every line gets exactly
// one response line, malformed ones included.
func (h *Host) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := protocol.NewLineScanner(in)
		for sc.Scan() {
			select {
			case lines <- bytes.Clone(sc.Bytes()):
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	w := bufio.NewWriter(out)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("read request: %w", err)
					}
				default:
				}
				h.logger.Info("stdin closed, worker exiting")
				return nil
			}
			if err := h.reply(ctx, w, line); err != nil {
				return err
			}
		}
	}
}

func (h *Host) reply(ctx context.Context, w *bufio.Writer, line []byte) error {
	data, err := protocol.EncodeResponse(h.Handle(ctx, line))
	if err != nil {
		// Unreachable for responses built by Handle; keep the stream in step.
		data, _ = protocol.EncodeResponse(protocol.Fail(err.Error()))
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush response: %w", err)
	}
	return nil
}

// Handle decodes one request line and runs its handler.
func (h *Host) Handle(ctx context.Context, line []byte) protocol.Response {
	req, err := protocol.DecodeRequest(line)
	if err != nil {
		h.logger.Warn("malformed request", zap.Error(err))
		return protocol.Fail(err.Error())
	}

	handler, ok := h.reg.Lookup(req.Operation)
	if !ok {
		return protocol.Fail(fmt.Sprintf("operation %s not supported", req.Operation))
	}

	start := time.Now()
	var opts []threadcall.Option
	if h.cfg.ThreadInit != nil {
		opts = append(opts, threadcall.WithThreadInit(h.cfg.ThreadInit))
	}
	val, err := threadcall.Run(ctx, req.Operation, h.cfg.HandlerTimeout,
		func(ctx context.Context) (any, error) { return handler(ctx, req.Parameters) },
		opts...)
	h.logger.Debug("handled request",
		zap.String("operation", req.Operation),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err))
	if err != nil {
		return protocol.Fail(failureMessage(req.Operation, h.cfg.HandlerTimeout, err))
	}

	resp, err := protocol.OK(val)
	if err != nil {
		return protocol.Fail(fmt.Sprintf("operation %s returned an unencodable result: %v", req.Operation, err))
	}
	return resp
}

func failureMessage(op string, timeout time.Duration, err error) string {
	var (
		te *threadcall.TimeoutError
		ce *threadcall.CancelledError
		pe *threadcall.PanicError
	)
	switch {
	case errors.As(err, &te):
		return fmt.Sprintf("operation %s timed out after %v", op, timeout)
	case errors.As(err, &ce):
		return fmt.Sprintf("operation %s cancelled: %v", op, ce.Cause)
	case errors.As(err, &pe):
		return fmt.Sprintf("operation %s panicked: %v", op, pe.Value)
	default:
		return err.Error()
	}
}
