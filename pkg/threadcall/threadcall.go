// Package threadcall runs a blocking function on a dedicated OS thread and
// races it against a timeout and the caller's context.
//
// Native automation handles are bound to the thread that created them, so
// every call gets a freshly locked thread instead of an arbitrary scheduler
// thread. A call that outlives its timeout cannot be killed; Run only stops
// waiting for it. Callers that need a hard stop must isolate the call in a
// separate process and terminate that process.
package threadcall

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

// DefaultJoinTimeout bounds how long Run waits for an interrupted call to
// return after its context is cancelled.
const DefaultJoinTimeout = time.Second

// Option configures a single Run.
type Option func(*options)

type options struct {
	joinTimeout time.Duration
	threadInit  func() (func(), error)
}

// WithJoinTimeout overrides DefaultJoinTimeout.
func WithJoinTimeout(d time.Duration) Option {
	return func(o *options) { o.joinTimeout = d }
}

// WithThreadInit runs init on the dedicated thread before fn. The returned
// release func, if any, runs on the same thread after fn returns. Use it
// for per-thread apartment setup.
func WithThreadInit(init func() (release func(), err error)) Option {
	return func(o *options) { o.threadInit = init }
}

// TimeoutError is returned when fn does not finish within the timeout.
type TimeoutError struct {
	Name    string
	Timeout time.Duration
	Joined  bool // fn returned during the join window
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("%s timed out after %v", e.Name, e.Timeout)
	if !e.Joined {
		msg += " (call still running)"
	}
	return msg
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// CancelledError is returned when the caller's context ends first.
type CancelledError struct {
	Name   string
	Cause  error
	Joined bool
}

func (e *CancelledError) Error() string {
	msg := fmt.Sprintf("%s cancelled: %v", e.Name, e.Cause)
	if !e.Joined {
		msg += " (call still running)"
	}
	return msg
}

func (e *CancelledError) Unwrap() error { return e.Cause }

// PanicError carries a panic recovered from fn.
type PanicError struct {
	Name  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.Name, e.Value)
}

type result[T any] struct {
	val T
	err error
}

// Run invokes fn on a dedicated OS thread. A timeout <= 0 disables the timer
// so only ctx can stop the wait. Errors returned by fn keep their message
// and are wrapped with name.
func Run[T any](ctx context.Context, name string, timeout time.Duration, fn func(context.Context) (T, error), opts ...Option) (T, error) {
	o := options{joinTimeout: DefaultJoinTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		// Never unlocked: the thread exits with this goroutine instead of
		// returning to the scheduler with native state attached.
		runtime.LockOSThread()
		done <- invoke(callCtx, name, fn, o.threadInit)
	}()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	var zero T
	select {
	case r := <-done:
		return r.val, r.err
	case <-timer:
		cancel()
		return zero, &TimeoutError{Name: name, Timeout: timeout, Joined: join(done, o.joinTimeout)}
	case <-ctx.Done():
		cancel()
		return zero, &CancelledError{Name: name, Cause: ctx.Err(), Joined: join(done, o.joinTimeout)}
	}
}

// Do is Run for functions without a result.
func Do(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error, opts ...Option) error {
	_, err := Run(ctx, name, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts...)
	return err
}

func invoke[T any](ctx context.Context, name string, fn func(context.Context) (T, error), init func() (func(), error)) (r result[T]) {
	defer func() {
		if p := recover(); p != nil {
			r = result[T]{err: &PanicError{Name: name, Value: p, Stack: debug.Stack()}}
		}
	}()

	if init != nil {
		release, err := init()
		if err != nil {
			return result[T]{err: fmt.Errorf("%s: thread init: %w", name, err)}
		}
		if release != nil {
			defer release()
		}
	}

	val, err := fn(ctx)
	if err != nil {
		return result[T]{err: fmt.Errorf("%s: %w", name, err)}
	}
	return result[T]{val: val}
}

// join waits up to d for the call to return and reports whether it did.
func join[T any](done <-chan result[T], d time.Duration) bool {
	if d <= 0 {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}
