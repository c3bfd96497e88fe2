package workerhost

import (
	"context"
	"errors"
	"fmt"
	"time"

	"uibridge/pkg/protocol"
)

// Builtin operation names.
const (
	OpPing       = "Ping"
	OpEcho       = "Echo"
	OpSleep      = "Sleep"
	OpFail       = "Fail"
	OpOperations = "Operations"
)

// Builtins returns a registry holding the diagnostic operations.
func Builtins() *Registry {
	r := NewRegistry()
	RegisterBuiltins(r)
	return r
}

// RegisterBuiltins adds the diagnostic operations to r:
//
//	Ping                 -> "pong"
//	Echo {...}           -> the parameters, in order
//	Sleep {ms}           -> {"slept_ms": ms}, honouring cancellation
//	Fail {message}       -> failure carrying message
//	Operations           -> sorted operation names
func RegisterBuiltins(r *Registry) {
	r.MustRegister(OpPing, func(context.Context, protocol.Params) (any, error) {
		return "pong", nil
	})
	r.MustRegister(OpEcho, func(_ context.Context, params protocol.Params) (any, error) {
		if params == nil {
			return protocol.Params{}, nil
		}
		return params, nil
	})
	r.MustRegister(OpSleep, sleep)
	r.MustRegister(OpFail, func(_ context.Context, params protocol.Params) (any, error) {
		var msg string
		if err := params.Decode("message", &msg); err != nil || msg == "" {
			msg = "requested failure"
		}
		return nil, errors.New(msg)
	})
	r.MustRegister(OpOperations, func(context.Context, protocol.Params) (any, error) {
		return r.Operations(), nil
	})
}

func sleep(ctx context.Context, params protocol.Params) (any, error) {
	var ms int64
	if err := params.Decode("ms", &ms); err != nil {
		return nil, err
	}
	if ms < 0 {
		return nil, fmt.Errorf("parameter ms must not be negative, got %d", ms)
	}
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return map[string]int64{"slept_ms": ms}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("sleep interrupted: %w", ctx.Err())
	}
}
