package workerhost

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"uibridge/pkg/protocol"
)

// Handler executes one operation inside the worker. The returned value is
// marshalled into the response Data.
type Handler func(ctx context.Context, params protocol.Params) (any, error)

// Registry maps operation names to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds op to h. Names are case-sensitive and may be bound once.
func (r *Registry) Register(op string, h Handler) error {
	if op == "" {
		return errors.New("register handler: operation name is empty")
	}
	if h == nil {
		return fmt.Errorf("register handler %s: nil handler", op)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[op]; exists {
		return fmt.Errorf("register handler %s: already registered", op)
	}
	r.handlers[op] = h
	return nil
}

// MustRegister is Register for static wiring; it panics on error.
func (r *Registry) MustRegister(op string, h Handler) {
	if err := r.Register(op, h); err != nil {
		panic(err)
	}
}

// Lookup returns the handler bound to op.
func (r *Registry) Lookup(op string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[op]
	return h, ok
}

// Operations returns the registered names, sorted.
func (r *Registry) Operations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ops := make([]string, 0, len(r.handlers))
	for op := range r.handlers {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}
