// Package protocol defines the envelope exchanged between the controller and
// a worker process, the enums shared by the supervisor and the pipeline, and
// the typed errors surfaced to callers.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Param is a single named parameter in a request.
type Param struct {
	Key   string
	Value any
}

// Params is an insertion-ordered parameter bag. It marshals to a JSON object
// whose keys keep the order in which they were set. Decoded values are kept
// as json.RawMessage so numbers and nested structures survive untouched.
type Params []Param

// NewParams builds a Params from alternating key/value arguments.
// It panics on an odd argument count or a non-string key, which is a
// programming error at the call site.
func NewParams(kv ...any) Params {
	if len(kv)%2 != 0 {
		panic("protocol.NewParams: odd number of arguments")
	}
	p := make(Params, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("protocol.NewParams: key at %d is %T, not string", i, kv[i]))
		}
		p = p.Set(key, kv[i+1])
	}
	return p
}

// Set returns p with key bound to value. An existing key keeps its position.
func (p Params) Set(key string, value any) Params {
	for i := range p {
		if p[i].Key == key {
			p[i].Value = value
			return p
		}
	}
	return append(p, Param{Key: key, Value: value})
}

// Get returns the raw value bound to key.
func (p Params) Get(key string) (any, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return nil, false
}

// Keys returns parameter names in order.
func (p Params) Keys() []string {
	keys := make([]string, len(p))
	for i, kv := range p {
		keys[i] = kv.Key
	}
	return keys
}

// Decode converts the value bound to key into dst. It works for values that
// came off the wire (json.RawMessage) and for values set in-process.
func (p Params) Decode(key string, dst any) error {
	v, ok := p.Get(key)
	if !ok {
		return fmt.Errorf("parameter %q not found", key)
	}
	raw, ok := v.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal parameter %q: %w", key, err)
		}
		raw = b
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode parameter %q: %w", key, err)
	}
	return nil
}

// MarshalJSON writes p as a JSON object in insertion order. A nil Params
// is written as {}.
func (p Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kv := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(kv.Key)
		if err != nil {
			return nil, fmt.Errorf("marshal parameter key: %w", err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal parameter %q: %w", kv.Key, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object (or null) preserving key order.
func (p *Params) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("parameters: %w", err)
	}
	if tok == nil {
		*p = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("parameters: expected object, got %v", tok)
	}
	out := Params{}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return fmt.Errorf("parameters: %w", err)
		}
		key, ok := kt.(string)
		if !ok {
			return fmt.Errorf("parameters: expected key, got %v", kt)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("parameters: value for %q: %w", key, err)
		}
		out = out.Set(key, raw)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("parameters: %w", err)
	}
	*p = out
	return nil
}

// Request is the envelope sent to the worker. There is no correlation id:
// exactly one request is in flight per worker.
type Request struct {
	Operation  string `json:"Operation"`
	Parameters Params `json:"Parameters"`
}

// Response is the envelope returned by the worker. Success=true implies
// Error is nil; when Success is false, Data is ignored.
type Response struct {
	Success bool            `json:"Success"`
	Data    json.RawMessage `json:"Data"`
	Error   *string         `json:"Error"`
}

// OK builds a successful response carrying data.
func OK(data any) (Response, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Response{}, fmt.Errorf("marshal response data: %w", err)
	}
	return Response{Success: true, Data: raw}, nil
}

// Fail builds a failed response carrying msg.
func Fail(msg string) Response {
	return Response{Success: false, Error: &msg}
}

// ErrorMessage returns the error text, or "" when none is set.
func (r Response) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// Validate checks the envelope invariant.
func (r Response) Validate() error {
	if r.Success && r.Error != nil {
		return fmt.Errorf("successful response carries error %q", *r.Error)
	}
	return nil
}

// State is the lifecycle state of a worker handle.
type State string

// Worker handle states.
const (
	StateNotStarted   State = "NotStarted"
	StateStarting     State = "Starting"
	StateRunning      State = "Running"
	StateUnresponsive State = "Unresponsive"
	StateExited       State = "Exited"
	StateDisposed     State = "Disposed"
)

// Diagnosis classifies a request that outlived both its timeout and the
// grace period.
type Diagnosis string

// Diagnosis outcomes.
const (
	DiagnosisShortTimeout   Diagnosis = "ShortTimeout"
	DiagnosisHang           Diagnosis = "Hang"
	DiagnosisProcessCrashed Diagnosis = "ProcessCrashed"
)

// Advice returns a short, actionable hint for the outcome.
func (d Diagnosis) Advice() string {
	switch d {
	case DiagnosisShortTimeout:
		return "worker is alive but slow; consider a larger timeout"
	case DiagnosisHang:
		return "worker stopped responding and was restarted"
	case DiagnosisProcessCrashed:
		return "worker process exited; check that the target is alive"
	default:
		return ""
	}
}

// Category is the failure taxonomy exposed to callers.
type Category string

// Failure categories.
const (
	CategoryTimeout          Category = "Timeout"
	CategoryInvalidArgument  Category = "InvalidArgument"
	CategoryNotSupported     Category = "NotSupported"
	CategoryUnauthorized     Category = "Unauthorized"
	CategoryInvalidOperation Category = "InvalidOperation"
	CategoryUnhandled        Category = "Unhandled"
)
