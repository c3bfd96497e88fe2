// Package translate turns worker responses into typed results or
// categorized errors.
package translate

import (
	"encoding/json"
	"fmt"
	"strings"

	"uibridge/pkg/protocol"
)

// maxValueRunes bounds a single parameter value in a summary.
const maxValueRunes = 60

// rules map lower-cased message fragments to a category. Order is
// precedence: the first matching rule wins.
var rules = []struct {
	category  protocol.Category
	fragments []string
}{
	{protocol.CategoryTimeout, []string{"timeout", "timed out"}},
	{protocol.CategoryInvalidArgument, []string{"not found", "invalid id", "invalid element id", "no element"}},
	{protocol.CategoryNotSupported, []string{"not supported", "pattern not", "unsupported"}},
	{protocol.CategoryUnauthorized, []string{"access", "permission", "read-only", "readonly", "denied"}},
}

// Classify maps a worker error message to a category. Matching is
// case-insensitive; anything unrecognised is InvalidOperation.
func Classify(msg string) protocol.Category {
	lower := strings.ToLower(msg)
	for _, r := range rules {
		for _, f := range r.fragments {
			if strings.Contains(lower, f) {
				return r.category
			}
		}
	}
	return protocol.CategoryInvalidOperation
}

// Failure builds the error for a response with Success=false.
func Failure(resp protocol.Response, op string, params protocol.Params) *protocol.CallError {
	msg := resp.ErrorMessage()
	if msg == "" {
		msg = "worker reported failure without a message"
	}
	return &protocol.CallError{
		Category:  Classify(msg),
		Operation: op,
		Params:    Summarize(params, 0),
		Message:   msg,
	}
}

// Translate converts a decoded response into T, or into a categorized
// error when the worker reported failure.
func Translate[T any](resp protocol.Response, op string, params protocol.Params) (T, error) {
	if !resp.Success {
		var zero T
		return zero, Failure(resp, op, params)
	}
	return Decode[T](resp.Data, op, params)
}

// Decode unmarshals successful response data into T. A missing payload
// decodes to the zero value.
func Decode[T any](data json.RawMessage, op string, params protocol.Params) (T, error) {
	var out T
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		var zero T
		return zero, &protocol.CallError{
			Category:  protocol.CategoryInvalidOperation,
			Operation: op,
			Params:    Summarize(params, 0),
			Message:   fmt.Sprintf("could not interpret result as %T: %v", zero, err),
			Err:       err,
		}
	}
	return out, nil
}

// Unhandled wraps a recovered panic or an unexpected error.
func Unhandled(op string, params protocol.Params, cause any) *protocol.CallError {
	ce := &protocol.CallError{
		Category:  protocol.CategoryUnhandled,
		Operation: op,
		Params:    Summarize(params, 0),
		Message:   fmt.Sprintf("unexpected failure: %v", cause),
	}
	if err, ok := cause.(error); ok {
		ce.Err = err
	}
	return ce
}

// Summarize renders params as "k=v, k2=v2" with each value and the whole
// summary truncated. max <= 0 uses protocol.MaxSummaryRunes.
func Summarize(params protocol.Params, max int) string {
	if max <= 0 {
		max = protocol.MaxSummaryRunes
	}
	parts := make([]string, 0, len(params))
	for _, p := range params {
		parts = append(parts, p.Key+"="+protocol.Truncate(renderValue(p.Value), maxValueRunes))
	}
	return protocol.Truncate(strings.Join(parts, ", "), max)
}

func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case json.RawMessage:
		var str string
		if json.Unmarshal(val, &str) == nil {
			return str
		}
		return string(val)
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
