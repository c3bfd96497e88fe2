package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// ProtocolErrorKind distinguishes protocol-level failures.
type ProtocolErrorKind string

// Protocol error kinds.
const (
	KindEmptyResponse     ProtocolErrorKind = "empty_response"
	KindMalformedResponse ProtocolErrorKind = "malformed_response"
	KindMalformedRequest  ProtocolErrorKind = "malformed_request"
)

// ProtocolError reports that the peer produced no usable envelope, as
// opposed to an envelope with Success=false.
type ProtocolError struct {
	Kind ProtocolErrorKind
	Raw  string // offending line, may be long; Error() truncates it
	Err  error
}

func (e *ProtocolError) Error() string {
	switch e.Kind {
	case KindEmptyResponse:
		return "worker produced no response (empty line)"
	case KindMalformedResponse:
		return fmt.Sprintf("worker response is not a valid envelope: %v; raw=%q", e.Err, Truncate(e.Raw, MaxRawRunes))
	default:
		if e.Raw == "" {
			return fmt.Sprintf("request is not a valid envelope: %v", e.Err)
		}
		return fmt.Sprintf("request is not a valid envelope: %v; raw=%q", e.Err, Truncate(e.Raw, MaxRawRunes))
	}
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// CallError is the categorized failure returned for a single request.
// The diagnostic fields are zero unless the failure came from timeout
// escalation or a process exit.
type CallError struct {
	Category  Category
	Operation string
	Params    string // truncated parameter summary
	Message   string

	Diagnosis Diagnosis
	Elapsed   time.Duration
	ExitCode  *int
	Stderr    string // last stderr line seen from the worker
	Restarted bool   // worker was torn down as part of this failure

	Err error
}

func (e *CallError) Error() string {
	var b strings.Builder
	b.WriteString(e.Operation)
	b.WriteByte('(')
	b.WriteString(e.Params)
	b.WriteString("): ")
	b.WriteString(string(e.Category))
	b.WriteString(": ")
	b.WriteString(e.Message)

	var details []string
	if e.Diagnosis != "" {
		details = append(details, "diagnosis="+string(e.Diagnosis))
	}
	if e.Elapsed > 0 {
		details = append(details, "elapsed="+e.Elapsed.Round(time.Millisecond).String())
	}
	if e.ExitCode != nil {
		details = append(details, fmt.Sprintf("exit code=%d", *e.ExitCode))
	}
	if e.Restarted {
		details = append(details, "worker restarted")
	}
	if e.Stderr != "" {
		details = append(details, fmt.Sprintf("stderr=%q", Truncate(e.Stderr, MaxSummaryRunes)))
	}
	if len(details) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(details, ", "))
		b.WriteByte(']')
	}
	return b.String()
}

func (e *CallError) Unwrap() error { return e.Err }

// CategoryOf returns the category of err. Errors that are not a
// *CallError are Unhandled; nil yields "".
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return CategoryUnhandled
}

// StartError reports a worker that could not be brought to Running.
type StartError struct {
	Command  string
	ExitCode *int
	Stderr   string
	Err      error
}

func (e *StartError) Error() string {
	msg := "start worker"
	if e.Command != "" {
		msg += " " + e.Command
	}
	if e.ExitCode != nil {
		msg += fmt.Sprintf(": exited immediately with code %d", *e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += fmt.Sprintf(" (stderr: %q)", Truncate(e.Stderr, MaxSummaryRunes))
	}
	return msg
}

func (e *StartError) Unwrap() error { return e.Err }

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}
