package protocol_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"uibridge/pkg/protocol"
)

func TestCallError_ErrorsAs(t *testing.T) {
	code := 3
	callErr := &protocol.CallError{
		Category:  protocol.CategoryTimeout,
		Operation: "Ping",
		Params:    "",
		Message:   "worker did not respond",
		Diagnosis: protocol.DiagnosisProcessCrashed,
		Elapsed:   3 * time.Second,
		ExitCode:  &code,
		Restarted: true,
		Err:       context.DeadlineExceeded,
	}
	wrapped := fmt.Errorf("tool call: %w", callErr)

	var target *protocol.CallError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As failed to extract CallError")
	}
	if target.Category != protocol.CategoryTimeout {
		t.Errorf("expected Timeout, got %s", target.Category)
	}
	if !errors.Is(wrapped, context.DeadlineExceeded) {
		t.Error("expected CallError to unwrap to its cause")
	}

	msg := callErr.Error()
	for _, want := range []string{"Ping()", "Timeout", "diagnosis=ProcessCrashed", "exit code=3", "elapsed=3s", "worker restarted"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message %q missing %q", msg, want)
		}
	}
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want protocol.Category
	}{
		{name: "nil", err: nil, want: ""},
		{name: "plain error", err: errors.New("boom"), want: protocol.CategoryUnhandled},
		{name: "call error", err: &protocol.CallError{Category: protocol.CategoryNotSupported}, want: protocol.CategoryNotSupported},
		{name: "wrapped call error", err: fmt.Errorf("x: %w", &protocol.CallError{Category: protocol.CategoryUnauthorized}), want: protocol.CategoryUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := protocol.CategoryOf(tt.err); got != tt.want {
				t.Errorf("CategoryOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProtocolError_MessagesDiffer(t *testing.T) {
	empty := (&protocol.ProtocolError{Kind: protocol.KindEmptyResponse}).Error()
	bad := (&protocol.ProtocolError{Kind: protocol.KindMalformedResponse, Raw: "{oops", Err: errors.New("invalid character")}).Error()

	if empty == bad {
		t.Fatal("empty and malformed responses must produce different messages")
	}
	if !strings.Contains(bad, "{oops") {
		t.Errorf("malformed message should carry raw text, got %q", bad)
	}
}

func TestStartError_MentionsExitCode(t *testing.T) {
	code := 7
	err := &protocol.StartError{Command: "uibridge worker", ExitCode: &code, Stderr: "cannot init apartment"}
	msg := err.Error()
	if !strings.Contains(msg, "code 7") || !strings.Contains(msg, "cannot init apartment") {
		t.Errorf("unexpected start error message: %q", msg)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{in: "short", n: 10, want: "short"},
		{in: "exactly", n: 7, want: "exactly"},
		{in: "truncated", n: 5, want: "trun…"},
		{in: "héllo wörld", n: 4, want: "hél…"},
		{in: "anything", n: 0, want: "anything"},
	}
	for _, tt := range tests {
		if got := protocol.Truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
