//go:build linux

package supervisor //nolint:testpackage // white-box tests drive handles directly

import (
	"syscall"
	"testing"
	"time"
)

func TestStatState(t *testing.T) {
	t.Parallel()
	tests := []struct {
		stat string
		want byte
		ok   bool
	}{
		{"123 (worker) S 1 123 123", 'S', true},
		{"123 (we (ird) name) T 1 2 3", 'T', true},
		{"123 (zombie) Z 1", 'Z', true},
		{"garbage", 0, false},
		{"1 (x)", 0, false},
	}
	for _, tt := range tests {
		got, ok := statState(tt.stat)
		if got != tt.want || ok != tt.ok {
			t.Errorf("statState(%q) = (%c, %v), want (%c, %v)", tt.stat, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDefaultProberBlockedVersusStopped(t *testing.T) {
	t.Parallel()
	s, _ := newTestSupervisor(t, "stubborn")
	h, err := s.Ensure(t.Context())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	// Blocked on a read, like a deadlocked handler: still reads as responsive.
	if res := DefaultProber(h.PID()); !res.Alive || !res.Responsive {
		t.Fatalf("blocked worker = %+v, want alive and responsive", res)
	}

	if err := syscall.Kill(h.PID(), syscall.SIGSTOP); err != nil {
		t.Fatalf("SIGSTOP: %v", err)
	}
	t.Cleanup(func() { _ = syscall.Kill(h.PID(), syscall.SIGCONT) })
	waitFor(t, func() bool {
		res := DefaultProber(h.PID())
		return res.Alive && !res.Responsive
	}, 2*time.Second)
}
