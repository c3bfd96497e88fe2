//go:build unix

package supervisor

import (
	"fmt"
	"syscall"
)

// probeSignal checks that pid exists with signal 0.
func probeSignal(pid int) ProbeResult {
	if err := syscall.Kill(pid, 0); err != nil {
		return ProbeResult{Detail: fmt.Sprintf("signal 0 failed: %v", err)}
	}
	return ProbeResult{Alive: true, Responsive: true, Detail: "process exists"}
}
