//go:build windows

package supervisor

import (
	"fmt"
	"os"
)

// probeProcess treats any process that can still be opened as responsive;
// window-message hangs are not visible from here.
func probeProcess(pid int) ProbeResult {
	p, err := os.FindProcess(pid)
	if err != nil {
		return ProbeResult{Detail: fmt.Sprintf("open process: %v", err)}
	}
	_ = p.Release()
	return ProbeResult{Alive: true, Responsive: true, Detail: "process exists"}
}
