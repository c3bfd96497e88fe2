//go:build linux

package supervisor

import (
	"fmt"
	"os"
	"strings"
)

// probeProcess reads the scheduler state from /proc/<pid>/stat. Stopped,
// traced and zombie processes cannot answer a request.
func probeProcess(pid int) ProbeResult {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return probeSignal(pid)
	}
	state, ok := statState(string(data))
	if !ok {
		return probeSignal(pid)
	}
	switch state {
	case 'T', 't':
		return ProbeResult{Alive: true, Detail: "process is stopped or traced"}
	case 'Z', 'X':
		return ProbeResult{Detail: "process is a zombie"}
	default:
		return ProbeResult{Alive: true, Responsive: true, Detail: fmt.Sprintf("process state %c", state)}
	}
}

// statState extracts the state field, which follows the parenthesised
// command name. The name itself may contain spaces and parentheses.
func statState(stat string) (byte, bool) {
	i := strings.LastIndexByte(stat, ')')
	if i < 0 || i+2 >= len(stat) {
		return 0, false
	}
	return stat[i+2], true
}
