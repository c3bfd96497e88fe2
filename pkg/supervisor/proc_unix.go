//go:build unix

package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// setProcAttrs puts the worker in its own process group so the whole tree
// can be signalled at once.
func setProcAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateTree asks the worker's process group to exit.
func terminateTree(p *os.Process) error {
	return signalGroup(p, syscall.SIGTERM)
}

// killTree force-kills the worker's process group.
func killTree(p *os.Process) error {
	return signalGroup(p, syscall.SIGKILL)
}

func signalGroup(p *os.Process, sig syscall.Signal) error {
	if p == nil {
		return nil
	}
	// Setpgid makes the worker its own group leader, so pgid == pid.
	if err := syscall.Kill(-p.Pid, sig); err != nil {
		// The group may already be gone; fall back to the leader itself.
		if perr := p.Signal(sig); perr != nil {
			return fmt.Errorf("signal %s to process group %d: %w", sig, p.Pid, err)
		}
	}
	return nil
}
