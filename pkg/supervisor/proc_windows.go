//go:build windows

package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

const (
	createNewProcessGroup = 0x00000200
	createNoWindow        = 0x08000000
)

// setProcAttrs starts the worker windowless in a new process group.
func setProcAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: createNewProcessGroup | createNoWindow,
	}
}

// terminateTree asks the worker tree to close.
func terminateTree(p *os.Process) error {
	return taskkill(p, false)
}

// killTree force-kills the worker and every descendant.
func killTree(p *os.Process) error {
	if err := taskkill(p, true); err != nil {
		if kerr := p.Kill(); kerr != nil {
			return fmt.Errorf("kill process tree %d: %w", p.Pid, err)
		}
	}
	return nil
}

func taskkill(p *os.Process, force bool) error {
	if p == nil {
		return nil
	}
	args := []string{"/T", "/PID", strconv.Itoa(p.Pid)}
	if force {
		args = append([]string{"/F"}, args...)
	}
	//nolint:gosec // fixed system tool with a numeric pid
	cmd := exec.Command("taskkill", args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true, CreationFlags: createNoWindow}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("taskkill %d: %w: %s", p.Pid, err, out)
	}
	return nil
}
