//go:build unix && !linux

package supervisor

func probeProcess(pid int) ProbeResult {
	return probeSignal(pid)
}
