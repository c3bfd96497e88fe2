package supervisor

// ProbeResult is a best-effort read of a worker's health.
type ProbeResult struct {
	Alive      bool
	Responsive bool
	Detail     string
}

// Prober inspects a live process. It must not block.
type Prober func(pid int) ProbeResult

// DefaultProber uses the platform's process table. It only reports a
// worker as unresponsive when the process is stopped or traced: a deadlocked
// worker blocks in an ordinary sleep state and reads as responsive, so Hang
// is rarely produced without a custom Prober.
func DefaultProber(pid int) ProbeResult {
	return probeProcess(pid)
}
