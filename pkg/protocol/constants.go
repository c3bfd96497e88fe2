package protocol

import "time"

// Directory and path constants.
const (
	// HomeDir is the user-level state directory (e.g., ~/.uibridge).
	HomeDir = ".uibridge"

	// WorkerCommand is the subcommand a controller passes when it spawns
	// its own binary as the worker.
	WorkerCommand = "worker"
)

// Wire and escalation limits.
const (
	// MaxLineBytes bounds a single envelope line in either direction.
	MaxLineBytes = 16 << 20

	// MaxGrace caps the grace period applied after a primary timeout.
	MaxGrace = 10 * time.Second

	// MaxSummaryRunes bounds the parameter summary attached to failures.
	MaxSummaryRunes = 200

	// MaxRawRunes bounds raw response text attached to protocol errors.
	MaxRawRunes = 512
)

// GracePeriod returns min(timeout/2, MaxGrace).
func GracePeriod(timeout time.Duration) time.Duration {
	grace := timeout / 2
	if grace > MaxGrace {
		return MaxGrace
	}
	return grace
}
