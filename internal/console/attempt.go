package console

import "time"

// Strategy names for Attempt.Strategy.
const (
	StrategyScript     = "script"
	StrategyPersistent = "persistent"
	StrategyRPC        = "rpc"
)

// Attempt holds the raw outcome of one console invocation.
type Attempt struct {
	RunID     string        // unique identifier for this invocation
	Strategy  string        // which transport produced it
	ExitCode  int           // process exit code (0 for live sessions)
	Stdout    []byte        // captured stdout (may be truncated)
	Stderr    []byte        // captured stderr (may be truncated)
	TimedOut  bool          // true if the soft timeout elapsed
	Truncated bool          // true if output exceeded the size cap
	Duration  time.Duration // wall-clock execution time
	StartedAt time.Time
}
