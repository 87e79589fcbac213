// Package report provides structured persistence and retrieval of
// executed command runs. Records are stored as typed structs so past
// invocations can be inspected after the fact.
package report

import (
	"errors"
	"time"
)

// ErrNotFound reports that no record exists for the requested run ID.
var ErrNotFound = errors.New("report: run not found")

// Store persists and retrieves run records.
type Store interface {
	Save(rec *RunRecord) error
	Load(runID string) (*RunRecord, error)
}

// Lister is implemented by stores that can enumerate saved runs, most
// recent first.
type Lister interface {
	List() ([]string, error)
}

// RunRecord holds everything worth keeping about one executed command.
type RunRecord struct {
	ID        string    `json:"id"`
	Command   string    `json:"command"`
	Workspace string    `json:"workspace"`
	StartedAt time.Time `json:"started_at"`

	Success      bool   `json:"success"`
	Shape        string `json:"shape,omitempty"`
	RecordCount  int    `json:"record_count"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	Attempts []AttemptRecord `json:"attempts,omitempty"`
	// Output is the raw stdout of the final attempt, possibly truncated.
	Output string `json:"output,omitempty"`
}

// AttemptRecord describes one transport attempt of a run.
type AttemptRecord struct {
	Strategy  string        `json:"strategy"`
	ExitCode  int           `json:"exit_code"`
	TimedOut  bool          `json:"timed_out"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"duration_ns"`
}
