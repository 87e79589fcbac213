package engine

import (
	"time"

	"github.com/vantor/msfbridge/internal/parse"
)

// ErrorKind classifies why a run failed.
type ErrorKind string

const (
	// KindValidation means the gate rejected the command before any
	// transport was touched.
	KindValidation ErrorKind = "validation_error"
	// KindTimeout means the command exceeded its execution window on
	// every attempt.
	KindTimeout ErrorKind = "timeout"
	// KindTransient means the console reported a recoverable
	// environment fault (database down, service unreachable).
	KindTransient ErrorKind = "transient_failure"
	// KindSemantic means the console ran the command and reported it
	// failed. Retrying would reproduce the failure.
	KindSemantic ErrorKind = "semantic_error"
	// KindTransport means the console could not be invoked at all.
	KindTransport ErrorKind = "transport_error"
	// KindCancelled means the caller's context ended the run.
	KindCancelled ErrorKind = "cancelled"
)

// Request describes one command to execute.
type Request struct {
	Command string `json:"command"`
	// Workspace selects the workspace for this run; empty means the
	// session's current one.
	Workspace string `json:"workspace,omitempty"`
	// TimeoutOverride replaces the adaptive timeout when positive.
	TimeoutOverride time.Duration `json:"timeout_override,omitempty"`
}

// Result is the uniform outcome of Execute. Every failure mode folds
// into it; Execute never returns a Go error.
type Result struct {
	RunID   string `json:"run_id"`
	Success bool   `json:"success"`

	Shape         string            `json:"shape,omitempty"`
	Records       []parse.Record    `json:"records,omitempty"`
	SummaryFields map[string]string `json:"summary_fields,omitempty"`
	Warnings      []string          `json:"warnings,omitempty"`
	// Raw carries the unparsed output when no structure was recognized.
	Raw string `json:"raw,omitempty"`

	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`

	WorkspaceActive string        `json:"workspace_active"`
	AttemptsMade    int           `json:"attempts_made"`
	Duration        time.Duration `json:"duration_ns"`
	Truncated       bool          `json:"truncated,omitempty"`
	Cached          bool          `json:"cached,omitempty"`
}
