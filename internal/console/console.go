// Package console runs msfconsole invocations with timeouts, graceful
// shutdown, and output size limits. It offers two transports: one-shot
// batch execution of a resource script, and a long-lived interactive
// Session.
package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Transport executes one-shot console invocations.
type Transport struct {
	ConsolePath string
	ScriptDir   string        // where batch scripts are written; "" means the system temp dir
	KillGrace   time.Duration // SIGTERM to SIGKILL escalation window
	MaxOutput   int           // bytes per stream
}

// Run executes argv with stdin attached and a soft timeout. On timeout
// the process receives SIGTERM, then SIGKILL once the grace window
// elapses, and the attempt comes back with TimedOut set rather than an
// error. Errors are reserved for spawn failures and context
// cancellation.
func (t *Transport) Run(ctx context.Context, argv []string, stdin io.Reader, timeout time.Duration) (*Attempt, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, fmt.Errorf("empty argv")
	}
	if timeout <= 0 {
		timeout = time.Minute
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Stdin = stdin
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = t.killGrace()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitWriter{buf: &stdout, limit: t.maxOutput()}
	cmd.Stderr = &limitWriter{buf: &stderr, limit: t.maxOutput()}

	started := time.Now()
	runErr := cmd.Run()

	attempt := &Attempt{
		RunID:     uuid.New().String(),
		Strategy:  StrategyScript,
		Stdout:    stdout.Bytes(),
		Stderr:    stderr.Bytes(),
		Truncated: stdout.Len() >= t.maxOutput() || stderr.Len() >= t.maxOutput(),
		Duration:  time.Since(started),
		StartedAt: started,
	}

	if runErr != nil {
		if ctx.Err() != nil {
			// The caller's context went away, not our soft timeout.
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		switch {
		case errors.As(runErr, &exitErr):
			attempt.ExitCode = exitErr.ExitCode()
		case errors.Is(runErr, exec.ErrWaitDelay):
			// The process exited but a descendant kept the pipes open;
			// output is whatever arrived in time.
		default:
			// Binary not found or other exec error.
			return nil, fmt.Errorf("executing %s: %w", argv[0], runErr)
		}
		if runCtx.Err() == context.DeadlineExceeded {
			attempt.TimedOut = true
		}
	}
	return attempt, nil
}

// RunScript writes commands into a temporary resource file and executes
// the console against it in quiet batch mode. A non-empty workspace
// selects that workspace before the first command.
func (t *Transport) RunScript(ctx context.Context, workspace string, commands []string, timeout time.Duration) (*Attempt, error) {
	if t.ConsolePath == "" {
		return nil, fmt.Errorf("console path not set")
	}
	path, cleanup, err := WriteScript(t.ScriptDir, workspace, commands)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return t.Run(ctx, []string{t.ConsolePath, "-q", "-r", path}, nil, timeout)
}

func (t *Transport) killGrace() time.Duration {
	if t.KillGrace > 0 {
		return t.KillGrace
	}
	return 5 * time.Second
}

func (t *Transport) maxOutput() int {
	if t.MaxOutput > 0 {
		return t.MaxOutput
	}
	return 1 << 20
}

// limitWriter writes up to limit bytes to buf, then silently discards the rest.
type limitWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *limitWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil // discard
	}
	if len(p) > remaining {
		// Write only what fits, but report all bytes as consumed
		// to avoid short write errors from io.Copy.
		w.buf.Write(p[:remaining])
		return len(p), nil
	}
	return w.buf.Write(p)
}
