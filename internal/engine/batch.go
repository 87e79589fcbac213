package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vantor/msfbridge/internal/report"
)

// maxScriptTimeout bounds the summed per-command budget of a batch.
const maxScriptTimeout = 10 * time.Minute

// ScriptRequest describes a multi-command batch run as one resource
// script.
type ScriptRequest struct {
	Commands []string
	// Workspace overrides the session workspace for this batch.
	Workspace string
	// TimeoutOverride, when positive, replaces the summed adaptive
	// budget.
	TimeoutOverride time.Duration
}

// ExecuteScript runs a command sequence in a single console invocation.
// Batches always use the script transport and are never retried: a
// sequence may carry side effects that must not run twice.
func (e *Engine) ExecuteScript(ctx context.Context, req ScriptRequest) *Result {
	started := time.Now()
	res := &Result{
		RunID:           uuid.New().String(),
		WorkspaceActive: e.State.Workspace(),
	}

	workspace := req.Workspace
	if workspace == "" {
		workspace = e.State.Workspace()
	}

	var attemptRecs []report.AttemptRecord
	var lastOutput string
	defer func() {
		res.Duration = time.Since(started)
		e.save(res, strings.Join(req.Commands, "; "), workspace, started, attemptRecs, lastOutput)
	}()

	if len(req.Commands) == 0 {
		return fail(res, KindValidation, "command rejected: empty script")
	}

	// --- Gate ---
	commands := make([]string, 0, len(req.Commands))
	for _, c := range req.Commands {
		cleaned, err := e.Gate.Validate(c)
		if err != nil {
			return fail(res, KindValidation, err.Error())
		}
		commands = append(commands, cleaned)
	}

	if e.Script == nil {
		return fail(res, KindTransport, "console transport unavailable (msfconsole not found)")
	}

	// --- Admission ---
	if err := e.acquire(ctx); err != nil {
		return fail(res, KindCancelled, "cancelled while waiting for an execution slot")
	}
	defer e.release()

	timeout := req.TimeoutOverride
	if timeout <= 0 {
		for _, c := range commands {
			timeout += e.timeout(c, 0)
		}
		if timeout > maxScriptTimeout {
			timeout = maxScriptTimeout
		}
	}

	// --- Attempt ---
	ws := workspace
	if ws == e.Config.DefaultWorkspaceName() {
		ws = ""
	}
	res.AttemptsMade = 1
	attempt, err := e.Script.RunScript(ctx, ws, commands, timeout)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return fail(res, KindCancelled, "execution cancelled")
		}
		return fail(res, KindTransport, err.Error())
	}
	attemptRecs = append(attemptRecs, report.AttemptRecord{
		Strategy:  attempt.Strategy,
		ExitCode:  attempt.ExitCode,
		TimedOut:  attempt.TimedOut,
		Truncated: attempt.Truncated,
		Duration:  attempt.Duration,
	})
	lastOutput = string(attempt.Stdout)

	if attempt.TimedOut {
		return fail(res, KindTimeout, fmt.Sprintf("script exceeded %s", timeout))
	}

	// --- Parse ---
	e.finish(res, attempt)

	// --- State ---
	if res.Success {
		for _, c := range commands {
			if target, ok := workspaceTarget(c); ok {
				e.State.SetWorkspace(target)
			}
		}
	}
	res.WorkspaceActive = e.State.Workspace()
	return res
}
