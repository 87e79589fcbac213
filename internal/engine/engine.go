// Package engine turns raw console commands into structured results. It
// owns the full lifecycle of a run: gate validation, transport selection,
// timeout assignment, retries with backoff, output classification, and
// run recording. Callers hand it a Request and always get a Result back;
// every failure mode is folded into the Result rather than returned as a
// Go error.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vantor/msfbridge/internal/config"
	"github.com/vantor/msfbridge/internal/console"
	"github.com/vantor/msfbridge/internal/gate"
	"github.com/vantor/msfbridge/internal/parse"
	"github.com/vantor/msfbridge/internal/report"
	"github.com/vantor/msfbridge/internal/rpc"
)

// ScriptRunner executes a batch of commands through a one-shot console
// invocation. Implemented by console.Transport.
type ScriptRunner interface {
	RunScript(ctx context.Context, workspace string, commands []string, timeout time.Duration) (*console.Attempt, error)
}

// SessionRunner is a long-lived interactive console. Implemented by
// console.Session.
type SessionRunner interface {
	Ready(ctx context.Context, timeout time.Duration) error
	Execute(ctx context.Context, command string, timeout time.Duration) (*console.Attempt, error)
	Alive() bool
	Close() error
}

// RPCRunner executes commands through the framework's RPC daemon.
// Implemented by rpc.Client.
type RPCRunner interface {
	Healthy(ctx context.Context) bool
	ExecuteCommand(ctx context.Context, command string, timeout time.Duration) (string, error)
}

// Engine coordinates command execution across the available transports.
// Construct it with New and override fields before first use; the zero
// value is not usable.
type Engine struct {
	Config *config.Config
	Gate   *gate.Gate
	State  *State

	// Script is the batch transport. Required unless Mode is "rpc".
	Script ScriptRunner
	// NewSession builds the interactive console for persistent mode.
	NewSession func() (SessionRunner, error)
	// RPC is the daemon transport; nil when no endpoint is configured.
	RPC RPCRunner
	// Venom runs msfvenom for payload generation; nil when the binary is
	// not found.
	Venom     CommandRunner
	VenomPath string

	// Classifier parses console output; the zero value uses the stock
	// header sets.
	Classifier parse.Classifier

	// Store receives a RunRecord per execution; nil disables recording.
	Store report.Store
	// Cache memoizes parsed search results; nil disables memoization.
	Cache *report.Cache

	Log *log.Logger

	mu      sync.Mutex // guards session lifecycle and workspace alignment
	session SessionRunner

	semOnce sync.Once
	sem     chan struct{}
}

// New assembles an engine from configuration. The script transport is
// wired when a console binary can be found, RPC when an endpoint is
// configured. A missing console binary is not an error here; execution
// reports it per run so status tools can describe the gap.
func New(cfg *config.Config) *Engine {
	e := &Engine{
		Config: cfg,
		Gate: &gate.Gate{
			MaxCommandLength:         cfg.MaxCommandLength(),
			DisallowedModulePrefixes: cfg.DisallowedModulePrefixes(),
			BlockedKeywords:          cfg.BlockedKeywords(),
		},
		State: NewState(cfg.DefaultWorkspaceName()),
		Store: report.NewLRUStore(cfg.CacheEntries(), 0, nil),
		Cache: report.NewCache(cfg.CacheTTL(), cfg.CacheEntries()),
	}

	if path, err := cfg.FindConsole(); err == nil {
		e.Script = &console.Transport{
			ConsolePath: path,
			ScriptDir:   cfg.Paths.ScriptDir,
			KillGrace:   cfg.KillGrace(),
			MaxOutput:   cfg.MaxOutputBytes(),
		}
		e.NewSession = func() (SessionRunner, error) {
			s, err := console.NewSession(path)
			if err != nil {
				return nil, err
			}
			s.KillGrace = cfg.KillGrace()
			s.MaxOutput = cfg.MaxOutputBytes()
			return s, nil
		}
	}

	if path, err := cfg.FindVenom(); err == nil {
		e.VenomPath = path
		e.Venom = &console.Transport{
			KillGrace: cfg.KillGrace(),
			MaxOutput: cfg.MaxOutputBytes(),
		}
	}

	if cfg.RPC.Configured() {
		e.RPC = rpc.New(rpc.Options{
			Host:       cfg.RPC.Address(),
			Port:       cfg.RPC.PortOrDefault(),
			Username:   cfg.RPC.User(),
			Password:   cfg.RPC.Password,
			SSL:        cfg.RPC.SSL,
			SkipVerify: cfg.RPC.SkipVerify,
			Timeout:    cfg.RPCTimeout(),
		})
	}

	return e
}

// Close releases the persistent session if one is open.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.session != nil {
		err = e.session.Close()
		e.session = nil
	}
	return err
}

// Execute runs one command end to end. It never returns a Go error:
// validation failures, timeouts, transport faults, and cancellation all
// land in the Result with the matching ErrorKind.
func (e *Engine) Execute(ctx context.Context, req Request) *Result {
	started := time.Now()
	res := &Result{
		RunID:           uuid.New().String(),
		WorkspaceActive: e.State.Workspace(),
	}

	command := strings.TrimSpace(req.Command)
	workspace := req.Workspace
	if workspace == "" {
		workspace = e.State.Workspace()
	}

	// --- Cache ---
	cacheKey := workspace + "\x00" + command
	if commandVerb(command) == "search" && e.Cache != nil {
		if v, ok := e.Cache.Get(cacheKey); ok {
			hit := *(v.(*Result))
			hit.RunID = res.RunID
			hit.Cached = true
			hit.Duration = time.Since(started)
			hit.WorkspaceActive = e.State.Workspace()
			return &hit
		}
	}

	var attemptRecs []report.AttemptRecord
	var lastOutput string
	defer func() {
		res.Duration = time.Since(started)
		e.save(res, command, workspace, started, attemptRecs, lastOutput)
	}()

	// --- Gate ---
	cmd, err := e.Gate.Validate(req.Command)
	if err != nil {
		return fail(res, KindValidation, err.Error())
	}
	command = cmd

	// --- Admission ---
	if err := e.acquire(ctx); err != nil {
		return fail(res, KindCancelled, "cancelled while waiting for an execution slot")
	}
	defer e.release()

	timeout := e.timeout(command, req.TimeoutOverride)
	budget := e.Config.MaxRetries()

	// --- Attempts ---
	var attempt *console.Attempt
	for try := 1; try <= budget; try++ {
		res.AttemptsMade = try

		attempt, err = e.run(ctx, command, workspace, timeout)
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
			if try < budget {
				if err := e.backoff(ctx, try); err != nil {
					return fail(res, KindCancelled, "execution cancelled")
				}
				continue
			}
			return fail(res, KindTimeout,
				fmt.Sprintf("command exceeded %s on %d attempts", timeout, try))
		}

		if sig, ok := transientFault(string(attempt.Stdout) + "\n" + string(attempt.Stderr)); ok {
			if try < budget {
				e.logf("transient fault (%q), retrying", sig)
				if err := e.backoff(ctx, try); err != nil {
					return fail(res, KindCancelled, "execution cancelled")
				}
				continue
			}
			return fail(res, KindTransient,
				fmt.Sprintf("%s (persisted across %d attempts)", sig, try))
		}
		break
	}

	// --- Parse ---
	e.finish(res, attempt)

	// --- State ---
	if res.Success {
		if target, ok := workspaceTarget(command); ok {
			e.State.SetWorkspace(target)
		}
		if commandVerb(command) == "search" && e.Cache != nil {
			snapshot := *res
			e.Cache.Put(cacheKey, &snapshot)
		}
	}
	res.WorkspaceActive = e.State.Workspace()
	return res
}

// finish folds a completed attempt into the result: classify the
// output, attach the parsed records, and map console-reported errors.
func (e *Engine) finish(res *Result, attempt *console.Attempt) *Result {
	text := string(attempt.Stdout)
	out := e.Classifier.Run(text)
	res.Shape = string(out.Shape)
	res.Records = out.Records
	res.SummaryFields = out.SummaryFields
	res.Warnings = out.Warnings
	res.Truncated = attempt.Truncated

	switch {
	case out.Shape == parse.ErrorBlock:
		msg := out.SummaryFields["error_message"]
		if msg == "" {
			msg = "console reported an error"
		}
		fail(res, KindSemantic, msg)
	case attempt.ExitCode != 0 && strings.TrimSpace(text) == "":
		fail(res, KindTransport,
			fmt.Sprintf("console exited %d: %s", attempt.ExitCode, firstLine(string(attempt.Stderr))))
	default:
		res.Success = true
		if out.Shape == parse.Raw {
			res.Raw = text
		}
	}
	return res
}

// run dispatches one attempt to the selected transport. Auto mode
// prefers the RPC daemon when it answers a health probe and falls back
// to batch scripts when it does not, or when the RPC call itself fails.
func (e *Engine) run(ctx context.Context, command, workspace string, timeout time.Duration) (*console.Attempt, error) {
	switch e.Config.Mode() {
	case config.ModePersistent:
		return e.runPersistent(ctx, command, workspace, timeout)
	case config.ModeRPC:
		a, err := e.runRPC(ctx, command, workspace, timeout)
		if err == nil || ctx.Err() != nil || e.Script == nil {
			return a, err
		}
		e.logf("rpc transport failed, falling back to script: %v", err)
		return e.runScript(ctx, command, workspace, timeout)
	case config.ModeAuto:
		if e.RPC != nil && e.RPC.Healthy(ctx) {
			a, err := e.runRPC(ctx, command, workspace, timeout)
			if err == nil {
				return a, nil
			}
			if ctx.Err() != nil {
				return nil, err
			}
			e.logf("rpc transport failed, falling back to script: %v", err)
		}
		return e.runScript(ctx, command, workspace, timeout)
	default:
		return e.runScript(ctx, command, workspace, timeout)
	}
}

func (e *Engine) runScript(ctx context.Context, command, workspace string, timeout time.Duration) (*console.Attempt, error) {
	if e.Script == nil {
		return nil, errors.New("console transport unavailable (msfconsole not found)")
	}
	if workspace == e.Config.DefaultWorkspaceName() {
		workspace = ""
	}
	return e.Script.RunScript(ctx, workspace, []string{command}, timeout)
}

func (e *Engine) runPersistent(ctx context.Context, command, workspace string, timeout time.Duration) (*console.Attempt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil || !e.session.Alive() {
		if e.NewSession == nil {
			return nil, errors.New("persistent transport unavailable (msfconsole not found)")
		}
		s, err := e.NewSession()
		if err != nil {
			return nil, fmt.Errorf("starting console session: %w", err)
		}
		if err := s.Ready(ctx, e.Config.BaseTimeout()); err != nil {
			s.Close()
			return nil, fmt.Errorf("console session not ready: %w", err)
		}
		e.session = s
	}

	// The session carries its workspace across commands; align it before
	// running anything that depends on it.
	if workspace != e.State.Workspace() {
		a, err := e.session.Execute(ctx, "workspace "+workspace, e.Config.BaseTimeout())
		if err != nil {
			e.dropSessionLocked()
			return nil, fmt.Errorf("switching workspace: %w", err)
		}
		if a.TimedOut {
			e.dropSessionLocked()
			return nil, errors.New("workspace switch timed out")
		}
		if out := e.Classifier.Run(string(a.Stdout)); out.Shape == parse.ErrorBlock {
			return nil, fmt.Errorf("switching workspace: %s", out.SummaryFields["error_message"])
		}
		e.State.SetWorkspace(workspace)
	}

	a, err := e.session.Execute(ctx, command, timeout)
	if err != nil {
		e.dropSessionLocked()
		return nil, err
	}
	if a.TimedOut {
		// The command may still be running inside the console, which makes
		// the prompt state untrustworthy. Start fresh on the next attempt.
		e.dropSessionLocked()
	}
	return a, nil
}

func (e *Engine) dropSessionLocked() {
	if e.session != nil {
		e.session.Close()
		e.session = nil
	}
}

func (e *Engine) runRPC(ctx context.Context, command, workspace string, timeout time.Duration) (*console.Attempt, error) {
	if e.RPC == nil {
		return nil, errors.New("rpc transport unavailable (no endpoint configured)")
	}
	full := command
	if workspace != "" && workspace != e.Config.DefaultWorkspaceName() {
		// RPC consoles are created per call and start in the default
		// workspace.
		full = "workspace " + workspace + "\n" + command
	}

	started := time.Now()
	out, err := e.RPC.ExecuteCommand(ctx, full, timeout)
	a := &console.Attempt{
		RunID:     uuid.New().String(),
		Strategy:  console.StrategyRPC,
		Stdout:    []byte(out),
		Duration:  time.Since(started),
		StartedAt: started,
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			a.TimedOut = true
			return a, nil
		}
		return nil, err
	}
	return a, nil
}

// acquire takes an execution slot, blocking until one frees up or ctx
// ends. The pool bounds concurrent console processes.
func (e *Engine) acquire(ctx context.Context) error {
	e.semOnce.Do(func() {
		n := e.Config.PoolSize()
		if n < 1 {
			n = 1
		}
		e.sem = make(chan struct{}, n)
	})
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) release() { <-e.sem }

// backoff sleeps out the delay that follows attempt n, honoring
// cancellation.
func (e *Engine) backoff(ctx context.Context, attempt int) error {
	d := time.Duration(float64(e.Config.BackoffBase()) * math.Pow(e.Config.BackoffFactor(), float64(attempt-1)))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// save persists the run record. Persistence failures are logged, never
// surfaced; the caller already has the Result.
func (e *Engine) save(res *Result, command, workspace string, started time.Time, attempts []report.AttemptRecord, output string) {
	if e.Store == nil {
		return
	}
	rec := &report.RunRecord{
		ID:           res.RunID,
		Command:      command,
		Workspace:    workspace,
		StartedAt:    started,
		Success:      res.Success,
		Shape:        res.Shape,
		RecordCount:  len(res.Records),
		ErrorKind:    string(res.ErrorKind),
		ErrorMessage: res.ErrorMessage,
		Attempts:     attempts,
		Output:       output,
	}
	if err := e.Store.Save(rec); err != nil {
		e.logf("saving run %s: %v", res.RunID, err)
	}
}

// InspectRun loads a previously recorded run.
func (e *Engine) InspectRun(runID string) (*report.RunRecord, error) {
	if e.Store == nil {
		return nil, report.ErrNotFound
	}
	return e.Store.Load(runID)
}

func (e *Engine) logf(format string, args ...any) {
	if e.Log != nil {
		e.Log.Printf(format, args...)
	}
}

func fail(res *Result, kind ErrorKind, msg string) *Result {
	res.Success = false
	res.ErrorKind = kind
	res.ErrorMessage = msg
	return res
}

// workspaceTarget reports the workspace a plain switch command selects.
// Flag forms (add, delete, rename) and the bare listing form do not
// change the active workspace.
func workspaceTarget(command string) (string, bool) {
	fields := strings.Fields(command)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "workspace") {
		return "", false
	}
	if strings.HasPrefix(fields[1], "-") {
		return "", false
	}
	return fields[1], true
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
