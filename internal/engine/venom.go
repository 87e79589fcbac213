package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vantor/msfbridge/internal/console"
)

// CommandRunner executes an arbitrary argv. Implemented by
// console.Transport.
type CommandRunner interface {
	Run(ctx context.Context, argv []string, stdin io.Reader, timeout time.Duration) (*console.Attempt, error)
}

// PayloadRequest describes one payload generation run.
type PayloadRequest struct {
	// Payload is the module path, e.g. windows/meterpreter/reverse_tcp.
	Payload string
	// Options are datastore settings passed as KEY=value arguments.
	Options map[string]string
	// Format selects the output encoding; defaults to exe.
	Format string
	// OutputPath is where the artifact lands; defaults to a temp file
	// named after the run.
	OutputPath string
	// TimeoutOverride, when positive, replaces the adaptive timeout.
	TimeoutOverride time.Duration
}

// PayloadResult reports a payload generation outcome.
type PayloadResult struct {
	RunID        string        `json:"run_id"`
	Success      bool          `json:"success"`
	OutputPath   string        `json:"output_path,omitempty"`
	Size         int64         `json:"size,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
	ErrorKind    ErrorKind     `json:"error_kind,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
}

// GeneratePayload runs msfvenom once. Generation is never retried: a
// partial artifact on disk must not be silently overwritten by a second
// attempt the caller did not ask for.
func (e *Engine) GeneratePayload(ctx context.Context, req PayloadRequest) *PayloadResult {
	started := time.Now()
	res := &PayloadResult{RunID: uuid.New().String()}
	defer func() { res.Duration = time.Since(started) }()

	warnings, err := e.Gate.ValidatePayload(req.Payload, req.Options)
	if err != nil {
		return failPayload(res, KindValidation, err.Error())
	}
	res.Warnings = warnings

	if e.Venom == nil || e.VenomPath == "" {
		return failPayload(res, KindTransport, "msfvenom not found")
	}

	format := req.Format
	if format == "" {
		format = "exe"
	}
	outputPath := req.OutputPath
	if outputPath == "" {
		outputPath = filepath.Join(os.TempDir(), fmt.Sprintf("msfbridge-%s.%s", res.RunID, format))
	}
	res.OutputPath = outputPath

	argv := []string{e.VenomPath, "-p", req.Payload}
	keys := make([]string, 0, len(req.Options))
	for k := range req.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		argv = append(argv, k+"="+req.Options[k])
	}
	argv = append(argv, "-f", format, "-o", outputPath)

	timeout := e.timeout("generate", req.TimeoutOverride)
	attempt, err := e.Venom.Run(ctx, argv, nil, timeout)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return failPayload(res, KindCancelled, "generation cancelled")
		}
		return failPayload(res, KindTransport, err.Error())
	}
	if attempt.TimedOut {
		return failPayload(res, KindTimeout, fmt.Sprintf("generation exceeded %s", timeout))
	}
	if attempt.ExitCode != 0 {
		msg := firstLine(string(attempt.Stderr))
		if msg == "" {
			msg = firstLine(string(attempt.Stdout))
		}
		return failPayload(res, KindSemantic, fmt.Sprintf("msfvenom exited %d: %s", attempt.ExitCode, msg))
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return failPayload(res, KindSemantic, "msfvenom reported success but produced no artifact")
	}
	res.Success = true
	res.Size = info.Size()
	return res
}

func failPayload(res *PayloadResult, kind ErrorKind, msg string) *PayloadResult {
	res.Success = false
	res.ErrorKind = kind
	res.ErrorMessage = msg
	return res
}
