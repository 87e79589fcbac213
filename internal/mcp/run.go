package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vantor/msfbridge/internal/engine"
	"github.com/vantor/msfbridge/internal/parse"
)

type runCommandParams struct {
	Command        string `json:"command" jsonschema:"the msfconsole command to run, e.g. 'search eternalblue' or 'db_status'"`
	Workspace      string `json:"workspace,omitempty" jsonschema:"workspace to run in; defaults to the bridge's active workspace"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" jsonschema:"replace the adaptive per-command timeout"`
}

func (h *handler) runCommandHandler(ctx context.Context, req *sdkmcp.CallToolRequest, params runCommandParams) (*sdkmcp.CallToolResult, any, error) {
	if params.Command == "" {
		return errorResult("command is required")
	}

	res := h.engine.Execute(ctx, engine.Request{
		Command:         params.Command,
		Workspace:       params.Workspace,
		TimeoutOverride: time.Duration(params.TimeoutSeconds) * time.Second,
	})
	if !res.Success {
		return errorResult(formatResult(res))
	}
	return textResult(formatResult(res))
}

type runScriptParams struct {
	Commands       []string `json:"commands" jsonschema:"the command sequence to run in order within one console"`
	Workspace      string   `json:"workspace,omitempty" jsonschema:"workspace to run in; defaults to the bridge's active workspace"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty" jsonschema:"replace the summed adaptive timeout for the whole batch"`
}

func (h *handler) runScriptHandler(ctx context.Context, req *sdkmcp.CallToolRequest, params runScriptParams) (*sdkmcp.CallToolResult, any, error) {
	if len(params.Commands) == 0 {
		return errorResult("commands is required")
	}

	res := h.engine.ExecuteScript(ctx, engine.ScriptRequest{
		Commands:        params.Commands,
		Workspace:       params.Workspace,
		TimeoutOverride: time.Duration(params.TimeoutSeconds) * time.Second,
	})
	if !res.Success {
		return errorResult(formatResult(res))
	}
	return textResult(formatResult(res))
}

// formatResult renders an execution result for the model: a status
// header, then the structured records or the raw text.
func formatResult(res *engine.Result) string {
	var b strings.Builder

	if res.Success {
		fmt.Fprintln(&b, "Status: OK")
	} else {
		fmt.Fprintf(&b, "Status: FAIL (%s)\n", res.ErrorKind)
	}
	fmt.Fprintf(&b, "Run: %s\n", res.RunID)
	fmt.Fprintf(&b, "Workspace: %s\n", res.WorkspaceActive)
	if res.Shape != "" {
		fmt.Fprintf(&b, "Shape: %s\n", res.Shape)
	}
	if res.AttemptsMade > 1 {
		fmt.Fprintf(&b, "Attempts: %d\n", res.AttemptsMade)
	}
	if res.Cached {
		fmt.Fprintln(&b, "Cached: true")
	}
	if res.Truncated {
		fmt.Fprintln(&b, "Note: output truncated at the configured cap")
	}
	if res.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error: %s\n", res.ErrorMessage)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(&b, "Warning: %s\n", w)
	}
	fmt.Fprintln(&b)

	if len(res.SummaryFields) > 0 {
		for _, k := range sortedKeys(res.SummaryFields) {
			fmt.Fprintf(&b, "%s: %s\n", k, res.SummaryFields[k])
		}
		fmt.Fprintln(&b)
	}

	switch {
	case len(res.Records) > 0:
		fmt.Fprintf(&b, "Records (%d):\n", len(res.Records))
		writeRecords(&b, res.Records)
	case res.Raw != "":
		fmt.Fprintln(&b, strings.TrimRight(res.Raw, "\n"))
	}

	if !res.Success {
		fmt.Fprintf(&b, "\nInspect with msf_inspect_run(run_id=%q).\n", res.RunID)
	}

	return b.String()
}

func writeRecords(b *strings.Builder, records []parse.Record) {
	for i, r := range records {
		fmt.Fprintf(b, "#%d\n", i+1)
		for _, k := range sortedKeys(r) {
			fmt.Fprintf(b, "  %s: %s\n", k, r[k])
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
