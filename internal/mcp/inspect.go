package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vantor/msfbridge/internal/report"
)

// inspectOutputCap bounds how much raw console output one inspect call
// returns.
const inspectOutputCap = 16 * 1024

type inspectParams struct {
	RunID string `json:"run_id" jsonschema:"the run ID from a previous tool result"`
}

func (h *handler) inspectHandler(ctx context.Context, req *sdkmcp.CallToolRequest, params inspectParams) (*sdkmcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}

	rec, err := h.engine.InspectRun(params.RunID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}

	return textResult(formatRunRecord(rec))
}

func formatRunRecord(rec *report.RunRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run: %s\n", rec.ID)
	fmt.Fprintf(&b, "Command: %s\n", rec.Command)
	fmt.Fprintf(&b, "Workspace: %s\n", rec.Workspace)
	fmt.Fprintf(&b, "Started: %s\n", rec.StartedAt.Format("2006-01-02 15:04:05 MST"))
	if rec.Success {
		fmt.Fprintln(&b, "Status: OK")
	} else {
		fmt.Fprintf(&b, "Status: FAIL (%s)\n", rec.ErrorKind)
	}
	if rec.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error: %s\n", rec.ErrorMessage)
	}
	fmt.Fprintf(&b, "Shape: %s, %d records\n", rec.Shape, rec.RecordCount)

	if len(rec.Attempts) > 0 {
		fmt.Fprintln(&b)
		fmt.Fprintf(&b, "Attempts (%d):\n", len(rec.Attempts))
		for i, a := range rec.Attempts {
			state := "completed"
			if a.TimedOut {
				state = "timed out"
			}
			fmt.Fprintf(&b, "  %d. %s: %s in %s (exit %d)\n", i+1, a.Strategy, state, a.Duration.Round(time.Millisecond), a.ExitCode)
		}
	}

	if rec.Output != "" {
		out := rec.Output
		if len(out) > inspectOutputCap {
			out = "...\n" + out[len(out)-inspectOutputCap:]
		}
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Output:")
		for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
			fmt.Fprintf(&b, "    %s\n", line)
		}
	}

	return b.String()
}
