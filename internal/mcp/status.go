package mcp

import (
	"context"
	"fmt"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vantor/msfbridge/internal/engine"
)

type statusParams struct{}

func (h *handler) statusHandler(ctx context.Context, req *sdkmcp.CallToolRequest, _ statusParams) (*sdkmcp.CallToolResult, any, error) {
	e := h.engine
	var b strings.Builder

	fmt.Fprintf(&b, "Mode: %s\n", e.Config.Mode())
	fmt.Fprintf(&b, "Workspace: %s\n", e.State.Workspace())

	if path, err := e.Config.FindConsole(); err == nil {
		fmt.Fprintf(&b, "Console: %s\n", path)
	} else {
		fmt.Fprintln(&b, "Console: not found (install Metasploit or set paths.msfconsole)")
	}
	if e.VenomPath != "" {
		fmt.Fprintf(&b, "msfvenom: %s\n", e.VenomPath)
	} else {
		fmt.Fprintln(&b, "msfvenom: not found")
	}

	switch {
	case e.RPC == nil:
		fmt.Fprintln(&b, "RPC: not configured")
	case e.RPC.Healthy(ctx):
		fmt.Fprintf(&b, "RPC: %s:%d reachable\n", e.Config.RPC.Address(), e.Config.RPC.PortOrDefault())
	default:
		fmt.Fprintf(&b, "RPC: %s:%d unreachable\n", e.Config.RPC.Address(), e.Config.RPC.PortOrDefault())
	}

	if e.Script != nil || e.RPC != nil {
		h.probeConsole(ctx, &b)
	}

	return textResult(b.String())
}

// probeConsole appends the live framework version and database state.
// Probe failures are reported inline; status itself never fails.
func (h *handler) probeConsole(ctx context.Context, b *strings.Builder) {
	ver := h.engine.Execute(ctx, engine.Request{Command: "version"})
	if !ver.Success {
		fmt.Fprintf(b, "Console probe failed: %s (%s)\n", ver.ErrorKind, ver.ErrorMessage)
		return
	}
	if v := ver.SummaryFields["framework"]; v != "" {
		fmt.Fprintf(b, "Framework: %s\n", v)
	}

	db := h.engine.Execute(ctx, engine.Request{Command: "db_status"})
	switch {
	case db.Success && db.Raw != "":
		fmt.Fprintf(b, "Database: %s\n", strings.TrimPrefix(firstLine(db.Raw), "[*] "))
	case db.Success:
		fmt.Fprintln(b, "Database: ok")
	default:
		fmt.Fprintf(b, "Database: %s (%s)\n", db.ErrorKind, db.ErrorMessage)
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// dbQueries maps msf_db query names onto console commands. Every
// dataset verb prints an aligned table the classifier already knows.
var dbQueries = map[string]string{
	"status":   "db_status",
	"hosts":    "hosts",
	"services": "services",
	"vulns":    "vulns",
	"creds":    "creds",
	"loot":     "loot",
	"notes":    "notes",
}

type dbParams struct {
	Query     string `json:"query,omitempty" jsonschema:"one of status (default), hosts, services, vulns, creds, loot, notes"`
	Workspace string `json:"workspace,omitempty" jsonschema:"workspace to query; defaults to the active one"`
}

func (h *handler) dbHandler(ctx context.Context, req *sdkmcp.CallToolRequest, params dbParams) (*sdkmcp.CallToolResult, any, error) {
	query := params.Query
	if query == "" {
		query = "status"
	}
	command, ok := dbQueries[query]
	if !ok {
		return errorResult(fmt.Sprintf("unknown query %q: use status, hosts, services, vulns, creds, loot, or notes", query))
	}

	res := h.engine.Execute(ctx, engine.Request{Command: command, Workspace: params.Workspace})
	if !res.Success {
		return errorResult(formatResult(res))
	}
	return textResult(formatResult(res))
}
