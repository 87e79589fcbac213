// Package mcp provides the msfbridge MCP server, registering all tools
// and publishing model instructions.
package mcp

import (
	_ "embed"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vantor/msfbridge"
	"github.com/vantor/msfbridge/internal/engine"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	engine *engine.Engine
}

// NewServer creates an MCP server with all msfbridge tools registered.
func NewServer(eng *engine.Engine) *mcp.Server {
	h := &handler{engine: eng}

	mcpOpts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "msfbridge", Version: msfbridge.Version}, mcpOpts)

	mcp.AddTool(s, &mcp.Tool{
		Name: "msf_status",
		Description: `Report bridge health: console and msfvenom availability, RPC daemon
reachability, transport mode, and the active workspace. When a transport is
available the framework version and database state are probed live.`,
	}, h.statusHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "msf_run_command",
		Description: `Run a single msfconsole command and return structured output.

Output is classified (table, info block, version banner, error block, list, raw)
and table rows come back as records. Timeouts and recoverable database faults
are retried automatically. Results are stored for drill-down via msf_inspect_run.`,
	}, h.runCommandHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "msf_run_script",
		Description: `Run a sequence of msfconsole commands in one console invocation.

Use this for module workflows (use, set, run) where commands share console state.
The batch executes once and is never retried.`,
	}, h.runScriptHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "msf_search_modules",
		Description: `Search the module index with optional type, platform, and CVE filters.

Results are returned as records and paginated with limit/offset. Repeated
identical searches in the same workspace are served from a short-lived cache.`,
	}, h.searchHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "msf_module",
		Description: `Work with one module: metadata (info), datastore options, targets, or a
full run (use, set each option, run) executed as a single console batch.

Use the full module path, e.g. exploit/windows/smb/ms17_010_eternalblue.`,
	}, h.moduleHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "msf_sessions",
		Description: `List active framework sessions, kill one, or run a command inside one
(sessions -i <id> -c <command>).`,
	}, h.sessionsHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "msf_workspaces",
		Description: `List, switch, add, delete, or rename workspaces.

Switching updates the workspace used by subsequent commands in this bridge.`,
	}, h.workspacesHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "msf_db",
		Description: `Query the framework database: connection status or the hosts, services,
vulns, creds, loot, and notes datasets of a workspace.`,
	}, h.dbHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "msf_generate_payload",
		Description: `Generate a payload artifact with msfvenom.

Options are datastore settings such as LHOST and LPORT. The artifact is written
to output_path (a temp file when omitted) and the tool reports its size.`,
	}, h.payloadHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "msf_inspect_run",
		Description: `Drill into a recorded run by run_id.

Returns the command, per-attempt transport details, and the raw console output
that produced the structured result.`,
	}, h.inspectHandler)

	return s
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
