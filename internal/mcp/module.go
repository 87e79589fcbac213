package mcp

import (
	"context"
	"fmt"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vantor/msfbridge/internal/engine"
)

type moduleParams struct {
	Module    string            `json:"module" jsonschema:"full module path, e.g. exploit/windows/smb/ms17_010_eternalblue"`
	Action    string            `json:"action,omitempty" jsonschema:"one of info (default), options, targets, run"`
	Options   map[string]string `json:"options,omitempty" jsonschema:"module option assignments applied with set before run, e.g. {\"RHOSTS\": \"10.0.0.5\"}"`
	Workspace string            `json:"workspace,omitempty" jsonschema:"workspace for the run; defaults to the active one"`
}

func (h *handler) moduleHandler(ctx context.Context, req *sdkmcp.CallToolRequest, params moduleParams) (*sdkmcp.CallToolResult, any, error) {
	if params.Module == "" {
		return errorResult("module is required")
	}
	action := params.Action
	if action == "" {
		action = "info"
	}

	var res *engine.Result
	switch action {
	case "info":
		res = h.engine.Execute(ctx, engine.Request{Command: "info " + params.Module, Workspace: params.Workspace})
	case "options":
		// Options depend on the selected module, so the two commands must
		// share one console.
		res = h.engine.ExecuteScript(ctx, engine.ScriptRequest{
			Commands:  []string{"use " + params.Module, "show options"},
			Workspace: params.Workspace,
		})
	case "targets":
		res = h.engine.ExecuteScript(ctx, engine.ScriptRequest{
			Commands:  []string{"use " + params.Module, "show targets"},
			Workspace: params.Workspace,
		})
	case "run":
		commands := []string{"use " + params.Module}
		for _, k := range sortedKeys(params.Options) {
			commands = append(commands, fmt.Sprintf("set %s %s", k, params.Options[k]))
		}
		commands = append(commands, "run")
		res = h.engine.ExecuteScript(ctx, engine.ScriptRequest{
			Commands:  commands,
			Workspace: params.Workspace,
		})
	default:
		return errorResult(fmt.Sprintf("unknown action %q: use info, options, targets, or run", action))
	}

	if !res.Success {
		return errorResult(formatResult(res))
	}
	return textResult(formatResult(res))
}

type sessionsParams struct {
	Action  string `json:"action,omitempty" jsonschema:"one of list (default), kill, run"`
	ID      int    `json:"id,omitempty" jsonschema:"session id; required for kill and run"`
	Command string `json:"command,omitempty" jsonschema:"command to execute inside the session; required for run"`
}

func (h *handler) sessionsHandler(ctx context.Context, req *sdkmcp.CallToolRequest, params sessionsParams) (*sdkmcp.CallToolResult, any, error) {
	action := params.Action
	if action == "" {
		action = "list"
	}

	var command string
	switch action {
	case "list":
		command = "sessions -l"
	case "kill":
		if params.ID <= 0 {
			return errorResult("id is required to kill a session")
		}
		command = fmt.Sprintf("sessions -k %d", params.ID)
	case "run":
		if params.ID <= 0 {
			return errorResult("id is required to run a command in a session")
		}
		if params.Command == "" {
			return errorResult("command is required to run in a session")
		}
		command = fmt.Sprintf("sessions -i %d -c %q", params.ID, params.Command)
	default:
		return errorResult(fmt.Sprintf("unknown action %q: use list, kill, or run", action))
	}

	res := h.engine.Execute(ctx, engine.Request{Command: command})
	if !res.Success {
		return errorResult(formatResult(res))
	}
	return textResult(formatResult(res))
}
