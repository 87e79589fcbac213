package mcp

import (
	"context"
	"fmt"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vantor/msfbridge/internal/engine"
)

type workspacesParams struct {
	Action  string `json:"action,omitempty" jsonschema:"one of list (default), switch, add, delete, rename"`
	Name    string `json:"name,omitempty" jsonschema:"workspace name; required for switch, add, delete, and rename"`
	NewName string `json:"new_name,omitempty" jsonschema:"target name; required for rename"`
}

func (h *handler) workspacesHandler(ctx context.Context, req *sdkmcp.CallToolRequest, params workspacesParams) (*sdkmcp.CallToolResult, any, error) {
	action := params.Action
	if action == "" {
		action = "list"
	}

	var command string
	switch action {
	case "list":
		return h.listWorkspaces(ctx)
	case "switch":
		if params.Name == "" {
			return errorResult("name is required to switch workspaces")
		}
		command = "workspace " + params.Name
	case "add":
		if params.Name == "" {
			return errorResult("name is required to add a workspace")
		}
		command = "workspace -a " + params.Name
	case "delete":
		if params.Name == "" {
			return errorResult("name is required to delete a workspace")
		}
		command = "workspace -d " + params.Name
	case "rename":
		if params.Name == "" || params.NewName == "" {
			return errorResult("rename requires both name and new_name")
		}
		command = "workspace -r " + params.Name + " " + params.NewName
	default:
		return errorResult(fmt.Sprintf("unknown action %q: use list, switch, add, delete, or rename", action))
	}

	res := h.engine.Execute(ctx, engine.Request{Command: command})
	if !res.Success {
		return errorResult(formatResult(res))
	}
	// Renaming the active workspace changes the name future runs must
	// target.
	if action == "rename" && h.engine.State.Workspace() == params.Name {
		h.engine.State.SetWorkspace(params.NewName)
	}
	return textResult(formatResult(res))
}

func (h *handler) listWorkspaces(ctx context.Context) (*sdkmcp.CallToolResult, any, error) {
	entries, res := h.engine.Workspaces(ctx)
	if res != nil && !res.Success {
		return errorResult(formatResult(res))
	}
	if len(entries) == 0 {
		return textResult("No workspaces reported.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Workspaces (%d):\n", len(entries))
	for _, e := range entries {
		if e.Current {
			fmt.Fprintf(&b, "* %s\n", e.Name)
		} else {
			fmt.Fprintf(&b, "  %s\n", e.Name)
		}
	}
	return textResult(b.String())
}
