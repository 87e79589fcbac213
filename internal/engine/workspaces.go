package engine

import (
	"context"
	"strings"

	"github.com/vantor/msfbridge/internal/parse"
)

// Workspaces lists the framework workspaces with the active one marked.
// The returned Result carries the run metadata; entries are nil when the
// listing failed.
func (e *Engine) Workspaces(ctx context.Context) ([]parse.WorkspaceEntry, *Result) {
	res := e.Execute(ctx, Request{Command: "workspace"})
	if !res.Success {
		return nil, res
	}

	text := res.Raw
	if text == "" {
		// The listing usually classifies as a list block; recover the
		// original lines from its chunks.
		var sb strings.Builder
		for _, r := range res.Records {
			sb.WriteString(r["text"])
			sb.WriteString("\n")
		}
		text = sb.String()
	}
	return parse.ParseWorkspaces(text), res
}
