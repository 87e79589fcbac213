package mcp

import (
	"context"
	"fmt"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vantor/msfbridge/internal/engine"
)

const defaultSearchLimit = 25

type searchParams struct {
	Query     string `json:"query,omitempty" jsonschema:"free-text search terms, e.g. 'eternalblue'"`
	Type      string `json:"type,omitempty" jsonschema:"module type filter: exploit, auxiliary, post, payload, encoder, or nop"`
	Platform  string `json:"platform,omitempty" jsonschema:"platform filter, e.g. windows or linux"`
	CVE       string `json:"cve,omitempty" jsonschema:"CVE filter, e.g. 2017-0144"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum records to return; default 25"`
	Offset    int    `json:"offset,omitempty" jsonschema:"records to skip, for pagination"`
	Workspace string `json:"workspace,omitempty" jsonschema:"workspace to search in; defaults to the bridge's active workspace"`
}

func (h *handler) searchHandler(ctx context.Context, req *sdkmcp.CallToolRequest, params searchParams) (*sdkmcp.CallToolResult, any, error) {
	command := buildSearchCommand(params)
	if command == "" {
		return errorResult("at least one of query, type, platform, or cve is required")
	}

	res := h.engine.Execute(ctx, engine.Request{Command: command, Workspace: params.Workspace})
	if !res.Success {
		return errorResult(formatResult(res))
	}

	total := len(res.Records)
	limit := params.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Matches: %d\n", total)
	fmt.Fprintf(&b, "Run: %s\n", res.RunID)
	if res.Cached {
		fmt.Fprintln(&b, "Cached: true")
	}
	fmt.Fprintln(&b)

	if total == 0 {
		fmt.Fprintln(&b, "No modules matched. Loosen the query or drop a filter.")
		return textResult(b.String())
	}
	if offset >= total {
		fmt.Fprintf(&b, "Offset %d is past the last record (%d total).\n", offset, total)
		return textResult(b.String())
	}

	end := offset + limit
	if end > total {
		end = total
	}
	fmt.Fprintf(&b, "Showing %d-%d:\n", offset+1, end)
	writeRecords(&b, res.Records[offset:end])
	if end < total {
		fmt.Fprintf(&b, "\n%d more. Repeat with offset=%d.\n", total-end, end)
	}

	return textResult(b.String())
}

// buildSearchCommand assembles a search command from the structured
// filters. Filters come first so the console applies them before the
// free-text match.
func buildSearchCommand(p searchParams) string {
	parts := []string{}
	if p.Type != "" {
		parts = append(parts, "type:"+p.Type)
	}
	if p.Platform != "" {
		parts = append(parts, "platform:"+p.Platform)
	}
	if p.CVE != "" {
		parts = append(parts, "cve:"+p.CVE)
	}
	if q := strings.TrimSpace(p.Query); q != "" {
		parts = append(parts, q)
	}
	if len(parts) == 0 {
		return ""
	}
	return "search " + strings.Join(parts, " ")
}
