package parse

import "strings"

// WorkspaceEntry is one name from the bare `workspace` listing. The
// console marks the active workspace with a leading asterisk.
type WorkspaceEntry struct {
	Name    string `json:"name"`
	Current bool   `json:"current"`
}

// ParseWorkspaces reads workspace names out of `workspace` output,
// skipping the title, separators, and status lines.
func ParseWorkspaces(text string) []WorkspaceEntry {
	var out []WorkspaceEntry
	for _, line := range strings.Split(text, "\n") {
		t := strings.TrimSpace(line)
		if t == "" || strings.EqualFold(t, "Workspaces") || separatorLine(t) {
			continue
		}
		if strings.HasPrefix(t, "[") {
			continue
		}
		cur := false
		if strings.HasPrefix(t, "*") {
			cur = true
			t = strings.TrimSpace(strings.TrimPrefix(t, "*"))
		}
		if t == "" {
			continue
		}
		out = append(out, WorkspaceEntry{Name: t, Current: cur})
	}
	return out
}
