package engine

import "sync"

// State tracks console-side session state the engine must reproduce on
// every invocation, chiefly the active workspace. Reads take a snapshot;
// writes happen only after the console confirms a switch, so concurrent
// executions observe either the old or the new workspace, never a blend.
type State struct {
	mu        sync.RWMutex
	workspace string
}

// NewState creates session state rooted at the given workspace.
func NewState(workspace string) *State {
	if workspace == "" {
		workspace = "default"
	}
	return &State{workspace: workspace}
}

// Workspace returns the currently selected workspace.
func (s *State) Workspace() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workspace
}

// SetWorkspace records a confirmed workspace switch.
func (s *State) SetWorkspace(ws string) {
	if ws == "" {
		return
	}
	s.mu.Lock()
	s.workspace = ws
	s.mu.Unlock()
}
