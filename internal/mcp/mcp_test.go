package mcp

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vantor/msfbridge/internal/config"
	"github.com/vantor/msfbridge/internal/console"
	"github.com/vantor/msfbridge/internal/engine"
	"github.com/vantor/msfbridge/internal/gate"
	"github.com/vantor/msfbridge/internal/report"
)

// scriptedTransport replays canned console outputs in order, repeating
// the last one once the script runs out, and records what it was sent.
type scriptedTransport struct {
	mu       sync.Mutex
	calls    int
	commands [][]string
	outputs  []string
}

func (s *scriptedTransport) RunScript(ctx context.Context, workspace string, commands []string, timeout time.Duration) (*console.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	s.commands = append(s.commands, commands)
	if i >= len(s.outputs) {
		i = len(s.outputs) - 1
	}
	return &console.Attempt{Strategy: console.StrategyScript, Stdout: []byte(s.outputs[i])}, nil
}

func (s *scriptedTransport) sent() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commands
}

func testEngine(outputs ...string) *engine.Engine {
	cfg := &config.Config{}
	cfg.Retry.RawBaseDelay = "1ms"
	e := &engine.Engine{
		Config: cfg,
		Gate:   &gate.Gate{},
		State:  engine.NewState(""),
		Store:  report.NewLRUStore(16, 0, nil),
		Cache:  report.NewCache(time.Minute, 16),
	}
	if len(outputs) > 0 {
		e.Script = &scriptedTransport{outputs: outputs}
	}
	return e
}

// testEngineTransport also returns the transport for asserting on the
// commands the handlers send.
func testEngineTransport(outputs ...string) (*engine.Engine, *scriptedTransport) {
	e := testEngine(outputs...)
	return e, e.Script.(*scriptedTransport)
}

// setup connects a server over in-memory transports and returns the
// client session.
func setup(t *testing.T, eng *engine.Engine) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	server := NewServer(eng)

	ct, st := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, st, nil)
	if err != nil {
		t.Fatalf("server.Connect: %v", err)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}

	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Wait()
	})

	return cs
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return res
}

func resultText(r *mcp.CallToolResult) string {
	var parts []string
	for _, c := range r.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

const versionOutput = "Framework: 6.4.55-dev\nConsole  : 6.4.55-dev\n"

const searchOutput = `Matching Modules
================

   #  Name                                      Disclosure Date  Rank     Check  Description
   -  ----                                      ---------------  ----     -----  -----------
   0  exploit/windows/smb/ms17_010_eternalblue  2017-03-14       average  Yes    MS17-010 EternalBlue SMB Remote Windows Kernel Pool Corruption
   1  exploit/windows/smb/ms17_010_psexec       2017-03-14       normal   Yes    MS17-010 EternalRomance/EternalSynergy/EternalChampion
`

const workspacesOutput = "Workspaces\n==========\n\n* default\n  pentest\n"

const optionsOutput = `Module options (auxiliary/scanner/smb/smb_version):

   Name     Current Setting  Required  Description
   ----     ---------------  --------  -----------
   RHOSTS                    yes       The target host(s)
   THREADS  1                yes       The number of concurrent threads
`

const sessionsOutput = `Active sessions
===============

  Id  Name   Type                     Information                  Connection
  --  ----   ----                     -----------                  ----------
  3   shell  meterpreter x64/windows  NT AUTHORITY\SYSTEM @ WIN10  10.0.0.9:4444 -> 10.0.0.5:49202 (10.0.0.5)
`

const hostsOutput = `Hosts
=====

address   mac                name      os_name  os_flavor  os_sp  purpose  info        comments
-------   ---                ----      -------  ---------  -----  -------  ----        --------
10.0.0.5  00:0c:29:aa:bb:cc  WIN10-01  Windows  10         1903   client   SMB target  from scan
`

// --- msf_status ---

func TestMsfStatus(t *testing.T) {
	cs := setup(t, testEngine())
	res := callTool(t, cs, "msf_status", nil)
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "Mode: script") {
		t.Errorf("expected Mode: script, got:\n%s", text)
	}
	if !strings.Contains(text, "Workspace: default") {
		t.Errorf("expected Workspace: default, got:\n%s", text)
	}
	if !strings.Contains(text, "RPC: not configured") {
		t.Errorf("expected RPC: not configured, got:\n%s", text)
	}
	if strings.Contains(text, "Framework:") {
		t.Errorf("expected no live probe without a transport, got:\n%s", text)
	}
}

func TestMsfStatus_ProbesConsole(t *testing.T) {
	eng, tr := testEngineTransport(versionOutput, "[*] Connected to msf. Connection type: postgresql.\n")
	cs := setup(t, eng)
	res := callTool(t, cs, "msf_status", nil)
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "Framework: 6.4.55-dev") {
		t.Errorf("expected the probed framework version, got:\n%s", text)
	}
	if !strings.Contains(text, "Database: Connected to msf") {
		t.Errorf("expected the probed database state, got:\n%s", text)
	}
	sent := tr.sent()
	if len(sent) != 2 || sent[0][0] != "version" || sent[1][0] != "db_status" {
		t.Errorf("probe commands = %v, want version then db_status", sent)
	}
}

// --- msf_run_command ---

func TestMsfRunCommand(t *testing.T) {
	cs := setup(t, testEngine(versionOutput))
	res := callTool(t, cs, "msf_run_command", map[string]any{"command": "version"})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "Status: OK") {
		t.Errorf("expected Status: OK, got:\n%s", text)
	}
	if !strings.Contains(text, "framework: 6.4.55-dev") {
		t.Errorf("expected framework version field, got:\n%s", text)
	}
	if !strings.Contains(text, "Run: ") {
		t.Errorf("expected Run: in output, got:\n%s", text)
	}
	if !strings.Contains(text, "Shape: version_banner") {
		t.Errorf("expected Shape: version_banner, got:\n%s", text)
	}
}

func TestMsfRunCommand_EmptyCommand(t *testing.T) {
	cs := setup(t, testEngine(versionOutput))
	res := callTool(t, cs, "msf_run_command", map[string]any{"command": ""})
	if !res.IsError {
		t.Error("expected IsError for an empty command")
	}
}

func TestMsfRunCommand_ConsoleError(t *testing.T) {
	cs := setup(t, testEngine("[-] Unknown command: vrsion\n"))
	res := callTool(t, cs, "msf_run_command", map[string]any{"command": "vrsion"})
	text := resultText(res)
	if !res.IsError {
		t.Error("expected IsError for a console error")
	}
	if !strings.Contains(text, "semantic_error") {
		t.Errorf("expected semantic_error kind, got:\n%s", text)
	}
	if !strings.Contains(text, "Unknown command") {
		t.Errorf("expected the console message, got:\n%s", text)
	}
	if !strings.Contains(text, "msf_inspect_run") {
		t.Errorf("expected inspect hint, got:\n%s", text)
	}
}

func TestMsfRunCommand_NoConsole(t *testing.T) {
	cs := setup(t, testEngine())
	res := callTool(t, cs, "msf_run_command", map[string]any{"command": "version"})
	text := resultText(res)
	if !res.IsError {
		t.Error("expected IsError without a console")
	}
	if !strings.Contains(text, "transport_error") {
		t.Errorf("expected transport_error kind, got:\n%s", text)
	}
}

// --- msf_run_script ---

func TestMsfRunScript(t *testing.T) {
	cs := setup(t, testEngine("RHOSTS => 10.0.0.0/24\n[*] Auxiliary module running\n"))
	res := callTool(t, cs, "msf_run_script", map[string]any{
		"commands": []string{"use auxiliary/scanner/smb/smb_version", "set RHOSTS 10.0.0.0/24", "run"},
	})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "Status: OK") {
		t.Errorf("expected Status: OK, got:\n%s", text)
	}
}

// --- msf_search_modules ---

func TestMsfSearchModules(t *testing.T) {
	cs := setup(t, testEngine(searchOutput))
	res := callTool(t, cs, "msf_search_modules", map[string]any{"query": "eternalblue"})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "Matches: 2") {
		t.Errorf("expected Matches: 2, got:\n%s", text)
	}
	if !strings.Contains(text, "exploit/windows/smb/ms17_010_eternalblue") {
		t.Errorf("expected module path in records, got:\n%s", text)
	}
}

func TestMsfSearchModules_Pagination(t *testing.T) {
	cs := setup(t, testEngine(searchOutput))
	res := callTool(t, cs, "msf_search_modules", map[string]any{"query": "eternalblue", "limit": 1})
	text := resultText(res)
	if !strings.Contains(text, "Showing 1-1") {
		t.Errorf("expected Showing 1-1, got:\n%s", text)
	}
	if !strings.Contains(text, "Repeat with offset=1") {
		t.Errorf("expected pagination hint, got:\n%s", text)
	}
}

func TestMsfSearchModules_NoFilters(t *testing.T) {
	cs := setup(t, testEngine(searchOutput))
	res := callTool(t, cs, "msf_search_modules", nil)
	if !res.IsError {
		t.Error("expected IsError for a filterless search")
	}
}

func TestMsfSearchModules_Empty(t *testing.T) {
	cs := setup(t, testEngine("No results found.\n"))
	res := callTool(t, cs, "msf_search_modules", map[string]any{"query": "nosuchmodule"})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("empty result treated as error: %s", text)
	}
	if !strings.Contains(text, "Matches: 0") {
		t.Errorf("expected Matches: 0, got:\n%s", text)
	}
}

// --- msf_workspaces ---

func TestMsfWorkspaces_List(t *testing.T) {
	cs := setup(t, testEngine(workspacesOutput))
	res := callTool(t, cs, "msf_workspaces", nil)
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "* default") {
		t.Errorf("expected the current workspace marked, got:\n%s", text)
	}
	if !strings.Contains(text, "pentest") {
		t.Errorf("expected pentest listed, got:\n%s", text)
	}
}

func TestMsfWorkspaces_Switch(t *testing.T) {
	eng := testEngine("[*] Workspace: pentest\n")
	cs := setup(t, eng)
	res := callTool(t, cs, "msf_workspaces", map[string]any{"action": "switch", "name": "pentest"})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "Workspace: pentest") {
		t.Errorf("expected Workspace: pentest, got:\n%s", text)
	}
	if got := eng.State.Workspace(); got != "pentest" {
		t.Errorf("engine workspace = %q after switch, want pentest", got)
	}
}

func TestMsfWorkspaces_SwitchWithoutName(t *testing.T) {
	cs := setup(t, testEngine(workspacesOutput))
	res := callTool(t, cs, "msf_workspaces", map[string]any{"action": "switch"})
	if !res.IsError {
		t.Error("expected IsError for switch without a name")
	}
}

func TestMsfWorkspaces_Rename(t *testing.T) {
	eng, tr := testEngineTransport("[*] Switched workspace: engagement\n")
	cs := setup(t, eng)
	res := callTool(t, cs, "msf_workspaces", map[string]any{
		"action":   "rename",
		"name":     "pentest",
		"new_name": "engagement",
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", resultText(res))
	}
	sent := tr.sent()
	if len(sent) != 1 || sent[0][0] != "workspace -r pentest engagement" {
		t.Errorf("commands = %v, want workspace -r pentest engagement", sent)
	}
	if got := eng.State.Workspace(); got != "default" {
		t.Errorf("engine workspace = %q, renaming another workspace must not move it", got)
	}
}

func TestMsfWorkspaces_RenameActive(t *testing.T) {
	eng := testEngine("[*] Switched workspace: engagement\n")
	eng.State.SetWorkspace("pentest")
	cs := setup(t, eng)
	res := callTool(t, cs, "msf_workspaces", map[string]any{
		"action":   "rename",
		"name":     "pentest",
		"new_name": "engagement",
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", resultText(res))
	}
	if got := eng.State.Workspace(); got != "engagement" {
		t.Errorf("engine workspace = %q after renaming the active workspace, want engagement", got)
	}
}

func TestMsfWorkspaces_RenameWithoutNewName(t *testing.T) {
	cs := setup(t, testEngine(workspacesOutput))
	res := callTool(t, cs, "msf_workspaces", map[string]any{"action": "rename", "name": "pentest"})
	if !res.IsError {
		t.Error("expected IsError for rename without new_name")
	}
}

func TestMsfWorkspaces_UnknownAction(t *testing.T) {
	cs := setup(t, testEngine(workspacesOutput))
	res := callTool(t, cs, "msf_workspaces", map[string]any{"action": "archive"})
	if !res.IsError {
		t.Error("expected IsError for an unknown action")
	}
}

// --- msf_module ---

func TestMsfModule_UnknownAction(t *testing.T) {
	cs := setup(t, testEngine(versionOutput))
	res := callTool(t, cs, "msf_module", map[string]any{
		"module": "exploit/windows/smb/ms17_010_eternalblue",
		"action": "exploit",
	})
	if !res.IsError {
		t.Error("expected IsError for an unknown action")
	}
}

func TestMsfModule_MissingModule(t *testing.T) {
	cs := setup(t, testEngine(versionOutput))
	res := callTool(t, cs, "msf_module", map[string]any{"module": ""})
	if !res.IsError {
		t.Error("expected IsError for a missing module")
	}
}

func TestMsfModule_Options(t *testing.T) {
	eng, tr := testEngineTransport(optionsOutput)
	cs := setup(t, eng)
	res := callTool(t, cs, "msf_module", map[string]any{
		"module": "auxiliary/scanner/smb/smb_version",
		"action": "options",
	})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "THREADS") {
		t.Errorf("expected the THREADS option row, got:\n%s", text)
	}
	// The RHOSTS row has an empty setting column, so it is skipped with
	// a warning rather than misaligned into the wrong columns.
	if !strings.Contains(text, "Warning: skipped row") {
		t.Errorf("expected a skipped-row warning, got:\n%s", text)
	}
	sent := tr.sent()
	want := []string{"use auxiliary/scanner/smb/smb_version", "show options"}
	if len(sent) != 1 || !reflect.DeepEqual(sent[0], want) {
		t.Errorf("commands = %v, want %v", sent, want)
	}
}

func TestMsfModule_Run(t *testing.T) {
	eng, tr := testEngineTransport("[*] Auxiliary module execution completed\n[*] Scanned 1 of 1 hosts\n")
	cs := setup(t, eng)
	res := callTool(t, cs, "msf_module", map[string]any{
		"module":  "auxiliary/scanner/smb/smb_version",
		"action":  "run",
		"options": map[string]string{"THREADS": "10", "RHOSTS": "10.0.0.0/24"},
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", resultText(res))
	}
	sent := tr.sent()
	want := []string{
		"use auxiliary/scanner/smb/smb_version",
		"set RHOSTS 10.0.0.0/24",
		"set THREADS 10",
		"run",
	}
	if len(sent) != 1 || !reflect.DeepEqual(sent[0], want) {
		t.Errorf("commands = %v, want %v", sent, want)
	}
}

// --- msf_sessions ---

func TestMsfSessions_List(t *testing.T) {
	eng, tr := testEngineTransport(sessionsOutput)
	cs := setup(t, eng)
	res := callTool(t, cs, "msf_sessions", nil)
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "meterpreter") {
		t.Errorf("expected the session row, got:\n%s", text)
	}
	sent := tr.sent()
	if len(sent) != 1 || sent[0][0] != "sessions -l" {
		t.Errorf("commands = %v, want sessions -l", sent)
	}
}

func TestMsfSessions_Kill(t *testing.T) {
	eng, tr := testEngineTransport("[*] Killing session 3\n")
	cs := setup(t, eng)
	res := callTool(t, cs, "msf_sessions", map[string]any{"action": "kill", "id": 3})
	if res.IsError {
		t.Fatalf("unexpected error: %s", resultText(res))
	}
	sent := tr.sent()
	if len(sent) != 1 || sent[0][0] != "sessions -k 3" {
		t.Errorf("commands = %v, want sessions -k 3", sent)
	}
}

func TestMsfSessions_Run(t *testing.T) {
	eng, tr := testEngineTransport("[*] Running 'whoami' on session 3\nnt authority\\system\n")
	cs := setup(t, eng)
	res := callTool(t, cs, "msf_sessions", map[string]any{
		"action":  "run",
		"id":      3,
		"command": "whoami",
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", resultText(res))
	}
	sent := tr.sent()
	if len(sent) != 1 || sent[0][0] != `sessions -i 3 -c "whoami"` {
		t.Errorf("commands = %v, want sessions -i 3 -c \"whoami\"", sent)
	}
}

func TestMsfSessions_RunWithoutCommand(t *testing.T) {
	cs := setup(t, testEngine(sessionsOutput))
	res := callTool(t, cs, "msf_sessions", map[string]any{"action": "run", "id": 3})
	if !res.IsError {
		t.Error("expected IsError for run without a command")
	}
}

func TestMsfSessions_KillWithoutID(t *testing.T) {
	cs := setup(t, testEngine(sessionsOutput))
	res := callTool(t, cs, "msf_sessions", map[string]any{"action": "kill"})
	if !res.IsError {
		t.Error("expected IsError for kill without an id")
	}
}

// --- msf_db ---

func TestMsfDb(t *testing.T) {
	cs := setup(t, testEngine("[*] Connected to msf. Connection type: postgresql.\n"))
	res := callTool(t, cs, "msf_db", nil)
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "Connected to msf") {
		t.Errorf("expected the db status line, got:\n%s", text)
	}
}

func TestMsfDb_Hosts(t *testing.T) {
	eng, tr := testEngineTransport(hostsOutput)
	cs := setup(t, eng)
	res := callTool(t, cs, "msf_db", map[string]any{"query": "hosts"})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "10.0.0.5") {
		t.Errorf("expected the host row, got:\n%s", text)
	}
	sent := tr.sent()
	if len(sent) != 1 || sent[0][0] != "hosts" {
		t.Errorf("commands = %v, want hosts", sent)
	}
}

func TestMsfDb_UnknownQuery(t *testing.T) {
	cs := setup(t, testEngine(versionOutput))
	res := callTool(t, cs, "msf_db", map[string]any{"query": "payloads"})
	if !res.IsError {
		t.Error("expected IsError for an unknown query")
	}
}

// --- msf_generate_payload ---

func TestMsfGeneratePayload_NoVenom(t *testing.T) {
	cs := setup(t, testEngine(versionOutput))
	res := callTool(t, cs, "msf_generate_payload", map[string]any{
		"payload": "windows/meterpreter/reverse_tcp",
	})
	text := resultText(res)
	if !res.IsError {
		t.Error("expected IsError without msfvenom")
	}
	if !strings.Contains(text, "msfvenom not found") {
		t.Errorf("expected msfvenom not found, got:\n%s", text)
	}
}

// --- msf_inspect_run ---

func TestMsfInspectRun(t *testing.T) {
	cs := setup(t, testEngine(versionOutput))

	runRes := callTool(t, cs, "msf_run_command", map[string]any{"command": "version"})
	runText := resultText(runRes)

	var runID string
	for _, line := range strings.Split(runText, "\n") {
		if strings.HasPrefix(line, "Run: ") {
			runID = strings.TrimPrefix(line, "Run: ")
			break
		}
	}
	if runID == "" {
		t.Fatalf("no Run ID found in output:\n%s", runText)
	}

	inspRes := callTool(t, cs, "msf_inspect_run", map[string]any{"run_id": runID})
	inspText := resultText(inspRes)
	if inspRes.IsError {
		t.Fatalf("unexpected error: %s", inspText)
	}
	if !strings.Contains(inspText, "Command: version") {
		t.Errorf("expected Command: version, got:\n%s", inspText)
	}
	if !strings.Contains(inspText, "Framework: 6.4.55-dev") {
		t.Errorf("expected the raw output, got:\n%s", inspText)
	}
}

func TestMsfInspectRun_Unknown(t *testing.T) {
	cs := setup(t, testEngine(versionOutput))
	res := callTool(t, cs, "msf_inspect_run", map[string]any{"run_id": "nonexistent-id"})
	if !res.IsError {
		t.Error("expected IsError for an unknown run_id")
	}
}

func TestMsfInspectRun_MissingRunID(t *testing.T) {
	cs := setup(t, testEngine(versionOutput))
	_, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "msf_inspect_run",
		Arguments: map[string]any{},
	})
	if err == nil {
		t.Error("expected error for missing run_id")
	}
}

func TestInstructionsPublished(t *testing.T) {
	if Instructions == "" {
		t.Fatal("instructions are empty")
	}
	for _, tool := range []string{"msf_run_command", "msf_search_modules", "msf_inspect_run"} {
		if !strings.Contains(Instructions, tool) {
			t.Errorf("instructions do not mention %s", tool)
		}
	}
}
