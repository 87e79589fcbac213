package parse

import (
	"strings"
	"testing"
)

func TestParseTable_Search(t *testing.T) {
	out := Run(searchOutput)
	if out.Shape != Table {
		t.Fatalf("shape = %q, want %q", out.Shape, Table)
	}
	if len(out.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(out.Records))
	}
	r := out.Records[0]
	if r["Name"] != "exploit/windows/smb/ms17_010_eternalblue" {
		t.Errorf("Name = %q", r["Name"])
	}
	if r["Rank"] != "average" {
		t.Errorf("Rank = %q", r["Rank"])
	}
	if r["Disclosure Date"] != "2017-03-14" {
		t.Errorf("Disclosure Date = %q", r["Disclosure Date"])
	}
	if out.SummaryFields["table"] != "modules" {
		t.Errorf("table = %q, want modules", out.SummaryFields["table"])
	}
	if len(out.Warnings) != 0 {
		t.Errorf("warnings = %q, want none", out.Warnings)
	}
}

func TestParseTable_Options(t *testing.T) {
	out := Run(optionsOutput)
	if out.Shape != Table {
		t.Fatalf("shape = %q, want %q", out.Shape, Table)
	}
	if len(out.Records) != 3 {
		t.Fatalf("records = %d, want 3", len(out.Records))
	}
	if got := out.Records[1]["Current Setting"]; got != "445" {
		t.Errorf("RPORT Current Setting = %q, want 445", got)
	}
	if got := out.Records[0]["Description"]; got != "The target host(s), see https://docs.metasploit.com" {
		t.Errorf("Description = %q", got)
	}
}

// The final column must absorb everything after the second-to-last field,
// including internal runs of spaces.
func TestParseTable_LastColumnAbsorbs(t *testing.T) {
	in := "   #  Name   Disclosure Date  Rank  Check  Description\n" +
		"   -  ----   ---------------  ----  -----  -----------\n" +
		"   0  mod/a  2024-01-01       good  No     trailing  column   absorbs   runs\n"
	out := Run(in)
	if out.Shape != Table {
		t.Fatalf("shape = %q, want %q", out.Shape, Table)
	}
	if len(out.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(out.Records))
	}
	if got := out.Records[0]["Description"]; got != "trailing  column   absorbs   runs" {
		t.Errorf("Description = %q", got)
	}
}

func TestParseTable_SkipsShortRows(t *testing.T) {
	in := "   #  Name   Disclosure Date  Rank  Check  Description\n" +
		"   -  ----   ---------------  ----  -----  -----------\n" +
		"   0  mod/a  2024-01-01       good  No     first module\n" +
		"   1  mod/b\n" +
		"   2  mod/c  2024-02-02       good  No     third module\n"
	out := Run(in)
	if len(out.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(out.Records))
	}
	if len(out.Warnings) != 1 {
		t.Fatalf("warnings = %q, want one", out.Warnings)
	}
	if !strings.Contains(out.Warnings[0], "skipped row") {
		t.Errorf("warning = %q", out.Warnings[0])
	}
	if out.Records[1]["Name"] != "mod/c" {
		t.Errorf("second record Name = %q, want mod/c", out.Records[1]["Name"])
	}
}

// A sessions header contains Id and Name, which also form the complete
// targets header. The richer match must win.
func TestParseTable_SessionsBeatsTargets(t *testing.T) {
	in := "  Id  Name   Type                     Information          Connection\n" +
		"  --  ----   ----                     -----------          ----------\n" +
		"  3   shell  meterpreter x64/windows  SYSTEM @ WIN10-01    10.0.0.9:4444 -> 10.0.0.5:49202 (10.0.0.5)\n"
	out := Run(in)
	if out.Shape != Table {
		t.Fatalf("shape = %q, want %q", out.Shape, Table)
	}
	if got := out.SummaryFields["table"]; got != "sessions" {
		t.Errorf("table = %q, want sessions", got)
	}
	if len(out.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(out.Records))
	}
	if got := out.Records[0]["Type"]; got != "meterpreter x64/windows" {
		t.Errorf("Type = %q", got)
	}
}

func TestParseInfoBlock(t *testing.T) {
	out := Run(infoOutput)
	if out.Shape != InfoBlock {
		t.Fatalf("shape = %q, want %q", out.Shape, InfoBlock)
	}
	if len(out.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(out.Records))
	}
	r := out.Records[0]
	if r["Module"] != "exploit/windows/smb/ms17_010_eternalblue" {
		t.Errorf("Module = %q", r["Module"])
	}
	if r["Platform"] != "Windows" {
		t.Errorf("Platform = %q", r["Platform"])
	}
}

func TestParseInfoBlock_BlankLineSplitsRecords(t *testing.T) {
	in := "  Name: alpha\n  Rank: good\n\n  Name: beta\n  Rank: poor\n"
	out := Run(in)
	if out.Shape != InfoBlock {
		t.Fatalf("shape = %q, want %q", out.Shape, InfoBlock)
	}
	if len(out.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(out.Records))
	}
	if out.Records[0]["Name"] != "alpha" || out.Records[1]["Name"] != "beta" {
		t.Errorf("records = %v", out.Records)
	}
}

func TestParseVersionBanner(t *testing.T) {
	out := Run(versionOutput)
	if out.Shape != VersionBanner {
		t.Fatalf("shape = %q, want %q", out.Shape, VersionBanner)
	}
	if got := out.SummaryFields["framework"]; got != "6.4.55-dev" {
		t.Errorf("framework = %q, want 6.4.55-dev", got)
	}
	if got := out.SummaryFields["console"]; got != "6.4.55-dev" {
		t.Errorf("console = %q, want 6.4.55-dev", got)
	}
	if len(out.Records) != 0 {
		t.Errorf("records = %d, want 0", len(out.Records))
	}
}

func TestParseErrorBlock(t *testing.T) {
	out := Run(exploitFailedOutput)
	if out.Shape != ErrorBlock {
		t.Fatalf("shape = %q, want %q", out.Shape, ErrorBlock)
	}
	msg := out.SummaryFields["error_message"]
	if !strings.Contains(msg, "Exploit failed") {
		t.Errorf("error_message = %q", msg)
	}
	if strings.Contains(msg, "Started reverse TCP handler") {
		t.Errorf("status line leaked into error_message: %q", msg)
	}
	if len(out.Records) != 0 {
		t.Errorf("records = %d, want 0", len(out.Records))
	}
}

// An empty search result is a successful outcome with zero records, not
// an error.
func TestParseListBlock_NoResults(t *testing.T) {
	out := Run("No results found.\n")
	if out.Shape != ListBlock {
		t.Fatalf("shape = %q, want %q", out.Shape, ListBlock)
	}
	if len(out.Records) != 0 {
		t.Errorf("records = %d, want 0", len(out.Records))
	}
}

func TestParseListBlock_Chunks(t *testing.T) {
	out := Run(listOutput)
	if out.Shape != ListBlock {
		t.Fatalf("shape = %q, want %q", out.Shape, ListBlock)
	}
	if len(out.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(out.Records))
	}
	if !strings.Contains(out.Records[0]["text"], "ms17_010_eternalblue") {
		t.Errorf("first chunk = %q", out.Records[0]["text"])
	}
}

// Arbitrary input must always come back as a well-formed Output with the
// original text preserved.
func TestRun_DegradesToRaw(t *testing.T) {
	inputs := []string{
		"",
		"\x00\x01\x02",
		strings.Repeat("x", 10000),
		"::::\n\n::::",
		"[-]",
		"Name  Current Setting\n",
	}
	for _, in := range inputs {
		out := Run(in)
		if out == nil {
			t.Fatalf("Run(%q) = nil", in)
		}
		if out.Text != in {
			t.Errorf("Run(%q): text not preserved", in)
		}
	}
}

func TestParseWorkspaces(t *testing.T) {
	in := "Workspaces\n==========\n* default\n  pentest\n  staging\n"
	got := ParseWorkspaces(in)
	if len(got) != 3 {
		t.Fatalf("entries = %d, want 3", len(got))
	}
	if got[0].Name != "default" || !got[0].Current {
		t.Errorf("first = %+v, want current default", got[0])
	}
	if got[1].Name != "pentest" || got[1].Current {
		t.Errorf("second = %+v", got[1])
	}
}
