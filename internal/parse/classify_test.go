package parse

import "testing"

const searchOutput = `Matching Modules
================

   #  Name                                      Disclosure Date  Rank     Check  Description
   -  ----                                      ---------------  -------  -----  -----------
   0  exploit/windows/smb/ms17_010_eternalblue  2017-03-14       average  Yes    MS17-010 EternalBlue SMB Remote Windows Kernel Pool Corruption
   1  exploit/windows/smb/ms17_010_psexec       2017-03-14       normal   Yes    MS17-010 EternalRomance/EternalSynergy/EternalChampion SMB Remote Windows Code Execution


Interact with a module by name or index. For example info 1, use 1 or use exploit/windows/smb/ms17_010_psexec
`

const optionsOutput = `Module options (exploit/windows/smb/ms17_010_eternalblue):

   Name         Current Setting  Required  Description
   ----         ---------------  --------  -----------
   RHOSTS       10.0.0.5         yes       The target host(s), see https://docs.metasploit.com
   RPORT        445              yes       The target port (TCP)
   VERIFY_ARCH  true             yes       Check if remote architecture matches exploit Target.
`

const versionOutput = `Framework: 6.4.55-dev
Console  : 6.4.55-dev
`

const infoOutput = `       Name: EternalBlue SMB Remote Windows Kernel Pool Corruption
     Module: exploit/windows/smb/ms17_010_eternalblue
   Platform: Windows
       Arch: x64
       Rank: Average
  Disclosed: 2017-03-14
`

const unknownCommandOutput = `[-] Unknown command: explot
[-] Run the help command for more details.
`

const exploitFailedOutput = `[*] Started reverse TCP handler on 10.0.0.1:4444
[-] 10.0.0.5:445 - Exploit failed [unreachable]: Rex::ConnectionTimeout The connection timed out (10.0.0.5:445).
[*] Exploit completed, but no session was created.
`

const listOutput = `exploit/windows/smb/ms17_010_eternalblue
  MS17-010 EternalBlue SMB Remote Windows Kernel Pool Corruption

exploit/windows/smb/ms17_010_psexec
  MS17-010 EternalRomance SMB Remote Windows Code Execution
`

// errorInTableOutput carries both a valid table and a failure marker.
// The failure must win.
const errorInTableOutput = `   Name    Current Setting  Required  Description
   ----    ---------------  --------  -----------
   RHOSTS                   yes       The target host(s)

[-] Msf::OptionValidateError The following options failed to validate: RHOSTS.
`

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Shape
	}{
		{"search table", searchOutput, Table},
		{"options table", optionsOutput, Table},
		{"version banner", versionOutput, VersionBanner},
		{"info block", infoOutput, InfoBlock},
		{"unknown command", unknownCommandOutput, ErrorBlock},
		{"exploit failed", exploitFailedOutput, ErrorBlock},
		{"error line message", "Error: could not connect to the data service\n", ErrorBlock},
		{"rex exception", "Rex::ConnectionRefused The connection was refused by the remote host (10.0.0.5:445).\n", ErrorBlock},
		{"python traceback", "Traceback (most recent call last):\n  File \"external_module.py\", line 40, in run\n", ErrorBlock},
		{"list of blocks", listOutput, ListBlock},
		{"no results", "No results found.\n", ListBlock},
		{"error beats table", errorInTableOutput, ErrorBlock},
		{"empty", "", Raw},
		{"single unstructured chunk", "[*] Started persistent payload handler...\n[*] Done\n", Raw},
	}
	for _, tt := range tests {
		if got := Classify(tt.in); got != tt.want {
			t.Errorf("%s: Classify = %q, want %q", tt.name, got, tt.want)
		}
	}
}

// Classification must be a pure function of its input.
func TestClassify_Deterministic(t *testing.T) {
	inputs := []string{searchOutput, optionsOutput, versionOutput, infoOutput, unknownCommandOutput, listOutput, "No results found.\n", ""}
	for _, in := range inputs {
		first := Classify(in)
		for i := 0; i < 3; i++ {
			if got := Classify(in); got != first {
				t.Fatalf("Classify(%q) unstable: %q then %q", in, first, got)
			}
		}
	}
}

func TestClassify_CustomHeaderSets(t *testing.T) {
	out := "Widget  Count\n------  -----\nbolt    3\n"
	c := &Classifier{HeaderSets: []HeaderSet{{Name: "widgets", Columns: []string{"Widget", "Count"}}}}
	if got := c.Classify(out); got != Table {
		t.Errorf("custom sets: Classify = %q, want %q", got, Table)
	}
	if got := Classify(out); got == Table {
		t.Errorf("default sets should not recognize a widgets table")
	}
}

func TestSeparatorLine(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"----  ---  ------", true},
		{"==========", true},
		{"   -  ----  ----", true},
		{"--", true},
		{"-", false},
		{"", false},
		{"---- not all marks", false},
	}
	for _, tt := range tests {
		if got := separatorLine(tt.in); got != tt.want {
			t.Errorf("separatorLine(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSplitColumns(t *testing.T) {
	got := splitColumns("   #  Name      Disclosure Date  Rank")
	want := []string{"#", "Name", "Disclosure Date", "Rank"}
	if len(got) != len(want) {
		t.Fatalf("splitColumns = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("field %d = %q, want %q", i, got[i], want[i])
		}
	}
}
