package console

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// BuildScript renders the resource-file body for one batch invocation.
// Commands run in order and the script always ends with exit so the
// console never lingers waiting for input.
func BuildScript(workspace string, commands []string) string {
	var b strings.Builder
	if workspace != "" {
		fmt.Fprintf(&b, "workspace %s\n", workspace)
	}
	for _, c := range commands {
		b.WriteString(c)
		b.WriteByte('\n')
	}
	b.WriteString("exit\n")
	return b.String()
}

// WriteScript materializes the script body as a fresh .rc file readable
// only by the owner. The returned cleanup removes it.
func WriteScript(dir, workspace string, commands []string) (string, func(), error) {
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, fmt.Sprintf("msfbridge-%s.rc", uuid.New().String()))
	if err := os.WriteFile(path, []byte(BuildScript(workspace, commands)), 0o600); err != nil {
		return "", nil, fmt.Errorf("writing script: %w", err)
	}
	return path, func() { os.Remove(path) }, nil
}
