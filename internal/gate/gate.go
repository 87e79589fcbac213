// Package gate validates and sanitizes commands before they reach the
// console transport. It is a fast pattern-based filter, not a grammar
// parser: the console itself remains the authority on command semantics.
package gate

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError reports a command rejected before execution.
type ValidationError struct {
	Command string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("command rejected: %s", e.Reason)
}

// AuditFunc receives every rejected command. Implementations must not
// block; the gate calls it synchronously.
type AuditFunc func(command, reason string)

// Gate holds the validation policy. The zero value rejects nothing beyond
// empty input; callers normally construct it from config.
type Gate struct {
	// MaxCommandLength rejects commands longer than this many bytes.
	// Zero disables the check.
	MaxCommandLength int
	// DisallowedModulePrefixes rejects "use <path>" selections whose path
	// starts with any listed prefix.
	DisallowedModulePrefixes []string
	// BlockedKeywords rejects commands containing any listed substring,
	// case-insensitively.
	BlockedKeywords []string
	// Audit, when set, is invoked for each rejection.
	Audit AuditFunc
}

var (
	// controlChars covers C0, DEL, and C1 ranges. These never belong in a
	// console command and are stripped rather than rejected.
	controlChars = regexp.MustCompile(`[\x00-\x1f\x7f-\x9f]`)
	// shellMeta covers characters the console would never need from a
	// caller but a shell would interpret.
	shellMeta = regexp.MustCompile("[;&|`$()]")
	// useClause extracts the module path from a "use <path>" selection.
	useClause = regexp.MustCompile(`(?:^|\s)use\s+(\S+)`)
)

// Sanitize strips control characters and shell metacharacters and trims
// surrounding whitespace. It never fails.
func Sanitize(command string) string {
	s := controlChars.ReplaceAllString(command, "")
	s = shellMeta.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// Validate sanitizes command and applies the gate's policy. On success it
// returns the sanitized command text. On rejection it returns a
// *ValidationError and reports the attempt to the audit hook.
func (g *Gate) Validate(command string) (string, error) {
	sanitized := Sanitize(command)

	if sanitized == "" {
		return "", g.reject(command, "empty command")
	}
	if g.MaxCommandLength > 0 && len(sanitized) > g.MaxCommandLength {
		return "", g.reject(command, fmt.Sprintf("command exceeds maximum length (%d)", g.MaxCommandLength))
	}

	lower := strings.ToLower(sanitized)
	for _, kw := range g.BlockedKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return "", g.reject(command, fmt.Sprintf("contains blocked keyword %q", kw))
		}
	}

	if m := useClause.FindStringSubmatch(sanitized); m != nil {
		module := m[1]
		for _, prefix := range g.DisallowedModulePrefixes {
			if prefix != "" && strings.HasPrefix(module, prefix) {
				return "", g.reject(command, fmt.Sprintf("module %s is disallowed (prefix %s)", module, prefix))
			}
		}
	}

	return sanitized, nil
}

// validPayloadName bounds what payload identifiers may look like.
var validPayloadName = regexp.MustCompile(`^[A-Za-z0-9/_.-]+$`)

// ValidatePayload checks a payload generation request. It returns
// non-fatal warnings for risky but permitted configurations and an error
// for malformed ones.
func (g *Gate) ValidatePayload(payload string, options map[string]string) ([]string, error) {
	if payload == "" {
		return nil, g.reject(payload, "empty payload name")
	}
	if !validPayloadName.MatchString(payload) {
		return nil, g.reject(payload, "malformed payload name")
	}

	var warnings []string
	switch options["LHOST"] {
	case "0.0.0.0", "*":
		warnings = append(warnings, "payload binds to all interfaces; set a specific LHOST")
	}
	return warnings, nil
}

func (g *Gate) reject(command, reason string) error {
	if g.Audit != nil {
		g.Audit(command, reason)
	}
	return &ValidationError{Command: command, Reason: reason}
}
