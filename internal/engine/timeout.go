package engine

import (
	"strings"
	"time"
)

// commandTimeouts maps command verbs to expected worst-case runtimes.
// Console startup dominates short commands; module loading and cache
// scans dominate the long ones.
var commandTimeouts = map[string]time.Duration{
	"help":      45 * time.Second,
	"db_status": 30 * time.Second,
	"workspace": 30 * time.Second,
	"version":   75 * time.Second,
	"show":      60 * time.Second,
	"info":      75 * time.Second,
	"search":    90 * time.Second,
	"use":       90 * time.Second,
	"exploit":   120 * time.Second,
	"generate":  90 * time.Second,
}

const (
	defaultCommandTimeout = 75 * time.Second
	searchFilterCost      = 15 * time.Second
	searchTimeoutCap      = 120 * time.Second
)

// timeout picks the execution window for a command: explicit override
// first, then operator configuration, then the built-in verb table.
// Search windows grow with each filter clause, since the module cache
// slows down with every extra field it has to match.
func (e *Engine) timeout(command string, override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	verb := commandVerb(command)
	base, ok := e.Config.CommandTimeout(verb)
	if !ok {
		if base, ok = commandTimeouts[verb]; !ok {
			base = defaultCommandTimeout
		}
	}
	if verb == "search" {
		base += searchFilterCost * time.Duration(filterClauses(command))
		if base > searchTimeoutCap {
			base = searchTimeoutCap
		}
	}
	return base
}

// commandVerb extracts the lowercased first word of a command.
func commandVerb(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

// filterClauses counts search filter terms of the form field:value.
func filterClauses(command string) int {
	fields := strings.Fields(command)
	if len(fields) < 2 {
		return 0
	}
	n := 0
	for _, f := range fields[1:] {
		if strings.Contains(f, ":") {
			n++
		}
	}
	return n
}
