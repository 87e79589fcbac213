// Package parse turns raw msfconsole output into structured records.
//
// Classification and parsing are split: Classify assigns one of a fixed
// set of shapes by walking an ordered list of predicates, and Parse
// extracts records according to the assigned shape. Neither step ever
// fails; unrecognizable output is carried through as Raw with its text
// intact.
package parse

import (
	"regexp"
	"strings"
)

// HeaderSet names the columns of one known console table. Classification
// treats a line as a table header when at least two of its fields appear
// in the same set.
type HeaderSet struct {
	Name    string
	Columns []string
}

// DefaultHeaderSets covers the stock console tables. Callers with custom
// plugins can extend a Classifier with their own sets.
var DefaultHeaderSets = []HeaderSet{
	{Name: "modules", Columns: []string{"#", "Name", "Disclosure Date", "Rank", "Check", "Description"}},
	{Name: "options", Columns: []string{"Name", "Current Setting", "Required", "Description"}},
	{Name: "targets", Columns: []string{"Id", "Name"}},
	{Name: "sessions", Columns: []string{"Id", "Name", "Type", "Information", "Connection"}},
	{Name: "jobs", Columns: []string{"Id", "Name", "Payload", "Payload opts"}},
	{Name: "hosts", Columns: []string{"address", "mac", "name", "os_name", "os_flavor", "os_sp", "purpose", "info", "comments"}},
	{Name: "services", Columns: []string{"host", "port", "proto", "name", "state", "info"}},
	{Name: "vulns", Columns: []string{"Timestamp", "Host", "Name", "References"}},
	{Name: "creds", Columns: []string{"host", "origin", "service", "public", "private", "realm", "private_type"}},
	{Name: "loot", Columns: []string{"host", "service", "type", "name", "content", "info", "path"}},
	{Name: "notes", Columns: []string{"Time", "Host", "Service", "Port", "Protocol", "Type", "Data"}},
	{Name: "payloads", Columns: []string{"#", "Name", "Disclosure Date", "Rank", "Check", "Description"}},
}

// Classifier assigns shapes to raw console output. The zero value uses
// DefaultHeaderSets.
type Classifier struct {
	HeaderSets []HeaderSet
}

var (
	// columnGap is the field delimiter of aligned console tables: a run
	// of two or more spaces or tabs. Single spaces stay inside a field.
	columnGap = regexp.MustCompile(`[ \t]{2,}`)

	versionLine = regexp.MustCompile(`(?im)^\s*(?:Framework|Console|Ruby)\s*:\s*\S`)
	keyValLine  = regexp.MustCompile(`^\s*[A-Za-z#][\w ./()-]*:\s+\S`)
	noResults   = regexp.MustCompile(`(?i)^no results( found)?\.?$`)

	errorPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?im)^\s*\[-\]\s+\S`),
		regexp.MustCompile(`(?im)^\s*Error:\s+\S`),
		regexp.MustCompile(`(?im)^\s*(RuntimeError|NameError|NoMethodError|ArgumentError)\b`),
		regexp.MustCompile(`(?im)^\s*Rex::\w+`),
		regexp.MustCompile(`(?im)^\s+from .+:\d+:in\b`),
		regexp.MustCompile(`(?i)\btraceback \(most recent call last\)`),
		regexp.MustCompile(`(?i)\bexploit failed\b`),
		regexp.MustCompile(`(?i)\bunknown command\b`),
		regexp.MustCompile(`(?i)\binvalid module\b`),
		regexp.MustCompile(`(?i)\bmodule .* not found\b`),
		regexp.MustCompile(`(?i)\bfailed to load\b`),
	}
)

// Classify walks the shape predicates in a fixed order and returns the
// first match. Error markers are checked before everything else so that
// an error embedded in otherwise table-like output is never mistaken for
// data; Raw is the fallback when nothing matches.
func (c *Classifier) Classify(text string) Shape {
	switch {
	case isErrorBlock(text):
		return ErrorBlock
	case isVersionBanner(text):
		return VersionBanner
	case c.isTable(text):
		return Table
	case isInfoBlock(text):
		return InfoBlock
	case isListBlock(text):
		return ListBlock
	}
	return Raw
}

// Classify applies DefaultHeaderSets.
func Classify(text string) Shape {
	var c Classifier
	return c.Classify(text)
}

func isErrorBlock(text string) bool {
	for _, p := range errorPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

func isVersionBanner(text string) bool {
	return versionLine.MatchString(text)
}

// isTable looks for a known header line followed within two lines by an
// aligned separator of = or - runs.
func (c *Classifier) isTable(text string) bool {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if c.matchHeader(line) == nil {
			continue
		}
		for j := i + 1; j <= i+2 && j < len(lines); j++ {
			if separatorLine(lines[j]) {
				return true
			}
		}
	}
	return false
}

// matchHeader reports the header set a line belongs to, or nil. A line
// qualifies when it splits into at least two fields and at least two of
// them are known column names of the same set; the set matching the most
// fields wins, and ties keep the earlier set. First-match would mislabel
// any header containing Id and Name as the two-column targets table.
func (c *Classifier) matchHeader(line string) *HeaderSet {
	fields := splitColumns(line)
	if len(fields) < 2 {
		return nil
	}
	sets := c.HeaderSets
	if sets == nil {
		sets = DefaultHeaderSets
	}
	var best *HeaderSet
	bestHits := 0
	for i := range sets {
		hits := 0
		for _, f := range fields {
			if containsFold(sets[i].Columns, f) {
				hits++
			}
		}
		if hits >= 2 && hits > bestHits {
			best, bestHits = &sets[i], hits
		}
	}
	return best
}

// splitColumns splits an aligned line into fields on runs of two or more
// spaces. Leading and trailing whitespace is trimmed first so outer gaps
// do not produce empty fields.
func splitColumns(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	return columnGap.Split(line, -1)
}

// separatorLine accepts lines built from = or - runs, optionally broken by
// column gaps ("----  ---  ------").
func separatorLine(line string) bool {
	t := strings.TrimSpace(line)
	if len(t) < 2 {
		return false
	}
	marks := 0
	for _, r := range t {
		switch r {
		case '=', '-':
			marks++
		case ' ', '\t':
		default:
			return false
		}
	}
	return marks >= 2
}

func isInfoBlock(text string) bool {
	kv := 0
	for _, line := range strings.Split(text, "\n") {
		if keyValLine.MatchString(line) {
			kv++
			if kv >= 2 {
				return true
			}
		}
	}
	return false
}

// isListBlock accepts the explicit empty-result sentinel and any output
// made of two or more blank-line-separated chunks. A single undivided
// chunk with no other structure stays Raw.
func isListBlock(text string) bool {
	if noResults.MatchString(strings.TrimSpace(text)) {
		return true
	}
	return len(chunks(text)) >= 2
}

// chunks splits text into blank-line-separated blocks, dropping empty
// ones.
func chunks(text string) []string {
	var out []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.Join(cur, "\n"))
			cur = nil
		}
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()
	return out
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
