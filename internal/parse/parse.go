package parse

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	keyValCapture = regexp.MustCompile(`^\s*([A-Za-z#][\w ./()-]*?)\s*:\s+(.*)$`)

	frameworkVersion = regexp.MustCompile(`(?i)Framework\s*:\s*([^\r\n]+)`)
	consoleVersion   = regexp.MustCompile(`(?i)Console\s*:\s*([^\r\n]+)`)
	rubyVersion      = regexp.MustCompile(`(?i)Ruby\s*:\s*([^\r\n]+)`)

	errorPrefix = regexp.MustCompile(`^\s*\[-\]\s*`)
)

// Parse extracts records from text according to shape. It never fails:
// malformed rows are skipped with a warning, and input that defeats the
// shape's extractor degrades to a Raw output carrying the original text.
func (c *Classifier) Parse(text string, shape Shape) *Output {
	out := &Output{Shape: shape, Text: text}
	switch shape {
	case Table:
		c.parseTable(text, out)
	case InfoBlock:
		parseInfoBlock(text, out)
	case VersionBanner:
		parseVersionBanner(text, out)
	case ErrorBlock:
		parseErrorBlock(text, out)
	case ListBlock:
		parseListBlock(text, out)
	default:
		out.Shape = Raw
	}
	return out
}

// Parse applies DefaultHeaderSets.
func Parse(text string, shape Shape) *Output {
	var c Classifier
	return c.Parse(text, shape)
}

// Run classifies and parses in one step.
func (c *Classifier) Run(text string) *Output {
	return c.Parse(text, c.Classify(text))
}

// Run classifies and parses with DefaultHeaderSets.
func Run(text string) *Output {
	var c Classifier
	return c.Run(text)
}

// parseTable locates the first known header line with its separator and
// zips every aligned row against the header's field names. Rows split on
// runs of two or more spaces, capped at the column count so the final
// column absorbs any internal spacing.
func (c *Classifier) parseTable(text string, out *Output) {
	lines := strings.Split(text, "\n")
	headerIdx, sepIdx := -1, -1
	var set *HeaderSet
	for i, line := range lines {
		hs := c.matchHeader(line)
		if hs == nil {
			continue
		}
		for j := i + 1; j <= i+2 && j < len(lines); j++ {
			if separatorLine(lines[j]) {
				headerIdx, sepIdx, set = i, j, hs
				break
			}
		}
		if headerIdx >= 0 {
			break
		}
	}
	if headerIdx < 0 {
		out.Shape = Raw
		out.Warnings = append(out.Warnings, "table header not found")
		return
	}

	cols := splitColumns(lines[headerIdx])
	out.SummaryFields = map[string]string{"table": set.Name}
	started := false
	for n, line := range lines[sepIdx+1:] {
		if strings.TrimSpace(line) == "" {
			if started {
				break
			}
			continue
		}
		fields := columnGap.Split(strings.TrimSpace(line), len(cols))
		if len(fields) < len(cols) {
			out.Warnings = append(out.Warnings, fmt.Sprintf("skipped row %d: %d fields, want %d", sepIdx+2+n, len(fields), len(cols)))
			continue
		}
		rec := make(Record, len(cols))
		for i, col := range cols {
			rec[col] = strings.TrimSpace(fields[i])
		}
		out.Records = append(out.Records, rec)
		started = true
	}
}

// parseInfoBlock folds consecutive "Key: Value" lines into records. A
// blank line closes the current record; anything that is not a key/value
// pair is skipped.
func parseInfoBlock(text string, out *Output) {
	cur := Record{}
	flush := func() {
		if len(cur) > 0 {
			out.Records = append(out.Records, cur)
			cur = Record{}
		}
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		m := keyValCapture.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		cur[strings.TrimSpace(m[1])] = strings.TrimSpace(m[2])
	}
	flush()
}

func parseVersionBanner(text string, out *Output) {
	fields := map[string]string{}
	if m := frameworkVersion.FindStringSubmatch(text); m != nil {
		fields["framework"] = strings.TrimSpace(m[1])
	}
	if m := consoleVersion.FindStringSubmatch(text); m != nil {
		fields["console"] = strings.TrimSpace(m[1])
	}
	if m := rubyVersion.FindStringSubmatch(text); m != nil {
		fields["ruby"] = strings.TrimSpace(m[1])
	}
	out.SummaryFields = fields
}

// parseErrorBlock pulls every line matching a failure pattern into a
// single error_message summary field. Records stay empty; an error shape
// carries no data rows by definition.
func parseErrorBlock(text string, out *Output) {
	var msgs []string
	for _, line := range strings.Split(text, "\n") {
		matched := false
		for _, p := range errorPatterns {
			if p.MatchString(line) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		msg := strings.TrimSpace(errorPrefix.ReplaceAllString(line, ""))
		if msg != "" {
			msgs = append(msgs, msg)
		}
	}
	if len(msgs) == 0 {
		if t := strings.TrimSpace(text); t != "" {
			if i := strings.IndexByte(t, '\n'); i >= 0 {
				t = t[:i]
			}
			msgs = append(msgs, strings.TrimSpace(t))
		}
	}
	out.SummaryFields = map[string]string{"error_message": strings.Join(msgs, "; ")}
}

// parseListBlock emits one record per blank-line-separated chunk. The
// console's explicit empty-result sentinel yields zero records, which is
// a successful outcome, not an error.
func parseListBlock(text string, out *Output) {
	if noResults.MatchString(strings.TrimSpace(text)) {
		return
	}
	for _, chunk := range chunks(text) {
		out.Records = append(out.Records, Record{"text": chunk})
	}
}
