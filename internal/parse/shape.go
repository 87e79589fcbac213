package parse

// Shape identifies the recognized structure of a block of console output.
type Shape string

// The known output shapes, from most to least structured.
const (
	Table         Shape = "table"
	InfoBlock     Shape = "info_block"
	VersionBanner Shape = "version_banner"
	ErrorBlock    Shape = "error_block"
	ListBlock     Shape = "list_block"
	Raw           Shape = "raw"
)

// Record maps column or field names to string values. No numeric coercion
// happens at this layer; the console's column semantics are not stable
// enough to type them.
type Record map[string]string

// Output is the product of classifying and parsing one invocation's
// stdout.
type Output struct {
	Shape Shape `json:"shape"`
	// Records holds the parsed rows or blocks, in input order. Empty for
	// Raw, VersionBanner, and ErrorBlock shapes.
	Records []Record `json:"records,omitempty"`
	// SummaryFields holds scalar extractions such as version strings or
	// the embedded error message.
	SummaryFields map[string]string `json:"summary_fields,omitempty"`
	// Warnings collects non-fatal parse anomalies (e.g. skipped short rows).
	Warnings []string `json:"warnings,omitempty"`
	// Text preserves the raw output verbatim.
	Text string `json:"text"`
}
