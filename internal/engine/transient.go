package engine

import "strings"

// transientSignatures mark output that indicates a recoverable framework
// fault rather than a failure of the command itself. All of them are
// framework-side database conditions. Target-side connection failures
// are deliberately absent: retrying an exploit because the target
// refused a connection would repeat a side-effectful operation.
var transientSignatures = []string{
	"database not connected",
	"could not connect to the data service",
	"failed to connect to the database",
	"postgresql is not running",
	"data service is temporarily unavailable",
}

// transientFault scans console output for a recoverable fault signature
// and returns the first one found.
func transientFault(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, sig := range transientSignatures {
		if strings.Contains(lower, sig) {
			return sig, true
		}
	}
	return "", false
}
