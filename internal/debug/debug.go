// Package debug provides stderr tracing gated by the KIRA_DEBUG env var.
package debug

import (
	"fmt"
	"os"
)

var (
	enabled     = os.Getenv("KIRA_DEBUG") != ""
	verboseMode = false
)

// Enabled reports whether debug tracing is on.
func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output at runtime (e.g. from a CLI flag).
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// Logf writes a trace line to stderr when debug is enabled.
func Logf(format string, args ...interface{}) {
	if enabled || verboseMode {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
