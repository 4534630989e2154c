// Package debug provides verbose trace logging to stderr, gated by the
// TBD_DEBUG environment variable. It is for operator diagnostics only and
// is silent by default.
package debug

import (
	"fmt"
	"os"
	"strings"
)

// EnvVar enables trace logging when set to anything but "", "0" or "false".
const EnvVar = "TBD_DEBUG"

// Enabled reports whether trace logging is on.
func Enabled() bool {
	v := strings.ToLower(os.Getenv(EnvVar))
	return v != "" && v != "0" && v != "false"
}

// Logf writes one trace line to stderr when enabled. A trailing newline is
// added if the format does not end with one.
func Logf(format string, args ...any) {
	if !Enabled() {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	fmt.Fprint(os.Stderr, "Debug: "+msg)
}
