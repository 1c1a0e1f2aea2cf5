package workflow

import (
	"fmt"
	"io"
	"strings"

	"github.com/jbweber/hutch/internal/failure"
	"github.com/jbweber/hutch/internal/runlog"
)

// Report is the top-level failure handler. It runs exactly once per failed
// run, after Run has returned: structured banner, pointer to the run log,
// and remediation text selected from the error's typed signature. Errors
// that carry no signature fall back to scanning the run log for known
// signature substrings.
func Report(w io.Writer, l *runlog.Log, err error) {
	sig := failure.SignatureOf(err)
	if sig == failure.Generic {
		if content, readErr := l.ReadAll(); readErr == nil {
			sig = scanLog(content)
		}
	}

	fmt.Fprintln(w, "==============================================")
	fmt.Fprintln(w, " Provisioning failed")
	fmt.Fprintln(w, "==============================================")
	fmt.Fprintf(w, "Error: %v\n", err)
	fmt.Fprintf(w, "Run log: %s\n", l.Path())
	fmt.Fprintln(w)
	fmt.Fprintln(w, failure.Remedy(sig))
}

// scanLog pattern-matches the run log against known failure signatures. It
// is only the fallback for errors raised without a typed signature; typed
// signatures always win.
func scanLog(content string) failure.Signature {
	switch {
	case strings.Contains(content, "seeding timed out"):
		return failure.SeedingTimeout
	case strings.Contains(content, "diagnostics: manager version"),
		strings.Contains(content, "failed to launch"):
		return failure.VMCreateFailed
	default:
		return failure.Generic
	}
}
