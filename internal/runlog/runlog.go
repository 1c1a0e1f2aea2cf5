// Package runlog maintains the append-only log file for a provisioning run.
//
// Every component appends to the same file. After a failure the file is read
// back once so the operator can be pointed at the full operation sequence; it
// is a diagnostic index, never a control input. The workflow is single
// threaded, so appends need no locking.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Log is an append-only run log file.
type Log struct {
	path  string
	runID string
	file  *os.File
}

// Open creates or opens the log file at path for appending and writes a run
// header line. An empty path defaults to a process-scoped file under the
// system temp directory.
func Open(path string) (*Log, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), fmt.Sprintf("hutch-%d.log", os.Getpid()))
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log %s: %w", path, err)
	}

	l := &Log{path: path, runID: uuid.New().String(), file: f}
	l.Appendf("run %s started", l.runID)
	return l, nil
}

// Path returns the log file location, for the failure banner.
func (l *Log) Path() string {
	return l.path
}

// RunID returns the identifier written in the run header line.
func (l *Log) RunID() string {
	return l.runID
}

// Appendf appends one timestamped line. Append failures are swallowed: the
// log must never take the workflow down with it.
func (l *Log) Appendf(format string, args ...any) {
	line := fmt.Sprintf("%s %s\n", time.Now().Format(time.RFC3339), fmt.Sprintf(format, args...))
	_, _ = l.file.WriteString(line)
}

// AppendBlock appends a multi-line block under a one-line heading, indenting
// each line so the block reads as a unit. Used for diagnostic bundles.
func (l *Log) AppendBlock(heading, body string) {
	l.Appendf("%s", heading)
	for _, line := range strings.Split(strings.TrimRight(body, "\n"), "\n") {
		_, _ = l.file.WriteString("    " + line + "\n")
	}
}

// ReadAll returns the full log contents. Called once, at failure time.
func (l *Log) ReadAll() (string, error) {
	b, err := os.ReadFile(l.path)
	if err != nil {
		return "", fmt.Errorf("failed to read run log %s: %w", l.path, err)
	}
	return string(b), nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	return l.file.Close()
}
