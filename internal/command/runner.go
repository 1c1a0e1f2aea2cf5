// Package command runs external processes behind an interface seam.
//
// Every call into an external collaborator (the VM manager CLI, the package
// manager, platform tools) flows through a Runner so tests can substitute a
// scripted fake. In production the Runner is ExecRunner.
package command

import (
	"bytes"
	"fmt"
	"strings"
)

// RunResult holds the outcome of a single external command.
type RunResult struct {
	Stdout   bytes.Buffer
	Stderr   bytes.Buffer
	ExitCode int
	Args     []string // argv as passed to the Runner, binary first
}

// Command returns a human readable rendering of the invoked command line.
func (rr *RunResult) Command() string {
	var sb strings.Builder
	for i, a := range rr.Args {
		if i > 0 {
			sb.WriteString(" ")
		}
		if strings.Contains(a, " ") {
			sb.WriteString(fmt.Sprintf("%q", a))
			continue
		}
		sb.WriteString(a)
	}
	return sb.String()
}

// Output returns the captured stdout and stderr in a readable block form.
func (rr *RunResult) Output() string {
	var sb strings.Builder
	if rr.Stdout.Len() > 0 {
		sb.WriteString(fmt.Sprintf("-- stdout --\n%s\n-- /stdout --", rr.Stdout.Bytes()))
	}
	if rr.Stderr.Len() > 0 {
		sb.WriteString(fmt.Sprintf("\n-- stderr --\n%s\n-- /stderr --", rr.Stderr.Bytes()))
	}
	return sb.String()
}
