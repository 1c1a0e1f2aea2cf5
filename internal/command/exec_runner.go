package command

import (
	"context"
	"fmt"
	"os/exec"
)

// Runner represents an interface to run external commands and resolve
// binaries on PATH.
type Runner interface {
	// RunCmd runs argv (binary first) and returns the captured result.
	// A non-zero exit is returned as both a populated RunResult and an
	// error wrapping the exec failure.
	RunCmd(ctx context.Context, name string, args ...string) (*RunResult, error)

	// LookPath reports where name resolves on PATH, or an error if it
	// does not.
	LookPath(name string) (string, error)
}

// ExecRunner runs commands on the local host via os/exec.
type ExecRunner struct{}

// NewExecRunner returns a Runner backed by os/exec.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// RunCmd implements Runner.
func (*ExecRunner) RunCmd(ctx context.Context, name string, args ...string) (*RunResult, error) {
	rr := &RunResult{Args: append([]string{name}, args...)}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &rr.Stdout
	cmd.Stderr = &rr.Stderr

	err := cmd.Run()
	if exitError, ok := err.(*exec.ExitError); ok {
		rr.ExitCode = exitError.ExitCode()
	}
	if err != nil {
		return rr, fmt.Errorf("%s: %w", rr.Command(), err)
	}
	return rr, nil
}

// LookPath implements Runner.
func (*ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
