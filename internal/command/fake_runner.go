package command

import (
	"bytes"
	"context"
	"fmt"
	"strings"
)

// FakeResponse scripts the outcome of one matched command in a FakeRunner.
type FakeResponse struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// FakeRunner is a Runner for tests. Responses are matched by a substring of
// the rendered command line; the first match wins, so register specific
// prefixes before broad ones. Unmatched commands succeed with empty output.
// All invocations are journaled in order.
type FakeRunner struct {
	responses []fakeRule
	missing   map[string]bool

	// Calls holds the rendered command line of every RunCmd invocation.
	Calls []string
}

type fakeRule struct {
	match string
	resp  FakeResponse
}

// NewFakeRunner returns an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{missing: map[string]bool{}}
}

// Respond registers a scripted response for command lines containing match.
// Registering the same match again replaces the earlier response in place,
// keeping its position in the match order.
func (f *FakeRunner) Respond(match string, resp FakeResponse) {
	for i, rule := range f.responses {
		if rule.match == match {
			f.responses[i].resp = resp
			return
		}
	}
	f.responses = append(f.responses, fakeRule{match: match, resp: resp})
}

// Fail registers a plain non-zero exit for command lines containing match.
func (f *FakeRunner) Fail(match string, stderr string) {
	f.Respond(match, FakeResponse{Stderr: stderr, ExitCode: 1, Err: fmt.Errorf("exit status 1")})
}

// SetMissing marks a binary as absent from PATH for LookPath.
func (f *FakeRunner) SetMissing(name string) {
	f.missing[name] = true
}

// CallCount returns how many journaled command lines contain match.
func (f *FakeRunner) CallCount(match string) int {
	n := 0
	for _, c := range f.Calls {
		if strings.Contains(c, match) {
			n++
		}
	}
	return n
}

// RunCmd implements Runner.
func (f *FakeRunner) RunCmd(_ context.Context, name string, args ...string) (*RunResult, error) {
	rr := &RunResult{Args: append([]string{name}, args...)}
	line := rr.Command()
	f.Calls = append(f.Calls, line)

	for _, rule := range f.responses {
		if strings.Contains(line, rule.match) {
			rr.Stdout = *bytes.NewBufferString(rule.resp.Stdout)
			rr.Stderr = *bytes.NewBufferString(rule.resp.Stderr)
			rr.ExitCode = rule.resp.ExitCode
			if rule.resp.Err != nil {
				return rr, fmt.Errorf("%s: %w", line, rule.resp.Err)
			}
			return rr, nil
		}
	}
	return rr, nil
}

// LookPath implements Runner.
func (f *FakeRunner) LookPath(name string) (string, error) {
	if f.missing[name] {
		return "", fmt.Errorf("exec: %q: executable file not found in $PATH", name)
	}
	return "/usr/bin/" + name, nil
}
