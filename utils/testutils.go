package utils

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	"go.viam.com/test"
)

// Touch is equivalent to unix touch; creates an empty file at path.
func Touch(t *testing.T, path string) {
	f, err := os.Create(path) //nolint:gosec
	test.That(t, err, test.ShouldBeNil)
	f.Close() //nolint:gosec,errcheck
}

// FakeResponse is what a FakeRunner returns for a matched command.
type FakeResponse struct {
	ExitCode int
	Stdout   string
	Stderr   string
	// NotFound simulates a binary that could not be started.
	NotFound bool
}

// FakeRunner is a CommandRunner for tests. Commands are matched against
// registered prefixes of their command line (without any sudo prefix); the
// longest prefix wins. Unmatched commands succeed with empty output.
type FakeRunner struct {
	mu        sync.Mutex
	calls     []Command
	responses map[string][]FakeResponse
}

// NewFakeRunner returns an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{responses: map[string][]FakeResponse{}}
}

// Set registers responses for commands starting with prefix. When more than
// one response is given they are returned in order and the last one repeats.
func (f *FakeRunner) Set(prefix string, responses ...FakeResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[prefix] = responses
}

func (f *FakeRunner) Run(_ context.Context, c Command) (CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)

	line := c.String()
	var match string
	for prefix := range f.responses {
		if strings.HasPrefix(line, prefix) && len(prefix) > len(match) {
			match = prefix
		}
	}
	res := CommandResult{Command: line}
	queue, ok := f.responses[match]
	if !ok || len(queue) == 0 {
		return res, nil
	}
	resp := queue[0]
	if len(queue) > 1 {
		f.responses[match] = queue[1:]
	}

	res.Stdout = []byte(resp.Stdout)
	res.Stderr = []byte(resp.Stderr)
	if resp.NotFound {
		res.ExitCode = -1
		return res, &CommandError{Result: res, Err: os.ErrNotExist}
	}
	res.ExitCode = resp.ExitCode
	if resp.ExitCode != 0 {
		return res, &CommandError{Result: res, Err: errFakeExit}
	}
	return res, nil
}

// Commands returns the command lines run so far, in order.
func (f *FakeRunner) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.String())
	}
	return out
}

// Calls returns the commands run so far, in order.
func (f *FakeRunner) Calls() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Command, len(f.calls))
	copy(out, f.calls)
	return out
}

// Count returns how many commands run so far start with prefix.
func (f *FakeRunner) Count(prefix string) int {
	var n int
	for _, line := range f.Commands() {
		if strings.HasPrefix(line, prefix) {
			n++
		}
	}
	return n
}

type fakeExitError struct{}

func (fakeExitError) Error() string { return "exit status non-zero" }

var errFakeExit error = fakeExitError{}
