package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	errw "github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// DefaultCommandTimeout bounds any command that does not set its own timeout.
const DefaultCommandTimeout = 30 * time.Second

var lookPath = exec.LookPath

// Command describes a single external invocation.
type Command struct {
	Name string
	Args []string
	// Env is appended to the inherited environment.
	Env []string
	// Elevate prefixes the command with "sudo -n" when not already running as root.
	Elevate bool
	// ReadOnly marks commands that only inspect host state. They still run during a dry run.
	ReadOnly bool
	Timeout  time.Duration
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// CommandResult is the captured outcome of a command.
type CommandResult struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Stdout   []byte `json:"-"`
	Stderr   []byte `json:"-"`
}

// Output returns stdout and stderr joined and trimmed, for error messages.
func (r CommandResult) Output() string {
	return strings.TrimSpace(strings.TrimSpace(string(r.Stdout)) + "\n" + strings.TrimSpace(string(r.Stderr)))
}

// CommandError is returned when a command could not start, timed out, or exited non-zero.
// ExitCode is -1 when the process never produced one.
type CommandError struct {
	Result CommandResult
	Err    error
}

func (e *CommandError) Error() string {
	out := e.Result.Output()
	if out == "" {
		return fmt.Sprintf("running '%s' (exit %d): %s", e.Result.Command, e.Result.ExitCode, e.Err)
	}
	return fmt.Sprintf("running '%s' (exit %d): %s, output: %s", e.Result.Command, e.Result.ExitCode, e.Err, out)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// AsCommandError extracts the command and exit code from err, if it carries them.
func AsCommandError(err error) (string, int, bool) {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Result.Command, cmdErr.Result.ExitCode, true
	}
	return "", 0, false
}

// CommandRunner executes external commands. It exists so that every host
// mutation can be faked in tests and intercepted for dry runs.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (CommandResult, error)
}

// ExecRunner runs commands as subprocesses.
type ExecRunner struct {
	logger         logging.Logger
	defaultTimeout time.Duration
}

// NewExecRunner returns a runner that bounds commands without a timeout by defaultTimeout.
func NewExecRunner(logger logging.Logger, defaultTimeout time.Duration) *ExecRunner {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultCommandTimeout
	}
	return &ExecRunner{logger: logger, defaultTimeout: defaultTimeout}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (CommandResult, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	// a started command runs to completion or timeout; cancellation is only
	// honored between commands
	timeoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	name, args := c.Name, c.Args
	if c.Elevate && !IsRoot() {
		args = append([]string{"-n", name}, args...)
		name = "sudo"
	}

	//nolint:gosec
	cmd := exec.CommandContext(timeoutCtx, name, args...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	// don't hang on pipes held open by orphaned children after a kill
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	outLog := NewOutputLogger(r.logger, c.Name)
	cmd.Stdout = io.MultiWriter(&stdout, outLog)
	cmd.Stderr = io.MultiWriter(&stderr, outLog)

	r.logger.Debugf("running '%s'", c)
	err := cmd.Run()
	outLog.Flush()

	res := CommandResult{Command: c.String(), Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}

	if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
		res.ExitCode = -1
		return res, &CommandError{Result: res, Err: errw.Errorf("timed out after %s", timeout)}
	}

	if e := (&exec.ExitError{}); errors.As(err, &e) {
		res.ExitCode = e.ExitCode()
		return res, &CommandError{Result: res, Err: err}
	}

	// if it's not an ExitError, that means it didn't even start
	res.ExitCode = -1
	return res, &CommandError{Result: res, Err: err}
}

// Planner collects actions that a dry run skipped.
type Planner interface {
	Record(action string)
}

// DryRunner passes ReadOnly commands to the wrapped runner and records every
// other command as a planned action without executing it.
type DryRunner struct {
	inner  CommandRunner
	logger logging.Logger

	mu      sync.Mutex
	planned []string
}

// NewDryRunner wraps inner for a dry run.
func NewDryRunner(inner CommandRunner, logger logging.Logger) *DryRunner {
	return &DryRunner{inner: inner, logger: logger}
}

func (d *DryRunner) Run(ctx context.Context, c Command) (CommandResult, error) {
	if c.ReadOnly {
		return d.inner.Run(ctx, c)
	}
	line := c.String()
	if c.Elevate && !IsRoot() {
		line = "sudo -n " + line
	}
	d.Record("run: " + line)
	return CommandResult{Command: c.String()}, nil
}

// Record notes an action that would have happened.
func (d *DryRunner) Record(action string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger.Infof("dry run, skipping: %s", action)
	d.planned = append(d.planned, action)
}

// Planned returns a copy of the recorded actions, in order.
func (d *DryRunner) Planned() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.planned))
	copy(out, d.planned)
	return out
}
