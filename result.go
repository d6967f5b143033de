package provisioner

import (
	"errors"

	"github.com/viamrobotics/ble-provisioner/subsystems"
)

// Failure describes the step that stopped a run.
type Failure struct {
	Step        string `json:"step"`
	Message     string `json:"message"`
	ExitCode    int    `json:"exit_code"`
	Remediation string `json:"remediation,omitempty"`

	err error
}

// Result is the machine-readable outcome of a run. Every step that finished
// is listed; nothing is mutated without showing up here.
type Result struct {
	RunID          string                `json:"run_id"`
	Success        bool                  `json:"success"`
	DryRun         bool                  `json:"dry_run,omitempty"`
	Profile        *subsystems.Profile   `json:"profile,omitempty"`
	CompletedSteps []string              `json:"completed_steps"`
	FirstFailure   *Failure              `json:"first_failure,omitempty"`
	Advisories     []subsystems.Advisory `json:"advisories"`
	// Planned lists what a dry run would have done, in order.
	Planned []string `json:"planned,omitempty"`
}

func newResult(runID string, dryRun bool) *Result {
	return &Result{
		RunID:          runID,
		DryRun:         dryRun,
		CompletedSteps: []string{},
		Advisories:     []subsystems.Advisory{},
	}
}

func (r *Result) fail(step string, err error) {
	r.Success = false
	r.FirstFailure = &Failure{
		Step:        step,
		Message:     err.Error(),
		ExitCode:    subsystems.ExitCode(err),
		Remediation: subsystems.Remediation(err),
		err:         err,
	}
}

// ExitCode is the process exit code for the run.
func (r *Result) ExitCode() int {
	if r.FirstFailure == nil {
		return subsystems.ExitSuccess
	}
	return r.FirstFailure.ExitCode
}

// Err returns the error that stopped the run, if any.
func (r *Result) Err() error {
	if r.FirstFailure == nil {
		return nil
	}
	if r.FirstFailure.err == nil {
		return errors.New(r.FirstFailure.Message)
	}
	return r.FirstFailure.err
}
