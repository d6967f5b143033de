package capability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/viamrobotics/ble-provisioner/subsystems"
	"github.com/viamrobotics/ble-provisioner/subsystems/registry"
	"github.com/viamrobotics/ble-provisioner/utils"
	"go.viam.com/rdk/logging"
)

func init() {
	registry.Register(subsystems.StepCapability, NewStep)
}

// Step attaches NetworkCaps to the resolved interpreter binary.
type Step struct {
	logger      logging.Logger
	env         *subsystems.Env
	interpreter string
	resolve     func(string) (string, error)
	readXattr   func(string) ([]byte, error)
}

// NewStep returns nil on hosts without file capabilities.
func NewStep(env *subsystems.Env) (subsystems.Step, error) {
	if !env.Profile.IsLinux() {
		return nil, nil
	}
	return newStep(env), nil
}

func newStep(env *subsystems.Env) *Step {
	return &Step{
		logger:      env.Logger.Sublogger("capability"),
		env:         env,
		interpreter: env.Config.Interpreter,
		resolve:     utils.ResolveBinary,
		readXattr:   readCapabilityXattr,
	}
}

// NewStepWithReader is NewStep with a replacement for the xattr read. Should only be used for testing.
func NewStepWithReader(env *subsystems.Env, readXattr func(string) ([]byte, error)) *Step {
	s := newStep(env)
	s.readXattr = readXattr
	return s
}

func (s *Step) Name() string {
	return subsystems.StepCapability
}

func (s *Step) Run(ctx context.Context) ([]subsystems.Advisory, error) {
	path, err := s.resolve(s.interpreter)
	if err != nil {
		return nil, &subsystems.CapabilityAssignError{Path: s.interpreter, Reason: "interpreter not found", ExitCode: -1, Err: err}
	}
	advisories := []subsystems.Advisory{{
		Code:    subsystems.AdvisoryReapplyOnBinaryChange,
		Subject: path,
		Message: fmt.Sprintf("capabilities are attached to %s; re-run provisioning after the interpreter is upgraded or replaced", path),
	}}

	current, err := s.read(path)
	if err != nil {
		return nil, s.fail(path, "reading current capabilities", err)
	}
	if current.HasNetwork() {
		s.logger.Infof("%s already has %s", path, NetworkCaps)
		return advisories, nil
	}

	s.logger.Infof("granting %s to %s (currently %s)", NetworkCaps, path, current)
	_, err = s.env.Runner.Run(ctx, utils.Command{
		Name:    "setcap",
		Args:    []string{NetworkCaps, path},
		Elevate: true,
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, exec.ErrNotFound) {
			return nil, s.fail(path, "setcap not found (install libcap2-bin)", err)
		}
		return nil, s.fail(path, "setcap failed", err)
	}
	if s.env.DryRun {
		return advisories, nil
	}

	after, err := s.read(path)
	if err == nil && !after.HasNetwork() {
		err = fmt.Errorf("capabilities read back as %s", after)
	}
	if err != nil {
		s.logger.Warnw("capabilities did not verify, removing them", "path", path, "error", err)
		if _, rmErr := s.env.Runner.Run(ctx, utils.Command{
			Name:    "setcap",
			Args:    []string{"-r", path},
			Elevate: true,
		}); rmErr != nil {
			err = errors.Join(err, rmErr)
		}
		return nil, s.fail(path, "verifying capabilities", err)
	}
	return advisories, nil
}

func (s *Step) read(path string) (FileCaps, error) {
	data, err := s.readXattr(path)
	if err != nil {
		return FileCaps{}, err
	}
	return ParseFileCaps(data)
}

func (s *Step) fail(path, reason string, err error) error {
	capErr := &subsystems.CapabilityAssignError{Path: path, Reason: reason, ExitCode: -1, Err: err}
	if errors.Is(err, ErrXattrUnsupported) {
		capErr.Reason = "filesystem does not support file capabilities"
	}
	if _, code, ok := utils.AsCommandError(err); ok {
		capErr.ExitCode = code
	}
	return capErr
}
