// Package verify re-checks the provisioned state at the end of a run.
package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	errw "github.com/pkg/errors"
	"github.com/viamrobotics/ble-provisioner/subsystems"
	"github.com/viamrobotics/ble-provisioner/subsystems/buspolicy"
	"github.com/viamrobotics/ble-provisioner/subsystems/capability"
	"github.com/viamrobotics/ble-provisioner/subsystems/registry"
	"github.com/viamrobotics/ble-provisioner/utils"
	"go.viam.com/rdk/logging"
)

var errAdapterCheckUnsupported = errw.New("bluetooth stack check not supported on this platform")

func init() {
	registry.Register(subsystems.StepVerify, NewStep)
}

type Step struct {
	logger        logging.Logger
	env           *subsystems.Env
	readCaps      func(path string) (capability.FileCaps, error)
	enableAdapter func() error
}

func NewStep(env *subsystems.Env) (subsystems.Step, error) {
	return newStep(env), nil
}

func newStep(env *subsystems.Env) *Step {
	return &Step{
		logger:        env.Logger.Sublogger("verify"),
		env:           env,
		readCaps:      capability.Read,
		enableAdapter: enableDefaultAdapter,
	}
}

// NewStepWithChecks replaces the capability read and the adapter check. Should only be used for testing.
func NewStepWithChecks(env *subsystems.Env, readCaps func(string) (capability.FileCaps, error), enableAdapter func() error) *Step {
	s := newStep(env)
	s.readCaps = readCaps
	s.enableAdapter = enableAdapter
	return s
}

func (s *Step) Name() string {
	return subsystems.StepVerify
}

func (s *Step) Run(ctx context.Context) ([]subsystems.Advisory, error) {
	if s.env.DryRun {
		s.logger.Info("dry run, nothing to verify")
		return nil, nil
	}
	if s.env.Profile.IsLinux() {
		return nil, s.verifyLinux()
	}
	return s.verifyMacOS(ctx), nil
}

func (s *Step) verifyLinux() error {
	cfg := s.env.Config
	mode := buspolicy.ModeFor(cfg.StrictPolicy.Get())

	data, existed, err := utils.ReadFileIfExists(cfg.PolicyPath)
	if err == nil && !existed {
		err = errw.New("policy file is missing")
	}
	if err == nil {
		var policy buspolicy.AccessPolicy
		policy, err = buspolicy.Parse(data)
		if err == nil {
			err = policy.Validate(mode, cfg.User, cfg.GATTInterfaces)
		}
	}
	if err != nil {
		return &subsystems.PolicyWriteError{Path: cfg.PolicyPath, Op: "verifying", Err: err}
	}

	path, err := utils.ResolveBinary(cfg.Interpreter)
	if err != nil {
		return &subsystems.CapabilityAssignError{Path: cfg.Interpreter, Reason: "interpreter not found", ExitCode: -1, Err: err}
	}
	caps, err := s.readCaps(path)
	if err == nil && !caps.HasNetwork() {
		err = fmt.Errorf("found %s, want %s", caps, capability.NetworkCaps)
	}
	if err != nil {
		return &subsystems.CapabilityAssignError{Path: path, Reason: "verifying capabilities", ExitCode: -1, Err: err}
	}

	// the bluetooth library only drives the default adapter
	if cfg.Adapter != utils.DefaultAdapter {
		s.logger.Infof("skipping bluetooth stack check for %s", cfg.Adapter)
		return nil
	}
	if err := s.enableAdapter(); err != nil {
		if errors.Is(err, errAdapterCheckUnsupported) {
			return nil
		}
		return subsystems.NewServiceError("verify_adapter", err)
	}
	s.logger.Infof("%s answers through the bluetooth stack", cfg.Adapter)
	return nil
}

func (s *Step) verifyMacOS(ctx context.Context) []subsystems.Advisory {
	res, err := s.env.Runner.Run(ctx, utils.Command{
		Name:     "blueutil",
		Args:     []string{"--power"},
		ReadOnly: true,
	})
	switch {
	case err != nil:
		s.logger.Warnw("cannot read bluetooth power state", "error", err)
	case strings.TrimSpace(string(res.Stdout)) == "0":
		s.logger.Warn("bluetooth is powered off; turn it on with 'blueutil --power 1'")
	default:
		s.logger.Info("bluetooth is powered on")
	}
	return []subsystems.Advisory{{
		Code:    subsystems.AdvisoryMacOSBluetoothPermission,
		Message: "grant Bluetooth access to the terminal or app that runs the client in System Settings > Privacy & Security > Bluetooth",
	}}
}
