package buspolicy

import (
	"bytes"
	"context"
	"errors"

	"github.com/viamrobotics/ble-provisioner/subsystems"
	"github.com/viamrobotics/ble-provisioner/subsystems/registry"
	"github.com/viamrobotics/ble-provisioner/utils"
	"go.viam.com/rdk/logging"
)

func init() {
	registry.Register(subsystems.StepPolicy, NewStep)
}

// Reloader asks the bus daemon to re-read its configuration.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Step installs the policy document and gets the bus to load it.
type Step struct {
	logger     logging.Logger
	env        *subsystems.Env
	path       string
	username   string
	interfaces []string
	mode       Mode
	reloader   Reloader
}

// NewStep returns nil on hosts without a system bus.
func NewStep(env *subsystems.Env) (subsystems.Step, error) {
	if !env.Profile.IsLinux() {
		return nil, nil
	}
	logger := env.Logger.Sublogger("buspolicy")
	return NewStepWithReloader(env, NewBusReloader(logger, env.Runner)), nil
}

func NewStepWithReloader(env *subsystems.Env, reloader Reloader) *Step {
	return &Step{
		logger:     env.Logger.Sublogger("buspolicy"),
		env:        env,
		path:       env.Config.PolicyPath,
		username:   env.Config.User,
		interfaces: env.Config.GATTInterfaces,
		mode:       ModeFor(env.Config.StrictPolicy.Get()),
		reloader:   reloader,
	}
}

func (s *Step) Name() string {
	return subsystems.StepPolicy
}

// Run writes the policy if it differs from what is installed and reloads the
// bus. If the bus rejects it the previous file is put back.
func (s *Step) Run(ctx context.Context) ([]subsystems.Advisory, error) {
	policy, err := Generate(s.username, s.interfaces, s.mode)
	if err != nil {
		return nil, s.wrap("generating policy for", err)
	}
	data, err := policy.Render()
	if err != nil {
		return nil, s.wrap("rendering policy for", err)
	}

	prev, existed, err := utils.ReadFileIfExists(s.path)
	if err != nil {
		return nil, s.wrap("reading", err)
	}
	if existed && bytes.Equal(prev, data) {
		s.logger.Infof("%s policy at %s is up to date", s.mode, s.path)
		return nil, nil
	}
	if existed {
		if _, err := Parse(prev); err != nil {
			s.logger.Warnw("replacing unparseable policy", "path", s.path, "error", err)
		}
	}

	if s.env.Plan("write " + string(s.mode) + " bus policy for " + s.username + " to " + s.path) {
		s.env.Plan("reload system bus configuration")
		return nil, nil
	}

	s.logger.Infof("writing %s policy for %s to %s", s.mode, s.username, s.path)
	if _, err := utils.WriteFileIfNew(s.path, data); err != nil {
		return nil, s.wrap("writing", errors.Join(err, utils.RestoreFile(s.path, prev, existed)))
	}

	if err := s.reloader.Reload(ctx); err != nil {
		s.logger.Warnw("bus rejected policy, restoring previous file", "path", s.path, "error", err)
		return nil, s.wrap("reloading bus configuration with", errors.Join(err, utils.RestoreFile(s.path, prev, existed)))
	}
	return nil, nil
}

func (s *Step) wrap(op string, err error) error {
	return &subsystems.PolicyWriteError{Path: s.path, Op: op, Err: err}
}
