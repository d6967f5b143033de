// Package packages installs the host's bluetooth stack through its package manager.
package packages

import (
	"context"
	"time"

	errw "github.com/pkg/errors"
	"github.com/viamrobotics/ble-provisioner/subsystems"
	"github.com/viamrobotics/ble-provisioner/subsystems/registry"
	"github.com/viamrobotics/ble-provisioner/utils"
	"go.viam.com/rdk/logging"
)

func init() {
	registry.Register(subsystems.StepPackages, NewStep)
}

// Manager is the per-platform package manager strategy.
type Manager interface {
	// Refresh updates the package index, if the manager has one.
	Refresh(ctx context.Context) error
	// Installed reports whether pkg is already present.
	Installed(ctx context.Context, pkg string) (bool, error)
	Install(ctx context.Context, pkg string) error
}

// Step installs the configured packages for the detected platform.
type Step struct {
	logger   logging.Logger
	manager  Manager
	packages []string
}

// NewStep picks apt or brew from the profile.
func NewStep(env *subsystems.Env) (subsystems.Step, error) {
	timeout := time.Duration(env.Config.PackageTimeout)
	switch env.Profile.Family {
	case subsystems.FamilyLinuxDebian:
		return &Step{
			logger:   env.Logger.Sublogger("apt"),
			manager:  NewApt(env.Runner, timeout),
			packages: env.Config.LinuxPackages,
		}, nil
	case subsystems.FamilyMacOS:
		return &Step{
			logger:   env.Logger.Sublogger("brew"),
			manager:  NewBrew(env.Runner, timeout),
			packages: env.Config.MacOSPackages,
		}, nil
	default:
		return nil, errw.Errorf("no package manager for platform family %q", env.Profile.Family)
	}
}

func NewStepWithManager(logger logging.Logger, manager Manager, pkgs []string) *Step {
	return &Step{logger: logger, manager: manager, packages: pkgs}
}

func (s *Step) Name() string {
	return subsystems.StepPackages
}

// Run refreshes the index once, then installs each missing package. A
// package whose install exits non-zero but is present afterwards counts as
// installed.
func (s *Step) Run(ctx context.Context) ([]subsystems.Advisory, error) {
	missing := make([]string, 0, len(s.packages))
	for _, pkg := range s.packages {
		ok, err := s.manager.Installed(ctx, pkg)
		if err != nil {
			return nil, &subsystems.PackageInstallError{Package: pkg, ExitCode: exitCode(err), Err: err}
		}
		if ok {
			s.logger.Debugf("%s is already installed", pkg)
			continue
		}
		missing = append(missing, pkg)
	}
	if len(missing) == 0 {
		s.logger.Info("all packages already installed")
		return nil, nil
	}

	if err := s.manager.Refresh(ctx); err != nil {
		// a stale index may still be good enough to install from
		s.logger.Warnw("refreshing package index", "error", err)
	}

	for _, pkg := range missing {
		s.logger.Infof("installing %s", pkg)
		installErr := s.manager.Install(ctx, pkg)
		if installErr == nil {
			continue
		}
		ok, err := s.manager.Installed(ctx, pkg)
		if err == nil && ok {
			s.logger.Warnw("install reported failure but package is present", "package", pkg, "error", installErr)
			continue
		}
		return nil, &subsystems.PackageInstallError{Package: pkg, ExitCode: exitCode(installErr), Err: installErr}
	}
	return nil, nil
}

func exitCode(err error) int {
	if _, code, ok := utils.AsCommandError(err); ok {
		return code
	}
	return -1
}
