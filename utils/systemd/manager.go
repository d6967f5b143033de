// Package systemd provides helpers to manipulate systemd services that are
// specific to the provisioner's needs.
package systemd

import (
	"context"

	"github.com/viamrobotics/ble-provisioner/utils"
	"go.viam.com/rdk/logging"
)

// Annoying workaround to allow embedding SystemdExecutor in SystemdManager w/o
// allowing it to be modified from outside the module.
type privateExecutor = SystemdExecutor

// SystemdManager provides methods for making high-level changes to systemd
// services.
type SystemdManager struct {
	privateExecutor
	logger logging.Logger
}

// SystemdManagerOption is a type used to configure the [SystemdManager]
// returned from [NewSystemdManager].
type SystemdManagerOption func(*SystemdManager)

// WithExecutor configures the created [SystemdManager] with a custom
// [SystemdExecutor] implementation. Should only be used for testing.
func WithExecutor(executor SystemdExecutor) SystemdManagerOption {
	return func(manager *SystemdManager) {
		manager.privateExecutor = executor
	}
}

func NewSystemdManager(logger logging.Logger, runner utils.CommandRunner, opts ...SystemdManagerOption) *SystemdManager {
	manager := &SystemdManager{
		logger:          logger,
		privateExecutor: realSystemdExecutor{runner: runner},
	}
	for _, opt := range opts {
		opt(manager)
	}
	return manager
}

// EnsureEnabled enables the service unless systemd already reports it
// enabled. It returns true if an enable was issued.
func (s *SystemdManager) EnsureEnabled(ctx context.Context, service string) (bool, error) {
	enabled, err := s.IsEnabled(ctx, service)
	if err != nil {
		return false, err
	}
	if enabled {
		s.logger.Debugf("%s is already enabled", service)
		return false, nil
	}
	s.logger.Infof("enabling %s", service)
	if err := s.Enable(ctx, service); err != nil {
		return false, err
	}
	return true, nil
}

// State reports whether the service is enabled and running.
func (s *SystemdManager) State(ctx context.Context, service string) (bool, bool, error) {
	enabled, err := s.IsEnabled(ctx, service)
	if err != nil {
		return false, false, err
	}
	active, err := s.IsActive(ctx, service)
	if err != nil {
		return enabled, false, err
	}
	return enabled, active, nil
}
