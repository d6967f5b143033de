package systemd

import (
	"context"

	"github.com/viamrobotics/ble-provisioner/utils"
)

// SystemdExecutor executes various systemd commands as subprocess. It
// primarily exists to enable testing of higher level systemd manipulation via
// mocks or fakes.
type SystemdExecutor interface {
	// IsEnabled executes `systemctl is-enabled` for the provided service name.
	// A non-zero exit means "not enabled" and is not an error.
	IsEnabled(ctx context.Context, service string) (bool, error)

	// IsActive executes `systemctl is-active` for the provided service name.
	// A non-zero exit means "not running" and is not an error.
	IsActive(ctx context.Context, service string) (bool, error)

	// Enable calls `systemctl enable` with the provided service name.
	Enable(ctx context.Context, service string) error

	// Restart calls `systemctl restart` with the provided service name.
	Restart(ctx context.Context, service string) error
}

type realSystemdExecutor struct {
	runner utils.CommandRunner
}

func (s realSystemdExecutor) IsEnabled(ctx context.Context, service string) (bool, error) {
	return s.query(ctx, "is-enabled", service)
}

func (s realSystemdExecutor) IsActive(ctx context.Context, service string) (bool, error) {
	return s.query(ctx, "is-active", service)
}

func (s realSystemdExecutor) query(ctx context.Context, verb, service string) (bool, error) {
	_, err := s.runner.Run(ctx, utils.Command{Name: "systemctl", Args: []string{verb, "--quiet", service}, ReadOnly: true})
	if err == nil {
		return true, nil
	}
	if _, code, ok := utils.AsCommandError(err); ok && code > 0 {
		return false, nil
	}
	// if it's not an exit code, systemctl didn't even start
	return false, err
}

func (s realSystemdExecutor) Enable(ctx context.Context, service string) error {
	_, err := s.runner.Run(ctx, utils.Command{Name: "systemctl", Args: []string{"enable", service}, Elevate: true})
	return err
}

func (s realSystemdExecutor) Restart(ctx context.Context, service string) error {
	_, err := s.runner.Run(ctx, utils.Command{Name: "systemctl", Args: []string{"restart", service}, Elevate: true})
	return err
}
