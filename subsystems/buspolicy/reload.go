package buspolicy

import (
	"context"
	"time"

	"github.com/godbus/dbus/v5"
	errw "github.com/pkg/errors"
	"github.com/viamrobotics/ble-provisioner/utils"
	"go.viam.com/rdk/logging"
)

const (
	reloadMethod  = "org.freedesktop.DBus.ReloadConfig"
	reloadTimeout = 30 * time.Second
)

// BusReloader calls ReloadConfig on the system bus, falling back to asking
// the service manager when the bus can't be reached directly.
type BusReloader struct {
	logger  logging.Logger
	runner  utils.CommandRunner
	connect func() (*dbus.Conn, error)
}

func NewBusReloader(logger logging.Logger, runner utils.CommandRunner) *BusReloader {
	return &BusReloader{logger: logger, runner: runner, connect: dbus.SystemBus}
}

func (r *BusReloader) Reload(ctx context.Context) error {
	conn, err := r.connect()
	if err != nil {
		r.logger.Warnw("cannot connect to system bus, reloading through systemctl", "error", err)
		_, err := r.runner.Run(ctx, utils.Command{
			Name:    "systemctl",
			Args:    []string{"reload", "dbus"},
			Elevate: true,
		})
		return err
	}
	// once the file is written the reload must finish, so only the timeout bounds it
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reloadTimeout)
	defer cancel()
	// shared connection, not ours to close
	if err := conn.BusObject().CallWithContext(callCtx, reloadMethod, 0).Store(); err != nil {
		return errw.Wrap(err, "reloading bus configuration")
	}
	r.logger.Debug("system bus configuration reloaded")
	return nil
}
