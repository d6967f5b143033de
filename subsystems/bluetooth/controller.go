// Package bluetooth keeps the bluetooth daemon enabled and running, and cycles the radio adapter.
package bluetooth

import (
	"context"
	"errors"
	"time"

	errw "github.com/pkg/errors"
	"github.com/viamrobotics/ble-provisioner/subsystems"
	"github.com/viamrobotics/ble-provisioner/subsystems/registry"
	"github.com/viamrobotics/ble-provisioner/utils"
	"github.com/viamrobotics/ble-provisioner/utils/systemd"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
)

const defaultPollInterval = 250 * time.Millisecond

func init() {
	registry.Register(subsystems.StepService, NewStep)
}

// ServiceState is re-read on every call; nothing here is persisted.
type ServiceState struct {
	Enabled   bool `json:"enabled"`
	Running   bool `json:"running"`
	AdapterUp bool `json:"adapter_up"`
}

// Controller runs the enable, restart, wait_ready, reset_adapter sequence.
type Controller struct {
	logger       logging.Logger
	env          *subsystems.Env
	runner       utils.CommandRunner
	systemd      *systemd.SystemdManager
	probe        ReadinessProbe
	service      string
	adapter      string
	readyTimeout time.Duration
	pollInterval time.Duration
}

type ControllerOption func(*Controller)

// WithProbe replaces the bus readiness probe. Should only be used for testing.
func WithProbe(probe ReadinessProbe) ControllerOption {
	return func(c *Controller) { c.probe = probe }
}

// WithPollInterval changes how often the readiness probe is polled.
func WithPollInterval(interval time.Duration) ControllerOption {
	return func(c *Controller) { c.pollInterval = interval }
}

// NewStep returns nil on hosts where the bluetooth daemon isn't ours to manage.
func NewStep(env *subsystems.Env) (subsystems.Step, error) {
	if !env.Profile.IsLinux() {
		return nil, nil
	}
	return NewController(env), nil
}

func NewController(env *subsystems.Env, opts ...ControllerOption) *Controller {
	logger := env.Logger.Sublogger("bluetooth")
	c := &Controller{
		logger:       logger,
		env:          env,
		runner:       env.Runner,
		probe:        NewBusProbe(),
		service:      env.Config.BluetoothService,
		adapter:      env.Config.Adapter,
		readyTimeout: time.Duration(env.Config.ReadyTimeout),
		pollInterval: defaultPollInterval,
	}
	if env.Profile.ServiceManager == subsystems.ServiceManagerSystemd {
		c.systemd = systemd.NewSystemdManager(logger, env.Runner)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Name() string {
	return subsystems.StepService
}

func (c *Controller) Run(ctx context.Context) ([]subsystems.Advisory, error) {
	var advisories []subsystems.Advisory
	if adv := c.checkBluezVersion(ctx); adv != nil {
		advisories = append(advisories, *adv)
	}

	if state, err := c.State(ctx); err != nil {
		c.logger.Warnw("reading bluetooth service state", "error", err)
	} else {
		c.logger.Infow("bluetooth service state", "service", c.service, "enabled", state.Enabled,
			"running", state.Running, "adapter", c.adapter, "adapter_up", state.AdapterUp)
	}

	if c.systemd == nil {
		c.logger.Warnf("no service manager, not enabling or restarting %s", c.service)
	} else {
		if err := c.Enable(ctx); err != nil {
			return advisories, err
		}
		if err := c.Restart(ctx); err != nil {
			return advisories, err
		}
	}

	if c.env.Plan("wait up to " + c.readyTimeout.String() + " for " + c.adapter + " to become ready") {
		return advisories, c.ResetAdapter(ctx)
	}
	if err := c.WaitReady(ctx); err != nil {
		return advisories, err
	}
	return advisories, c.ResetAdapter(ctx)
}

// State reports the current service and adapter state.
func (c *Controller) State(ctx context.Context) (ServiceState, error) {
	var state ServiceState
	if c.systemd != nil {
		enabled, running, err := c.systemd.State(ctx, c.service)
		if err != nil {
			return state, subsystems.NewServiceError("state", err)
		}
		state.Enabled, state.Running = enabled, running
	}
	up, err := c.AdapterUp(ctx)
	if err != nil {
		c.logger.Debugw("reading adapter state", "adapter", c.adapter, "error", err)
	}
	state.AdapterUp = up
	return state, nil
}

// Enable makes the service start at boot.
func (c *Controller) Enable(ctx context.Context) error {
	if c.systemd == nil {
		return subsystems.NewServiceError("enable", errw.New("no service manager"))
	}
	if _, err := c.systemd.EnsureEnabled(ctx, c.service); err != nil {
		return subsystems.NewServiceError("enable", err)
	}
	return nil
}

// Restart (re)starts the daemon, dropping existing connections.
func (c *Controller) Restart(ctx context.Context) error {
	if c.systemd == nil {
		return subsystems.NewServiceError("restart", errw.New("no service manager"))
	}
	c.logger.Infof("restarting %s", c.service)
	if err := c.systemd.Restart(ctx, c.service); err != nil {
		return subsystems.NewServiceError("restart", err)
	}
	return nil
}

// WaitReady polls the readiness probe until it passes or the ready timeout
// expires. Without a usable probe it waits out the whole timeout instead.
func (c *Controller) WaitReady(ctx context.Context) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.readyTimeout)
	defer cancel()

	var lastErr error
	for {
		ready, err := c.probe.Ready(timeoutCtx, c.adapter)
		if errors.Is(err, ErrProbeUnavailable) {
			c.logger.Warnw("no readiness probe, waiting out the timeout", "timeout", c.readyTimeout, "error", err)
			goutils.SelectContextOrWait(timeoutCtx, c.readyTimeout)
			if ctx.Err() != nil {
				return subsystems.NewServiceError("wait_ready", ctx.Err())
			}
			return nil
		}
		if err == nil && ready {
			c.logger.Debugf("%s is ready", c.adapter)
			return nil
		}
		if err != nil {
			lastErr = err
		}

		if !goutils.SelectContextOrWait(timeoutCtx, c.pollInterval) {
			if ctx.Err() != nil {
				return subsystems.NewServiceError("wait_ready", ctx.Err())
			}
			err := errw.Errorf("%s not ready after %s", c.adapter, c.readyTimeout)
			return subsystems.NewServiceError("wait_ready", errors.Join(err, lastErr))
		}
	}
}
