package bluetooth

import (
	"bufio"
	"context"
	"errors"
	"strings"

	errw "github.com/pkg/errors"
	"github.com/viamrobotics/ble-provisioner/subsystems"
	"github.com/viamrobotics/ble-provisioner/utils"
)

const rfkillMarker = "RF-kill"

// ResetAdapter takes the adapter down and back up to clear stuck link-layer
// state. A failed reset is tolerated when the adapter is left UP: either the
// down step failed on an adapter that was already UP, or it reports UP afterwards.
func (c *Controller) ResetAdapter(ctx context.Context) error {
	wasUp, stateErr := c.AdapterUp(ctx)
	if stateErr != nil {
		c.logger.Debugw("reading adapter state before reset", "adapter", c.adapter, "error", stateErr)
	}

	c.logger.Infof("resetting %s", c.adapter)
	err := c.hciconfig(ctx, "down")
	if err != nil && wasUp {
		c.logger.Warnw("adapter reset failed but adapter was already up, continuing", "adapter", c.adapter, "error", err)
		return nil
	}
	if err == nil {
		err = c.bringUp(ctx)
	}
	if err == nil {
		return nil
	}

	up, stateErr := c.AdapterUp(ctx)
	if stateErr == nil && up {
		c.logger.Warnw("adapter reset failed but adapter is up, continuing", "adapter", c.adapter, "error", err)
		return nil
	}
	return subsystems.NewServiceError("reset_adapter", err)
}

// bringUp raises the adapter, clearing a soft RF-kill block once if that is what stops it.
func (c *Controller) bringUp(ctx context.Context) error {
	err := c.hciconfig(ctx, "up")
	if err == nil || !isRFKill(err) {
		return err
	}

	c.logger.Warnf("%s is blocked by rfkill, unblocking", c.adapter)
	if _, err := c.runner.Run(ctx, utils.Command{
		Name:    "rfkill",
		Args:    []string{"unblock", "bluetooth"},
		Elevate: true,
	}); err != nil {
		return err
	}
	return c.hciconfig(ctx, "up")
}

func (c *Controller) hciconfig(ctx context.Context, state string) error {
	_, err := c.runner.Run(ctx, utils.Command{
		Name:    "hciconfig",
		Args:    []string{c.adapter, state},
		Elevate: true,
	})
	return err
}

// AdapterUp reports whether hciconfig lists the adapter as UP.
func (c *Controller) AdapterUp(ctx context.Context) (bool, error) {
	res, err := c.runner.Run(ctx, utils.Command{
		Name:     "hciconfig",
		Args:     []string{c.adapter},
		ReadOnly: true,
	})
	if err != nil {
		return false, err
	}
	up, ok := parseAdapterUp(string(res.Stdout))
	if !ok {
		return false, errw.Errorf("cannot find state of %s in hciconfig output", c.adapter)
	}
	return up, nil
}

// parseAdapterUp finds the flags line (e.g. "UP RUNNING PSCAN") in hciconfig output.
func parseAdapterUp(out string) (up, found bool) {
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "UP":
			return true, true
		case "DOWN":
			return false, true
		}
	}
	return false, false
}

func isRFKill(err error) bool {
	var cmdErr *utils.CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	return strings.Contains(cmdErr.Result.Output(), rfkillMarker)
}
