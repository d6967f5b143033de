package bluetooth

import (
	"context"
	"fmt"
	"regexp"

	semver "github.com/Masterminds/semver/v3"
	"github.com/viamrobotics/ble-provisioner/subsystems"
	"github.com/viamrobotics/ble-provisioner/utils"
)

var (
	minBluezVersion = semver.MustParse("5.50")
	versionRegex    = regexp.MustCompile(`([0-9]+\.[0-9]+)`)
)

// checkBluezVersion returns an advisory when bluetoothctl reports a BlueZ
// older than minBluezVersion. Anything it can't determine is only logged.
func (c *Controller) checkBluezVersion(ctx context.Context) *subsystems.Advisory {
	res, err := c.runner.Run(ctx, utils.Command{
		Name:     "bluetoothctl",
		Args:     []string{"--version"},
		ReadOnly: true,
	})
	if err != nil {
		c.logger.Warnw("cannot check bluez version", "error", err)
		return nil
	}

	matches := versionRegex.FindSubmatch(res.Stdout)
	if len(matches) != 2 {
		c.logger.Warnf("cannot parse output (%s) returned from 'bluetoothctl --version'", res.Stdout)
		return nil
	}
	sv, err := semver.NewVersion(string(matches[1]))
	if err != nil {
		c.logger.Warn(err)
		return nil
	}
	if sv.GreaterThanEqual(minBluezVersion) {
		c.logger.Debugf("bluez version %s", sv)
		return nil
	}
	return &subsystems.Advisory{
		Code:    subsystems.AdvisoryBluezOutdated,
		Subject: sv.String(),
		Message: fmt.Sprintf("bluez %s is older than %s; GATT access may be limited, upgrade the bluez package", sv, minBluezVersion),
	}
}
