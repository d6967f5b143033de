package packages

import (
	"context"
	"strings"
	"time"

	"github.com/viamrobotics/ble-provisioner/utils"
)

const installedStatus = "install ok installed"

// Apt installs Debian packages.
type Apt struct {
	runner  utils.CommandRunner
	timeout time.Duration
}

func NewApt(runner utils.CommandRunner, timeout time.Duration) *Apt {
	return &Apt{runner: runner, timeout: timeout}
}

func (a *Apt) Refresh(ctx context.Context) error {
	_, err := a.runner.Run(ctx, utils.Command{
		Name:    "apt-get",
		Args:    []string{"update"},
		Env:     []string{"DEBIAN_FRONTEND=noninteractive"},
		Elevate: true,
		Timeout: a.timeout,
	})
	return err
}

// Installed asks dpkg for the package status. An unknown package is simply not installed.
func (a *Apt) Installed(ctx context.Context, pkg string) (bool, error) {
	res, err := a.runner.Run(ctx, utils.Command{
		Name:     "dpkg-query",
		Args:     []string{"-W", "-f=${Status}", pkg},
		ReadOnly: true,
	})
	if err != nil {
		if res.ExitCode > 0 {
			return false, nil
		}
		return false, err
	}
	return strings.TrimSpace(string(res.Stdout)) == installedStatus, nil
}

func (a *Apt) Install(ctx context.Context, pkg string) error {
	_, err := a.runner.Run(ctx, utils.Command{
		Name:    "apt-get",
		Args:    []string{"install", "-y", "--no-install-recommends", pkg},
		Env:     []string{"DEBIAN_FRONTEND=noninteractive"},
		Elevate: true,
		Timeout: a.timeout,
	})
	return err
}
