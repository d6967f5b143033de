package packages

import (
	"context"
	"time"

	errw "github.com/pkg/errors"
	"github.com/viamrobotics/ble-provisioner/utils"
)

// ErrBrewAsRoot is returned when asked to run Homebrew with root privileges, which it refuses.
var ErrBrewAsRoot = errw.New("Homebrew must not be run as root; re-run as the user who owns the Homebrew prefix")

// Brew installs Homebrew formulae. It never elevates.
type Brew struct {
	runner  utils.CommandRunner
	timeout time.Duration
	isRoot  func() bool
}

func NewBrew(runner utils.CommandRunner, timeout time.Duration) *Brew {
	return &Brew{runner: runner, timeout: timeout, isRoot: utils.IsRoot}
}

// Refresh is a no-op; brew install refreshes its own index.
func (b *Brew) Refresh(context.Context) error {
	return nil
}

func (b *Brew) Installed(ctx context.Context, pkg string) (bool, error) {
	res, err := b.runner.Run(ctx, utils.Command{
		Name:     "brew",
		Args:     []string{"list", "--versions", pkg},
		ReadOnly: true,
	})
	if err != nil {
		if res.ExitCode > 0 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *Brew) Install(ctx context.Context, pkg string) error {
	if b.isRoot() {
		return ErrBrewAsRoot
	}
	_, err := b.runner.Run(ctx, utils.Command{
		Name:    "brew",
		Args:    []string{"install", pkg},
		Timeout: b.timeout,
	})
	return err
}
