// Package platform inspects the host and produces the profile every later step branches on.
package platform

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/viamrobotics/ble-provisioner/subsystems"
	"go.viam.com/rdk/logging"
)

const (
	aptGet           = "apt-get"
	brew             = "brew"
	systemctl        = "systemctl"
	systemdRuntime   = "/run/systemd/system"
	defaultOSRelease = "/etc/os-release"
)

// Detector determines the OS family and the tooling present on the host.
type Detector struct {
	logger    logging.Logger
	goos      string
	lookPath  func(string) (string, error)
	stat      func(string) (os.FileInfo, error)
	osRelease string
}

type Option func(*Detector)

// WithGOOS overrides runtime.GOOS. Should only be used for testing.
func WithGOOS(goos string) Option {
	return func(d *Detector) { d.goos = goos }
}

// WithLookPath overrides exec.LookPath. Should only be used for testing.
func WithLookPath(lookPath func(string) (string, error)) Option {
	return func(d *Detector) { d.lookPath = lookPath }
}

// WithStat overrides os.Stat, used to check for a running systemd. Should only be used for testing.
func WithStat(stat func(string) (os.FileInfo, error)) Option {
	return func(d *Detector) { d.stat = stat }
}

// WithOSRelease overrides the os-release file path. Should only be used for testing.
func WithOSRelease(path string) Option {
	return func(d *Detector) { d.osRelease = path }
}

func NewDetector(logger logging.Logger, opts ...Option) *Detector {
	d := &Detector{
		logger:    logger,
		goos:      runtime.GOOS,
		lookPath:  exec.LookPath,
		stat:      os.Stat,
		osRelease: defaultOSRelease,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect returns the host profile, or an UnsupportedPlatformError when no
// supported package manager is present. It has no side effects.
func (d *Detector) Detect(ctx context.Context) (subsystems.Profile, error) {
	if err := ctx.Err(); err != nil {
		return subsystems.Profile{}, err
	}

	switch d.goos {
	case "linux":
		if !d.has(aptGet) {
			return subsystems.Profile{}, &subsystems.UnsupportedPlatformError{
				GOOS:   d.goos,
				Reason: "apt-get not found; only Debian-family distributions are supported",
			}
		}
		profile := subsystems.Profile{
			Family:         subsystems.FamilyLinuxDebian,
			PackageManager: aptGet,
			ServiceManager: subsystems.ServiceManagerNone,
			Distro:         d.distro(),
		}
		if d.has(systemctl) {
			if _, err := d.stat(systemdRuntime); err == nil {
				profile.ServiceManager = subsystems.ServiceManagerSystemd
			} else if !errors.Is(err, fs.ErrNotExist) {
				d.logger.Warnw("checking for systemd", "error", err)
			}
		}
		return profile, nil
	case "darwin":
		if !d.has(brew) {
			return subsystems.Profile{}, &subsystems.UnsupportedPlatformError{
				GOOS:   d.goos,
				Reason: "Homebrew (brew) not found",
			}
		}
		return subsystems.Profile{
			Family:         subsystems.FamilyMacOS,
			PackageManager: brew,
			ServiceManager: subsystems.ServiceManagerNone,
		}, nil
	default:
		return subsystems.Profile{}, &subsystems.UnsupportedPlatformError{
			GOOS:   d.goos,
			Reason: "no supported package manager for this operating system",
		}
	}
}

func (d *Detector) has(bin string) bool {
	_, err := d.lookPath(bin)
	return err == nil
}

// distro returns PRETTY_NAME from os-release, or "" if it can't be read.
func (d *Detector) distro() string {
	//nolint:gosec
	data, err := os.ReadFile(d.osRelease)
	if err != nil {
		d.logger.Debugw("reading os-release", "error", err)
		return ""
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok || key != "PRETTY_NAME" {
			continue
		}
		return strings.Trim(value, `"'`)
	}
	return ""
}
