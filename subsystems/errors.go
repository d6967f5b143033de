package subsystems

import (
	"errors"
	"fmt"

	"github.com/viamrobotics/ble-provisioner/utils"
)

// Exit codes reported by the CLI.
const (
	ExitSuccess             = 0
	ExitUnsupportedPlatform = 1
	ExitPackageInstall      = 2
	ExitPolicyWrite         = 3
	ExitService             = 4
	ExitCapabilityAssign    = 5
	ExitConcurrentRun       = 6
	ExitOther               = 7
)

// UnsupportedPlatformError means no supported package manager was found.
type UnsupportedPlatformError struct {
	GOOS   string
	Reason string
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("unsupported platform %s: %s", e.GOOS, e.Reason)
}

func (e *UnsupportedPlatformError) Remediation() string {
	if e.GOOS == "darwin" {
		return "install Homebrew first (https://brew.sh), then re-run"
	}
	return "only Debian-family Linux (apt-get) and macOS (Homebrew) hosts are supported"
}

// PackageInstallError means a package could not be installed and is not already present.
type PackageInstallError struct {
	Package  string
	ExitCode int
	Err      error
}

func (e *PackageInstallError) Error() string {
	return fmt.Sprintf("installing package %s (exit %d): %s", e.Package, e.ExitCode, e.Err)
}

func (e *PackageInstallError) Unwrap() error { return e.Err }

func (e *PackageInstallError) Remediation() string {
	return fmt.Sprintf("install %s manually with the system package manager, then re-run", e.Package)
}

// PolicyWriteError means the bus policy (or group membership) could not be applied.
type PolicyWriteError struct {
	Path string
	Op   string
	Err  error
}

func (e *PolicyWriteError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Err)
}

func (e *PolicyWriteError) Unwrap() error { return e.Err }

func (e *PolicyWriteError) Remediation() string {
	return "re-run as root (or with sudo) and check that the system bus accepts the policy with 'journalctl -u dbus'"
}

// ServiceError means a bluetooth service or adapter transition failed.
type ServiceError struct {
	Op       string
	Command  string
	ExitCode int
	Err      error
}

// NewServiceError builds a ServiceError for op, pulling the command line and
// exit code out of err when it came from a CommandRunner.
func NewServiceError(op string, err error) *ServiceError {
	se := &ServiceError{Op: op, ExitCode: -1, Err: err}
	if cmd, code, ok := utils.AsCommandError(err); ok {
		se.Command = cmd
		se.ExitCode = code
	}
	return se
}

func (e *ServiceError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("bluetooth %s: %s", e.Op, e.Err)
	}
	return fmt.Sprintf("bluetooth %s: '%s' exited %d: %s", e.Op, e.Command, e.ExitCode, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

func (e *ServiceError) Remediation() string {
	return "check 'systemctl status bluetooth' and 'rfkill list', then re-run"
}

// CapabilityAssignError means the interpreter could not be given network capabilities.
type CapabilityAssignError struct {
	Path     string
	Reason   string
	ExitCode int
	Err      error
}

func (e *CapabilityAssignError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("assigning capabilities to %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("assigning capabilities to %s: %s: %s", e.Path, e.Reason, e.Err)
}

func (e *CapabilityAssignError) Unwrap() error { return e.Err }

func (e *CapabilityAssignError) Remediation() string {
	return "make sure the interpreter exists on a filesystem with extended attributes (not nosuid/overlay) and re-run as root"
}

// ConcurrentProvisioningError means another run holds the host lock.
type ConcurrentProvisioningError struct {
	LockPath string
	PID      int
}

func (e *ConcurrentProvisioningError) Error() string {
	return fmt.Sprintf("another provisioning run (pid %d) holds %s", e.PID, e.LockPath)
}

func (e *ConcurrentProvisioningError) Remediation() string {
	return "wait for the other run to finish, then re-run"
}

// ExitCode maps err onto the CLI exit code for its type.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var (
		unsupported *UnsupportedPlatformError
		pkg         *PackageInstallError
		policy      *PolicyWriteError
		service     *ServiceError
		capability  *CapabilityAssignError
		concurrent  *ConcurrentProvisioningError
	)
	switch {
	case errors.As(err, &unsupported):
		return ExitUnsupportedPlatform
	case errors.As(err, &pkg):
		return ExitPackageInstall
	case errors.As(err, &policy):
		return ExitPolicyWrite
	case errors.As(err, &service):
		return ExitService
	case errors.As(err, &capability):
		return ExitCapabilityAssign
	case errors.As(err, &concurrent):
		return ExitConcurrentRun
	default:
		return ExitOther
	}
}

// Remediation returns the manual fix suggested by err, if any.
func Remediation(err error) string {
	var r interface{ Remediation() string }
	if errors.As(err, &r) {
		return r.Remediation()
	}
	return ""
}
