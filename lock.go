package provisioner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/nightlyone/lockfile"
	errw "github.com/pkg/errors"
	"github.com/viamrobotics/ble-provisioner/subsystems"
	"go.viam.com/rdk/logging"
)

const binaryName = "ble-provisioner"

// acquireLock takes the host-wide provisioning lock at path. A lock held by
// a live provisioner is reported as a ConcurrentProvisioningError; a lock
// left behind by something else is removed.
func acquireLock(logger logging.Logger, path string, isProvisioner func(pid int) bool) (lockfile.Lockfile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errw.Wrapf(err, "creating directory for %s", path)
	}
	pidFile, err := lockfile.New(path)
	if err != nil {
		return "", errw.Wrap(err, "init lockfile")
	}
	err = pidFile.TryLock()
	if err == nil {
		return pidFile, nil
	}

	// lockfile can lose a race with another process cleaning up a dead owner
	if errors.Is(err, lockfile.ErrNotExist) {
		logger.Warn(errw.Wrapf(err, "locking %s, retrying", pidFile))
		time.Sleep(100 * time.Millisecond)
		err = pidFile.TryLock()
		if err == nil {
			return pidFile, nil
		}
	}
	if !errors.Is(err, lockfile.ErrBusy) {
		return "", errw.Wrapf(err, "locking %s", pidFile)
	}

	// PIDs get reused after a reboot or crash, so make sure the owner is really us
	proc, err := pidFile.GetOwner()
	if err != nil {
		return "", errw.Wrap(err, "getting lockfile owner")
	}
	if isProvisioner(proc.Pid) {
		return "", &subsystems.ConcurrentProvisioningError{LockPath: path, PID: proc.Pid}
	}

	logger.Warnf("lockfile owner (pid %d) isn't %s, deleting %s", proc.Pid, binaryName, pidFile)
	if err := os.RemoveAll(string(pidFile)); err != nil {
		return "", errw.Wrap(err, "removing lockfile")
	}
	return pidFile, pidFile.TryLock()
}

// ownerIsProvisioner checks the executable behind pid against our own. When
// that can't be determined the owner is assumed to be a provisioner.
func ownerIsProvisioner(pid int) bool {
	if runtime.GOOS != "linux" {
		return true
	}
	ownerPath, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return true
	}
	self, err := os.Executable()
	if err != nil {
		return true
	}
	if resolved, err := filepath.EvalSymlinks(self); err == nil {
		self = resolved
	}
	return sameProgram(ownerPath, self)
}

// sameProgram matches a /proc exe link against our executable, including a
// binary that was replaced on disk while the owner kept running.
func sameProgram(ownerPath, self string) bool {
	ownerPath = strings.TrimSuffix(ownerPath, " (deleted)")
	if ownerPath == self {
		return true
	}
	return strings.Contains(filepath.Base(ownerPath), binaryName)
}
