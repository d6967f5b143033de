package utils

import (
	"errors"
	"os"
	"path/filepath"

	errw "github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// SyncFS flushes the filesystem holding syncPath.
func SyncFS(syncPath string) (errRet error) {
	file, errRet := os.Open(filepath.Dir(syncPath))
	if errRet != nil {
		return errw.Wrapf(errRet, "syncing fs %s", syncPath)
	}
	err := unix.Syncfs(int(file.Fd()))
	if err != nil {
		errRet = errw.Wrapf(err, "syncing fs %s", syncPath)
	}
	return errors.Join(errRet, file.Close())
}
