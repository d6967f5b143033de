package utils

import (
	"errors"
	"os"
	"path/filepath"

	errw "github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// SyncFS fsyncs the directory holding syncPath; darwin has no syncfs.
func SyncFS(syncPath string) error {
	dir, err := os.Open(filepath.Dir(syncPath))
	if err != nil {
		return errw.Wrapf(err, "syncing fs %s", syncPath)
	}
	if err := unix.Fsync(int(dir.Fd())); err != nil {
		return errors.Join(errw.Wrapf(err, "syncing fs %s", syncPath), dir.Close())
	}
	return dir.Close()
}
