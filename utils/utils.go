// Package utils contains helper functions shared between the provisioner and its subsystems
package utils

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"runtime/debug"

	errw "github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

var (
	// versions embedded at build time.
	Version     = ""
	GitRevision = ""
)

// GetVersion returns the version embedded at build time.
func GetVersion() string {
	if Version == "" {
		return "custom"
	}
	return Version
}

// GetRevision returns the git revision embedded at build time.
func GetRevision() string {
	if GitRevision == "" {
		return "unknown"
	}
	return GitRevision
}

// IsRoot reports whether the effective user is root.
func IsRoot() bool {
	return os.Geteuid() == 0
}

// WriteFileIfNew returns true if contents changed and a write happened.
func WriteFileIfNew(outPath string, data []byte) (bool, error) {
	//nolint:gosec
	curFileBytes, err := os.ReadFile(outPath)
	if err != nil {
		if !errw.Is(err, fs.ErrNotExist) {
			return false, errw.Wrapf(err, "opening %s for reading", outPath)
		}
	} else if bytes.Equal(curFileBytes, data) {
		return false, nil
	}

	//nolint:gosec
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return true, errw.Wrapf(err, "creating directory for %s", outPath)
	}

	//nolint:gosec
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return true, errw.Wrapf(err, "writing %s", outPath)
	}

	return true, SyncFS(outPath)
}

// ReadFileIfExists returns the contents of path and whether it existed at all.
func ReadFileIfExists(path string) ([]byte, bool, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		if errw.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, errw.Wrapf(err, "reading %s", path)
	}
	return data, true, nil
}

// RestoreFile puts back the contents captured by ReadFileIfExists, removing
// the file if it did not exist before.
func RestoreFile(path string, data []byte, existed bool) error {
	if !existed {
		if err := os.Remove(path); err != nil && !errw.Is(err, fs.ErrNotExist) {
			return errw.Wrapf(err, "removing %s", path)
		}
		return SyncFS(path)
	}
	//nolint:gosec
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errw.Wrapf(err, "restoring %s", path)
	}
	return SyncFS(path)
}

// ResolveBinary turns a command name or path into an absolute, symlink-free
// path to a regular file.
func ResolveBinary(name string) (string, error) {
	p := name
	if !filepath.IsAbs(p) {
		found, err := lookPath(p)
		if err != nil {
			return "", errw.Wrapf(err, "finding %s", name)
		}
		p = found
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", errw.Wrapf(err, "making %s absolute", p)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", errw.Wrapf(err, "evaluating symlinks pointing to %s", abs)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", errw.Wrapf(err, "statting %s", resolved)
	}
	if !info.Mode().IsRegular() {
		return "", errw.Errorf("%s is not a regular file", resolved)
	}
	return resolved, nil
}

func Recover(logger logging.Logger, inner func(r any)) {
	// if something panicked, log it and allow things to continue
	r := recover()
	if r != nil {
		logger.Error("encountered a panic, attempting to recover")
		logger.Errorf("panic: %s\n%s", r, debug.Stack())
		if inner != nil {
			inner(r)
		}
	}
}
