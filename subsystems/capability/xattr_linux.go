package capability

import (
	"errors"

	errw "github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const capabilityXattr = "security.capability"

// readCapabilityXattr returns nil when the file has no capabilities.
func readCapabilityXattr(path string) ([]byte, error) {
	buf := make([]byte, 64)
	n, err := unix.Getxattr(path, capabilityXattr, buf)
	switch {
	case errors.Is(err, unix.ENODATA):
		return nil, nil
	case errors.Is(err, unix.ENOTSUP):
		return nil, ErrXattrUnsupported
	case err != nil:
		return nil, errw.Wrapf(err, "reading %s of %s", capabilityXattr, path)
	}
	return buf[:n], nil
}
