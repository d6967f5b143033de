// Package capability grants the interpreter the network capabilities raw BLE sockets need.
package capability

import (
	"encoding/binary"
	"strings"

	errw "github.com/pkg/errors"
)

// Linux capability numbers.
const (
	capNetAdmin = 12
	capNetRaw   = 13
)

const (
	vfsCapRevisionMask  = 0xFF000000
	vfsCapRevision1     = 0x01000000
	vfsCapRevision2     = 0x02000000
	vfsCapRevision3     = 0x03000000
	vfsCapFlagEffective = 0x000001

	vfsCapSizeRevision1 = 12
	vfsCapSizeRevision2 = 20
)

// NetworkCaps is the capability set granted, in setcap syntax.
const NetworkCaps = "cap_net_admin,cap_net_raw+eip"

var networkMask = uint64(1)<<capNetAdmin | uint64(1)<<capNetRaw

// ErrXattrUnsupported means the filesystem can't hold file capabilities.
var ErrXattrUnsupported = errw.New("filesystem does not support extended attributes")

// FileCaps is the decoded security.capability attribute of a file.
type FileCaps struct {
	Permitted   uint64
	Inheritable uint64
	// Effective raises every permitted capability on exec.
	Effective bool
	// RootID is only set by revision 3 (namespaced) attributes.
	RootID uint32
}

// HasNetwork reports whether the network capabilities are effective, inheritable and permitted.
func (f FileCaps) HasNetwork() bool {
	return f.Effective && f.Permitted&networkMask == networkMask && f.Inheritable&networkMask == networkMask
}

func (f FileCaps) String() string {
	if f.Permitted == 0 && f.Inheritable == 0 {
		return "none"
	}
	var names []string
	if f.Permitted&(1<<capNetAdmin) != 0 {
		names = append(names, "cap_net_admin")
	}
	if f.Permitted&(1<<capNetRaw) != 0 {
		names = append(names, "cap_net_raw")
	}
	if other := f.Permitted &^ networkMask; other != 0 {
		names = append(names, "others")
	}
	flags := "p"
	if f.Inheritable&networkMask != 0 {
		flags = "i" + flags
	}
	if f.Effective {
		flags = "e" + flags
	}
	return strings.Join(names, ",") + "+" + flags
}

// ParseFileCaps decodes a vfs_cap_data blob. An empty blob means no capabilities.
func ParseFileCaps(data []byte) (FileCaps, error) {
	if len(data) == 0 {
		return FileCaps{}, nil
	}
	if len(data) < 4 {
		return FileCaps{}, errw.Errorf("capability attribute too short (%d bytes)", len(data))
	}
	magic := binary.LittleEndian.Uint32(data[0:4])
	caps := FileCaps{Effective: magic&vfsCapFlagEffective != 0}

	switch magic & vfsCapRevisionMask {
	case vfsCapRevision1:
		if len(data) < vfsCapSizeRevision1 {
			return FileCaps{}, errw.Errorf("revision 1 capability attribute too short (%d bytes)", len(data))
		}
		caps.Permitted = uint64(binary.LittleEndian.Uint32(data[4:8]))
		caps.Inheritable = uint64(binary.LittleEndian.Uint32(data[8:12]))
	case vfsCapRevision2, vfsCapRevision3:
		if len(data) < vfsCapSizeRevision2 {
			return FileCaps{}, errw.Errorf("capability attribute too short (%d bytes)", len(data))
		}
		caps.Permitted = uint64(binary.LittleEndian.Uint32(data[4:8])) | uint64(binary.LittleEndian.Uint32(data[12:16]))<<32
		caps.Inheritable = uint64(binary.LittleEndian.Uint32(data[8:12])) | uint64(binary.LittleEndian.Uint32(data[16:20]))<<32
		if magic&vfsCapRevisionMask == vfsCapRevision3 {
			if len(data) < vfsCapSizeRevision2+4 {
				return FileCaps{}, errw.Errorf("revision 3 capability attribute too short (%d bytes)", len(data))
			}
			caps.RootID = binary.LittleEndian.Uint32(data[20:24])
		}
	default:
		return FileCaps{}, errw.Errorf("unknown capability revision %#x", magic&vfsCapRevisionMask)
	}
	return caps, nil
}

// Read returns the file capabilities currently attached to path.
func Read(path string) (FileCaps, error) {
	data, err := readCapabilityXattr(path)
	if err != nil {
		return FileCaps{}, err
	}
	return ParseFileCaps(data)
}
