//go:build !linux

package capability

func readCapabilityXattr(string) ([]byte, error) {
	return nil, ErrXattrUnsupported
}
