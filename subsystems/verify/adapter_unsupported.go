//go:build !linux

package verify

func enableDefaultAdapter() error {
	return errAdapterCheckUnsupported
}
