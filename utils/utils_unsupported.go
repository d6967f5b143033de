//go:build !linux && !darwin

package utils

// SyncFS is a no-op on platforms the provisioner does not support.
func SyncFS(_ string) error {
	return nil
}
