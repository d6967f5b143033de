package verify

import (
	errw "github.com/pkg/errors"
	"tinygo.org/x/bluetooth"
)

// enableDefaultAdapter opens the default adapter through BlueZ the same way a client library would.
func enableDefaultAdapter() error {
	if err := bluetooth.DefaultAdapter.Enable(); err != nil {
		return errw.Wrap(err, "enabling default bluetooth adapter")
	}
	return nil
}
