package bluetooth

import (
	"context"
	"errors"

	"github.com/godbus/dbus/v5"
	errw "github.com/pkg/errors"
)

const (
	bluezBusName    = "org.bluez"
	adapterAddress  = "org.bluez.Adapter1.Address"
	nameHasOwner    = "org.freedesktop.DBus.NameHasOwner"
	bluezObjectRoot = "/org/bluez/"
)

// ErrProbeUnavailable means readiness can't be checked on this host at all.
var ErrProbeUnavailable = errw.New("bluetooth readiness probe unavailable")

// ReadinessProbe reports whether the daemon is serving the adapter.
type ReadinessProbe interface {
	Ready(ctx context.Context, adapter string) (bool, error)
}

// BusProbe checks that BlueZ owns its bus name and the adapter object answers.
type BusProbe struct {
	connect func() (*dbus.Conn, error)
}

func NewBusProbe() *BusProbe {
	return &BusProbe{connect: dbus.SystemBus}
}

func (p *BusProbe) Ready(ctx context.Context, adapter string) (bool, error) {
	conn, err := p.connect()
	if err != nil {
		return false, errors.Join(ErrProbeUnavailable, err)
	}

	var owned bool
	if err := conn.BusObject().CallWithContext(ctx, nameHasOwner, 0, bluezBusName).Store(&owned); err != nil {
		return false, errw.Wrapf(err, "asking the bus who owns %s", bluezBusName)
	}
	if !owned {
		return false, nil
	}

	obj := conn.Object(bluezBusName, dbus.ObjectPath(bluezObjectRoot+adapter))
	addr, err := obj.GetProperty(adapterAddress)
	if err != nil {
		return false, errw.Wrapf(err, "reading address of %s", adapter)
	}
	s, ok := addr.Value().(string)
	return ok && s != "", nil
}
