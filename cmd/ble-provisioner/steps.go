package main

import (
	// register-only.
	_ "github.com/viamrobotics/ble-provisioner/subsystems/bluetooth"
	_ "github.com/viamrobotics/ble-provisioner/subsystems/buspolicy"
	_ "github.com/viamrobotics/ble-provisioner/subsystems/capability"
	_ "github.com/viamrobotics/ble-provisioner/subsystems/groups"
	_ "github.com/viamrobotics/ble-provisioner/subsystems/packages"
	_ "github.com/viamrobotics/ble-provisioner/subsystems/verify"
)
