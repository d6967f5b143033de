// Package subsystems defines the provisioning step interface and the types shared between steps.
package subsystems

import (
	"context"

	"github.com/viamrobotics/ble-provisioner/utils"
	"go.viam.com/rdk/logging"
)

// Step names, in the order they run on Linux.
const (
	StepDetect     = "detect"
	StepPackages   = "packages"
	StepGroups     = "groups"
	StepPolicy     = "policy"
	StepService    = "service"
	StepCapability = "capability"
	StepVerify     = "verify"
)

type Family string

const (
	FamilyLinuxDebian Family = "linux_debian"
	FamilyMacOS       Family = "macos"
)

type ServiceManager string

const (
	ServiceManagerSystemd ServiceManager = "systemd"
	ServiceManagerNone    ServiceManager = "none"
)

// Profile describes the host. It is detected once per run and never modified.
type Profile struct {
	Family         Family         `json:"family"`
	PackageManager string         `json:"package_manager"`
	ServiceManager ServiceManager `json:"service_manager"`
	// Distro is informational only, from /etc/os-release on Linux.
	Distro string `json:"distro,omitempty"`
}

func (p Profile) IsLinux() bool {
	return p.Family == FamilyLinuxDebian
}

type AdvisoryCode string

const (
	// AdvisoryReloginRequired means group membership changed and only applies to new login sessions.
	AdvisoryReloginRequired AdvisoryCode = "relogin_required"
	// AdvisoryReapplyOnBinaryChange means capabilities live on the file and
	// provisioning must be re-run if the interpreter is replaced or upgraded.
	AdvisoryReapplyOnBinaryChange AdvisoryCode = "reapply_on_binary_change"
	// AdvisoryMacOSBluetoothPermission means the terminal or app running the
	// client needs the Bluetooth privacy permission granted by the user.
	AdvisoryMacOSBluetoothPermission AdvisoryCode = "macos_bluetooth_permission"
	// AdvisoryBluezOutdated means the installed bluetoothd is older than recommended.
	AdvisoryBluezOutdated AdvisoryCode = "bluez_outdated"
)

// Advisory is a post-condition the caller must act on; provisioning cannot enforce it.
type Advisory struct {
	Code    AdvisoryCode `json:"code"`
	Subject string       `json:"subject,omitempty"`
	Message string       `json:"message"`
}

// Env is everything a step gets from the run: config, host profile and the
// narrow handles it may use to touch the host.
type Env struct {
	Logger  logging.Logger
	Config  utils.Config
	Profile Profile
	Runner  utils.CommandRunner
	// DryRun steps must not write files or mutate state directly; they report
	// skipped actions to Planner instead. Commands go through Runner, which
	// already intercepts them.
	DryRun  bool
	Planner utils.Planner
}

// Plan records action if this is a dry run and reports whether the caller should skip it.
func (e *Env) Plan(action string) bool {
	if !e.DryRun {
		return false
	}
	if e.Planner != nil {
		e.Planner.Record(action)
	}
	return true
}

// Step is one idempotent unit of provisioning.
type Step interface {
	Name() string

	// Run brings the host into the state the step is responsible for. It must
	// be safe to call again after success or failure.
	Run(ctx context.Context) ([]Advisory, error)
}
