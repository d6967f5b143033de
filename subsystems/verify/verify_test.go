package verify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/viamrobotics/ble-provisioner/subsystems"
	"github.com/viamrobotics/ble-provisioner/subsystems/buspolicy"
	"github.com/viamrobotics/ble-provisioner/subsystems/capability"
	"github.com/viamrobotics/ble-provisioner/utils"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"
)

type linuxFixture struct {
	env            *subsystems.Env
	step           *Step
	caps           capability.FileCaps
	capsErr        error
	adapterErr     error
	adapterEnabled int
}

func newLinuxFixture(t *testing.T) *linuxFixture {
	t.Helper()
	dir := t.TempDir()
	cfg := utils.DefaultConfig()
	cfg.User = "alice"
	cfg.StrictPolicy = 1
	cfg.PolicyPath = filepath.Join(dir, "ble-provisioner.conf")
	cfg.Interpreter = filepath.Join(dir, "python3")
	utils.Touch(t, cfg.Interpreter)

	policy, err := buspolicy.Generate("alice", cfg.GATTInterfaces, buspolicy.ModeStrict)
	test.That(t, err, test.ShouldBeNil)
	data, err := policy.Render()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, os.WriteFile(cfg.PolicyPath, data, 0o644), test.ShouldBeNil)

	f := &linuxFixture{
		env: &subsystems.Env{
			Logger:  logging.NewTestLogger(t),
			Config:  cfg,
			Profile: subsystems.Profile{Family: subsystems.FamilyLinuxDebian},
			Runner:  utils.NewFakeRunner(),
		},
	}
	// revision 2, effective, net_admin and net_raw permitted and inheritable
	f.caps, _ = capability.ParseFileCaps([]byte{0x01, 0x00, 0x00, 0x02, 0x00, 0x30, 0x00, 0x00, 0x00, 0x30, 0x00, 0x00, 0, 0, 0, 0, 0, 0, 0, 0})
	f.step = newStep(f.env)
	f.step.readCaps = func(string) (capability.FileCaps, error) { return f.caps, f.capsErr }
	f.step.enableAdapter = func() error {
		f.adapterEnabled++
		return f.adapterErr
	}
	return f
}

func TestVerifyLinux(t *testing.T) {
	t.Run("everything in place", func(t *testing.T) {
		f := newLinuxFixture(t)
		test.That(t, f.caps.HasNetwork(), test.ShouldBeTrue)
		_, err := f.step.Run(context.Background())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, f.adapterEnabled, test.ShouldEqual, 1)
	})

	t.Run("policy missing", func(t *testing.T) {
		f := newLinuxFixture(t)
		test.That(t, os.Remove(f.env.Config.PolicyPath), test.ShouldBeNil)
		_, err := f.step.Run(context.Background())
		test.That(t, subsystems.ExitCode(err), test.ShouldEqual, subsystems.ExitPolicyWrite)
	})

	t.Run("policy mode changed", func(t *testing.T) {
		f := newLinuxFixture(t)
		f.env.Config.StrictPolicy = -1
		_, err := f.step.Run(context.Background())
		test.That(t, subsystems.ExitCode(err), test.ShouldEqual, subsystems.ExitPolicyWrite)
	})

	t.Run("capabilities missing", func(t *testing.T) {
		f := newLinuxFixture(t)
		f.caps = capability.FileCaps{}
		_, err := f.step.Run(context.Background())
		test.That(t, subsystems.ExitCode(err), test.ShouldEqual, subsystems.ExitCapabilityAssign)
		test.That(t, f.adapterEnabled, test.ShouldEqual, 0)
	})

	t.Run("adapter unusable", func(t *testing.T) {
		f := newLinuxFixture(t)
		f.adapterErr = errors.New("org.freedesktop.DBus.Error.ServiceUnknown")
		_, err := f.step.Run(context.Background())
		var svcErr *subsystems.ServiceError
		test.That(t, errors.As(err, &svcErr), test.ShouldBeTrue)
		test.That(t, svcErr.Op, test.ShouldEqual, "verify_adapter")
	})

	t.Run("adapter check unsupported", func(t *testing.T) {
		f := newLinuxFixture(t)
		f.adapterErr = errAdapterCheckUnsupported
		_, err := f.step.Run(context.Background())
		test.That(t, err, test.ShouldBeNil)
	})

	t.Run("non-default adapter", func(t *testing.T) {
		f := newLinuxFixture(t)
		f.env.Config.Adapter = "hci1"
		_, err := f.step.Run(context.Background())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, f.adapterEnabled, test.ShouldEqual, 0)
	})

	t.Run("dry run", func(t *testing.T) {
		f := newLinuxFixture(t)
		f.env.DryRun = true
		f.caps = capability.FileCaps{}
		_, err := f.step.Run(context.Background())
		test.That(t, err, test.ShouldBeNil)
	})
}

func TestVerifyMacOS(t *testing.T) {
	for _, power := range []string{"1\n", "0\n"} {
		runner := utils.NewFakeRunner()
		runner.Set("blueutil --power", utils.FakeResponse{Stdout: power})
		env := &subsystems.Env{
			Logger:  logging.NewTestLogger(t),
			Config:  utils.DefaultConfig(),
			Profile: subsystems.Profile{Family: subsystems.FamilyMacOS, PackageManager: "brew"},
			Runner:  runner,
		}
		step, err := NewStep(env)
		test.That(t, err, test.ShouldBeNil)

		advisories, err := step.Run(context.Background())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(advisories), test.ShouldEqual, 1)
		test.That(t, advisories[0].Code, test.ShouldEqual, subsystems.AdvisoryMacOSBluetoothPermission)
		test.That(t, runner.Calls()[0].ReadOnly, test.ShouldBeTrue)
	}
}
