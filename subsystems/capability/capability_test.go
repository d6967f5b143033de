package capability

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/viamrobotics/ble-provisioner/subsystems"
	"github.com/viamrobotics/ble-provisioner/utils"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"
)

// encodeV2 builds a revision 2 vfs_cap_data blob.
func encodeV2(c FileCaps) []byte {
	buf := make([]byte, vfsCapSizeRevision2)
	magic := uint32(vfsCapRevision2)
	if c.Effective {
		magic |= vfsCapFlagEffective
	}
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(c.Permitted))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(c.Inheritable))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(c.Permitted>>32))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(c.Inheritable>>32))
	return buf
}

var granted = FileCaps{Permitted: networkMask, Inheritable: networkMask, Effective: true}

func TestParseFileCaps(t *testing.T) {
	caps, err := ParseFileCaps(nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, caps.HasNetwork(), test.ShouldBeFalse)
	test.That(t, caps.String(), test.ShouldEqual, "none")

	caps, err = ParseFileCaps(encodeV2(granted))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, caps.HasNetwork(), test.ShouldBeTrue)
	test.That(t, caps.String(), test.ShouldEqual, "cap_net_admin,cap_net_raw+eip")

	// permitted only, as left by "setcap cap_net_raw+p"
	caps, err = ParseFileCaps(encodeV2(FileCaps{Permitted: 1 << capNetRaw}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, caps.HasNetwork(), test.ShouldBeFalse)
	test.That(t, caps.String(), test.ShouldEqual, "cap_net_raw+p")

	v3 := append(encodeV2(granted), 0xe8, 0x03, 0, 0)
	binary.LittleEndian.PutUint32(v3[0:4], vfsCapRevision3|vfsCapFlagEffective)
	caps, err = ParseFileCaps(v3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, caps.HasNetwork(), test.ShouldBeTrue)
	test.That(t, caps.RootID, test.ShouldEqual, uint32(1000))

	v1 := make([]byte, vfsCapSizeRevision1)
	binary.LittleEndian.PutUint32(v1[0:4], vfsCapRevision1|vfsCapFlagEffective)
	binary.LittleEndian.PutUint32(v1[4:8], uint32(networkMask))
	binary.LittleEndian.PutUint32(v1[8:12], uint32(networkMask))
	caps, err = ParseFileCaps(v1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, caps.HasNetwork(), test.ShouldBeTrue)

	_, err = ParseFileCaps([]byte{1, 2})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = ParseFileCaps([]byte{0, 0, 0, 0x09, 0, 0, 0, 0})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = ParseFileCaps(encodeV2(granted)[:16])
	test.That(t, err, test.ShouldNotBeNil)
}

// fakeXattrs stands in for the filesystem: setcap through the fake runner
// doesn't touch real files, so tests script what is read back.
type fakeXattrs struct {
	reads [][]byte
	err   error
	calls int
}

func (f *fakeXattrs) read(string) ([]byte, error) {
	defer func() { f.calls++ }()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.reads) {
		return f.reads[len(f.reads)-1], nil
	}
	return f.reads[f.calls], nil
}

func newTestStep(t *testing.T, runner utils.CommandRunner, xattrs *fakeXattrs) (*Step, string) {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "python3.11")
	utils.Touch(t, bin)
	link := filepath.Join(filepath.Dir(bin), "python3")
	test.That(t, os.Symlink(bin, link), test.ShouldBeNil)

	cfg := utils.DefaultConfig()
	cfg.Interpreter = link
	env := &subsystems.Env{
		Logger:  logging.NewTestLogger(t),
		Config:  cfg,
		Profile: subsystems.Profile{Family: subsystems.FamilyLinuxDebian},
		Runner:  runner,
	}
	step := newStep(env)
	step.readXattr = xattrs.read
	resolved, err := filepath.EvalSymlinks(bin)
	test.That(t, err, test.ShouldBeNil)
	return step, resolved
}

func TestAssign(t *testing.T) {
	t.Run("grants to the resolved binary", func(t *testing.T) {
		runner := utils.NewFakeRunner()
		xattrs := &fakeXattrs{reads: [][]byte{nil, encodeV2(granted)}}
		step, resolved := newTestStep(t, runner, xattrs)

		advisories, err := step.Run(context.Background())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, runner.Commands(), test.ShouldResemble, []string{"setcap cap_net_admin,cap_net_raw+eip " + resolved})
		test.That(t, runner.Calls()[0].Elevate, test.ShouldBeTrue)
		test.That(t, len(advisories), test.ShouldEqual, 1)
		test.That(t, advisories[0].Code, test.ShouldEqual, subsystems.AdvisoryReapplyOnBinaryChange)
		test.That(t, advisories[0].Subject, test.ShouldEqual, resolved)
	})

	t.Run("already granted", func(t *testing.T) {
		runner := utils.NewFakeRunner()
		step, _ := newTestStep(t, runner, &fakeXattrs{reads: [][]byte{encodeV2(granted)}})

		_, err := step.Run(context.Background())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, runner.Commands(), test.ShouldBeEmpty)
	})

	t.Run("rolls back when verification fails", func(t *testing.T) {
		runner := utils.NewFakeRunner()
		partial := encodeV2(FileCaps{Permitted: networkMask})
		step, resolved := newTestStep(t, runner, &fakeXattrs{reads: [][]byte{nil, partial}})

		_, err := step.Run(context.Background())
		var capErr *subsystems.CapabilityAssignError
		test.That(t, errors.As(err, &capErr), test.ShouldBeTrue)
		test.That(t, capErr.Path, test.ShouldEqual, resolved)
		test.That(t, runner.Commands(), test.ShouldResemble, []string{
			"setcap cap_net_admin,cap_net_raw+eip " + resolved,
			"setcap -r " + resolved,
		})
	})

	t.Run("setcap fails", func(t *testing.T) {
		runner := utils.NewFakeRunner()
		runner.Set("setcap", utils.FakeResponse{ExitCode: 1, Stderr: "Failed to set capabilities on file: Operation not permitted"})
		step, _ := newTestStep(t, runner, &fakeXattrs{reads: [][]byte{nil}})

		_, err := step.Run(context.Background())
		var capErr *subsystems.CapabilityAssignError
		test.That(t, errors.As(err, &capErr), test.ShouldBeTrue)
		test.That(t, capErr.ExitCode, test.ShouldEqual, 1)
		test.That(t, subsystems.ExitCode(err), test.ShouldEqual, subsystems.ExitCapabilityAssign)
		test.That(t, runner.Count("setcap -r"), test.ShouldEqual, 0)
	})

	t.Run("setcap missing", func(t *testing.T) {
		runner := utils.NewFakeRunner()
		runner.Set("setcap", utils.FakeResponse{NotFound: true})
		step, _ := newTestStep(t, runner, &fakeXattrs{reads: [][]byte{nil}})

		_, err := step.Run(context.Background())
		var capErr *subsystems.CapabilityAssignError
		test.That(t, errors.As(err, &capErr), test.ShouldBeTrue)
		test.That(t, capErr.Reason, test.ShouldContainSubstring, "libcap2-bin")
	})

	t.Run("filesystem without xattrs", func(t *testing.T) {
		runner := utils.NewFakeRunner()
		step, _ := newTestStep(t, runner, &fakeXattrs{err: ErrXattrUnsupported})

		_, err := step.Run(context.Background())
		var capErr *subsystems.CapabilityAssignError
		test.That(t, errors.As(err, &capErr), test.ShouldBeTrue)
		test.That(t, capErr.Reason, test.ShouldEqual, "filesystem does not support file capabilities")
		test.That(t, runner.Commands(), test.ShouldBeEmpty)
	})
}

func TestAssignMissingBinary(t *testing.T) {
	runner := utils.NewFakeRunner()
	xattrs := &fakeXattrs{reads: [][]byte{nil}}
	step, _ := newTestStep(t, runner, xattrs)
	step.interpreter = filepath.Join(t.TempDir(), "no-such-python")

	_, err := step.Run(context.Background())
	var capErr *subsystems.CapabilityAssignError
	test.That(t, errors.As(err, &capErr), test.ShouldBeTrue)
	test.That(t, capErr.Path, test.ShouldEqual, step.interpreter)
	test.That(t, runner.Commands(), test.ShouldBeEmpty)
	test.That(t, xattrs.calls, test.ShouldEqual, 0)
}

func TestAssignDryRun(t *testing.T) {
	dry := utils.NewDryRunner(utils.NewFakeRunner(), logging.NewTestLogger(t))
	xattrs := &fakeXattrs{reads: [][]byte{nil}}
	step, resolved := newTestStep(t, dry, xattrs)
	step.env.DryRun = true
	step.env.Planner = dry

	_, err := step.Run(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, xattrs.calls, test.ShouldEqual, 1)
	test.That(t, dry.Planned()[0], test.ShouldEndWith, "setcap cap_net_admin,cap_net_raw+eip "+resolved)
}
