package utils

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"go.viam.com/rdk/logging"
	"go.viam.com/test"
)

func TestExecRunner(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no sh command")
	}
	logger := logging.NewTestLogger(t)
	runner := NewExecRunner(logger, time.Second*5)

	t.Run("success", func(t *testing.T) {
		res, err := runner.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo hello; echo oops >&2"}})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res.ExitCode, test.ShouldEqual, 0)
		test.That(t, string(res.Stdout), test.ShouldEqual, "hello\n")
		test.That(t, string(res.Stderr), test.ShouldEqual, "oops\n")
	})

	t.Run("non-zero exit", func(t *testing.T) {
		res, err := runner.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo broken; exit 3"}})
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, res.ExitCode, test.ShouldEqual, 3)

		cmdLine, code, ok := AsCommandError(err)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, code, test.ShouldEqual, 3)
		test.That(t, cmdLine, test.ShouldEqual, "sh -c echo broken; exit 3")
		test.That(t, err.Error(), test.ShouldContainSubstring, "broken")
	})

	t.Run("missing binary", func(t *testing.T) {
		res, err := runner.Run(context.Background(), Command{Name: "definitely-not-a-real-binary"})
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, res.ExitCode, test.ShouldEqual, -1)
	})

	t.Run("timeout", func(t *testing.T) {
		res, err := runner.Run(context.Background(), Command{
			Name:    "sh",
			Args:    []string{"-c", "exec sleep 5"},
			Timeout: time.Millisecond * 100,
		})
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "timed out")
		test.That(t, res.ExitCode, test.ShouldEqual, -1)
	})

	t.Run("cancel does not interrupt a running command", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		timer := time.AfterFunc(100*time.Millisecond, cancel)
		defer timer.Stop()
		defer cancel()

		start := time.Now()
		res, err := runner.Run(ctx, Command{Name: "sh", Args: []string{"-c", "sleep 1; echo finished"}})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, ctx.Err(), test.ShouldNotBeNil)
		test.That(t, res.ExitCode, test.ShouldEqual, 0)
		test.That(t, string(res.Stdout), test.ShouldEqual, "finished\n")
		test.That(t, time.Since(start), test.ShouldBeGreaterThanOrEqualTo, time.Second)
	})
}

func TestDryRunner(t *testing.T) {
	logger := logging.NewTestLogger(t)
	inner := NewFakeRunner()
	inner.Set("dpkg-query", FakeResponse{Stdout: "install ok installed"})
	dry := NewDryRunner(inner, logger)

	res, err := dry.Run(context.Background(), Command{Name: "dpkg-query", Args: []string{"-W", "bluez"}, ReadOnly: true})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(res.Stdout), test.ShouldEqual, "install ok installed")

	_, err = dry.Run(context.Background(), Command{Name: "apt-get", Args: []string{"install", "-y", "bluez"}})
	test.That(t, err, test.ShouldBeNil)
	dry.Record("write /etc/dbus-1/system.d/ble-provisioner.conf")

	test.That(t, inner.Commands(), test.ShouldResemble, []string{"dpkg-query -W bluez"})
	test.That(t, dry.Planned(), test.ShouldResemble, []string{
		"run: apt-get install -y bluez",
		"write /etc/dbus-1/system.d/ble-provisioner.conf",
	})
}
