package utils

import (
	"testing"

	"go.viam.com/rdk/logging"
	"go.viam.com/test"
)

func TestStripAnsiColorCodes(t *testing.T) {
	test.That(t, stripAnsiColorCodes([]byte("\x1b[34mINFO\x1b[0m")), test.ShouldResemble, []byte("INFO"))
}

func TestOutputLogger(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	out := NewOutputLogger(logger, "apt-get")

	n, err := out.Write([]byte("Reading package lists...\nBuilding dep"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 37)
	test.That(t, logs.FilterMessageSnippet("Reading package lists").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessageSnippet("Building").Len(), test.ShouldEqual, 0)

	_, err = out.Write([]byte("endency tree\n\n"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logs.FilterMessageSnippet("[apt-get] Building dependency tree").Len(), test.ShouldEqual, 1)

	_, err = out.Write([]byte("Done"))
	test.That(t, err, test.ShouldBeNil)
	out.Flush()
	test.That(t, logs.FilterMessageSnippet("[apt-get] Done").Len(), test.ShouldEqual, 1)
	// the blank line is dropped
	test.That(t, logs.Len(), test.ShouldEqual, 3)
}
