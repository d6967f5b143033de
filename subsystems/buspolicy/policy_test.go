package buspolicy

import (
	"strings"
	"testing"

	"github.com/viamrobotics/ble-provisioner/utils"
	"go.viam.com/test"
)

func TestGenerate(t *testing.T) {
	ifaces := utils.DefaultGATTInterfaces

	t.Run("strict", func(t *testing.T) {
		p, err := Generate("alice", ifaces, ModeStrict)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(p.Rules), test.ShouldEqual, 3)

		test.That(t, p.Rules[0].Principal, test.ShouldEqual, "root")
		test.That(t, p.Rules[0].Own, test.ShouldResemble, []string{"org.bluez"})
		test.That(t, p.Rules[1].Principal, test.ShouldEqual, "alice")
		test.That(t, p.Rules[1].Effect, test.ShouldEqual, EffectAllow)
		test.That(t, p.Rules[1].Interfaces, test.ShouldResemble, []string{
			"org.bluez.GattCharacteristic1",
			"org.bluez.GattDescriptor1",
			"org.freedesktop.DBus.ObjectManager",
			"org.freedesktop.DBus.Properties",
		})

		var defaults int
		for i, r := range p.Rules {
			if r.Scope == ScopeContextDefault {
				defaults++
				test.That(t, r.Effect, test.ShouldEqual, EffectDeny)
				test.That(t, i, test.ShouldEqual, len(p.Rules)-1)
			}
		}
		test.That(t, defaults, test.ShouldEqual, 1)
	})

	t.Run("permissive", func(t *testing.T) {
		p, err := Generate("alice", ifaces, ModePermissive)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(p.Rules), test.ShouldEqual, 1)
		test.That(t, p.Rules[0].Scope, test.ShouldEqual, ScopeUser)
		test.That(t, p.Rules[0].Destinations, test.ShouldResemble, []string{"org.bluez"})
	})

	t.Run("root as the provisioned user", func(t *testing.T) {
		p, err := Generate("root", ifaces, ModeStrict)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(p.Rules), test.ShouldEqual, 2)
	})

	t.Run("bad input", func(t *testing.T) {
		_, err := Generate("", ifaces, ModeStrict)
		test.That(t, err, test.ShouldNotBeNil)
		_, err = Generate("alice", nil, ModeStrict)
		test.That(t, err, test.ShouldNotBeNil)
		_, err = Generate("alice", ifaces, Mode("lenient"))
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestNormalize(t *testing.T) {
	p := AccessPolicy{Rules: []Rule{
		{Scope: ScopeContextDefault, Principal: "default", Destinations: []string{"org.bluez"}, Effect: EffectDeny},
		{Scope: ScopeUser, Principal: "alice", Interfaces: []string{"b", "a"}, Destinations: []string{"org.bluez"}, Effect: EffectAllow},
		{Scope: ScopeUser, Principal: "root", Own: []string{"org.bluez"}, Effect: EffectAllow},
		{Scope: ScopeUser, Principal: "alice", Interfaces: []string{"a", "c"}, Destinations: []string{"org.bluez"}, Effect: EffectAllow},
	}}

	n := p.Normalize()
	test.That(t, len(n.Rules), test.ShouldEqual, 3)
	test.That(t, n.Rules[0].Principal, test.ShouldEqual, "root")
	test.That(t, n.Rules[1].Principal, test.ShouldEqual, "alice")
	test.That(t, n.Rules[1].Interfaces, test.ShouldResemble, []string{"a", "b", "c"})
	test.That(t, n.Rules[1].Destinations, test.ShouldResemble, []string{"org.bluez"})
	test.That(t, n.Rules[2].Scope, test.ShouldEqual, ScopeContextDefault)

	test.That(t, n.Normalize(), test.ShouldResemble, n)
}

func TestValidate(t *testing.T) {
	ifaces := []string{"org.bluez.GattCharacteristic1"}
	user := Rule{Scope: ScopeUser, Principal: "alice", Interfaces: ifaces, Destinations: []string{"org.bluez"}, Effect: EffectAllow}
	root := Rule{Scope: ScopeUser, Principal: "root", Destinations: []string{"org.bluez"}, Effect: EffectAllow}
	deny := Rule{Scope: ScopeContextDefault, Principal: "default", Destinations: []string{"org.bluez"}, Effect: EffectDeny}
	allowDefault := deny
	allowDefault.Effect = EffectAllow

	tests := []struct {
		name  string
		mode  Mode
		rules []Rule
		valid bool
	}{
		{"strict ok", ModeStrict, []Rule{root, user, deny}, true},
		{"strict deny not last", ModeStrict, []Rule{root, deny, user}, false},
		{"strict default allows", ModeStrict, []Rule{root, user, allowDefault}, false},
		{"strict two defaults", ModeStrict, []Rule{root, user, deny, deny}, false},
		{"strict without root", ModeStrict, []Rule{user, deny}, false},
		{"permissive ok", ModePermissive, []Rule{user}, true},
		{"permissive with default", ModePermissive, []Rule{user, deny}, false},
		{"missing user", ModePermissive, []Rule{root}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := AccessPolicy{Rules: tc.rules}.Validate(tc.mode, "alice", ifaces)
			if tc.valid {
				test.That(t, err, test.ShouldBeNil)
			} else {
				test.That(t, err, test.ShouldNotBeNil)
			}
		})
	}

	missingIface := user
	missingIface.Interfaces = nil
	err := AccessPolicy{Rules: []Rule{missingIface}}.Validate(ModePermissive, "alice", ifaces)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "org.bluez.GattCharacteristic1")
}

func TestRenderAndParse(t *testing.T) {
	p, err := Generate("alice", utils.DefaultGATTInterfaces, ModeStrict)
	test.That(t, err, test.ShouldBeNil)

	data, err := p.Render()
	test.That(t, err, test.ShouldBeNil)
	doc := string(data)

	test.That(t, doc, test.ShouldStartWith, "<?xml")
	test.That(t, doc, test.ShouldContainSubstring, "<!DOCTYPE busconfig PUBLIC")
	test.That(t, doc, test.ShouldContainSubstring, `<policy user="alice">`)
	test.That(t, doc, test.ShouldContainSubstring,
		`<allow send_destination="org.bluez" send_interface="org.freedesktop.DBus.ObjectManager"></allow>`)
	test.That(t, doc, test.ShouldContainSubstring, `<allow own="org.bluez"></allow>`)
	test.That(t, doc, test.ShouldContainSubstring, `<deny send_destination="org.bluez"></deny>`)

	rootAt := strings.Index(doc, `<policy user="root">`)
	aliceAt := strings.Index(doc, `<policy user="alice">`)
	defaultAt := strings.Index(doc, `<policy context="default">`)
	test.That(t, rootAt, test.ShouldBeGreaterThan, 0)
	test.That(t, aliceAt, test.ShouldBeGreaterThan, rootAt)
	test.That(t, defaultAt, test.ShouldBeGreaterThan, aliceAt)

	parsed, err := Parse(data)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, parsed, test.ShouldResemble, p)

	// rendering is deterministic
	again, err := parsed.Render()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again, test.ShouldResemble, data)
}

func TestParseForeignPolicy(t *testing.T) {
	doc := `<!DOCTYPE busconfig PUBLIC "-//freedesktop//DTD D-BUS Bus Configuration 1.0//EN"
 "http://www.freedesktop.org/standards/dbus/1.0/busconfig.dtd">
<busconfig>
  <policy user="root">
    <allow own="org.bluez"/>
    <allow send_destination="org.bluez"/>
  </policy>
  <policy group="bluetooth">
    <allow send_destination="org.bluez"/>
  </policy>
  <policy at_console="true">
    <allow send_destination="org.bluez"/>
  </policy>
  <policy context="default">
    <deny send_destination="org.bluez"/>
  </policy>
</busconfig>
`
	p, err := Parse([]byte(doc))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(p.Rules), test.ShouldEqual, 2)
	test.That(t, p.Rules[0].Own, test.ShouldResemble, []string{"org.bluez"})
	test.That(t, p.Rules[1].Effect, test.ShouldEqual, EffectDeny)

	_, err = Parse([]byte("<busconfig><policy"))
	test.That(t, err, test.ShouldNotBeNil)
}
