package buspolicy

import (
	"bytes"
	"encoding/xml"

	errw "github.com/pkg/errors"
)

const doctype = `<!DOCTYPE busconfig PUBLIC "-//freedesktop//DTD D-BUS Bus Configuration 1.0//EN"
 "http://www.freedesktop.org/standards/dbus/1.0/busconfig.dtd">
`

const generatedComment = " Generated by ble-provisioner. Local changes will be overwritten. "

type xmlBusconfig struct {
	XMLName  xml.Name    `xml:"busconfig"`
	Comment  xml.Comment `xml:",comment"`
	Policies []xmlPolicy `xml:"policy"`
}

type xmlPolicy struct {
	User    string `xml:"user,attr,omitempty"`
	Context string `xml:"context,attr,omitempty"`
	// allow and deny elements, in document order
	Entries []xmlEntry `xml:",any"`
}

type xmlEntry struct {
	XMLName         xml.Name
	Own             string `xml:"own,attr,omitempty"`
	SendDestination string `xml:"send_destination,attr,omitempty"`
	SendInterface   string `xml:"send_interface,attr,omitempty"`
}

// Render serializes the policy as a complete busconfig document. Interface
// grants are scoped to each of the rule's destinations.
func (p AccessPolicy) Render() ([]byte, error) {
	doc := xmlBusconfig{Comment: xml.Comment(generatedComment)}
	for _, r := range p.Rules {
		pol := xmlPolicy{}
		switch r.Scope {
		case ScopeUser:
			pol.User = r.Principal
		case ScopeContextDefault:
			pol.Context = defaultContext
		default:
			return nil, errw.Errorf("unknown rule scope %q", r.Scope)
		}
		name := xml.Name{Local: string(r.Effect)}
		for _, own := range r.Own {
			pol.Entries = append(pol.Entries, xmlEntry{XMLName: name, Own: own})
		}
		for _, dest := range r.Destinations {
			pol.Entries = append(pol.Entries, xmlEntry{XMLName: name, SendDestination: dest})
		}
		for _, iface := range r.Interfaces {
			if len(r.Destinations) == 0 {
				pol.Entries = append(pol.Entries, xmlEntry{XMLName: name, SendInterface: iface})
				continue
			}
			for _, dest := range r.Destinations {
				pol.Entries = append(pol.Entries, xmlEntry{XMLName: name, SendDestination: dest, SendInterface: iface})
			}
		}
		doc.Policies = append(doc.Policies, pol)
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, errw.Wrap(err, "marshaling bus policy")
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString(doctype)
	buf.Write(body)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Parse reads a busconfig document back into a normalized policy. Elements
// and attributes it does not model are ignored.
func Parse(data []byte) (AccessPolicy, error) {
	var doc xmlBusconfig
	if err := xml.Unmarshal(data, &doc); err != nil {
		return AccessPolicy{}, errw.Wrap(err, "parsing bus policy")
	}

	var p AccessPolicy
	for _, pol := range doc.Policies {
		scope, principal := ScopeUser, pol.User
		if pol.Context == defaultContext {
			scope, principal = ScopeContextDefault, defaultContext
		}
		if principal == "" {
			continue
		}
		for _, e := range pol.Entries {
			effect := Effect(e.XMLName.Local)
			if effect != EffectAllow && effect != EffectDeny {
				continue
			}
			r := Rule{Scope: scope, Principal: principal, Effect: effect}
			if e.Own != "" {
				r.Own = []string{e.Own}
			}
			if e.SendDestination != "" {
				r.Destinations = []string{e.SendDestination}
			}
			if e.SendInterface != "" {
				r.Interfaces = []string{e.SendInterface}
			}
			p.Rules = append(p.Rules, r)
		}
	}
	return p.Normalize(), nil
}
