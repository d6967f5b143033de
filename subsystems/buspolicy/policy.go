// Package buspolicy generates and installs the system bus policy that lets
// one unprivileged user talk to BlueZ's GATT objects.
package buspolicy

import (
	"errors"
	"slices"
	"sort"

	errw "github.com/pkg/errors"
)

// BluezDestination is the well-known bus name of the bluetooth daemon.
const BluezDestination = "org.bluez"

const (
	rootUser       = "root"
	defaultContext = "default"
)

type Mode string

const (
	// ModePermissive grants the user access and says nothing about anyone else.
	ModePermissive Mode = "permissive"
	// ModeStrict adds an explicit root rule and denies BlueZ to everyone else.
	ModeStrict Mode = "strict"
)

// ModeFor maps the strict flag onto a mode.
func ModeFor(strict bool) Mode {
	if strict {
		return ModeStrict
	}
	return ModePermissive
}

type Scope string

const (
	ScopeUser           Scope = "user"
	ScopeContextDefault Scope = "context_default"
)

type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Rule is one policy block. Interfaces, Destinations and Own are sorted sets.
type Rule struct {
	Scope Scope
	// Principal is a username, or "default" for the context rule.
	Principal    string
	Interfaces   []string
	Destinations []string
	// Own lists bus names the principal may acquire.
	Own    []string
	Effect Effect
}

// AccessPolicy is the complete policy document, in order.
type AccessPolicy struct {
	Rules []Rule
}

// Generate builds the normalized policy for username in the given mode.
func Generate(username string, interfaces []string, mode Mode) (AccessPolicy, error) {
	if username == "" {
		return AccessPolicy{}, errw.New("no user to grant bus access to")
	}
	if len(interfaces) == 0 {
		return AccessPolicy{}, errw.New("no bus interfaces to grant")
	}
	if mode != ModePermissive && mode != ModeStrict {
		return AccessPolicy{}, errw.Errorf("unknown policy mode %q", mode)
	}

	var p AccessPolicy
	if mode == ModeStrict {
		p.Rules = append(p.Rules, Rule{
			Scope:        ScopeUser,
			Principal:    rootUser,
			Interfaces:   slices.Clone(interfaces),
			Destinations: []string{BluezDestination},
			Own:          []string{BluezDestination},
			Effect:       EffectAllow,
		})
	}
	p.Rules = append(p.Rules, Rule{
		Scope:        ScopeUser,
		Principal:    username,
		Interfaces:   slices.Clone(interfaces),
		Destinations: []string{BluezDestination},
		Effect:       EffectAllow,
	})
	if mode == ModeStrict {
		p.Rules = append(p.Rules, Rule{
			Scope:        ScopeContextDefault,
			Principal:    defaultContext,
			Destinations: []string{BluezDestination},
			Effect:       EffectDeny,
		})
	}

	p = p.Normalize()
	return p, p.Validate(mode, username, interfaces)
}

// Normalize merges rules for the same principal and effect, sorts every set,
// and orders rules root first, then other users, then the default context.
func (p AccessPolicy) Normalize() AccessPolicy {
	type key struct {
		scope     Scope
		principal string
		effect    Effect
	}
	index := map[key]int{}
	var out []Rule
	for _, r := range p.Rules {
		k := key{r.Scope, r.Principal, r.Effect}
		i, ok := index[k]
		if !ok {
			index[k] = len(out)
			out = append(out, Rule{Scope: r.Scope, Principal: r.Principal, Effect: r.Effect})
			i = len(out) - 1
		}
		out[i].Interfaces = append(out[i].Interfaces, r.Interfaces...)
		out[i].Destinations = append(out[i].Destinations, r.Destinations...)
		out[i].Own = append(out[i].Own, r.Own...)
	}
	for i := range out {
		out[i].Interfaces = sortedSet(out[i].Interfaces)
		out[i].Destinations = sortedSet(out[i].Destinations)
		out[i].Own = sortedSet(out[i].Own)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return rank(out[i]) < rank(out[j])
	})
	return AccessPolicy{Rules: out}
}

func rank(r Rule) int {
	switch {
	case r.Scope == ScopeContextDefault:
		return 2
	case r.Principal == rootUser:
		return 0
	default:
		return 1
	}
}

func sortedSet(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}

// Validate checks the structural guarantees of a policy for mode and
// returns every violation found.
func (p AccessPolicy) Validate(mode Mode, username string, interfaces []string) error {
	var errOut error
	var defaults int
	for i, r := range p.Rules {
		if r.Principal == "" {
			errOut = errors.Join(errOut, errw.Errorf("rule %d has no principal", i))
		}
		if r.Scope != ScopeContextDefault {
			continue
		}
		defaults++
		if r.Effect != EffectDeny {
			errOut = errors.Join(errOut, errw.New("default context rule must deny"))
		}
		if i != len(p.Rules)-1 {
			errOut = errors.Join(errOut, errw.New("default context rule must be last"))
		}
	}

	switch mode {
	case ModeStrict:
		if defaults != 1 {
			errOut = errors.Join(errOut, errw.Errorf("strict policy needs exactly one default context rule, found %d", defaults))
		}
		if p.userRule(rootUser) == nil {
			errOut = errors.Join(errOut, errw.New("strict policy has no root rule"))
		}
	case ModePermissive:
		if defaults != 0 {
			errOut = errors.Join(errOut, errw.New("permissive policy must not have a default context rule"))
		}
	default:
		errOut = errors.Join(errOut, errw.Errorf("unknown policy mode %q", mode))
	}

	user := p.userRule(username)
	if user == nil {
		return errors.Join(errOut, errw.Errorf("no allow rule for user %s", username))
	}
	if !slices.Contains(user.Destinations, BluezDestination) {
		errOut = errors.Join(errOut, errw.Errorf("rule for user %s does not allow %s", username, BluezDestination))
	}
	for _, iface := range interfaces {
		if !slices.Contains(user.Interfaces, iface) {
			errOut = errors.Join(errOut, errw.Errorf("rule for user %s does not allow interface %s", username, iface))
		}
	}
	return errOut
}

func (p AccessPolicy) userRule(username string) *Rule {
	for i := range p.Rules {
		r := &p.Rules[i]
		if r.Scope == ScopeUser && r.Principal == username && r.Effect == EffectAllow {
			return r
		}
	}
	return nil
}
