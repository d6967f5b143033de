// Package groups adds the provisioned user to the host's bluetooth groups.
package groups

import (
	"context"
	"errors"
	"fmt"
	"os/user"
	"slices"

	errw "github.com/pkg/errors"
	"github.com/viamrobotics/ble-provisioner/subsystems"
	"github.com/viamrobotics/ble-provisioner/subsystems/registry"
	"github.com/viamrobotics/ble-provisioner/utils"
	"go.viam.com/rdk/logging"
)

const groupFile = "/etc/group"

func init() {
	registry.Register(subsystems.StepGroups, NewStep)
}

// Lookup answers membership questions about the host's account database.
type Lookup interface {
	// GroupExists reports whether the named group is defined.
	GroupExists(group string) (bool, error)
	// Member reports whether username belongs to group.
	Member(username, group string) (bool, error)
}

type Step struct {
	logger   logging.Logger
	runner   utils.CommandRunner
	lookup   Lookup
	username string
	groups   []string
}

// NewStep returns nil on hosts without unix groups to manage.
func NewStep(env *subsystems.Env) (subsystems.Step, error) {
	if !env.Profile.IsLinux() || len(env.Config.Groups) == 0 {
		return nil, nil
	}
	return NewStepWithLookup(env.Logger.Sublogger("groups"), env.Runner, OSLookup{}, env.Config.User, env.Config.Groups), nil
}

func NewStepWithLookup(logger logging.Logger, runner utils.CommandRunner, lookup Lookup, username string, groups []string) *Step {
	return &Step{logger: logger, runner: runner, lookup: lookup, username: username, groups: groups}
}

func (s *Step) Name() string {
	return subsystems.StepGroups
}

func (s *Step) Run(ctx context.Context) ([]subsystems.Advisory, error) {
	var advisories []subsystems.Advisory
	for _, group := range s.groups {
		exists, err := s.lookup.GroupExists(group)
		if err != nil {
			return advisories, s.wrap(err, "looking up group")
		}
		if !exists {
			s.logger.Warnf("group %s does not exist, skipping", group)
			continue
		}
		member, err := s.lookup.Member(s.username, group)
		if err != nil {
			return advisories, s.wrap(err, "checking group membership")
		}
		if member {
			s.logger.Debugf("%s is already in group %s", s.username, group)
			continue
		}

		s.logger.Infof("adding %s to group %s", s.username, group)
		_, err = s.runner.Run(ctx, utils.Command{
			Name:    "usermod",
			Args:    []string{"-aG", group, s.username},
			Elevate: true,
		})
		if err != nil {
			return advisories, s.wrap(err, "adding user to group")
		}
		advisories = append(advisories, subsystems.Advisory{
			Code:    subsystems.AdvisoryReloginRequired,
			Subject: group,
			Message: fmt.Sprintf("%s was added to group %s; log out and back in (or reboot) for it to take effect", s.username, group),
		})
	}
	return advisories, nil
}

func (s *Step) wrap(err error, op string) error {
	return &subsystems.PolicyWriteError{Path: groupFile, Op: op, Err: err}
}

// OSLookup reads the account database through os/user.
type OSLookup struct{}

func (OSLookup) GroupExists(group string) (bool, error) {
	_, err := user.LookupGroup(group)
	if err == nil {
		return true, nil
	}
	var unknown user.UnknownGroupError
	if errors.As(err, &unknown) {
		return false, nil
	}
	return false, errw.Wrapf(err, "looking up group %s", group)
}

func (OSLookup) Member(username, group string) (bool, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return false, errw.Wrapf(err, "looking up user %s", username)
	}
	g, err := user.LookupGroup(group)
	if err != nil {
		return false, errw.Wrapf(err, "looking up group %s", group)
	}
	gids, err := u.GroupIds()
	if err != nil {
		return false, errw.Wrapf(err, "listing groups of %s", username)
	}
	return slices.Contains(gids, g.Gid), nil
}
