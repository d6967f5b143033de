// Package provisioner sequences the provisioning steps that let an
// unprivileged user's BLE client reach GATT peripherals without root.
package provisioner

import (
	"context"
	"time"

	"github.com/google/uuid"
	errw "github.com/pkg/errors"
	"github.com/viamrobotics/ble-provisioner/subsystems"
	"github.com/viamrobotics/ble-provisioner/subsystems/platform"
	"github.com/viamrobotics/ble-provisioner/subsystems/registry"
	"github.com/viamrobotics/ble-provisioner/utils"
	"go.viam.com/rdk/logging"
)

const stepLock = "lock"

// StepOrder is the order steps run in after detection. Steps that don't
// apply to the detected platform are left out by their creators.
var StepOrder = []string{
	subsystems.StepPackages,
	subsystems.StepGroups,
	subsystems.StepPolicy,
	subsystems.StepService,
	subsystems.StepCapability,
	subsystems.StepVerify,
}

// Detector produces the host profile.
type Detector interface {
	Detect(ctx context.Context) (subsystems.Profile, error)
}

// Orchestrator runs one provisioning pass over the host.
type Orchestrator struct {
	logger        logging.Logger
	cfg           utils.Config
	dryRun        bool
	detector      Detector
	runner        utils.CommandRunner
	lookup        func(name string) registry.CreatorFunc
	isProvisioner func(pid int) bool
}

type Option func(*Orchestrator)

// WithDryRun makes the run report what it would change instead of changing it.
func WithDryRun(dryRun bool) Option {
	return func(o *Orchestrator) { o.dryRun = dryRun }
}

// WithDetector replaces the platform detector. Should only be used for testing.
func WithDetector(detector Detector) Option {
	return func(o *Orchestrator) { o.detector = detector }
}

// WithRunner replaces the command runner. Should only be used for testing.
func WithRunner(runner utils.CommandRunner) Option {
	return func(o *Orchestrator) { o.runner = runner }
}

// WithCreators replaces the step registry. Should only be used for testing.
func WithCreators(lookup func(name string) registry.CreatorFunc) Option {
	return func(o *Orchestrator) { o.lookup = lookup }
}

func NewOrchestrator(logger logging.Logger, cfg utils.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger:        logger,
		cfg:           cfg,
		detector:      platform.NewDetector(logger.Sublogger("platform")),
		runner:        utils.NewExecRunner(logger.Sublogger("exec"), time.Duration(cfg.CommandTimeout)),
		lookup:        registry.GetCreator,
		isProvisioner: ownerIsProvisioner,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run provisions the host, stopping at the first failing step.
func (o *Orchestrator) Run(ctx context.Context) *Result {
	res := newResult(uuid.NewString(), o.dryRun)
	o.logger.Infow("starting provisioning", "run_id", res.RunID, "user", o.cfg.User, "dry_run", o.dryRun,
		"strict_policy", o.cfg.StrictPolicy.Get())

	runner := o.runner
	var dry *utils.DryRunner
	if o.dryRun {
		dry = utils.NewDryRunner(o.runner, o.logger)
		runner = dry
		defer func() { res.Planned = dry.Planned() }()
		dry.Record("acquire lock " + o.cfg.LockPath)
	} else {
		pidFile, err := acquireLock(o.logger, o.cfg.LockPath, o.isProvisioner)
		if err != nil {
			res.fail(stepLock, err)
			o.report(res)
			return res
		}
		defer func() {
			if err := pidFile.Unlock(); err != nil {
				o.logger.Error(errw.Wrapf(err, "unlocking %s", pidFile))
			}
		}()
	}

	profile, err := o.detector.Detect(ctx)
	if err != nil {
		res.fail(subsystems.StepDetect, err)
		o.report(res)
		return res
	}
	res.Profile = &profile
	res.CompletedSteps = append(res.CompletedSteps, subsystems.StepDetect)
	o.logger.Infow("detected platform", "family", profile.Family, "package_manager", profile.PackageManager,
		"service_manager", profile.ServiceManager, "distro", profile.Distro)

	env := &subsystems.Env{
		Logger:  o.logger,
		Config:  o.cfg,
		Profile: profile,
		Runner:  runner,
		DryRun:  o.dryRun,
	}
	if dry != nil {
		env.Planner = dry
	}

	for _, name := range StepOrder {
		if ctx.Err() != nil {
			res.fail(name, ctx.Err())
			break
		}
		creator := o.lookup(name)
		if creator == nil {
			res.fail(name, errw.Errorf("no step registered as %q", name))
			break
		}
		step, err := creator(env)
		if err != nil {
			res.fail(name, err)
			break
		}
		if step == nil {
			o.logger.Debugf("step %s does not apply to %s", name, profile.Family)
			continue
		}

		o.logger.Infof("running step %s", name)
		advisories, err := o.runStep(ctx, step)
		res.Advisories = append(res.Advisories, advisories...)
		if err != nil {
			res.fail(name, err)
			break
		}
		res.CompletedSteps = append(res.CompletedSteps, name)
	}

	if res.FirstFailure == nil {
		res.Success = true
	}
	o.report(res)
	return res
}

func (o *Orchestrator) runStep(ctx context.Context, step subsystems.Step) (advisories []subsystems.Advisory, err error) {
	defer utils.Recover(o.logger, func(r any) {
		err = errw.Errorf("step %s panicked: %v", step.Name(), r)
	})
	return step.Run(ctx)
}

func (o *Orchestrator) report(res *Result) {
	for _, adv := range res.Advisories {
		o.logger.Warnw("advisory", "code", adv.Code, "subject", adv.Subject, "message", adv.Message)
	}
	if res.Success {
		o.logger.Infow("provisioning succeeded", "run_id", res.RunID, "steps", res.CompletedSteps)
		return
	}
	f := res.FirstFailure
	o.logger.Errorw("provisioning failed", "run_id", res.RunID, "step", f.Step, "exit_code", f.ExitCode, "error", f.Message)
	if f.Remediation != "" {
		o.logger.Infof("to fix: %s", f.Remediation)
	}
}
