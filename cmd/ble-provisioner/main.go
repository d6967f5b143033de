package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	provisioner "github.com/viamrobotics/ble-provisioner"
	"github.com/viamrobotics/ble-provisioner/subsystems"
	"github.com/viamrobotics/ble-provisioner/utils"
	"go.viam.com/rdk/logging"
)

var (
	activeBackgroundWorkers sync.WaitGroup

	// stdout carries the json result, so logs go to stderr.
	globalLogger = newLogger()
)

//nolint:lll
type provisionerOpts struct {
	Config       string `description:"Path to config file"                                   long:"config"        short:"c"`
	StrictPolicy bool   `description:"Deny BlueZ to everyone but root and the provisioned user" long:"strict-policy"`
	DryRun       bool   `description:"Report what would change without changing anything"    long:"dry-run"`
	Debug        bool   `description:"Enable debug logging"                                  env:"BLE_PROVISIONER_DEBUG" long:"debug" short:"d"`
	Help         bool   `description:"Show this help message"                                long:"help"          short:"h"`
	Version      bool   `description:"Show version"                                          long:"version"       short:"v"`
}

func newLogger() logging.Logger {
	logger := logging.NewBlankLogger("ble-provisioner")
	logger.AddAppender(logging.NewWriterAppender(os.Stderr))
	return logger
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := setupExitSignalHandling()
	defer func() {
		cancel()
		activeBackgroundWorkers.Wait()
	}()

	opts := provisionerOpts{Config: utils.ConfigFilePath}
	parser := flags.NewParser(&opts, flags.IgnoreUnknown)
	parser.Usage = "grants an unprivileged user access to BLE (GATT) peripherals without running the client as root."

	if _, err := parser.Parse(); err != nil {
		globalLogger.Error(err)
		return subsystems.ExitOther
	}

	if opts.Help {
		var b bytes.Buffer
		parser.WriteHelp(&b)
		//nolint:forbidigo
		fmt.Println(b.String())
		return subsystems.ExitSuccess
	}

	if opts.Version {
		//nolint:forbidigo
		fmt.Printf("Version: %s\nGit Revision: %s\n", utils.GetVersion(), utils.GetRevision())
		return subsystems.ExitSuccess
	}

	if opts.Debug {
		globalLogger.SetLevel(logging.DEBUG)
	}

	absConfigPath, err := filepath.Abs(opts.Config)
	if err != nil {
		globalLogger.Error(errors.Wrapf(err, "resolving config path %s", opts.Config))
		return subsystems.ExitOther
	}
	utils.ConfigFilePath = absConfigPath
	globalLogger.Debugf("config file path: %s", absConfigPath)

	cfg, err := utils.LoadConfig(absConfigPath)
	if err != nil {
		// the returned config is corrected, so carry on with it
		globalLogger.Warn(errors.Wrap(err, "loading config"))
	}
	if cfg.User == "" {
		globalLogger.Error("cannot determine which user to provision; set \"user\" in the config file")
		return subsystems.ExitOther
	}
	if opts.StrictPolicy {
		cfg.StrictPolicy = 1
	}
	if cfg.User == "root" {
		globalLogger.Warn("provisioning root, which already has full bluetooth access")
	}

	globalLogger.Infof("ble-provisioner version: %s git revision: %s", utils.GetVersion(), utils.GetRevision())

	orchestrator := provisioner.NewOrchestrator(globalLogger, cfg, provisioner.WithDryRun(opts.DryRun))
	res := orchestrator.Run(ctx)

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		globalLogger.Error(errors.Wrap(err, "encoding result"))
		return subsystems.ExitOther
	}
	//nolint:forbidigo
	fmt.Println(string(out))
	return res.ExitCode()
}

func setupExitSignalHandling() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 16)
	activeBackgroundWorkers.Add(1)
	go func() {
		defer activeBackgroundWorkers.Done()
		defer cancel()
		for {
			var sig os.Signal
			if ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case sig = <-sigChan:
			}

			switch sig {
			case os.Interrupt, syscall.SIGTERM:
				globalLogger.Info("interrupted, stopping after the current step")
				signal.Ignore(os.Interrupt, syscall.SIGTERM)
				return
			default:
				globalLogger.Debugw("received unknown signal", "signal", sig)
			}
		}
	}()

	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	return ctx, cancel
}
