// Package main implements the rctrace CLI tool.
//
// rctrace replays scripted handle lifecycles against the rc runtime and
// prints the strong/weak counts of the shared control block after every
// step. It also runs a concurrent stress check of atomic counting.
//
// Usage:
//
//	rctrace run scenario.yaml           # Replay a scenario, print the trace
//	rctrace stress -g 16 -n 10000       # Hammer one atomic block
//	rctrace version --require v0.1.0    # Check the runtime version
//
// Global flags:
//
//	--config file.yaml   rc runtime configuration (counting, leak_check, logging)
//	--log-level level    debug | info | warn | error
//	--leak-check         report handles left unreleased on exit
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kolkov/sharedptr/internal/logging"
	"github.com/kolkov/sharedptr/rc"
)

type rootOptions struct {
	configPath string
	logLevel   string
	leakCheck  bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "rctrace",
		Short: "Trace and stress reference-counted handles",
		Long: `rctrace replays scripted lifecycles of shared and weak handles and
prints the strong count, weak count and lifecycle state of the control
block after every step.

A scenario that fails an expectation, or leaves a handle unreleased,
exits non-zero, so scenarios can be checked in CI.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			defer func() { _ = logging.L().Sync() }()
			if !opts.leakCheck {
				return nil
			}
			n, err := rc.ReportLeaks(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if n > 0 {
				return fmt.Errorf("%d leaked handle(s)", n)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "rc runtime configuration file (YAML)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.PersistentFlags().BoolVar(&opts.leakCheck, "leak-check", false, "report handles left unreleased on exit")

	cmd.AddCommand(newRunCmd(), newStressCmd(), newVersionCmd())
	return cmd
}

// setup applies the configuration file first, then flag overrides.
func (o *rootOptions) setup() error {
	if o.configPath != "" {
		if err := rc.LoadConfig(o.configPath); err != nil {
			return err
		}
	}
	if o.logLevel != "" {
		logger, err := logging.New(logging.Config{Level: o.logLevel, Development: true})
		if err != nil {
			return err
		}
		rc.SetLogger(logger)
	}
	if o.leakCheck {
		rc.EnableLeakCheck(true)
	}
	logging.L().Debug("rctrace started",
		zap.String("version", rc.Version),
		zap.String("config", o.configPath))
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
