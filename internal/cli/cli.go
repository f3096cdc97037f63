// Package cli implements the devhandler command: probe, inspect and watch the
// devices described by a board config.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/michcald/devhandler/config"
	"github.com/michcald/devhandler/logging"
	"github.com/michcald/devhandler/metrics"
)

// Env is what the commands need from the outside world.
type Env struct {
	// Open returns the bus opener. It is called once per command that touches
	// hardware.
	Open   func(log logging.Logger) (Opener, error)
	Out    io.Writer
	ErrOut io.Writer
}

type app struct {
	env      Env
	cfgPath  string
	logLevel string

	cfg      *config.Config
	log      logging.Logger
	registry *prometheus.Registry
	rec      metrics.Recorder
}

// Command creates the root command.
func Command(env Env) *cobra.Command {
	if env.Out == nil {
		env.Out = os.Stdout
	}
	if env.ErrOut == nil {
		env.ErrOut = os.Stderr
	}
	a := &app{env: env}

	root := &cobra.Command{
		Use:           "devhandler",
		Short:         "Probe and drive the devices of a board",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(env.Out)
	root.SetErr(env.ErrOut)
	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "", "board config file (default ./devhandler.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log.level")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return a.setup(cmd.Name() == "watch")
	}

	root.AddCommand(
		a.probeCommand(),
		a.diagCommand(),
		a.watchCommand(),
		a.configCommand(),
	)
	return root
}

// setup loads the config and builds the logger. Metrics are only collected
// when serveMetrics is set, since only watch runs long enough to be scraped.
func (a *app) setup(serveMetrics bool) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg
	a.log = logging.New(a.env.ErrOut, cfg.Log.Level, cfg.Log.Format)
	a.rec = metrics.Nop()
	if cfg.Metrics.Enabled && !serveMetrics {
		a.log.Debug("metrics are only served by watch")
	}
	if cfg.Metrics.Enabled && serveMetrics {
		a.registry = prometheus.NewRegistry()
		m, err := metrics.NewHandlerMetrics(a.registry)
		if err != nil {
			return err
		}
		a.rec = m
	}
	return nil
}

func (a *app) board() (*Board, error) {
	op, err := a.env.Open(a.log)
	if err != nil {
		return nil, fmt.Errorf("failed to open hardware: %w", err)
	}
	return Build(a.cfg, op, a.log, a.rec)
}

func (a *app) configCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
