package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetalloc/app"
	"github.com/kilianp07/fleetalloc/config"
	"github.com/kilianp07/fleetalloc/core/demand"
	"github.com/kilianp07/fleetalloc/infra/logger"
)

var (
	cfgPath    string
	demandPath string
	outDir     string
	format     string
	relaxed    bool
	timeLimit  float64
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "fleetalloc",
	Short:         "Fleet allocation optimisation engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgPath, "config", "c", "", "configuration file (yaml or json)")
	pf.StringVarP(&demandPath, "demand", "d", "", "demand table CSV")
	pf.StringVarP(&outDir, "out", "o", "", "output directory")
	pf.StringVar(&format, "format", "", "output format: csv or json")
	pf.BoolVar(&relaxed, "relaxed", false, "solve with continuous assignments")
	pf.Float64Var(&timeLimit, "time-limit", 0, "time limit per solve in seconds")
	pf.BoolVarP(&verbose, "verbose", "v", false, "log solver progress")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

// loadConfig reads the configuration and applies flags set on cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("demand") {
		cfg.Demand.Path = demandPath
	}
	if flags.Changed("out") {
		cfg.Output.Dir = outDir
	}
	if flags.Changed("format") {
		cfg.Output.Format = format
	}
	if flags.Changed("relaxed") {
		cfg.Model.Relaxed = relaxed
	}
	if flags.Changed("time-limit") {
		cfg.Solver.TimeLimitSeconds = timeLimit
	}
	if flags.Changed("verbose") {
		cfg.Solver.Verbose = verbose
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withService builds the service, loads the demand table and runs fn under
// a context cancelled on SIGINT or SIGTERM.
func withService(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, svc *app.Service, table *demand.Table) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	svc.Serve(ctx)
	table, err := svc.LoadDemand("")
	if err != nil {
		return err
	}
	return fn(ctx, cfg, svc, table)
}
