package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetalloc/app"
	"github.com/kilianp07/fleetalloc/config"
	"github.com/kilianp07/fleetalloc/core/allocation"
	"github.com/kilianp07/fleetalloc/core/demand"
)

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Solve one allocation and write the allocation table",
	RunE:  runSolve,
}

func init() {
	solveCmd.Flags().Int("fleet", 0, "vehicles available per hour")
	solveCmd.Flags().Float64("rate", 0, "trips served per vehicle per hour")
	rootCmd.AddCommand(solveCmd)
}

func runSolve(cmd *cobra.Command, args []string) error {
	return withService(cmd, func(ctx context.Context, cfg *config.Config, svc *app.Service, table *demand.Table) error {
		fleet, rate := cfg.Model.FleetSize(), cfg.Model.Rate
		if cmd.Flags().Changed("fleet") {
			fleet, _ = cmd.Flags().GetInt("fleet")
		}
		if cmd.Flags().Changed("rate") {
			rate, _ = cmd.Flags().GetFloat64("rate")
		}
		caps, err := cfg.Model.Overrides()
		if err != nil {
			return err
		}
		res, path, err := svc.Solve(ctx, table, allocation.Params{
			Fleet:    fleet,
			Rate:     rate,
			HourCaps: caps,
			Options:  svc.SolveOptions(cfg.Model.Relaxed),
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "status:          %s\n", res.Status())
		_, _ = fmt.Fprintf(out, "unmet demand:    %.3f\n", res.Objective())
		_, _ = fmt.Fprintf(out, "served:          %.3f / %.3f (%.2f%%)\n", res.ServedTotal(), res.DemandTotal(), res.ServedFraction()*100)
		_, _ = fmt.Fprintf(out, "runtime:         %s\n", res.Runtime())
		_, _ = fmt.Fprintf(out, "saved:           %s\n", path)
		return nil
	})
}
