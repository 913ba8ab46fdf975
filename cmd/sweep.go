package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetalloc/app"
	"github.com/kilianp07/fleetalloc/config"
	"github.com/kilianp07/fleetalloc/core/allocation"
	"github.com/kilianp07/fleetalloc/core/demand"
	"github.com/kilianp07/fleetalloc/core/sensitivity"
	"github.com/kilianp07/fleetalloc/pkg/export"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a sensitivity sweep over fleet sizes and throughput rates",
	RunE:  runSweep,
}

func init() {
	f := sweepCmd.Flags()
	f.IntSlice("fleets", nil, "fleet sizes to sweep")
	f.Float64Slice("rates", nil, "throughput rates to sweep")
	f.Int("workers", 0, "concurrent solves")
	f.String("on-error", "", "abort or record failed points")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	return withService(cmd, func(ctx context.Context, cfg *config.Config, svc *app.Service, table *demand.Table) error {
		sc := cfg.Sweep
		flags := cmd.Flags()
		if flags.Changed("fleets") {
			sc.Fleets, _ = flags.GetIntSlice("fleets")
		}
		if flags.Changed("rates") {
			sc.Rates, _ = flags.GetFloat64Slice("rates")
		}
		if flags.Changed("workers") {
			sc.Workers, _ = flags.GetInt("workers")
		}
		if flags.Changed("on-error") {
			sc.OnError, _ = flags.GetString("on-error")
		}
		if err := sc.Validate(); err != nil {
			return err
		}
		caps, err := cfg.Model.Overrides()
		if err != nil {
			return err
		}
		recs, path, err := svc.Sweep(ctx, table, sc.Grid(), sensitivity.Options{
			Solve:    svc.SolveOptions(cfg.Model.Relaxed),
			HourCaps: caps,
			Workers:  sc.Workers,
			OnError:  sc.Policy(),
		})
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "r\tF\tstatus\truntime_sec\tdemand_total\tserved_total\tobjective_unmet\tserved_pct")
		for _, r := range export.SensitivityRows(recs) {
			_, _ = fmt.Fprintf(tw, "%g\t%d\t%s\t%.3f\t%.1f\t%.1f\t%.1f\t%.2f\n",
				r.Rate, r.Capacity, r.Status, r.RuntimeSec, r.DemandTotal, r.ServedTotal, r.Unmet, r.ServedPct)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "saved: %s\n", path)
		if sc.Policy() == allocation.PolicyRecord {
			for _, r := range recs {
				if r.Err != "" {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "r=%g F=%d failed: %s\n", r.Rate, r.Fleet, r.Err)
				}
			}
		}
		return nil
	})
}
