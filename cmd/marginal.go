package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetalloc/app"
	"github.com/kilianp07/fleetalloc/config"
	"github.com/kilianp07/fleetalloc/core/demand"
	"github.com/kilianp07/fleetalloc/core/marginal"
)

var marginalCmd = &cobra.Command{
	Use:   "marginal",
	Short: "Estimate the unmet demand removed by extra capacity in each hour",
	RunE:  runMarginal,
}

func init() {
	f := marginalCmd.Flags()
	f.Int("fleet", 0, "baseline vehicles per hour")
	f.Float64("rate", 0, "trips served per vehicle per hour")
	f.Int("delta", 0, "capacity increment tested in each hour")
	f.Int("workers", 0, "concurrent solves")
	f.String("on-error", "", "abort or record failed hours")
	rootCmd.AddCommand(marginalCmd)
}

func runMarginal(cmd *cobra.Command, args []string) error {
	return withService(cmd, func(ctx context.Context, cfg *config.Config, svc *app.Service, table *demand.Table) error {
		mc := cfg.Marginal
		flags := cmd.Flags()
		if flags.Changed("fleet") {
			f, _ := flags.GetInt("fleet")
			mc.Fleet = &f
		}
		if flags.Changed("rate") {
			mc.Rate, _ = flags.GetFloat64("rate")
		}
		if flags.Changed("delta") {
			mc.Delta, _ = flags.GetInt("delta")
		}
		if flags.Changed("workers") {
			mc.Workers, _ = flags.GetInt("workers")
		}
		if flags.Changed("on-error") {
			mc.OnError, _ = flags.GetString("on-error")
		}
		if err := mc.Validate(); err != nil {
			return err
		}
		rep, path, err := svc.Marginal(ctx, table, mc.FleetSize(), mc.Rate, mc.Delta, marginal.Options{
			Solve:   svc.SolveOptions(cfg.Model.Relaxed),
			Workers: mc.Workers,
			OnError: mc.Policy(),
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "baseline unmet at F=%d r=%g: %.3f (%s)\n", rep.Fleet, rep.Rate, rep.Baseline.Objective(), rep.Baseline.Status())
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "hour\tdeltaF_at_hour\tunmet_reduction\tstatus")
		for _, r := range rep.Records {
			_, _ = fmt.Fprintf(tw, "%d\t%d\t%.3f\t%s\n", r.Hour, r.Increment, r.UnmetReduction, r.Status)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if best, ok := rep.Best(); ok {
			_, _ = fmt.Fprintf(out, "best hour: %d (%.3f trips)\n", best.Hour, best.UnmetReduction)
		}
		_, _ = fmt.Fprintf(out, "saved: %s\n", path)
		return nil
	})
}
