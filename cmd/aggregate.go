package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetalloc/core/demand"
	"github.com/kilianp07/fleetalloc/infra/logger"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate <trips.csv> <demand.csv>",
	Short: "Aggregate raw trip records into a typical-day demand table",
	Args:  cobra.ExactArgs(2),
	RunE:  runAggregate,
}

func init() {
	rootCmd.AddCommand(aggregateCmd)
}

func runAggregate(cmd *cobra.Command, args []string) error {
	log := logger.New("aggregate")
	in, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	trips, stats, err := demand.LoadTrips(in)
	if err != nil {
		return fmt.Errorf("load trips: %w", err)
	}
	log.Infof("read %d rows, kept %d, dropped %d", stats.Rows, stats.Kept, stats.Dropped)
	table, err := demand.Aggregate(trips)
	if err != nil {
		return err
	}

	out, err := os.Create(args[1])
	if err != nil {
		return err
	}
	if err := demand.WriteCSV(out, table); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "saved %s: %d zones x %d hours, %.1f trips per day\n",
		args[1], table.NumZones(), table.NumHours(), table.Total())
	return nil
}
