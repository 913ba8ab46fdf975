package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetalloc/app"
	"github.com/kilianp07/fleetalloc/core/runlog"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past runs from the run log",
	RunE:  runHistory,
}

func init() {
	f := historyCmd.Flags()
	f.String("kind", "", "solve, sweep or marginal")
	f.Duration("since", 0, "only runs newer than this duration")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	var q runlog.Query
	q.Kind, _ = cmd.Flags().GetString("kind")
	if since, _ := cmd.Flags().GetDuration("since"); since > 0 {
		q.Start = time.Now().Add(-since)
	}
	runs, err := svc.History(cmd.Context(), q)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "time\tkind\trun_id\tparams\tsummary\terror")
	for _, r := range runs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%v\t%s\n",
			r.Timestamp.Format(time.RFC3339), r.Kind, r.RunID, r.Params, r.Summary, r.Err)
	}
	return tw.Flush()
}
