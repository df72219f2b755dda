package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "Query C11 aggregated signal history",
}

func init() {
	signalsCmd.AddCommand(signalsQueryCmd)
}

var signalsQueryCmd = &cobra.Command{
	Use:   "query <loaderCode>",
	Short: "List signal rows for a loader in a time range",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		segment, _ := cmd.Flags().GetInt("segment-code")
		hasSegment := cmd.Flags().Changed("segment-code")

		fromTime, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return fmt.Errorf("parsing --from: %w", err)
		}
		toTime, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return fmt.Errorf("parsing --to: %w", err)
		}

		ctx := context.Background()
		app, err := connectApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close(ctx)

		var segmentCode *int
		if hasSegment {
			segmentCode = &segment
		}
		rows, err := app.Signals.Query(ctx, args[0], fromTime.Unix(), toTime.Unix(), segmentCode)
		if err != nil {
			return err
		}
		for _, row := range rows {
			fmt.Printf("t=%d segment=%d count=%d min=%g max=%g avg=%g sum=%g\n",
				row.LoadTimestamp, row.SegmentCode, row.RecCount, row.Min, row.Max, row.Avg, row.Sum)
		}
		return nil
	},
}

func init() {
	signalsQueryCmd.Flags().String("from", "", "range start, RFC3339 (required)")
	_ = signalsQueryCmd.MarkFlagRequired("from")
	signalsQueryCmd.Flags().String("to", "", "range end, RFC3339 (required)")
	_ = signalsQueryCmd.MarkFlagRequired("to")
	signalsQueryCmd.Flags().Int("segment-code", 0, "restrict to one segment code")
}
