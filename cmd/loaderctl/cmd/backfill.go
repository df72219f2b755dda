package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/etl-monitor/internal/domain"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Submit, run, cancel, and inspect C8 backfill jobs",
}

func init() {
	backfillCmd.AddCommand(backfillSubmitCmd, backfillExecuteCmd, backfillCancelCmd, backfillGetCmd, backfillListCmd)
}

var backfillSubmitCmd = &cobra.Command{
	Use:   "submit <loaderCode>",
	Short: "Submit a backfill job over a time range",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		purge, _ := cmd.Flags().GetString("purge-strategy")
		requestedBy, _ := cmd.Flags().GetString("requested-by")

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

		job, err := app.Backfill.Submit(ctx, args[0], fromTime, toTime, domain.PurgeStrategy(purge), requestedBy)
		if err != nil {
			return err
		}
		fmt.Printf("job %s submitted, status %s\n", job.ID, job.Status)
		return nil
	},
}

var backfillExecuteCmd = &cobra.Command{
	Use:   "execute <jobID>",
	Short: "Run a PENDING backfill job on this replica synchronously",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		replicaName, _ := cmd.Flags().GetString("replica-name")
		ctx := context.Background()
		app, err := connectApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close(ctx)

		job, err := app.Backfill.Execute(ctx, args[0], replicaName)
		if err != nil {
			return err
		}
		fmt.Printf("job %s finished, status %s, ingested %d\n", job.ID, job.Status, job.RecordsIngested)
		return nil
	},
}

var backfillCancelCmd = &cobra.Command{
	Use:   "cancel <jobID>",
	Short: "Cancel a PENDING backfill job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		app, err := connectApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close(ctx)

		job, err := app.Backfill.Cancel(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("job %s -> %s\n", job.ID, job.Status)
		return nil
	},
}

var backfillGetCmd = &cobra.Command{
	Use:   "get <jobID>",
	Short: "Show one backfill job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		app, err := connectApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close(ctx)

		job, err := app.Store.GetBackfill(ctx, args[0])
		if err != nil {
			return err
		}
		printBackfillJob(job)
		return nil
	},
}

var backfillListCmd = &cobra.Command{
	Use:   "list <loaderCode>",
	Short: "List backfill jobs for a loader",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		app, err := connectApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close(ctx)

		jobs, err := app.Store.ListBackfillsByLoader(ctx, args[0])
		if err != nil {
			return err
		}
		for _, job := range jobs {
			printBackfillJob(job)
		}
		return nil
	},
}

func printBackfillJob(j *domain.BackfillJob) {
	fmt.Printf("%s  %s  %s  [%d, %d)  requested_by=%s  ingested=%d\n",
		j.ID, j.LoaderCode, j.Status, j.FromEpoch, j.ToEpoch, j.RequestedBy, j.RecordsIngested)
}

func init() {
	backfillSubmitCmd.Flags().String("from", "", "window start, RFC3339 (required)")
	_ = backfillSubmitCmd.MarkFlagRequired("from")
	backfillSubmitCmd.Flags().String("to", "", "window end, RFC3339 (required)")
	_ = backfillSubmitCmd.MarkFlagRequired("to")
	backfillSubmitCmd.Flags().String("purge-strategy", string(domain.PurgeAndReload), "PURGE_AND_RELOAD, FAIL_ON_DUPLICATE, or SKIP_DUPLICATES")
	backfillSubmitCmd.Flags().String("requested-by", "", "requesting user (required)")
	_ = backfillSubmitCmd.MarkFlagRequired("requested-by")

	hostname, _ := os.Hostname()
	backfillExecuteCmd.Flags().String("replica-name", hostname, "replica identity to stamp on the run")
}
