package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/etl-monitor/internal/domain"
)

var approvalCmd = &cobra.Command{
	Use:   "approval",
	Short: "Submit and transition C6 approval requests",
}

func init() {
	approvalCmd.AddCommand(approvalSubmitCmd, approvalApproveCmd, approvalRejectCmd, approvalResubmitCmd, approvalRevokeCmd)
}

var approvalSubmitCmd = &cobra.Command{
	Use:   "submit <entityID>",
	Short: "Submit a draft LOADER for approval from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		submittedBy, _ := cmd.Flags().GetString("submitted-by")

		raw, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading draft file: %w", err)
		}
		var draft domain.Loader
		if err := json.Unmarshal(raw, &draft); err != nil {
			return fmt.Errorf("parsing draft file: %w", err)
		}

		ctx := context.Background()
		app, err := connectApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close(ctx)

		req, err := app.Approval.Submit(ctx, domain.EntityLoader, args[0], &draft, submittedBy)
		if err != nil {
			return err
		}
		fmt.Printf("request %s submitted, status %s\n", req.ID, req.Status)
		return nil
	},
}

var approvalApproveCmd = &cobra.Command{
	Use:   "approve <requestID>",
	Short: "Approve a PENDING_APPROVAL request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")
		ctx := context.Background()
		app, err := connectApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close(ctx)

		req, err := app.Approval.Approve(ctx, args[0], actor)
		if err != nil {
			return err
		}
		fmt.Printf("request %s -> %s\n", req.ID, req.Status)
		return nil
	},
}

var approvalRejectCmd = &cobra.Command{
	Use:   "reject <requestID>",
	Short: "Reject a PENDING_APPROVAL request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")
		justification, _ := cmd.Flags().GetString("justification")
		ctx := context.Background()
		app, err := connectApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close(ctx)

		req, err := app.Approval.Reject(ctx, args[0], actor, justification)
		if err != nil {
			return err
		}
		fmt.Printf("request %s -> %s\n", req.ID, req.Status)
		return nil
	},
}

var approvalResubmitCmd = &cobra.Command{
	Use:   "resubmit <requestID>",
	Short: "Return a REJECTED request to PENDING_APPROVAL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")
		ctx := context.Background()
		app, err := connectApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close(ctx)

		req, err := app.Approval.Resubmit(ctx, args[0], actor)
		if err != nil {
			return err
		}
		fmt.Printf("request %s -> %s\n", req.ID, req.Status)
		return nil
	},
}

var approvalRevokeCmd = &cobra.Command{
	Use:   "revoke <requestID>",
	Short: "Revoke an APPROVED request back to PENDING_APPROVAL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")
		justification, _ := cmd.Flags().GetString("justification")
		ctx := context.Background()
		app, err := connectApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close(ctx)

		req, err := app.Approval.Revoke(ctx, args[0], actor, justification)
		if err != nil {
			return err
		}
		fmt.Printf("request %s -> %s\n", req.ID, req.Status)
		return nil
	},
}

func init() {
	approvalSubmitCmd.Flags().String("file", "", "path to draft loader JSON (required)")
	_ = approvalSubmitCmd.MarkFlagRequired("file")
	approvalSubmitCmd.Flags().String("submitted-by", "", "submitting user (required)")
	_ = approvalSubmitCmd.MarkFlagRequired("submitted-by")

	for _, c := range []*cobra.Command{approvalApproveCmd, approvalRejectCmd, approvalResubmitCmd, approvalRevokeCmd} {
		c.Flags().String("actor", "", "acting user (required)")
		_ = c.MarkFlagRequired("actor")
	}
	approvalRejectCmd.Flags().String("justification", "", "reason for rejection (required)")
	_ = approvalRejectCmd.MarkFlagRequired("justification")
	approvalRevokeCmd.Flags().String("justification", "", "reason for revocation (required)")
	_ = approvalRevokeCmd.MarkFlagRequired("justification")
}
