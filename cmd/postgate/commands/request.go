package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/MEKXH/postgate/internal/approval"
	"github.com/MEKXH/postgate/internal/gate"
	"github.com/spf13/cobra"
)

func NewRequestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request <content>",
		Short: "Ask a human to approve a post",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRequest,
	}
	cmd.Flags().String("platform", "", "Platform the post is for (twitter, linkedin, ...)")
	cmd.Flags().String("action", "post", "Action to approve")
	cmd.Flags().String("target", "", "Post target, e.g. a handle or URL")
	cmd.Flags().Duration("ttl", 0, "How long the request stays open (default approval.request_ttl)")
	cmd.Flags().Bool("wait", false, "Wait for the decision")
	cmd.Flags().Duration("timeout", 10*time.Minute, "Maximum time to wait with --wait")
	addClientFlags(cmd)
	return cmd
}

func runRequest(cmd *cobra.Command, args []string) error {
	_, api, err := loadGateClient(cmd)
	if err != nil {
		return err
	}

	platform, _ := cmd.Flags().GetString("platform")
	action, _ := cmd.Flags().GetString("action")
	target, _ := cmd.Flags().GetString("target")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	wait, _ := cmd.Flags().GetBool("wait")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	in := gate.RequestInput{
		Platform: platform,
		Action:   action,
		Content:  strings.Join(args, " "),
		Target:   target,
		TTL:      ttl,
	}
	return requestApproval(cmd.Context(), api, os.Stdout, in, wait, timeout)
}

func requestApproval(ctx context.Context, api gateAPI, out io.Writer, in gate.RequestInput, wait bool, timeout time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ticket, err := api.RequestApproval(ctx, in)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Request %s is %s.\n", ticket.RequestID, ticket.Status)
	if ticket.ApprovalURL != "" {
		fmt.Fprintf(out, "Approve at: %s\n", ticket.ApprovalURL)
	}
	if !ticket.ExpiresAt.IsZero() {
		fmt.Fprintf(out, "Expires:    %s\n", ticket.ExpiresAt.Local().Format(time.RFC3339))
	}
	if !wait {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	view, err := api.WaitForDecision(waitCtx, ticket.RequestID, 0)
	if err != nil {
		return fmt.Errorf("waiting for decision on %s: %w", ticket.RequestID, err)
	}
	printDecision(out, view)
	if view.Status != approval.StatusApproved {
		return fmt.Errorf("request %s was %s", view.RequestID, view.Status)
	}
	return nil
}

func printDecision(out io.Writer, view gate.StatusView) {
	switch view.Status {
	case approval.StatusApproved:
		fmt.Fprintf(out, "Approved by %s.\nToken: %s\n", view.DecidedBy, view.Token)
		if !view.TokenExpiresAt.IsZero() {
			fmt.Fprintf(out, "Token expires: %s\n", view.TokenExpiresAt.Local().Format(time.RFC3339))
		}
	case approval.StatusDenied:
		fmt.Fprintf(out, "Denied by %s.\n", view.DecidedBy)
	default:
		fmt.Fprintf(out, "Request %s.\n", view.Status)
	}
}
