package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func NewRedeemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redeem <token>",
		Short: "Consume an approval token for a platform and action",
		Args:  cobra.ExactArgs(1),
		RunE:  runRedeem,
	}
	cmd.Flags().String("platform", "", "Platform the token was issued for")
	cmd.Flags().String("action", "post", "Action the token was issued for")
	_ = cmd.MarkFlagRequired("platform")
	addClientFlags(cmd)
	return cmd
}

func runRedeem(cmd *cobra.Command, args []string) error {
	_, api, err := loadGateClient(cmd)
	if err != nil {
		return err
	}
	platform, _ := cmd.Flags().GetString("platform")
	action, _ := cmd.Flags().GetString("action")
	return redeemToken(cmd.Context(), api, os.Stdout, args[0], platform, action)
}

func redeemToken(ctx context.Context, api gateAPI, out io.Writer, token, platform, action string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	verdict := api.Redeem(ctx, token, platform, action)
	if !verdict.Allowed {
		return fmt.Errorf("token denied: %s", verdict.Reason)
	}
	fmt.Fprintf(out, "Token accepted for %s/%s (request %s).\n", platform, action, verdict.RequestID)
	return nil
}
