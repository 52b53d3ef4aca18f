package commands

import (
	"github.com/MEKXH/postgate/internal/config"
	"github.com/spf13/cobra"
)

var logLevelOverride string

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "postgate",
		Short: "Postgate - human approval for agent posts",
		Long: `Postgate holds an agent's social-media posts until a human approves them
from Discord, Telegram, Slack or a webhook, then hands out a single-use token.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "init" || cmd.Name() == "version" {
				return configureLogger(config.DefaultConfig(), logLevelOverride)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return configureLogger(cfg, logLevelOverride)
		},
	}

	cmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "Override log level (debug|info|warn|error)")

	cmd.AddCommand(
		NewInitCmd(),
		NewServeCmd(),
		NewRequestCmd(),
		NewStatusCmd(),
		NewRedeemCmd(),
		NewSendCmd(),
		NewHistoryCmd(),
		NewChannelsCmd(),
		NewVersionCmd(),
	)

	return cmd
}
