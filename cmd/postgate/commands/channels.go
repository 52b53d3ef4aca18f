package commands

import (
	"fmt"
	"strings"

	"github.com/MEKXH/postgate/internal/config"
	"github.com/spf13/cobra"
)

func NewChannelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Manage approval channels",
	}

	cmd.AddCommand(
		newChannelsListCmd(),
		newChannelsStatusCmd(),
		newChannelsEnableCmd(),
		newChannelsDisableCmd(),
	)

	return cmd
}

func newChannelsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all supported channels",
		RunE:  runChannelsList,
	}
}

func newChannelsStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show detailed channel status",
		RunE:  runChannelsStatus,
	}
}

func newChannelsEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <channel>",
		Short: "Enable a channel in config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChannelsSetEnabled(args[0], true)
		},
	}
}

func newChannelsDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <channel>",
		Short: "Disable a channel in config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChannelsSetEnabled(args[0], false)
		},
	}
}

func runChannelsList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println("Channels:")
	fmt.Printf("  %-10s %-10s %s\n", "NAME", "STATUS", "NOTE")
	fmt.Printf("  %-10s %-10s %s\n", strings.Repeat("-", 10), strings.Repeat("-", 10), strings.Repeat("-", 20))

	for _, state := range channelStates(cfg) {
		fmt.Printf("  %-10s %-10s %s\n", state.Name, state.Status(), state.Note())
	}

	return nil
}

func runChannelsStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println("=== Channel Status ===")
	fmt.Println()

	for _, state := range channelStates(cfg) {
		fmt.Printf("%s:\n", titleCase(state.Name))
		fmt.Printf("  Enabled:    %v\n", state.Enabled)
		fmt.Printf("  Readiness:  %s\n", state.Note())
		if state.Name == "webhook" {
			fmt.Println("  Allow From: n/a (decisions arrive via /decision-webhook)")
		} else if len(state.AllowFrom) > 0 {
			fmt.Printf("  Allow From: %s\n", strings.Join(state.AllowFrom, ", "))
		} else {
			fmt.Println("  Allow From: all (no restrictions)")
		}
		fmt.Println()
	}

	return nil
}

func runChannelsSetEnabled(channelName string, enabled bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	name := strings.ToLower(strings.TrimSpace(channelName))
	switch name {
	case "discord":
		cfg.Channels.Discord.Enabled = enabled
	case "telegram":
		cfg.Channels.Telegram.Enabled = enabled
	case "slack":
		cfg.Channels.Slack.Enabled = enabled
	case "feishu":
		cfg.Channels.Feishu.Enabled = enabled
	case "webhook":
		if enabled && strings.TrimSpace(cfg.Channels.Webhook.URL) == "" {
			return fmt.Errorf("set channels.webhook.url before enabling the webhook channel")
		}
		cfg.Channels.Webhook.Enabled = enabled
	default:
		return fmt.Errorf("unknown channel: %s", channelName)
	}

	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Printf("Channel %s %s.\n", name, state)
	return nil
}

type channelState struct {
	Name      string
	Enabled   bool
	Ready     bool
	Reason    string
	AllowFrom []string
}

func (s channelState) Status() string {
	if s.Enabled {
		return "enabled"
	}
	return "disabled"
}

func (s channelState) Note() string {
	if !s.Enabled {
		return ""
	}
	if s.Ready {
		return "ready"
	}
	return s.Reason
}

func channelStates(cfg *config.Config) []channelState {
	return []channelState{
		{
			Name:      "discord",
			Enabled:   cfg.Channels.Discord.Enabled,
			Ready:     strings.TrimSpace(cfg.Channels.Discord.Token) != "" && strings.TrimSpace(cfg.Channels.Discord.ChannelID) != "",
			Reason:    "token/channel_id not set",
			AllowFrom: cfg.Channels.Discord.AllowFrom,
		},
		{
			Name:      "telegram",
			Enabled:   cfg.Channels.Telegram.Enabled,
			Ready:     strings.TrimSpace(cfg.Channels.Telegram.Token) != "" && strings.TrimSpace(cfg.Channels.Telegram.ChatID) != "",
			Reason:    "token/chat_id not set",
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
		},
		{
			Name:      "slack",
			Enabled:   cfg.Channels.Slack.Enabled,
			Ready:     strings.TrimSpace(cfg.Channels.Slack.BotToken) != "" && strings.TrimSpace(cfg.Channels.Slack.AppToken) != "" && strings.TrimSpace(cfg.Channels.Slack.ChannelID) != "",
			Reason:    "bot_token/app_token/channel_id not set",
			AllowFrom: cfg.Channels.Slack.AllowFrom,
		},
		{
			Name:      "feishu",
			Enabled:   cfg.Channels.Feishu.Enabled,
			Ready:     strings.TrimSpace(cfg.Channels.Feishu.AppID) != "" && strings.TrimSpace(cfg.Channels.Feishu.AppSecret) != "" && strings.TrimSpace(cfg.Channels.Feishu.ChatID) != "",
			Reason:    "app_id/app_secret/chat_id not set",
			AllowFrom: cfg.Channels.Feishu.AllowFrom,
		},
		{
			Name:    "webhook",
			Enabled: cfg.Channels.Webhook.Enabled,
			Ready:   strings.TrimSpace(cfg.Channels.Webhook.URL) != "",
			Reason:  "url not set",
		},
	}
}

func titleCase(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
