package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MEKXH/postgate/internal/approval"
	"github.com/MEKXH/postgate/internal/client"
	"github.com/MEKXH/postgate/internal/config"
	"github.com/MEKXH/postgate/internal/gate"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#8E4EC6")).
			Padding(0, 1).
			MarginBottom(1)
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(16)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	okColor   = lipgloss.Color("#2E8B57")
	failColor = lipgloss.Color("#FF0000")
)

// statusColors match the prompt colors used in chat.
var statusColors = map[approval.RequestStatus]lipgloss.Color{
	approval.StatusPending:  lipgloss.Color("#FFA500"),
	approval.StatusApproved: lipgloss.Color("#00FF00"),
	approval.StatusDenied:   lipgloss.Color("#FF0000"),
	approval.StatusExpired:  lipgloss.Color("#808080"),
}

func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [request-id]",
		Short: "Show gate status, or the state of one request",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStatus,
	}
	addClientFlags(cmd)
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, api, err := loadGateClient(cmd)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if cmd != nil && cmd.Context() != nil {
		ctx = cmd.Context()
	}

	if len(args) == 1 {
		view, err := api.Status(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Print(renderRequestStatus(view))
		return nil
	}

	health, herr := api.Health(ctx)
	fmt.Print(renderGateStatus(cfg, health, herr))
	return nil
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value) + "\n"
}

func renderGateStatus(cfg *config.Config, health client.HealthView, healthErr error) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Postgate Status"))
	b.WriteString("\n")

	configState := "OK"
	if _, err := os.Stat(config.ConfigPath()); err != nil {
		configState = "not found (run 'postgate init')"
	}
	b.WriteString(row("Config", config.ConfigPath()+" "+mutedStyle.Render(configState)))
	b.WriteString(row("Gateway", cfg.Client.ServerURL))

	if healthErr != nil {
		b.WriteString(row("Health", lipgloss.NewStyle().Foreground(failColor).Render("unreachable")))
		b.WriteString(row("", mutedStyle.Render(healthErr.Error())))
	} else {
		b.WriteString(row("Health", lipgloss.NewStyle().Foreground(okColor).Render(health.Status)))
		b.WriteString(row("Pending", fmt.Sprintf("%d", health.PendingCount)))
		b.WriteString(row("Active tokens", fmt.Sprintf("%d", health.ActiveTokenCount)))
		b.WriteString(row("Uptime", health.UptimeDuration().String()))
	}

	b.WriteString(row("Channels", channelList(cfg.EnabledChannels())))
	b.WriteString(row("Policy", cfg.Policy.Mode))
	b.WriteString(row("Restricted", strings.Join(cfg.Policy.RestrictedPlatforms, ", ")))
	b.WriteString(row("Request TTL", cfg.Approval.RequestTTLDuration().String()))
	b.WriteString(row("Token TTL", cfg.Approval.TokenTTLDuration().String()))
	return b.String()
}

func renderRequestStatus(view gate.StatusView) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Request " + view.RequestID))
	b.WriteString("\n")

	color, ok := statusColors[view.Status]
	if !ok {
		color = lipgloss.Color("245")
	}
	b.WriteString(row("Status", lipgloss.NewStyle().Bold(true).Foreground(color).Render(strings.ToUpper(string(view.Status)))))
	if view.Platform != "" {
		b.WriteString(row("Scope", view.Platform+"/"+view.Action))
	}
	if !view.ExpiresAt.IsZero() {
		b.WriteString(row("Expires", view.ExpiresAt.Local().Format(time.RFC3339)))
	}
	if view.DecidedBy != "" {
		b.WriteString(row("Decided by", view.DecidedBy))
	}
	if !view.DecidedAt.IsZero() {
		b.WriteString(row("Decided at", view.DecidedAt.Local().Format(time.RFC3339)))
	}
	if view.Token != "" {
		b.WriteString(row("Token", view.Token))
		if !view.TokenExpiresAt.IsZero() {
			b.WriteString(row("Token expires", view.TokenExpiresAt.Local().Format(time.RFC3339)))
		}
	}
	return b.String()
}
