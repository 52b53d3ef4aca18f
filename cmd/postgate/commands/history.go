package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MEKXH/postgate/internal/audit"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent approval audit entries",
		RunE:  runHistory,
	}
	cmd.Flags().Int("limit", 20, "Number of entries to show")
	addClientFlags(cmd)
	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	_, api, err := loadGateClient(cmd)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	entries, err := api.History(ctx, limit)
	if err != nil {
		return err
	}
	renderHistory(os.Stdout, entries)
	return nil
}

var eventColors = map[string]lipgloss.Color{
	audit.EventRequested:     lipgloss.Color("#FFA500"),
	audit.EventApproved:      lipgloss.Color("#2E8B57"),
	audit.EventConsumed:      lipgloss.Color("#2E8B57"),
	audit.EventDenied:        lipgloss.Color("#FF0000"),
	audit.EventPromptFailed:  lipgloss.Color("#FF0000"),
	audit.EventExpired:       lipgloss.Color("241"),
	audit.EventScopeMismatch: lipgloss.Color("#FFA500"),
}

func renderHistory(out io.Writer, entries []audit.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No audit entries.")
		return
	}

	const (
		wTime    = 20
		wEvent   = 16
		wRequest = 10
		wScope   = 18
		wActor   = 14
	)
	var (
		colHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#8E4EC6")).
				Bold(true).
				MarginRight(1)
		cell    = lipgloss.NewStyle().MarginRight(1)
		idStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(wRequest).MarginRight(1)
	)

	fmt.Fprintln(out, titleStyle.Render("Approval History"))

	headers := lipgloss.JoinHorizontal(lipgloss.Top,
		colHeaderStyle.Width(wTime).Render("TIME"),
		colHeaderStyle.Width(wEvent).Render("EVENT"),
		colHeaderStyle.Width(wRequest).Render("REQUEST"),
		colHeaderStyle.Width(wScope).Render("SCOPE"),
		colHeaderStyle.Width(wActor).Render("ACTOR"),
		colHeaderStyle.Render("DETAIL"),
	)
	fmt.Fprintf(out, "  %s\n", headers)

	for _, e := range entries {
		color, ok := eventColors[e.Event]
		if !ok {
			color = lipgloss.Color("245")
		}
		scope := ""
		if e.Platform != "" || e.Action != "" {
			scope = e.Platform + "/" + e.Action
		}
		row := lipgloss.JoinHorizontal(lipgloss.Top,
			cell.Width(wTime).Render(e.Time.Local().Format("2006-01-02 15:04:05")),
			cell.Width(wEvent).Foreground(color).Render(e.Event),
			idStyle.Render(shortID(e.RequestID)),
			cell.Width(wScope).Render(truncate(scope, wScope)),
			cell.Width(wActor).Render(truncate(e.Actor, wActor)),
			cell.Render(historyDetail(e)),
		)
		fmt.Fprintf(out, "  %s\n", row)
	}
	fmt.Fprintln(out)
}

func historyDetail(e audit.Entry) string {
	var parts []string
	if e.Reason != "" {
		parts = append(parts, e.Reason)
	}
	if e.Token != "" {
		parts = append(parts, "token "+e.Token)
	}
	if e.Content != "" {
		parts = append(parts, fmt.Sprintf("%q", truncate(e.Content, 40)))
	}
	return strings.Join(parts, " ")
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}
