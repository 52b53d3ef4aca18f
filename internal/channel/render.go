package channel

import (
	"fmt"
	"strings"

	"github.com/MEKXH/postgate/internal/approval"
)

// Prompt colors.
const (
	ColorPending  = 0xFFA500
	ColorApproved = 0x00FF00
	ColorDenied   = 0xFF0000
	ColorExpired  = 0x808080
)

// Button labels and stock texts shared by the adapters.
const (
	PromptTitle   = "🔒 Posting Approval Required"
	ApproveLabel  = "✅ Approve"
	DenyLabel     = "❌ Deny"
	DefaultTarget = "Default"
	NoContent     = "No content"

	ReplyNotAllowed    = "❌ You are not allowed to decide on posting requests."
	ReplyUnknownAction = "❌ Unknown action"
)

// StatusColor maps a status to its prompt color.
func StatusColor(status approval.RequestStatus) int {
	switch status {
	case approval.StatusApproved:
		return ColorApproved
	case approval.StatusDenied:
		return ColorDenied
	case approval.StatusExpired:
		return ColorExpired
	default:
		return ColorPending
	}
}

// Description is the one-line summary shown under the title.
func (p Prompt) Description() string {
	return fmt.Sprintf("Agent wants to %s to **%s**", p.Action, p.Platform)
}

// ContentOrDefault returns the content or a placeholder.
func (p Prompt) ContentOrDefault() string {
	if strings.TrimSpace(p.Content) == "" {
		return NoContent
	}
	return p.Content
}

// TargetOrDefault returns the target or a placeholder.
func (p Prompt) TargetOrDefault() string {
	if strings.TrimSpace(p.Target) == "" {
		return DefaultTarget
	}
	return p.Target
}

// StatusLabel renders the final status line value, e.g. "APPROVED by alice".
func (s PromptState) StatusLabel() string {
	label := strings.ToUpper(string(s.Status))
	if s.DecidedBy != "" && s.DecidedBy != approval.SystemActor {
		label += " by " + s.DecidedBy
	}
	return label
}

// PlainText renders a prompt as markdown-ish text for channels without rich
// embeds. Bold uses **, code uses backticks.
func PlainText(p Prompt) string {
	var sb strings.Builder
	sb.WriteString("**" + PromptTitle + "**\n")
	sb.WriteString(p.Description() + "\n\n")
	sb.WriteString("**Content:**\n" + p.ContentOrDefault() + "\n\n")
	sb.WriteString("**Target:** " + p.TargetOrDefault() + "\n")
	if !p.ExpiresAt.IsZero() {
		sb.WriteString("**Expires:** " + p.ExpiresAt.UTC().Format("15:04:05 MST") + "\n")
	}
	sb.WriteString("**Request ID:** `" + p.RequestID + "`")
	return sb.String()
}

// PlainTextState renders a decided prompt.
func PlainTextState(s PromptState) string {
	return PlainText(s.Prompt) + "\n\n**Status:** " + s.StatusLabel()
}
