package gate

import (
	"context"
	"time"

	"github.com/MEKXH/postgate/internal/approval"
	"github.com/MEKXH/postgate/internal/channel"
)

// ReasonUnavailable is reported when redemption could not reach a verdict.
const ReasonUnavailable = "unavailable"

// Replies shown to the actor who pressed a button.
const (
	ReplyApproved      = "✅ Posting approved! Agent can now proceed."
	ReplyDenied        = "❌ Posting denied."
	ReplyNotFound      = "❌ Approval request not found or expired"
	ReplyUnknownAction = channel.ReplyUnknownAction
	ReplyIssueFailed   = "❌ Could not issue an approval token, try again"
)

// Notifier delivers prompts to humans and keeps them in sync with the request.
// *channel.Manager implements it.
type Notifier interface {
	Publish(ctx context.Context, prompt channel.Prompt) (approval.PromptRef, error)
	UpdatePrompt(ctx context.Context, ref approval.PromptRef, state channel.PromptState) error
}

// RequestInput is what a caller asks permission for.
type RequestInput struct {
	Platform string
	Action   string
	Content  string
	Target   string
	TTL      time.Duration
}

// Ticket is returned once a request is pending and its prompt is out.
type Ticket struct {
	RequestID   string             `json:"request_id"`
	Status      string             `json:"status"`
	PromptRef   approval.PromptRef `json:"prompt_ref"`
	ApprovalURL string             `json:"approval_url,omitempty"`
	ExpiresAt   time.Time          `json:"expires_at"`
}

// StatusView is the caller-facing state of a request. Token is only present
// while the request is approved.
type StatusView struct {
	RequestID      string                 `json:"request_id"`
	Status         approval.RequestStatus `json:"status"`
	Platform       string                 `json:"platform"`
	Action         string                 `json:"action"`
	Token          string                 `json:"token,omitempty"`
	TokenExpiresAt time.Time              `json:"token_expires_at,omitzero"`
	ExpiresAt      time.Time              `json:"expires_at"`
	DecidedBy      string                 `json:"decided_by,omitempty"`
	DecidedAt      time.Time              `json:"decided_at,omitzero"`
}

// Verdict is the outcome of a redemption.
type Verdict struct {
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Outcome is the result of applying one decision event.
type Outcome struct {
	Accepted bool
	Request  approval.Request
	Reply    string
	Err      error
}

// Health summarizes the live registries.
type Health struct {
	Status           string        `json:"status"`
	PendingCount     int           `json:"pendingCount"`
	ActiveTokenCount int           `json:"activeTokenCount"`
	Uptime           time.Duration `json:"-"`
}

func promptFor(req approval.Request) channel.Prompt {
	return channel.Prompt{
		RequestID: req.ID,
		Platform:  req.Platform,
		Action:    req.Action,
		Content:   req.Content,
		Target:    req.Target,
		ExpiresAt: req.ExpiresAt,
	}
}

func stateFor(req approval.Request) channel.PromptState {
	return channel.PromptState{
		Prompt:    promptFor(req),
		Status:    req.Status,
		DecidedBy: req.DecidedBy,
		DecidedAt: req.DecidedAt,
	}
}
