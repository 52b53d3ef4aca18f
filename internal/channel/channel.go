package channel

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MEKXH/postgate/internal/approval"
	"github.com/MEKXH/postgate/internal/bus"
)

// ErrNotAllowed is returned when an actor outside the allow list decides.
var ErrNotAllowed = errors.New("actor not allowed to decide")

// Prompt is the human-facing description of a pending request.
type Prompt struct {
	RequestID string
	Platform  string
	Action    string
	Content   string
	Target    string
	ExpiresAt time.Time
}

// PromptState is a prompt after its request changed status.
type PromptState struct {
	Prompt    Prompt
	Status    approval.RequestStatus
	DecidedBy string
	DecidedAt time.Time
}

// Channel interface for chat platforms that can carry approval prompts
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Publish(ctx context.Context, prompt Prompt) (approval.PromptTarget, error)
	UpdatePrompt(ctx context.Context, target approval.PromptTarget, state PromptState) error
}

// BaseChannel provides common functionality
type BaseChannel struct {
	Decisions *bus.DecisionBus
	AllowList map[string]bool
}

// NewAllowList builds an allow list from configured ids.
func NewAllowList(ids []string) map[string]bool {
	allowList := make(map[string]bool)
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			continue
		}
		allowList[id] = true
	}
	return allowList
}

// IsAllowed checks if sender is permitted
func (b *BaseChannel) IsAllowed(senderID string) bool {
	if len(b.AllowList) == 0 {
		return true
	}

	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for allowed := range b.AllowList {
		normalized := strings.TrimSpace(allowed)
		trimmed := strings.TrimPrefix(normalized, "@")
		if normalized == senderID || trimmed == senderID ||
			normalized == idPart || trimmed == idPart ||
			(userPart != "" && (normalized == userPart || trimmed == userPart)) {
			return true
		}
	}

	return false
}

// PublishDecision forwards a decision to the gate. Actors outside the allow
// list are told so and the decision is dropped.
func (b *BaseChannel) PublishDecision(ctx context.Context, d bus.Decision, senderKey string) error {
	if !b.IsAllowed(senderKey) {
		if d.Respond != nil {
			_ = d.Respond(ctx, bus.Reply{Text: ReplyNotAllowed})
		}
		return ErrNotAllowed
	}
	if b.Decisions == nil {
		return errors.New("decision bus not configured")
	}
	return b.Decisions.Publish(ctx, d)
}
