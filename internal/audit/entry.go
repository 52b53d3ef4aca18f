package audit

import (
	"time"
	"unicode/utf8"
)

// Event names recorded in the audit trail.
const (
	EventRequested      = "requested"
	EventApproved       = "approved"
	EventDenied         = "denied"
	EventExpired        = "expired"
	EventConsumed       = "consumed"
	EventScopeMismatch  = "scope_mismatch"
	EventRedeemRejected = "redeem_rejected"
	EventPromptFailed   = "prompt_failed"
)

const (
	defaultPreviewLength = 100
	tokenPreviewLength   = 8
	ellipsis             = "..."
)

// Entry is one audit record written as a single JSON line.
type Entry struct {
	Time      time.Time `json:"time"`
	Event     string    `json:"event"`
	RequestID string    `json:"request_id,omitempty"`
	Platform  string    `json:"platform,omitempty"`
	Action    string    `json:"action,omitempty"`
	Content   string    `json:"content,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Token     string    `json:"token,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// PreviewContent truncates s to limit runes and appends "..." when cut.
func PreviewContent(s string, limit int) string {
	if limit <= 0 {
		limit = defaultPreviewLength
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + ellipsis
}

// PreviewToken keeps the first eight characters of a token value.
func PreviewToken(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= tokenPreviewLength {
		return value + ellipsis
	}
	return value[:tokenPreviewLength] + ellipsis
}
