package approval

import "time"

// RequestStatus is the lifecycle state of an approval request.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusDenied   RequestStatus = "denied"
	StatusExpired  RequestStatus = "expired"
)

// SystemActor is recorded as the decider when a request times out.
const SystemActor = "system"

// IsTerminal reports whether the status can no longer change.
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusDenied, StatusExpired:
		return true
	}
	return false
}

// IsValid reports whether s is a known status.
func (s RequestStatus) IsValid() bool {
	return s == StatusPending || s.IsTerminal()
}

func (s RequestStatus) String() string { return string(s) }

// PromptTarget identifies one delivered prompt message on one channel.
type PromptTarget struct {
	Channel   string `json:"channel"`
	ChatID    string `json:"chat_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	URL       string `json:"url,omitempty"`
}

// PromptRef is the handle to the published human-facing prompt(s).
type PromptRef struct {
	URL     string         `json:"url,omitempty"`
	Targets []PromptTarget `json:"targets,omitempty"`
}

// IsZero reports whether nothing was published.
func (r PromptRef) IsZero() bool {
	return r.URL == "" && len(r.Targets) == 0
}

// Request is one pending or decided ask for human authorization.
type Request struct {
	ID              string        `json:"id"`
	Platform        string        `json:"platform"`
	Action          string        `json:"action"`
	Content         string        `json:"content"`
	Target          string        `json:"target,omitempty"`
	Status          RequestStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	ExpiresAt       time.Time     `json:"expires_at"`
	DecidedAt       time.Time     `json:"decided_at,omitempty"`
	DecidedBy       string        `json:"decided_by,omitempty"`
	NotificationRef PromptRef     `json:"notification_ref,omitempty"`
	Token           string        `json:"-"`
	TokenExpiresAt  time.Time     `json:"token_expires_at,omitempty"`
}

// CreateInput contains fields needed to create an approval request.
type CreateInput struct {
	Platform string
	Action   string
	Content  string
	Target   string
	TTL      time.Duration
}

// Query filters approval requests when listing.
type Query struct {
	ID       string
	Status   RequestStatus
	Platform string
}

// Listener observes committed status transitions.
type Listener interface {
	RequestTransitioned(req Request)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(req Request)

func (f ListenerFunc) RequestTransitioned(req Request) { f(req) }
