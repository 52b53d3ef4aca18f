package bus

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// DecisionAction is what a human chose on a prompt.
type DecisionAction string

const (
	ActionApprove DecisionAction = "approve"
	ActionDeny    DecisionAction = "deny"
)

// IsValid reports whether a is a known action.
func (a DecisionAction) IsValid() bool {
	return a == ActionApprove || a == ActionDeny
}

// ParseAction normalizes an action name.
func ParseAction(s string) (DecisionAction, bool) {
	a := DecisionAction(strings.ToLower(strings.TrimSpace(s)))
	return a, a.IsValid()
}

// CustomID builds the button identifier for an action on a request.
func CustomID(action DecisionAction, requestID string) string {
	return string(action) + "_" + requestID
}

// ParseCustomID splits a button identifier into action and request id.
func ParseCustomID(customID string) (DecisionAction, string, bool) {
	prefix, requestID, ok := strings.Cut(strings.TrimSpace(customID), "_")
	if !ok || requestID == "" {
		return "", "", false
	}
	action, valid := ParseAction(prefix)
	if !valid {
		return "", "", false
	}
	return action, requestID, true
}

// Reply is the message shown back to the actor who made a decision.
type Reply struct {
	Accepted bool
	Text     string
}

// Decision is one approve/deny event raised by a chat adapter.
type Decision struct {
	Action    DecisionAction
	RequestID string
	ActorID   string
	Channel   string
	TraceID   string
	// Respond delivers the outcome to the actor, ephemerally where the
	// platform supports it. May be nil.
	Respond func(ctx context.Context, reply Reply) error
}

// ErrBusClosed is returned when publishing to a closed bus.
var ErrBusClosed = errors.New("decision bus closed")

// DecisionBus carries decision events from chat adapters to the gate.
type DecisionBus struct {
	ch        chan Decision
	done      chan struct{}
	closeOnce sync.Once
}

// NewDecisionBus creates a bus with the given buffer size.
func NewDecisionBus(buffer int) *DecisionBus {
	if buffer < 0 {
		buffer = 0
	}
	return &DecisionBus{
		ch:   make(chan Decision, buffer),
		done: make(chan struct{}),
	}
}

// Publish enqueues a decision, blocking until there is room, ctx is done or
// the bus is closed.
func (b *DecisionBus) Publish(ctx context.Context, d Decision) error {
	select {
	case <-b.done:
		return ErrBusClosed
	default:
	}
	if d.TraceID == "" {
		d.TraceID = RequestIDFromContext(ctx)
	}
	if d.TraceID == "" {
		d.TraceID = NewRequestID()
	}
	select {
	case b.ch <- d:
		return nil
	case <-b.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Decisions returns the receive side of the bus.
func (b *DecisionBus) Decisions() <-chan Decision {
	return b.ch
}

// Done is closed when the bus is closed.
func (b *DecisionBus) Done() <-chan struct{} {
	return b.done
}

// Close stops accepting new decisions.
func (b *DecisionBus) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}
