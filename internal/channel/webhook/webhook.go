// Package webhook delivers approval prompts to an arbitrary HTTP endpoint and
// accepts decisions posted back to the gateway.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MEKXH/postgate/internal/approval"
	"github.com/MEKXH/postgate/internal/bus"
	"github.com/MEKXH/postgate/internal/channel"
	"github.com/MEKXH/postgate/internal/config"
)

const (
	EventPrompt = "prompt"
	EventUpdate = "update"
	EventReply  = "reply"

	eventHeader       = "X-Postgate-Event"
	defaultRetryDelay = time.Second
	maxResponseBytes  = 64 * 1024
)

// Payload is the JSON body POSTed to the endpoint.
type Payload struct {
	Type      string    `json:"type"`
	RequestID string    `json:"request_id"`
	Platform  string    `json:"platform,omitempty"`
	Action    string    `json:"action,omitempty"`
	Content   string    `json:"content,omitempty"`
	Target    string    `json:"target,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	ApproveID string    `json:"approve_id,omitempty"`
	DenyID    string    `json:"deny_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	DecidedBy string    `json:"decided_by,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
	Text      string    `json:"text,omitempty"`
}

// publishResponse is the optional body an endpoint returns for a prompt.
type publishResponse struct {
	MessageID string `json:"message_id"`
	URL       string `json:"url"`
}

// Inbound is a decision posted to the gateway by the remote side. Either
// Action+RequestID or CustomID identifies the decision.
type Inbound struct {
	Action    string `json:"action"`
	RequestID string `json:"requestId"`
	ActorID   string `json:"actorId"`
	CustomID  string `json:"customId"`
	UserID    string `json:"userId"`
}

// Channel posts prompts to a configured URL.
type Channel struct {
	channel.BaseChannel
	url        string
	headers    map[string]string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration

	mu      sync.RWMutex
	running bool
}

// New creates a webhook channel. It returns an error if the URL is invalid.
func New(cfg *config.WebhookConfig, decisions *bus.DecisionBus) (*Channel, error) {
	if cfg == nil || strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("webhook URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid webhook URL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Channel{
		BaseChannel: channel.BaseChannel{Decisions: decisions},
		url:         strings.TrimSpace(cfg.URL),
		headers:     cfg.Headers,
		client:      &http.Client{Timeout: time.Duration(timeout) * time.Second},
		maxRetries:  maxRetries,
		retryDelay:  defaultRetryDelay,
	}, nil
}

func (c *Channel) Name() string { return "webhook" }

func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	slog.Info("webhook channel ready", "url", c.url)
	return nil
}

func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	return nil
}

// Publish posts the prompt. The endpoint may answer with a message id and a
// link; otherwise the request id identifies the prompt.
func (c *Channel) Publish(ctx context.Context, prompt channel.Prompt) (approval.PromptTarget, error) {
	if !c.isRunning() {
		return approval.PromptTarget{}, fmt.Errorf("webhook channel not running")
	}
	body, err := c.post(ctx, Payload{
		Type:      EventPrompt,
		RequestID: prompt.RequestID,
		Platform:  prompt.Platform,
		Action:    prompt.Action,
		Content:   prompt.Content,
		Target:    prompt.Target,
		ExpiresAt: prompt.ExpiresAt,
		ApproveID: bus.CustomID(bus.ActionApprove, prompt.RequestID),
		DenyID:    bus.CustomID(bus.ActionDeny, prompt.RequestID),
	})
	if err != nil {
		return approval.PromptTarget{}, err
	}

	target := approval.PromptTarget{Channel: c.Name(), ChatID: c.url, MessageID: prompt.RequestID}
	var resp publishResponse
	if len(bytes.TrimSpace(body)) > 0 && json.Unmarshal(body, &resp) == nil {
		if resp.MessageID != "" {
			target.MessageID = resp.MessageID
		}
		target.URL = resp.URL
	}
	return target, nil
}

// UpdatePrompt posts the final status of a prompt.
func (c *Channel) UpdatePrompt(ctx context.Context, target approval.PromptTarget, state channel.PromptState) error {
	if !c.isRunning() {
		return fmt.Errorf("webhook channel not running")
	}
	_, err := c.post(ctx, Payload{
		Type:      EventUpdate,
		RequestID: state.Prompt.RequestID,
		Platform:  state.Prompt.Platform,
		Action:    state.Prompt.Action,
		Status:    string(state.Status),
		DecidedBy: state.DecidedBy,
		MessageID: target.MessageID,
		Text:      state.StatusLabel(),
	})
	return err
}

// HandleInbound turns a posted decision into a bus event. The reply to the
// actor is delivered back to the endpoint as a "reply" event.
func (c *Channel) HandleInbound(ctx context.Context, in Inbound) error {
	action, requestID, ok := parseInbound(in)
	if !ok {
		return fmt.Errorf("malformed decision payload")
	}
	actor := inboundActor(in)

	respond := func(rctx context.Context, reply bus.Reply) error {
		_, err := c.post(rctx, Payload{Type: EventReply, RequestID: requestID, ActorID: actor, Text: reply.Text})
		return err
	}
	return c.PublishDecision(ctx, bus.Decision{
		Action:    action,
		RequestID: requestID,
		ActorID:   actor,
		Channel:   c.Name(),
		Respond:   respond,
	}, actor)
}

// Forward publishes a posted decision when no webhook channel is configured.
// The actor gets no reply.
func Forward(ctx context.Context, decisions *bus.DecisionBus, in Inbound) error {
	action, requestID, ok := parseInbound(in)
	if !ok {
		return fmt.Errorf("malformed decision payload")
	}
	if decisions == nil {
		return errors.New("decision bus not configured")
	}
	return decisions.Publish(ctx, bus.Decision{
		Action:    action,
		RequestID: requestID,
		ActorID:   inboundActor(in),
		Channel:   "webhook",
	})
}

func inboundActor(in Inbound) string {
	if actor := strings.TrimSpace(in.ActorID); actor != "" {
		return actor
	}
	if actor := strings.TrimSpace(in.UserID); actor != "" {
		return actor
	}
	return "webhook"
}

func parseInbound(in Inbound) (bus.DecisionAction, string, bool) {
	if strings.TrimSpace(in.CustomID) != "" {
		return bus.ParseCustomID(in.CustomID)
	}
	action, ok := bus.ParseAction(in.Action)
	requestID := strings.TrimSpace(in.RequestID)
	if !ok || requestID == "" {
		return "", "", false
	}
	return action, requestID, true
}

func (c *Channel) isRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// post sends payload, retrying network errors and 5xx responses with
// exponential backoff. 4xx responses fail immediately.
func (c *Channel) post(ctx context.Context, payload Payload) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 0 {
			delay := c.retryDelay * (1 << (attempt - 1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(eventHeader, payload.Type)
		for k, v := range c.headers {
			req.Header.Set(k, v)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("webhook request failed: %w", err)
			continue
		}
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return respBody, nil
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("webhook server error: status %d", resp.StatusCode)
			continue
		}
		return nil, fmt.Errorf("webhook request rejected: status %d", resp.StatusCode)
	}
	return nil, fmt.Errorf("webhook delivery failed after %d retries: %w", c.maxRetries, lastErr)
}
