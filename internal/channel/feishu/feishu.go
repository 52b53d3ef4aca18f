package feishu

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MEKXH/postgate/internal/approval"
	"github.com/MEKXH/postgate/internal/bus"
	"github.com/MEKXH/postgate/internal/channel"
	"github.com/MEKXH/postgate/internal/config"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkdispatcher "github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher/callback"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
)

const (
	decisionPublishTimeout = 2500 * time.Millisecond
	// Feishu drops card callbacks that are not answered within three seconds.
	defaultReplyWait = 2500 * time.Millisecond

	customIDKey = "custom_id"

	replyReceived = "⏳ Decision received"
	replyBusy     = "❌ Gate is busy, try again"
)

// messenger is the slice of the Lark IM API the channel uses.
type messenger interface {
	CreateCard(ctx context.Context, chatID, dedupeKey, card string) (string, error)
	PatchCard(ctx context.Context, messageID, card string) error
}

// Channel implements Feishu approval prompts as interactive cards. Button
// presses arrive as card action callbacks over the event websocket.
type Channel struct {
	channel.BaseChannel
	cfg       *config.FeishuConfig
	replyWait time.Duration

	mu      sync.RWMutex
	im      messenger
	running bool
}

// New creates a Feishu channel.
func New(cfg *config.FeishuConfig, decisions *bus.DecisionBus) *Channel {
	return &Channel{
		BaseChannel: channel.BaseChannel{Decisions: decisions, AllowList: channel.NewAllowList(cfg.AllowFrom)},
		cfg:         cfg,
		replyWait:   defaultReplyWait,
	}
}

func (c *Channel) Name() string { return "feishu" }

// Start opens the event websocket and serves card callbacks until ctx is done.
func (c *Channel) Start(ctx context.Context) error {
	if c.cfg == nil {
		return fmt.Errorf("missing feishu config")
	}
	if strings.TrimSpace(c.cfg.AppID) == "" || strings.TrimSpace(c.cfg.AppSecret) == "" {
		return fmt.Errorf("feishu app_id/app_secret are required")
	}
	if strings.TrimSpace(c.cfg.ChatID) == "" {
		return fmt.Errorf("feishu chat_id is required")
	}

	dispatcher := larkdispatcher.NewEventDispatcher(c.cfg.VerificationToken, c.cfg.EncryptKey).
		OnP2CardActionTrigger(c.handleCardAction)
	ws := larkws.NewClient(c.cfg.AppID, c.cfg.AppSecret, larkws.WithEventHandler(dispatcher))

	c.mu.Lock()
	c.im = &larkMessenger{client: lark.NewClient(c.cfg.AppID, c.cfg.AppSecret)}
	c.running = true
	c.mu.Unlock()

	slog.Info("feishu channel started", "chat_id", c.cfg.ChatID)
	if err := ws.Start(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("feishu websocket exited: %w", err)
	}
	return nil
}

func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.running = false
	c.im = nil
	c.mu.Unlock()
	return nil
}

// Publish posts the prompt card with Approve/Deny buttons.
func (c *Channel) Publish(ctx context.Context, prompt channel.Prompt) (approval.PromptTarget, error) {
	im, err := c.activeMessenger()
	if err != nil {
		return approval.PromptTarget{}, err
	}
	card, err := buildCard(prompt, nil)
	if err != nil {
		return approval.PromptTarget{}, err
	}
	messageID, err := im.CreateCard(ctx, c.cfg.ChatID, "postgate-"+prompt.RequestID, card)
	if err != nil {
		return approval.PromptTarget{}, fmt.Errorf("send feishu prompt: %w", err)
	}
	return approval.PromptTarget{
		Channel:   c.Name(),
		ChatID:    c.cfg.ChatID,
		MessageID: messageID,
	}, nil
}

// UpdatePrompt replaces the card with its final state, without buttons.
func (c *Channel) UpdatePrompt(ctx context.Context, target approval.PromptTarget, state channel.PromptState) error {
	im, err := c.activeMessenger()
	if err != nil {
		return err
	}
	card, err := buildCard(state.Prompt, &state)
	if err != nil {
		return err
	}
	if err := im.PatchCard(ctx, target.MessageID, card); err != nil {
		return fmt.Errorf("patch feishu prompt: %w", err)
	}
	return nil
}

func (c *Channel) handleCardAction(ctx context.Context, event *callback.CardActionTriggerEvent) (*callback.CardActionTriggerResponse, error) {
	if event == nil || event.Event == nil {
		return nil, nil
	}
	req := event.Event

	var customID, operatorID string
	if req.Action != nil {
		customID, _ = req.Action.Value[customIDKey].(string)
	}
	if req.Operator != nil {
		operatorID = req.Operator.OpenID
		if req.Operator.UserID != nil && *req.Operator.UserID != "" {
			operatorID = *req.Operator.UserID
		}
	}

	reply := c.decide(ctx, customID, operatorID)
	return &callback.CardActionTriggerResponse{Toast: toastFor(reply)}, nil
}

// decide publishes the button press and waits briefly for the gate's reply so
// it can be shown as a toast. Replies that arrive later are dropped; the card
// itself is patched once the request is decided.
func (c *Channel) decide(ctx context.Context, customID, operatorID string) bus.Reply {
	action, requestID, ok := bus.ParseCustomID(customID)
	if !ok || operatorID == "" {
		return bus.Reply{Text: channel.ReplyUnknownAction}
	}

	replies := make(chan bus.Reply, 1)
	respond := func(_ context.Context, reply bus.Reply) error {
		select {
		case replies <- reply:
		default:
		}
		return nil
	}

	pubCtx, cancel := context.WithTimeout(ctx, decisionPublishTimeout)
	defer cancel()
	err := c.PublishDecision(pubCtx, bus.Decision{
		Action:    action,
		RequestID: requestID,
		ActorID:   operatorID,
		Channel:   c.Name(),
		Respond:   respond,
	}, operatorID)
	if err != nil && err != channel.ErrNotAllowed {
		slog.Warn("feishu decision dropped", "request_id", requestID, "error", err)
		return bus.Reply{Text: replyBusy}
	}

	wait := time.NewTimer(c.replyWait)
	defer wait.Stop()
	select {
	case reply := <-replies:
		return reply
	case <-wait.C:
		return bus.Reply{Accepted: true, Text: replyReceived}
	case <-ctx.Done():
		return bus.Reply{Accepted: true, Text: replyReceived}
	}
}

func (c *Channel) activeMessenger() (messenger, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.running || c.im == nil {
		return nil, fmt.Errorf("feishu channel not running")
	}
	return c.im, nil
}

func toastFor(reply bus.Reply) *callback.Toast {
	kind := "error"
	if reply.Accepted {
		kind = "success"
	}
	return &callback.Toast{Type: kind, Content: reply.Text}
}

type larkMessenger struct {
	client *lark.Client
}

func (m *larkMessenger) CreateCard(ctx context.Context, chatID, dedupeKey, card string) (string, error) {
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(larkim.MsgTypeInteractive).
			Content(card).
			Uuid(dedupeKey).
			Build()).
		Build()

	resp, err := m.client.Im.V1.Message.Create(ctx, req)
	if err != nil {
		return "", err
	}
	if !resp.Success() {
		return "", fmt.Errorf("feishu api error: code=%d msg=%s", resp.Code, resp.Msg)
	}
	if resp.Data == nil || resp.Data.MessageId == nil {
		return "", fmt.Errorf("feishu api returned no message id")
	}
	return *resp.Data.MessageId, nil
}

func (m *larkMessenger) PatchCard(ctx context.Context, messageID, card string) error {
	req := larkim.NewPatchMessageReqBuilder().
		MessageId(messageID).
		Body(larkim.NewPatchMessageReqBodyBuilder().
			Content(card).
			Build()).
		Build()

	resp, err := m.client.Im.V1.Message.Patch(ctx, req)
	if err != nil {
		return err
	}
	if !resp.Success() {
		return fmt.Errorf("feishu api error: code=%d msg=%s", resp.Code, resp.Msg)
	}
	return nil
}
