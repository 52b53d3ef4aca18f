package slack

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
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

const (
	decisionPublishTimeout = 2500 * time.Millisecond
	actionsBlockID         = "postgate_decision"
)

// api is the subset of *slack.Client the channel uses.
type api interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	PostEphemeralContext(ctx context.Context, channelID, userID string, options ...slack.MsgOption) (string, error)
	GetPermalinkContext(ctx context.Context, params *slack.PermalinkParameters) (string, error)
}

// Channel implements Slack approval prompts over Socket Mode.
type Channel struct {
	channel.BaseChannel
	cfg          *config.SlackConfig
	api          api
	socketClient *socketmode.Client

	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a Slack channel.
func New(cfg *config.SlackConfig, decisions *bus.DecisionBus) *Channel {
	return &Channel{
		BaseChannel: channel.BaseChannel{Decisions: decisions, AllowList: channel.NewAllowList(cfg.AllowFrom)},
		cfg:         cfg,
	}
}

func (c *Channel) Name() string { return "slack" }

func (c *Channel) Start(ctx context.Context) error {
	if c.cfg == nil {
		return fmt.Errorf("missing slack config")
	}
	if strings.TrimSpace(c.cfg.BotToken) == "" || strings.TrimSpace(c.cfg.AppToken) == "" {
		return fmt.Errorf("slack bot_token and app_token are required")
	}
	if strings.TrimSpace(c.cfg.ChannelID) == "" {
		return fmt.Errorf("slack channel_id is empty")
	}

	client := slack.New(c.cfg.BotToken, slack.OptionAppLevelToken(c.cfg.AppToken))
	authResp, err := client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth failed: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	socketClient := socketmode.New(client)

	c.mu.Lock()
	c.api = client
	c.socketClient = socketClient
	c.running = true
	c.ctx = runCtx
	c.cancel = cancel
	c.mu.Unlock()

	go c.eventLoop()
	go func() {
		if err := socketClient.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			slog.Error("slack socket mode exited", "error", err)
		}
	}()

	slog.Info("slack channel connected", "team", authResp.Team, "bot_user_id", authResp.UserID)
	return nil
}

func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.running = false
	c.socketClient = nil
	c.api = nil
	c.mu.Unlock()
	return nil
}

// Publish posts the prompt as Block Kit with Approve/Deny buttons.
func (c *Channel) Publish(ctx context.Context, prompt channel.Prompt) (approval.PromptTarget, error) {
	client, err := c.activeAPI()
	if err != nil {
		return approval.PromptTarget{}, err
	}
	channelID := strings.TrimSpace(c.cfg.ChannelID)

	respChannel, ts, err := client.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(channel.PromptTitle, false),
		slack.MsgOptionBlocks(buildBlocks(prompt, nil)...),
	)
	if err != nil {
		return approval.PromptTarget{}, fmt.Errorf("send slack prompt: %w", err)
	}
	if respChannel == "" {
		respChannel = channelID
	}

	target := approval.PromptTarget{Channel: c.Name(), ChatID: respChannel, MessageID: ts}
	if link, err := client.GetPermalinkContext(ctx, &slack.PermalinkParameters{Channel: respChannel, Ts: ts}); err == nil {
		target.URL = link
	} else {
		slog.Debug("slack permalink unavailable", "channel_id", respChannel, "error", err)
	}
	return target, nil
}

// UpdatePrompt replaces the prompt blocks with the decided state, dropping the
// buttons.
func (c *Channel) UpdatePrompt(ctx context.Context, target approval.PromptTarget, state channel.PromptState) error {
	client, err := c.activeAPI()
	if err != nil {
		return err
	}
	_, _, _, err = client.UpdateMessageContext(ctx, target.ChatID, target.MessageID,
		slack.MsgOptionText(channel.PromptTitle+" "+state.StatusLabel(), false),
		slack.MsgOptionBlocks(buildBlocks(state.Prompt, &state)...),
	)
	if err != nil {
		return fmt.Errorf("update slack prompt: %w", err)
	}
	return nil
}

func (c *Channel) eventLoop() {
	for {
		c.mu.RLock()
		runCtx := c.ctx
		socketClient := c.socketClient
		c.mu.RUnlock()
		if runCtx == nil || socketClient == nil {
			return
		}

		select {
		case <-runCtx.Done():
			return
		case evt, ok := <-socketClient.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeInteractive:
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
				cb, ok := evt.Data.(slack.InteractionCallback)
				if !ok {
					continue
				}
				c.handleInteraction(runCtx, cb)
			case socketmode.EventTypeEventsAPI, socketmode.EventTypeSlashCommand:
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
			}
		}
	}
}

func (c *Channel) handleInteraction(ctx context.Context, cb slack.InteractionCallback) {
	if cb.Type != slack.InteractionTypeBlockActions || cb.User.ID == "" {
		return
	}
	client, err := c.activeAPI()
	if err != nil {
		return
	}

	channelID := cb.Channel.ID
	if channelID == "" {
		channelID = cb.Container.ChannelID
	}
	senderKey := cb.User.ID
	if cb.User.Name != "" {
		senderKey = cb.User.ID + "|" + cb.User.Name
	}

	for _, act := range cb.ActionCallback.BlockActions {
		if act == nil {
			continue
		}
		action, requestID, ok := bus.ParseCustomID(act.ActionID)
		if !ok {
			continue
		}
		respond := func(rctx context.Context, reply bus.Reply) error {
			_, err := client.PostEphemeralContext(rctx, channelID, cb.User.ID, slack.MsgOptionText(reply.Text, false))
			return err
		}

		pubCtx, cancel := context.WithTimeout(ctx, decisionPublishTimeout)
		err := c.PublishDecision(pubCtx, bus.Decision{
			Action:    action,
			RequestID: requestID,
			ActorID:   cb.User.ID,
			Channel:   c.Name(),
			Respond:   respond,
		}, senderKey)
		cancel()
		if err != nil && err != channel.ErrNotAllowed {
			slog.Warn("slack decision dropped", "request_id", requestID, "error", err)
		}
	}
}

func (c *Channel) activeAPI() (api, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.running || c.api == nil {
		return nil, fmt.Errorf("slack channel not running")
	}
	return c.api, nil
}

func buildBlocks(prompt channel.Prompt, state *channel.PromptState) []slack.Block {
	header := slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, channel.PromptTitle, true, false))
	summary := slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, toMrkdwn(prompt.Description()), false, false), nil, nil)
	content := slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, "*📝 Content*\n"+quote(prompt.ContentOrDefault()), false, false), nil, nil)

	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType, "*🎯 Target*\n"+prompt.TargetOrDefault(), false, false),
	}
	if !prompt.ExpiresAt.IsZero() {
		expires := fmt.Sprintf("<!date^%d^{time}|%s>", prompt.ExpiresAt.Unix(), prompt.ExpiresAt.UTC().Format(time.RFC3339))
		fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType, "*⏰ Expires*\n"+expires, false, false))
	}
	if state != nil {
		fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType, "*📊 Status*\n"+state.StatusLabel(), false, false))
	}
	details := slack.NewSectionBlock(nil, fields, nil)

	blocks := []slack.Block{header, summary, content, details}
	if state == nil {
		approve := slack.NewButtonBlockElement(bus.CustomID(bus.ActionApprove, prompt.RequestID), prompt.RequestID,
			slack.NewTextBlockObject(slack.PlainTextType, channel.ApproveLabel, true, false)).WithStyle(slack.StylePrimary)
		deny := slack.NewButtonBlockElement(bus.CustomID(bus.ActionDeny, prompt.RequestID), prompt.RequestID,
			slack.NewTextBlockObject(slack.PlainTextType, channel.DenyLabel, true, false)).WithStyle(slack.StyleDanger)
		blocks = append(blocks, slack.NewActionBlock(actionsBlockID, approve, deny))
	}
	blocks = append(blocks, slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType, "Request `"+prompt.RequestID+"`", false, false)))
	return blocks
}

// toMrkdwn converts double-asterisk bold to Slack's single-asterisk form.
func toMrkdwn(s string) string {
	return strings.ReplaceAll(s, "**", "*")
}

func quote(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n")
}
