package discord

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
	"github.com/bwmarrin/discordgo"
)

const decisionPublishTimeout = 2500 * time.Millisecond

// session is the subset of *discordgo.Session the channel uses.
type session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

// Channel implements Discord approval prompts with embeds and buttons.
type Channel struct {
	channel.BaseChannel
	cfg     *config.DiscordConfig
	session session
	closer  func() error
	mu      sync.RWMutex
	running bool
}

// New creates a Discord channel.
func New(cfg *config.DiscordConfig, decisions *bus.DecisionBus) *Channel {
	return &Channel{
		BaseChannel: channel.BaseChannel{Decisions: decisions, AllowList: channel.NewAllowList(cfg.AllowFrom)},
		cfg:         cfg,
	}
}

func (c *Channel) Name() string { return "discord" }

func (c *Channel) Start(ctx context.Context) error {
	if c.cfg == nil {
		return fmt.Errorf("missing discord config")
	}
	if strings.TrimSpace(c.cfg.Token) == "" {
		return fmt.Errorf("discord token is empty")
	}
	if strings.TrimSpace(c.cfg.ChannelID) == "" {
		return fmt.Errorf("discord channel_id is empty")
	}

	s, err := discordgo.New("Bot " + strings.TrimSpace(c.cfg.Token))
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages
	s.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		if i == nil {
			return
		}
		c.handleInteraction(ctx, i.Interaction)
	})

	if err := s.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	c.mu.Lock()
	c.session = s
	c.closer = s.Close
	c.running = true
	c.mu.Unlock()

	if me, err := s.User("@me"); err == nil {
		slog.Info("discord bot connected", "username", me.Username, "id", me.ID)
	}
	return nil
}

func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	closer := c.closer
	c.session = nil
	c.closer = nil
	c.running = false
	c.mu.Unlock()
	if closer != nil {
		_ = closer()
	}
	return nil
}

// Publish posts the approval embed with Approve/Deny buttons.
func (c *Channel) Publish(ctx context.Context, prompt channel.Prompt) (approval.PromptTarget, error) {
	s, err := c.activeSession()
	if err != nil {
		return approval.PromptTarget{}, err
	}
	channelID := strings.TrimSpace(c.cfg.ChannelID)

	msg, err := runWithContext(ctx, func() (*discordgo.Message, error) {
		return s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
			Embeds:     []*discordgo.MessageEmbed{buildEmbed(prompt, nil)},
			Components: buildButtons(prompt.RequestID),
		})
	})
	if err != nil {
		return approval.PromptTarget{}, fmt.Errorf("send discord prompt: %w", err)
	}

	return approval.PromptTarget{
		Channel:   c.Name(),
		ChatID:    msg.ChannelID,
		MessageID: msg.ID,
		URL:       messageURL(msg.GuildID, msg.ChannelID, msg.ID),
	}, nil
}

// UpdatePrompt recolors the embed, appends the status field and removes the
// buttons.
func (c *Channel) UpdatePrompt(ctx context.Context, target approval.PromptTarget, state channel.PromptState) error {
	s, err := c.activeSession()
	if err != nil {
		return err
	}
	embeds := []*discordgo.MessageEmbed{buildEmbed(state.Prompt, &state)}
	components := []discordgo.MessageComponent{}

	_, err = runWithContext(ctx, func() (*discordgo.Message, error) {
		return s.ChannelMessageEditComplex(&discordgo.MessageEdit{
			ID:         target.MessageID,
			Channel:    target.ChatID,
			Embeds:     &embeds,
			Components: &components,
		})
	})
	if err != nil {
		return fmt.Errorf("edit discord prompt: %w", err)
	}
	return nil
}

func (c *Channel) handleInteraction(ctx context.Context, i *discordgo.Interaction) {
	if i == nil || i.Type != discordgo.InteractionMessageComponent {
		return
	}
	s, err := c.activeSession()
	if err != nil {
		return
	}

	respond := func(_ context.Context, reply bus.Reply) error {
		return s.InteractionRespond(i, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: reply.Text,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		})
	}

	// Every component interaction must be answered or Discord shows
	// "This interaction failed" to the clicker.
	customID := i.MessageComponentData().CustomID
	action, requestID, ok := bus.ParseCustomID(customID)
	user := interactionUser(i)
	if !ok || user == nil {
		if err := respond(ctx, bus.Reply{Text: channel.ReplyUnknownAction}); err != nil {
			slog.Warn("discord interaction reply failed", "custom_id", customID, "error", err)
		}
		return
	}
	senderKey := user.ID
	if user.Username != "" {
		senderKey = user.ID + "|" + user.Username
	}

	pubCtx, cancel := context.WithTimeout(ctx, decisionPublishTimeout)
	defer cancel()
	err = c.PublishDecision(pubCtx, bus.Decision{
		Action:    action,
		RequestID: requestID,
		ActorID:   user.ID,
		Channel:   c.Name(),
		Respond:   respond,
	}, senderKey)
	if err != nil && err != channel.ErrNotAllowed {
		slog.Warn("discord decision dropped", "request_id", requestID, "error", err)
	}
}

func (c *Channel) activeSession() (session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.running || c.session == nil {
		return nil, fmt.Errorf("discord channel not running")
	}
	return c.session, nil
}

func interactionUser(i *discordgo.Interaction) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func buildEmbed(prompt channel.Prompt, state *channel.PromptState) *discordgo.MessageEmbed {
	fields := []*discordgo.MessageEmbedField{
		{Name: "📝 Content", Value: truncate(prompt.ContentOrDefault(), 1024), Inline: false},
		{Name: "🎯 Target", Value: prompt.TargetOrDefault(), Inline: true},
	}
	if !prompt.ExpiresAt.IsZero() {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "⏰ Expires",
			Value:  fmt.Sprintf("<t:%d:R>", prompt.ExpiresAt.Unix()),
			Inline: true,
		})
	}

	color := channel.ColorPending
	if state != nil {
		color = channel.StatusColor(state.Status)
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "📊 Status",
			Value:  state.StatusLabel(),
			Inline: true,
		})
	}

	return &discordgo.MessageEmbed{
		Title:       channel.PromptTitle,
		Description: prompt.Description(),
		Fields:      fields,
		Color:       color,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: "Request " + prompt.RequestID},
	}
}

func buildButtons(requestID string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    channel.ApproveLabel,
					Style:    discordgo.SuccessButton,
					CustomID: bus.CustomID(bus.ActionApprove, requestID),
				},
				discordgo.Button{
					Label:    channel.DenyLabel,
					Style:    discordgo.DangerButton,
					CustomID: bus.CustomID(bus.ActionDeny, requestID),
				},
			},
		},
	}
}

func messageURL(guildID, channelID, messageID string) string {
	if guildID == "" {
		guildID = "@me"
	}
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}

func runWithContext(ctx context.Context, fn func() (*discordgo.Message, error)) (*discordgo.Message, error) {
	type result struct {
		msg *discordgo.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := fn()
		done <- result{msg: msg, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.msg, r.err
	}
}
