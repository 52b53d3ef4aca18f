package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MEKXH/postgate/internal/approval"
	"github.com/MEKXH/postgate/internal/bus"
	"github.com/MEKXH/postgate/internal/channel"
	"github.com/MEKXH/postgate/internal/config"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const decisionPublishTimeout = 2500 * time.Millisecond

var (
	boldStarRe   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	boldUnderRe  = regexp.MustCompile(`__(.+?)__`)
	codeInlineRe = regexp.MustCompile("`([^`]+)`")
)

// botAPI is the subset of *tgbotapi.BotAPI the channel uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Channel implements Telegram approval prompts with inline keyboards.
type Channel struct {
	channel.BaseChannel
	cfg *config.TelegramConfig

	mu   sync.RWMutex
	bot  botAPI
	stop func()
}

// New creates a Telegram channel
func New(cfg *config.TelegramConfig, decisions *bus.DecisionBus) *Channel {
	return &Channel{
		BaseChannel: channel.BaseChannel{Decisions: decisions, AllowList: channel.NewAllowList(cfg.AllowFrom)},
		cfg:         cfg,
	}
}

func (c *Channel) Name() string { return "telegram" }

// Start connects the bot and processes callback queries until ctx is done.
func (c *Channel) Start(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.Token) == "" {
		return fmt.Errorf("telegram token is empty")
	}
	if _, err := parseInt64(c.cfg.ChatID); err != nil {
		return fmt.Errorf("invalid telegram chat_id %q: %w", c.cfg.ChatID, err)
	}

	bot, err := tgbotapi.NewBotAPI(c.cfg.Token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}
	c.mu.Lock()
	c.bot = bot
	c.stop = bot.StopReceivingUpdates
	c.mu.Unlock()

	slog.Info("telegram bot connected", "username", bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"callback_query"}
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.CallbackQuery == nil {
				continue
			}
			c.handleCallback(ctx, update.CallbackQuery)
		}
	}
}

func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	stop := c.stop
	c.bot = nil
	c.stop = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
	return nil
}

// Publish sends the prompt with an Approve/Deny inline keyboard.
func (c *Channel) Publish(ctx context.Context, prompt channel.Prompt) (approval.PromptTarget, error) {
	bot, err := c.activeBot()
	if err != nil {
		return approval.PromptTarget{}, err
	}
	chatID, err := parseInt64(c.cfg.ChatID)
	if err != nil {
		return approval.PromptTarget{}, fmt.Errorf("invalid chat id %q: %w", c.cfg.ChatID, err)
	}

	text := channel.PlainText(prompt)
	msg := tgbotapi.NewMessage(chatID, markdownToHTML(text))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = buildKeyboard(prompt.RequestID)

	sent, err := sendWithFallback(ctx, bot, msg, text)
	if err != nil {
		return approval.PromptTarget{}, fmt.Errorf("send telegram prompt: %w", err)
	}

	target := approval.PromptTarget{
		Channel:   c.Name(),
		ChatID:    strconv.FormatInt(chatID, 10),
		MessageID: strconv.Itoa(sent.MessageID),
	}
	target.URL = messageURL(target.ChatID, target.MessageID)
	return target, nil
}

// UpdatePrompt rewrites the prompt with its final status. Editing without a
// reply markup drops the keyboard.
func (c *Channel) UpdatePrompt(ctx context.Context, target approval.PromptTarget, state channel.PromptState) error {
	bot, err := c.activeBot()
	if err != nil {
		return err
	}
	chatID, err := parseInt64(target.ChatID)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", target.ChatID, err)
	}
	messageID, err := strconv.Atoi(strings.TrimSpace(target.MessageID))
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", target.MessageID, err)
	}

	edit := tgbotapi.NewEditMessageText(chatID, messageID, markdownToHTML(channel.PlainTextState(state)))
	edit.ParseMode = tgbotapi.ModeHTML
	if _, err := runWithContext(ctx, func() (tgbotapi.Message, error) { return bot.Send(edit) }); err != nil {
		return fmt.Errorf("edit telegram prompt: %w", err)
	}
	return nil
}

func (c *Channel) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if q == nil || q.From == nil {
		return
	}
	action, requestID, ok := bus.ParseCustomID(q.Data)
	if !ok {
		return
	}
	bot, err := c.activeBot()
	if err != nil {
		return
	}

	senderID := strconv.FormatInt(q.From.ID, 10)
	senderKey := senderID
	if q.From.UserName != "" {
		senderKey = senderID + "|" + q.From.UserName
	}

	respond := func(_ context.Context, reply bus.Reply) error {
		_, err := bot.Request(tgbotapi.NewCallback(q.ID, reply.Text))
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, decisionPublishTimeout)
	defer cancel()
	err = c.PublishDecision(pubCtx, bus.Decision{
		Action:    action,
		RequestID: requestID,
		ActorID:   senderID,
		Channel:   c.Name(),
		Respond:   respond,
	}, senderKey)
	if err != nil && err != channel.ErrNotAllowed {
		slog.Warn("telegram decision dropped", "request_id", requestID, "error", err)
	}
}

func (c *Channel) activeBot() (botAPI, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.bot == nil {
		return nil, fmt.Errorf("bot not initialized")
	}
	return c.bot, nil
}

func buildKeyboard(requestID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(channel.ApproveLabel, bus.CustomID(bus.ActionApprove, requestID)),
			tgbotapi.NewInlineKeyboardButtonData(channel.DenyLabel, bus.CustomID(bus.ActionDeny, requestID)),
		),
	)
}

// sendWithFallback retries as plain text when Telegram rejects the HTML.
func sendWithFallback(ctx context.Context, bot botAPI, msg tgbotapi.MessageConfig, plain string) (tgbotapi.Message, error) {
	sent, err := runWithContext(ctx, func() (tgbotapi.Message, error) { return bot.Send(msg) })
	if err == nil || ctx.Err() != nil {
		return sent, err
	}
	msg.ParseMode = ""
	msg.Text = plain
	return runWithContext(ctx, func() (tgbotapi.Message, error) { return bot.Send(msg) })
}

// messageURL links supergroup and channel messages; other chats have no
// public link.
func messageURL(chatID, messageID string) string {
	internal, ok := strings.CutPrefix(chatID, "-100")
	if !ok || internal == "" {
		return ""
	}
	return "https://t.me/c/" + internal + "/" + messageID
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

func markdownToHTML(text string) string {
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	text = boldStarRe.ReplaceAllString(text, "<b>$1</b>")
	text = boldUnderRe.ReplaceAllString(text, "<b>$1</b>")
	text = codeInlineRe.ReplaceAllString(text, "<code>$1</code>")
	return text
}

func runWithContext(ctx context.Context, fn func() (tgbotapi.Message, error)) (tgbotapi.Message, error) {
	type result struct {
		msg tgbotapi.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := fn()
		done <- result{msg: msg, err: err}
	}()

	select {
	case <-ctx.Done():
		return tgbotapi.Message{}, ctx.Err()
	case r := <-done:
		return r.msg, r.err
	}
}
