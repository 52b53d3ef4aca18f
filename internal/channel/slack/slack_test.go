package slack

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MEKXH/postgate/internal/approval"
	"github.com/MEKXH/postgate/internal/bus"
	"github.com/MEKXH/postgate/internal/channel"
	"github.com/MEKXH/postgate/internal/config"
	"github.com/slack-go/slack"
)

type postedMessage struct {
	channelID string
	ts        string
	userID    string
	opts      int
}

type fakeAPI struct {
	mu           sync.Mutex
	posts        []postedMessage
	updates      []postedMessage
	ephemerals   []postedMessage
	postErr      error
	permalinkErr error
}

func (f *fakeAPI) PostMessageContext(_ context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return "", "", f.postErr
	}
	f.posts = append(f.posts, postedMessage{channelID: channelID, opts: len(options)})
	return channelID, "1700000000.000100", nil
}

func (f *fakeAPI) UpdateMessageContext(_ context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, postedMessage{channelID: channelID, ts: timestamp, opts: len(options)})
	return channelID, timestamp, "", nil
}

func (f *fakeAPI) PostEphemeralContext(_ context.Context, channelID, userID string, options ...slack.MsgOption) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ephemerals = append(f.ephemerals, postedMessage{channelID: channelID, userID: userID, opts: len(options)})
	return "1700000000.000200", nil
}

func (f *fakeAPI) GetPermalinkContext(_ context.Context, params *slack.PermalinkParameters) (string, error) {
	if f.permalinkErr != nil {
		return "", f.permalinkErr
	}
	return "https://example.slack.com/archives/" + params.Channel + "/p" + strings.ReplaceAll(params.Ts, ".", ""), nil
}

func newTestChannel(allow []string) (*Channel, *fakeAPI, *bus.DecisionBus) {
	decisions := bus.NewDecisionBus(4)
	ch := New(&config.SlackConfig{BotToken: "xoxb", AppToken: "xapp", ChannelID: "C1", AllowFrom: allow}, decisions)
	fake := &fakeAPI{}
	ch.api = fake
	ch.running = true
	return ch, fake, decisions
}

func testPrompt() channel.Prompt {
	return channel.Prompt{
		RequestID: "req-1",
		Platform:  "linkedin",
		Action:    "share",
		Content:   "line one\nline two",
		ExpiresAt: time.Unix(1767261600, 0),
	}
}

func TestPublish_ReturnsPermalinkTarget(t *testing.T) {
	ch, fake, _ := newTestChannel(nil)

	target, err := ch.Publish(context.Background(), testPrompt())
	if err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if target.Channel != "slack" || target.ChatID != "C1" || target.MessageID != "1700000000.000100" {
		t.Fatalf("unexpected target: %+v", target)
	}
	if target.URL != "https://example.slack.com/archives/C1/p1700000000000100" {
		t.Fatalf("unexpected url %q", target.URL)
	}
	if len(fake.posts) != 1 || fake.posts[0].channelID != "C1" {
		t.Fatalf("expected one post to C1, got %+v", fake.posts)
	}
}

func TestPublish_PermalinkFailureIsNotFatal(t *testing.T) {
	ch, fake, _ := newTestChannel(nil)
	fake.permalinkErr = errors.New("missing scope")

	target, err := ch.Publish(context.Background(), testPrompt())
	if err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if target.URL != "" || target.MessageID == "" {
		t.Fatalf("unexpected target: %+v", target)
	}
}

func TestPublish_PostError(t *testing.T) {
	ch, fake, _ := newTestChannel(nil)
	fake.postErr = errors.New("channel_not_found")
	if _, err := ch.Publish(context.Background(), testPrompt()); err == nil {
		t.Fatal("expected post error")
	}
}

func TestPublish_NotRunning(t *testing.T) {
	ch := New(&config.SlackConfig{ChannelID: "C1"}, bus.NewDecisionBus(1))
	if _, err := ch.Publish(context.Background(), testPrompt()); err == nil {
		t.Fatal("expected error when channel is not running")
	}
}

func TestUpdatePrompt_EditsOriginalMessage(t *testing.T) {
	ch, fake, _ := newTestChannel(nil)
	state := channel.PromptState{Prompt: testPrompt(), Status: approval.StatusExpired, DecidedBy: approval.SystemActor}

	if err := ch.UpdatePrompt(context.Background(), approval.PromptTarget{ChatID: "C1", MessageID: "1.2"}, state); err != nil {
		t.Fatalf("UpdatePrompt error: %v", err)
	}
	if len(fake.updates) != 1 || fake.updates[0].channelID != "C1" || fake.updates[0].ts != "1.2" {
		t.Fatalf("unexpected updates: %+v", fake.updates)
	}
}

func TestBuildBlocks_PendingHasButtons(t *testing.T) {
	blocks := buildBlocks(testPrompt(), nil)

	var actions *slack.ActionBlock
	for _, b := range blocks {
		if a, ok := b.(*slack.ActionBlock); ok {
			actions = a
		}
	}
	if actions == nil || len(actions.Elements.ElementSet) != 2 {
		t.Fatalf("expected an action block with two buttons, got %+v", actions)
	}
	approve := actions.Elements.ElementSet[0].(*slack.ButtonBlockElement)
	deny := actions.Elements.ElementSet[1].(*slack.ButtonBlockElement)
	if approve.ActionID != "approve_req-1" || deny.ActionID != "deny_req-1" {
		t.Fatalf("unexpected action ids %q %q", approve.ActionID, deny.ActionID)
	}
	if approve.Style != slack.StylePrimary || deny.Style != slack.StyleDanger {
		t.Fatal("unexpected button styles")
	}

	summary := blocks[1].(*slack.SectionBlock)
	if summary.Text.Text != "Agent wants to share to *linkedin*" {
		t.Fatalf("unexpected summary %q", summary.Text.Text)
	}
	content := blocks[2].(*slack.SectionBlock)
	if !strings.Contains(content.Text.Text, "> line one\n> line two") {
		t.Fatalf("expected quoted content, got %q", content.Text.Text)
	}
}

func TestBuildBlocks_DecidedHasStatusAndNoButtons(t *testing.T) {
	state := channel.PromptState{Prompt: testPrompt(), Status: approval.StatusApproved, DecidedBy: "U1"}
	blocks := buildBlocks(state.Prompt, &state)

	for _, b := range blocks {
		if _, ok := b.(*slack.ActionBlock); ok {
			t.Fatal("expected buttons to be removed")
		}
	}
	details := blocks[3].(*slack.SectionBlock)
	last := details.Fields[len(details.Fields)-1]
	if !strings.Contains(last.Text, "APPROVED by U1") {
		t.Fatalf("unexpected status field %q", last.Text)
	}
}

func blockActionCallback(actionID, userID, userName string) slack.InteractionCallback {
	cb := slack.InteractionCallback{
		Type: slack.InteractionTypeBlockActions,
		User: slack.User{ID: userID, Name: userName},
	}
	cb.Channel.ID = "C1"
	cb.ActionCallback.BlockActions = []*slack.BlockAction{{ActionID: actionID, Value: "req-1"}}
	return cb
}

func TestHandleInteraction_PublishesDecision(t *testing.T) {
	ch, fake, decisions := newTestChannel(nil)

	ch.handleInteraction(context.Background(), blockActionCallback("approve_req-1", "U1", "alice"))

	select {
	case d := <-decisions.Decisions():
		if d.Action != bus.ActionApprove || d.RequestID != "req-1" || d.ActorID != "U1" || d.Channel != "slack" {
			t.Fatalf("unexpected decision: %+v", d)
		}
		if err := d.Respond(context.Background(), bus.Reply{Text: "ok"}); err != nil {
			t.Fatalf("Respond error: %v", err)
		}
	default:
		t.Fatal("expected a decision on the bus")
	}
	if len(fake.ephemerals) != 1 || fake.ephemerals[0].userID != "U1" || fake.ephemerals[0].channelID != "C1" {
		t.Fatalf("expected ephemeral reply to U1, got %+v", fake.ephemerals)
	}
}

func TestHandleInteraction_RejectsUnlistedActor(t *testing.T) {
	ch, fake, decisions := newTestChannel([]string{"U9"})

	ch.handleInteraction(context.Background(), blockActionCallback("deny_req-1", "U1", "mallory"))

	select {
	case d := <-decisions.Decisions():
		t.Fatalf("unexpected decision: %+v", d)
	default:
	}
	if len(fake.ephemerals) != 1 {
		t.Fatalf("expected not-allowed reply, got %+v", fake.ephemerals)
	}
}

func TestHandleInteraction_IgnoresOtherTypes(t *testing.T) {
	ch, _, decisions := newTestChannel(nil)
	cb := blockActionCallback("approve_req-1", "U1", "alice")
	cb.Type = slack.InteractionTypeViewSubmission

	ch.handleInteraction(context.Background(), cb)

	select {
	case d := <-decisions.Decisions():
		t.Fatalf("unexpected decision: %+v", d)
	default:
	}
}
