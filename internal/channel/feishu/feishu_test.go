package feishu

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MEKXH/postgate/internal/approval"
	"github.com/MEKXH/postgate/internal/bus"
	"github.com/MEKXH/postgate/internal/channel"
	"github.com/MEKXH/postgate/internal/config"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher/callback"
)

type fakeMessenger struct {
	mu        sync.Mutex
	created   []string
	dedupe    []string
	patched   map[string]string
	createErr error
}

func (f *fakeMessenger) CreateCard(_ context.Context, chatID, dedupeKey, card string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, card)
	f.dedupe = append(f.dedupe, dedupeKey)
	return "om_" + chatID, nil
}

func (f *fakeMessenger) PatchCard(_ context.Context, messageID, card string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.patched == nil {
		f.patched = map[string]string{}
	}
	f.patched[messageID] = card
	return nil
}

func newTestChannel(t *testing.T, allow []string) (*Channel, *fakeMessenger, *bus.DecisionBus) {
	t.Helper()
	decisions := bus.NewDecisionBus(4)
	ch := New(&config.FeishuConfig{AppID: "cli_a1", AppSecret: "s", ChatID: "oc_1", AllowFrom: allow}, decisions)
	fake := &fakeMessenger{}
	ch.im = fake
	ch.running = true
	ch.replyWait = 200 * time.Millisecond
	return ch, fake, decisions
}

func testPrompt() channel.Prompt {
	return channel.Prompt{
		RequestID: "req-1",
		Platform:  "twitter",
		Action:    "post",
		Content:   "hello world",
		ExpiresAt: time.Unix(1767261600, 0),
	}
}

func decodeCard(t *testing.T, raw string) map[string]any {
	t.Helper()
	out := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("card is not json: %v", err)
	}
	return out
}

func TestPublish_SendsCardWithButtons(t *testing.T) {
	ch, fake, _ := newTestChannel(t, nil)

	target, err := ch.Publish(context.Background(), testPrompt())
	if err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if target.Channel != "feishu" || target.ChatID != "oc_1" || target.MessageID != "om_oc_1" {
		t.Fatalf("unexpected target: %+v", target)
	}
	if len(fake.created) != 1 || fake.dedupe[0] != "postgate-req-1" {
		t.Fatalf("expected one deduplicated card, got %v", fake.dedupe)
	}

	raw := fake.created[0]
	for _, want := range []string{"hello world", "approve_req-1", "deny_req-1", channel.PromptTitle, `"template":"orange"`} {
		if !strings.Contains(raw, want) {
			t.Fatalf("expected %q in card: %s", want, raw)
		}
	}
	card := decodeCard(t, raw)
	elements, _ := card["elements"].([]any)
	if len(elements) != 2 {
		t.Fatalf("expected body and actions, got %d elements", len(elements))
	}
}

func TestPublish_NotRunning(t *testing.T) {
	ch := New(&config.FeishuConfig{ChatID: "oc_1"}, bus.NewDecisionBus(1))
	if _, err := ch.Publish(context.Background(), testPrompt()); err == nil {
		t.Fatal("expected error when channel is not running")
	}
}

func TestPublish_SendError(t *testing.T) {
	ch, fake, _ := newTestChannel(t, nil)
	fake.createErr = errors.New("code=99991663")
	if _, err := ch.Publish(context.Background(), testPrompt()); err == nil || !strings.Contains(err.Error(), "99991663") {
		t.Fatalf("expected wrapped api error, got %v", err)
	}
}

func TestUpdatePrompt_ReplacesButtonsWithStatus(t *testing.T) {
	ch, fake, _ := newTestChannel(t, nil)

	err := ch.UpdatePrompt(context.Background(), approval.PromptTarget{Channel: "feishu", ChatID: "oc_1", MessageID: "om_9"}, channel.PromptState{
		Prompt:    testPrompt(),
		Status:    approval.StatusApproved,
		DecidedBy: "alice",
	})
	if err != nil {
		t.Fatalf("UpdatePrompt error: %v", err)
	}
	raw, ok := fake.patched["om_9"]
	if !ok {
		t.Fatal("expected the prompt message to be patched")
	}
	if strings.Contains(raw, "approve_req-1") {
		t.Fatalf("expected buttons to be removed: %s", raw)
	}
	if !strings.Contains(raw, "APPROVED by alice") || !strings.Contains(raw, `"template":"green"`) {
		t.Fatalf("expected approved status in card: %s", raw)
	}
}

func TestDecide_ReturnsGateReply(t *testing.T) {
	ch, _, decisions := newTestChannel(t, nil)

	go func() {
		d := <-decisions.Decisions()
		if d.Action != bus.ActionApprove || d.RequestID != "req-1" || d.ActorID != "ou_1" || d.Channel != "feishu" {
			t.Errorf("unexpected decision: %+v", d)
		}
		_ = d.Respond(context.Background(), bus.Reply{Accepted: true, Text: "✅ approved"})
	}()

	reply := ch.decide(context.Background(), "approve_req-1", "ou_1")
	if !reply.Accepted || reply.Text != "✅ approved" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestDecide_SlowGateAcknowledges(t *testing.T) {
	ch, _, decisions := newTestChannel(t, nil)
	ch.replyWait = 10 * time.Millisecond

	reply := ch.decide(context.Background(), "deny_req-1", "ou_1")
	if !reply.Accepted || reply.Text != replyReceived {
		t.Fatalf("expected received acknowledgement, got %+v", reply)
	}
	select {
	case d := <-decisions.Decisions():
		if d.Action != bus.ActionDeny {
			t.Fatalf("unexpected decision: %+v", d)
		}
	default:
		t.Fatal("expected decision on the bus")
	}
}

func TestDecide_RejectsUnlistedActor(t *testing.T) {
	ch, _, decisions := newTestChannel(t, []string{"ou_admin"})

	reply := ch.decide(context.Background(), "approve_req-1", "ou_2")
	if reply.Accepted || reply.Text != channel.ReplyNotAllowed {
		t.Fatalf("expected not-allowed reply, got %+v", reply)
	}
	select {
	case d := <-decisions.Decisions():
		t.Fatalf("unexpected decision: %+v", d)
	default:
	}
}

func TestDecide_UnknownAction(t *testing.T) {
	ch, _, _ := newTestChannel(t, nil)
	for _, tc := range []struct{ customID, operator string }{
		{"poll_vote_3", "ou_1"},
		{"approve_req-1", ""},
	} {
		if reply := ch.decide(context.Background(), tc.customID, tc.operator); reply.Text != channel.ReplyUnknownAction {
			t.Fatalf("%q/%q: expected unknown action, got %+v", tc.customID, tc.operator, reply)
		}
	}
}

func TestHandleCardAction_PrefersUserID(t *testing.T) {
	ch, _, decisions := newTestChannel(t, nil)
	ch.replyWait = 10 * time.Millisecond
	userID := "u_42"

	resp, err := ch.handleCardAction(context.Background(), &callback.CardActionTriggerEvent{
		Event: &callback.CardActionTriggerRequest{
			Operator: &callback.Operator{OpenID: "ou_1", UserID: &userID},
			Action:   &callback.CallBackAction{Value: map[string]interface{}{customIDKey: "approve_req-1"}},
		},
	})
	if err != nil {
		t.Fatalf("handleCardAction error: %v", err)
	}
	if resp == nil || resp.Toast == nil || resp.Toast.Type != "success" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	d := <-decisions.Decisions()
	if d.ActorID != "u_42" {
		t.Fatalf("expected user id as actor, got %q", d.ActorID)
	}
}

func TestStart_RequiresCredentials(t *testing.T) {
	for _, cfg := range []*config.FeishuConfig{
		{ChatID: "oc_1"},
		{AppID: "cli_a1", AppSecret: "s"},
	} {
		ch := New(cfg, bus.NewDecisionBus(1))
		if err := ch.Start(context.Background()); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
}
