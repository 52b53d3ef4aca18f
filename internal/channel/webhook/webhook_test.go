package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MEKXH/postgate/internal/approval"
	"github.com/MEKXH/postgate/internal/bus"
	"github.com/MEKXH/postgate/internal/channel"
	"github.com/MEKXH/postgate/internal/config"
)

type recorder struct {
	mu       sync.Mutex
	payloads []Payload
	headers  []http.Header
}

func (r *recorder) handler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		data, _ := io.ReadAll(req.Body)
		var p Payload
		_ = json.Unmarshal(data, &p)
		r.mu.Lock()
		r.payloads = append(r.payloads, p)
		r.headers = append(r.headers, req.Header.Clone())
		r.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func newTestChannel(t *testing.T, url string, decisions *bus.DecisionBus) *Channel {
	t.Helper()
	ch, err := New(&config.WebhookConfig{
		URL:        url,
		Headers:    map[string]string{"Authorization": "Bearer hook"},
		MaxRetries: 2,
		Timeout:    5,
	}, decisions)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	ch.retryDelay = time.Millisecond
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	return ch
}

func TestNew_ValidatesURL(t *testing.T) {
	if _, err := New(&config.WebhookConfig{}, nil); err == nil {
		t.Fatal("expected error for empty url")
	}
	if _, err := New(&config.WebhookConfig{URL: "not a url"}, nil); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestPublish_PostsPromptAndReadsTarget(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(rec.handler(http.StatusOK, `{"message_id":"ext-9","url":"https://hooks.example/9"}`))
	defer server.Close()

	ch := newTestChannel(t, server.URL, bus.NewDecisionBus(1))
	target, err := ch.Publish(context.Background(), channel.Prompt{RequestID: "req-1", Platform: "twitter", Action: "post", Content: "hi"})
	if err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if target.MessageID != "ext-9" || target.URL != "https://hooks.example/9" || target.Channel != "webhook" {
		t.Fatalf("unexpected target: %+v", target)
	}

	p := rec.payloads[0]
	if p.Type != EventPrompt || p.ApproveID != "approve_req-1" || p.DenyID != "deny_req-1" {
		t.Fatalf("unexpected payload: %+v", p)
	}
	h := rec.headers[0]
	if h.Get("Content-Type") != "application/json" || h.Get("X-Postgate-Event") != EventPrompt || h.Get("Authorization") != "Bearer hook" {
		t.Fatalf("unexpected headers: %v", h)
	}
}

func TestPublish_EmptyResponseUsesRequestID(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(rec.handler(http.StatusNoContent, ""))
	defer server.Close()

	ch := newTestChannel(t, server.URL, bus.NewDecisionBus(1))
	target, err := ch.Publish(context.Background(), channel.Prompt{RequestID: "req-1"})
	if err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if target.MessageID != "req-1" || target.URL != "" {
		t.Fatalf("unexpected target: %+v", target)
	}
}

func TestPost_RetriesServerErrors(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ch := newTestChannel(t, server.URL, bus.NewDecisionBus(1))
	if _, err := ch.Publish(context.Background(), channel.Prompt{RequestID: "req-1"}); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestPost_GivesUpAfterRetries(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ch := newTestChannel(t, server.URL, bus.NewDecisionBus(1))
	if _, err := ch.Publish(context.Background(), channel.Prompt{RequestID: "req-1"}); err == nil {
		t.Fatal("expected delivery failure")
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("expected 1 attempt plus 2 retries, got %d", got)
	}
}

func TestPost_DoesNotRetryClientErrors(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	ch := newTestChannel(t, server.URL, bus.NewDecisionBus(1))
	if _, err := ch.Publish(context.Background(), channel.Prompt{RequestID: "req-1"}); err == nil {
		t.Fatal("expected rejection")
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestUpdatePrompt_PostsStatus(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(rec.handler(http.StatusOK, ""))
	defer server.Close()

	ch := newTestChannel(t, server.URL, bus.NewDecisionBus(1))
	state := channel.PromptState{
		Prompt:    channel.Prompt{RequestID: "req-1", Platform: "twitter", Action: "post"},
		Status:    approval.StatusDenied,
		DecidedBy: "alice",
	}
	if err := ch.UpdatePrompt(context.Background(), approval.PromptTarget{MessageID: "ext-9"}, state); err != nil {
		t.Fatalf("UpdatePrompt error: %v", err)
	}
	p := rec.payloads[0]
	if p.Type != EventUpdate || p.Status != "denied" || p.MessageID != "ext-9" || p.Text != "DENIED by alice" {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestHandleInbound_PublishesAndReplies(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(rec.handler(http.StatusOK, ""))
	defer server.Close()

	decisions := bus.NewDecisionBus(2)
	ch := newTestChannel(t, server.URL, decisions)

	if err := ch.HandleInbound(context.Background(), Inbound{CustomID: "approve_req-1", UserID: "u1"}); err != nil {
		t.Fatalf("HandleInbound error: %v", err)
	}
	d := <-decisions.Decisions()
	if d.Action != bus.ActionApprove || d.RequestID != "req-1" || d.ActorID != "u1" || d.Channel != "webhook" {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if err := d.Respond(context.Background(), bus.Reply{Text: "✅ Posting approved! Agent can now proceed."}); err != nil {
		t.Fatalf("Respond error: %v", err)
	}
	if rec.payloads[0].Type != EventReply || rec.payloads[0].ActorID != "u1" {
		t.Fatalf("unexpected reply payload: %+v", rec.payloads[0])
	}

	if err := ch.HandleInbound(context.Background(), Inbound{Action: "DENY", RequestID: "req-2", ActorID: "bob"}); err != nil {
		t.Fatalf("HandleInbound error: %v", err)
	}
	d = <-decisions.Decisions()
	if d.Action != bus.ActionDeny || d.RequestID != "req-2" || d.ActorID != "bob" {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestHandleInbound_Malformed(t *testing.T) {
	ch := newTestChannel(t, "http://127.0.0.1:1", bus.NewDecisionBus(1))
	for _, in := range []Inbound{{}, {Action: "maybe", RequestID: "r"}, {Action: "approve"}, {CustomID: "nope"}} {
		if err := ch.HandleInbound(context.Background(), in); err == nil {
			t.Fatalf("expected error for %+v", in)
		}
	}
}

func TestForward_PublishesWithoutReply(t *testing.T) {
	decisions := bus.NewDecisionBus(1)
	if err := Forward(context.Background(), decisions, Inbound{Action: "approve", RequestID: "req-3"}); err != nil {
		t.Fatalf("Forward error: %v", err)
	}
	d := <-decisions.Decisions()
	if d.Action != bus.ActionApprove || d.RequestID != "req-3" || d.ActorID != "webhook" || d.Respond != nil {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if err := Forward(context.Background(), decisions, Inbound{}); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
