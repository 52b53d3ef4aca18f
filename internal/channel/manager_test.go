package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MEKXH/postgate/internal/approval"
	"github.com/MEKXH/postgate/internal/gateerr"
	"github.com/MEKXH/postgate/internal/metrics"
)

type mockManagerChannel struct {
	BaseChannel
	name       string
	publishErr error
	updateErr  error
	published  atomic.Int32

	mu      sync.Mutex
	updates []PromptState
	started bool
	stopped bool
}

func (m *mockManagerChannel) Name() string { return m.name }
func (m *mockManagerChannel) Start(ctx context.Context) error {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	return nil
}
func (m *mockManagerChannel) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	return nil
}
func (m *mockManagerChannel) Publish(ctx context.Context, p Prompt) (approval.PromptTarget, error) {
	m.published.Add(1)
	if m.publishErr != nil {
		return approval.PromptTarget{}, m.publishErr
	}
	return approval.PromptTarget{ChatID: "chat-" + m.name, MessageID: p.RequestID, URL: "https://" + m.name + "/" + p.RequestID}, nil
}
func (m *mockManagerChannel) UpdatePrompt(ctx context.Context, target approval.PromptTarget, state PromptState) error {
	m.mu.Lock()
	m.updates = append(m.updates, state)
	m.mu.Unlock()
	return m.updateErr
}

func TestManager_PublishFansOut(t *testing.T) {
	mgr := NewManager()
	a := &mockManagerChannel{name: "alpha"}
	b := &mockManagerChannel{name: "beta"}
	mgr.Register(b)
	mgr.Register(a)

	ref, err := mgr.Publish(context.Background(), Prompt{RequestID: "r1"})
	if err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if len(ref.Targets) != 2 {
		t.Fatalf("expected 2 targets, got %+v", ref.Targets)
	}
	if ref.Targets[0].Channel != "alpha" || ref.Targets[1].Channel != "beta" {
		t.Fatalf("expected targets tagged and ordered by channel, got %+v", ref.Targets)
	}
	if ref.URL != "https://alpha/r1" {
		t.Fatalf("unexpected ref url %q", ref.URL)
	}
}

func TestManager_PublishPartialFailureSucceeds(t *testing.T) {
	recorder := metrics.NewRecorder()
	mgr := NewManager()
	mgr.SetRuntimeMetrics(recorder)
	mgr.Register(&mockManagerChannel{name: "alpha", publishErr: errors.New("boom")})
	mgr.Register(&mockManagerChannel{name: "beta"})

	ref, err := mgr.Publish(context.Background(), Prompt{RequestID: "r1"})
	if err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if len(ref.Targets) != 1 || ref.Targets[0].Channel != "beta" {
		t.Fatalf("unexpected targets %+v", ref.Targets)
	}
	snap := recorder.Snapshot()
	if snap.Channel.PublishAttempts != 2 || snap.Channel.PublishFailures != 1 {
		t.Fatalf("unexpected channel metrics %+v", snap.Channel)
	}
}

func TestManager_PublishAllFailIsUpstreamUnavailable(t *testing.T) {
	mgr := NewManager()
	mgr.Register(&mockManagerChannel{name: "alpha", publishErr: errors.New("boom")})

	_, err := mgr.Publish(context.Background(), Prompt{RequestID: "r1"})
	if !errors.Is(err, gateerr.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream unavailable, got %v", err)
	}

	empty := NewManager()
	if _, err := empty.Publish(context.Background(), Prompt{RequestID: "r1"}); !errors.Is(err, gateerr.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream unavailable without channels, got %v", err)
	}
}

func TestManager_UpdatePromptReachesEveryTarget(t *testing.T) {
	mgr := NewManager()
	a := &mockManagerChannel{name: "alpha"}
	b := &mockManagerChannel{name: "beta", updateErr: errors.New("edit failed")}
	mgr.Register(a)
	mgr.Register(b)

	ref := approval.PromptRef{Targets: []approval.PromptTarget{
		{Channel: "alpha", MessageID: "m1"},
		{Channel: "beta", MessageID: "m2"},
		{Channel: "gone", MessageID: "m3"},
	}}
	err := mgr.UpdatePrompt(context.Background(), ref, PromptState{Status: approval.StatusDenied})
	if err == nil {
		t.Fatal("expected joined error for failing targets")
	}
	if len(a.updates) != 1 || len(b.updates) != 1 {
		t.Fatalf("expected each registered target updated once, got %d/%d", len(a.updates), len(b.updates))
	}
}

func TestManager_StartStopAll(t *testing.T) {
	mgr := NewManager()
	ch := &mockManagerChannel{name: "alpha"}
	mgr.Register(ch)

	mgr.StartAll(context.Background())
	deadline := time.Now().Add(time.Second)
	for {
		ch.mu.Lock()
		started := ch.started
		ch.mu.Unlock()
		if started {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for channel start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mgr.StopAll(context.Background())
	if !ch.stopped {
		t.Fatal("expected channel stopped")
	}
	if names := mgr.Names(); len(names) != 1 || names[0] != "alpha" {
		t.Fatalf("unexpected names %v", names)
	}
}
