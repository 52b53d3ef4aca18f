package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/MEKXH/postgate/internal/approval"
	"github.com/MEKXH/postgate/internal/gateerr"
	"github.com/MEKXH/postgate/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Manager coordinates all channels
type Manager struct {
	channels      map[string]Channel
	maxConcurrent int
	runtimeMetric *metrics.Recorder
	mu            sync.RWMutex
}

const defaultMaxConcurrentSends = 16

// NewManager creates a channel manager
func NewManager() *Manager {
	return NewManagerWithLimit(defaultMaxConcurrentSends)
}

// NewManagerWithLimit creates a channel manager with bounded outbound send concurrency.
func NewManagerWithLimit(maxConcurrentSends int) *Manager {
	if maxConcurrentSends <= 0 {
		maxConcurrentSends = 1
	}
	return &Manager{
		channels:      make(map[string]Channel),
		maxConcurrent: maxConcurrentSends,
	}
}

// Register adds a channel
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// SetRuntimeMetrics attaches a recorder used for publish metrics.
func (m *Manager) SetRuntimeMetrics(recorder *metrics.Recorder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runtimeMetric = recorder
}

// Names returns registered channel names, sorted
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns a registered channel by name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// StartAll starts all channels
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, ch := range m.channels {
		go func(n string, c Channel) {
			slog.Info("starting channel", "name", n)
			if err := c.Start(ctx); err != nil {
				slog.Error("channel error", "name", n, "error", err)
			}
		}(name, ch)
	}
}

// StopAll stops all channels
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ch := range m.channels {
		_ = ch.Stop(ctx)
	}
}

// Publish fans a prompt out to every channel. It succeeds when at least one
// channel delivered; the returned ref lists every delivered message.
func (m *Manager) Publish(ctx context.Context, prompt Prompt) (approval.PromptRef, error) {
	const op = "channel.publish"

	m.mu.RLock()
	channels := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}
	recorder := m.runtimeMetric
	limit := m.maxConcurrent
	m.mu.RUnlock()

	if len(channels) == 0 {
		return approval.PromptRef{}, gateerr.New(gateerr.UpstreamUnavailable, op, "no notification channel configured")
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].Name() < channels[j].Name() })

	targets := make([]approval.PromptTarget, len(channels))
	errs := make([]error, len(channels))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, ch := range channels {
		g.Go(func() error {
			target, err := ch.Publish(ctx, prompt)
			recorder.RecordPublish(err == nil)
			if err != nil {
				slog.Error("publish prompt failed", "request_id", prompt.RequestID, "channel", ch.Name(), "error", err)
				errs[i] = fmt.Errorf("%s: %w", ch.Name(), err)
				return nil
			}
			if target.Channel == "" {
				target.Channel = ch.Name()
			}
			targets[i] = target
			return nil
		})
	}
	_ = g.Wait()

	var ref approval.PromptRef
	for i, target := range targets {
		if errs[i] != nil {
			continue
		}
		ref.Targets = append(ref.Targets, target)
		if ref.URL == "" && target.URL != "" {
			ref.URL = target.URL
		}
	}
	if len(ref.Targets) == 0 {
		return approval.PromptRef{}, gateerr.Wrap(gateerr.UpstreamUnavailable, op, errors.Join(errs...))
	}
	return ref, nil
}

// UpdatePrompt refreshes every delivered prompt. Failures are returned joined
// but never stop the remaining updates.
func (m *Manager) UpdatePrompt(ctx context.Context, ref approval.PromptRef, state PromptState) error {
	m.mu.RLock()
	recorder := m.runtimeMetric
	m.mu.RUnlock()

	var errs []error
	for _, target := range ref.Targets {
		ch, ok := m.Get(target.Channel)
		if !ok {
			errs = append(errs, fmt.Errorf("%s: channel not registered", target.Channel))
			continue
		}
		if err := ch.UpdatePrompt(ctx, target, state); err != nil {
			recorder.RecordUpdateFailure()
			errs = append(errs, fmt.Errorf("%s: %w", target.Channel, err))
		}
	}
	return errors.Join(errs...)
}
