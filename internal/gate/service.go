// Package gate ties the request and token registries to the chat prompts: it
// opens requests, applies human decisions and redeems tokens.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MEKXH/postgate/internal/approval"
	"github.com/MEKXH/postgate/internal/audit"
	"github.com/MEKXH/postgate/internal/gateerr"
	"github.com/MEKXH/postgate/internal/metrics"
	"github.com/MEKXH/postgate/internal/token"
)

const (
	defaultRedeemTimeout = 2 * time.Second
	promptUpdateTimeout  = 10 * time.Second
	replyTimeout         = 5 * time.Second
)

// Options wires a Service.
type Options struct {
	Requests *approval.Registry
	Tokens   *token.Registry
	Notifier Notifier
	Audit    *audit.Recorder
	Metrics  *metrics.Recorder

	// PublicURL, when set, yields an approval URL for prompts whose channel
	// returned no link.
	PublicURL     string
	RedeemTimeout time.Duration
	Now           func() time.Time
}

// Service is the gate authority.
type Service struct {
	requests      *approval.Registry
	tokens        *token.Registry
	validator     tokenValidator
	notifier      Notifier
	audit         *audit.Recorder
	metrics       *metrics.Recorder
	publicURL     string
	redeemTimeout time.Duration
	now           func() time.Time
	started       time.Time

	wg sync.WaitGroup
}

// New creates a Service and subscribes it to registry transitions and token
// validations.
func New(opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	redeemTimeout := opts.RedeemTimeout
	if redeemTimeout <= 0 {
		redeemTimeout = defaultRedeemTimeout
	}
	s := &Service{
		requests:      opts.Requests,
		tokens:        opts.Tokens,
		notifier:      opts.Notifier,
		audit:         opts.Audit,
		metrics:       opts.Metrics,
		publicURL:     strings.TrimRight(strings.TrimSpace(opts.PublicURL), "/"),
		redeemTimeout: redeemTimeout,
		now:           now,
		started:       now(),
	}
	if s.requests != nil {
		s.requests.SetListener(s)
	}
	if s.tokens != nil {
		s.validator = s.tokens
		s.tokens.SetObserver(s.tokenValidated)
	}
	return s
}

// RequestApproval opens a pending request and publishes its prompt. When no
// prompt could be delivered the request is dropped and UpstreamUnavailable is
// returned, so it can never be approved.
func (s *Service) RequestApproval(ctx context.Context, in RequestInput) (Ticket, error) {
	const op = "gate.request_approval"
	if strings.TrimSpace(in.Content) == "" {
		return Ticket{}, gateerr.New(gateerr.InvalidInput, op, "content is required")
	}
	if s.notifier == nil {
		return Ticket{}, gateerr.New(gateerr.UpstreamUnavailable, op, "no notification channel configured")
	}

	req, err := s.requests.Create(approval.CreateInput{
		Platform: in.Platform,
		Action:   in.Action,
		Content:  in.Content,
		Target:   in.Target,
		TTL:      in.TTL,
	})
	if err != nil {
		return Ticket{}, fmt.Errorf("create request: %w", err)
	}
	s.metrics.RecordRequestCreated()
	s.record(audit.Entry{
		Event:     audit.EventRequested,
		RequestID: req.ID,
		Platform:  req.Platform,
		Action:    req.Action,
		Content:   req.Content,
	})

	ref, err := s.notifier.Publish(ctx, promptFor(req))
	if err != nil {
		s.requests.Delete(req.ID)
		s.record(audit.Entry{
			Event:     audit.EventPromptFailed,
			RequestID: req.ID,
			Platform:  req.Platform,
			Action:    req.Action,
			Reason:    err.Error(),
		})
		slog.Error("approval prompt not delivered", "request_id", req.ID, "error", err)
		return Ticket{}, gateerr.Wrap(gateerr.UpstreamUnavailable, op, err)
	}

	if err := s.requests.SetNotificationRef(req.ID, ref); err != nil {
		return Ticket{}, fmt.Errorf("record prompt ref: %w", err)
	}
	// A decision may have landed before the ref was stored; its prompt update
	// was skipped, so push it now.
	if current, err := s.requests.Get(req.ID); err == nil && current.Status.IsTerminal() {
		s.updatePromptAsync(current)
	}

	slog.Info("approval requested",
		"request_id", req.ID,
		"platform", req.Platform,
		"action", req.Action,
		"targets", len(ref.Targets),
	)

	return Ticket{
		RequestID:   req.ID,
		Status:      string(approval.StatusPending),
		PromptRef:   ref,
		ApprovalURL: s.approvalURL(req.ID, ref),
		ExpiresAt:   req.ExpiresAt,
	}, nil
}

// PollStatus reports the current state of a request.
func (s *Service) PollStatus(id string) (StatusView, error) {
	req, err := s.requests.Get(id)
	if err != nil {
		return StatusView{}, err
	}
	view := StatusView{
		RequestID: req.ID,
		Status:    req.Status,
		Platform:  req.Platform,
		Action:    req.Action,
		ExpiresAt: req.ExpiresAt,
		DecidedBy: req.DecidedBy,
		DecidedAt: req.DecidedAt,
	}
	if req.Status == approval.StatusApproved {
		view.Token = req.Token
		view.TokenExpiresAt = req.TokenExpiresAt
	}
	return view, nil
}

// Health reports registry sizes and uptime.
func (s *Service) Health() Health {
	h := Health{Status: "ok", Uptime: s.now().Sub(s.started)}
	if s.requests != nil {
		h.PendingCount = s.requests.PendingCount()
	}
	if s.tokens != nil {
		h.ActiveTokenCount = s.tokens.ActiveCount()
	}
	return h
}

// History returns up to n recent audit entries, newest first.
func (s *Service) History(n int) []audit.Entry {
	if s.audit == nil {
		return nil
	}
	return s.audit.Recent(n)
}

// Metrics returns the lifecycle counters.
func (s *Service) Metrics() metrics.Snapshot {
	return s.metrics.Snapshot()
}

// Wait blocks until in-flight prompt updates and replies have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// RequestTransitioned implements approval.Listener. It runs after the request
// lock is released.
func (s *Service) RequestTransitioned(req approval.Request) {
	s.metrics.RecordTransition(string(req.Status), req.DecidedAt.Sub(req.CreatedAt))

	entry := audit.Entry{
		RequestID: req.ID,
		Platform:  req.Platform,
		Action:    req.Action,
		Content:   req.Content,
		Actor:     req.DecidedBy,
	}
	switch req.Status {
	case approval.StatusApproved:
		entry.Event = audit.EventApproved
		entry.Token = req.Token
	case approval.StatusDenied:
		entry.Event = audit.EventDenied
	case approval.StatusExpired:
		entry.Event = audit.EventExpired
	}
	s.record(entry)

	slog.Info("approval request decided",
		"request_id", req.ID,
		"status", req.Status,
		"actor", req.DecidedBy,
	)
	s.updatePromptAsync(req)
}

func (s *Service) updatePromptAsync(req approval.Request) {
	if s.notifier == nil || req.NotificationRef.IsZero() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), promptUpdateTimeout)
		defer cancel()
		if err := s.notifier.UpdatePrompt(ctx, req.NotificationRef, stateFor(req)); err != nil {
			slog.Warn("approval prompt update failed", "request_id", req.ID, "status", req.Status, "error", err)
		}
	}()
}

func (s *Service) approvalURL(id string, ref approval.PromptRef) string {
	if ref.URL != "" {
		return ref.URL
	}
	if s.publicURL != "" {
		return s.publicURL + "/status/" + id
	}
	return ""
}

func (s *Service) record(entry audit.Entry) {
	if s.audit == nil {
		return
	}
	s.audit.Record(entry)
}
