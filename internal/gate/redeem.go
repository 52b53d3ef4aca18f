package gate

import (
	"context"
	"log/slog"

	"github.com/MEKXH/postgate/internal/audit"
	"github.com/MEKXH/postgate/internal/token"
)

// tokenValidator consumes tokens; *token.Registry is the production one.
type tokenValidator interface {
	Validate(value, platform, action string) token.Result
}

// Redeem consumes a token for the given scope. It fails closed: a missing
// registry, a timeout or any other ambiguity denies with ReasonUnavailable.
func (s *Service) Redeem(ctx context.Context, value, platform, action string) Verdict {
	if s == nil || s.validator == nil {
		return Verdict{Reason: ReasonUnavailable}
	}
	// A caller that already gave up must not burn the token.
	if err := ctx.Err(); err != nil {
		s.metrics.RecordFailClosed()
		slog.Warn("token redemption abandoned before validation", "token", audit.PreviewToken(value), "error", err)
		return Verdict{Reason: ReasonUnavailable}
	}

	ctx, cancel := context.WithTimeout(ctx, s.redeemTimeout)
	defer cancel()

	done := make(chan token.Result, 1)
	go func() {
		done <- s.validator.Validate(value, platform, action)
	}()

	select {
	case res := <-done:
		if res.Accepted {
			return Verdict{Allowed: true, RequestID: res.Token.RequestID}
		}
		return Verdict{Reason: res.Reason, RequestID: res.Token.RequestID}
	case <-ctx.Done():
		s.metrics.RecordFailClosed()
		slog.Warn("token redemption timed out", "token", audit.PreviewToken(value), "error", ctx.Err())
		return Verdict{Reason: ReasonUnavailable}
	}
}

// tokenValidated audits and counts every validation, including ones that
// finish after Redeem already gave up.
func (s *Service) tokenValidated(ev token.Event) {
	s.metrics.RecordRedeem(ev.Result.Accepted, ev.Result.Reason)

	entry := audit.Entry{
		RequestID: ev.Result.Token.RequestID,
		Platform:  ev.Platform,
		Action:    ev.Action,
		Token:     ev.Value,
		Reason:    ev.Result.Reason,
	}
	switch {
	case ev.Result.Accepted:
		entry.Event = audit.EventConsumed
	case ev.Result.Reason == token.ReasonScopeMismatch:
		entry.Event = audit.EventScopeMismatch
	default:
		entry.Event = audit.EventRedeemRejected
	}
	s.record(entry)
}
