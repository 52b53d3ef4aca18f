package gate

import (
	"context"
	"log/slog"

	"github.com/MEKXH/postgate/internal/approval"
	"github.com/MEKXH/postgate/internal/bus"
	"github.com/MEKXH/postgate/internal/gateerr"
)

// Decide applies one human decision. Unknown, expired and already decided
// requests yield a rejected outcome with a reply for the actor, never a
// system error.
func (s *Service) Decide(ctx context.Context, d bus.Decision) Outcome {
	if !d.Action.IsValid() {
		return Outcome{Reply: ReplyUnknownAction, Err: gateerr.New(gateerr.InvalidInput, "gate.decide", "unknown action "+string(d.Action))}
	}

	req, err := s.requests.Get(d.RequestID)
	if err != nil {
		return rejected(req, err)
	}
	if req.Status != approval.StatusPending {
		return rejected(req, gateerr.New(gateerr.AlreadyDecided, "gate.decide", "request already "+string(req.Status)))
	}

	switch d.Action {
	case bus.ActionApprove:
		return s.approve(req, d)
	default:
		decided, err := s.requests.Transition(req.ID, approval.StatusDenied, d.ActorID, nil)
		if err != nil {
			return rejected(decided, err)
		}
		return Outcome{Accepted: true, Request: decided, Reply: ReplyDenied}
	}
}

// approve mints the token first so that a failure leaves the request
// pending; a token whose transition lost the race is revoked unseen.
func (s *Service) approve(req approval.Request, d bus.Decision) Outcome {
	tok, err := s.tokens.Issue(req.ID, req.Platform, req.Action)
	if err != nil {
		slog.Error("approval token not issued", "request_id", req.ID, "error", err)
		return Outcome{Request: req, Reply: ReplyIssueFailed, Err: err}
	}

	decided, err := s.requests.Transition(req.ID, approval.StatusApproved, d.ActorID, func(r *approval.Request) {
		r.Token = tok.Value
		r.TokenExpiresAt = tok.ExpiresAt
	})
	if err != nil {
		s.tokens.Revoke(tok.Value)
		return rejected(decided, err)
	}
	return Outcome{Accepted: true, Request: decided, Reply: ReplyApproved}
}

func rejected(req approval.Request, err error) Outcome {
	out := Outcome{Request: req, Err: err}
	switch gateerr.KindOf(err) {
	case gateerr.AlreadyDecided:
		out.Reply = "❌ Request already " + string(req.Status)
	default:
		out.Reply = ReplyNotFound
	}
	return out
}

// Dispatch consumes decision events until ctx is done or the bus is closed.
// Each outcome is sent back to the actor through the event's Respond hook.
func (s *Service) Dispatch(ctx context.Context, decisions *bus.DecisionBus) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-decisions.Done():
			return
		case d := <-decisions.Decisions():
			out := s.Decide(ctx, d)
			logger := slog.With("request_id", d.RequestID, "trace_id", d.TraceID, "channel", d.Channel, "actor", d.ActorID)
			if out.Accepted {
				logger.Info("decision applied", "action", d.Action)
			} else {
				logger.Info("decision rejected", "action", d.Action, "error", out.Err)
			}
			s.reply(d, out)
		}
	}
}

func (s *Service) reply(d bus.Decision, out Outcome) {
	if d.Respond == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
		defer cancel()
		if err := d.Respond(ctx, bus.Reply{Accepted: out.Accepted, Text: out.Reply}); err != nil {
			slog.Warn("decision reply failed", "request_id", d.RequestID, "channel", d.Channel, "error", err)
		}
	}()
}
