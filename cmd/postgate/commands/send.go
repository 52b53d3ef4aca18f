package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/MEKXH/postgate/internal/approval"
	"github.com/MEKXH/postgate/internal/gate"
	"github.com/MEKXH/postgate/internal/gateerr"
	"github.com/MEKXH/postgate/internal/policy"
	"github.com/spf13/cobra"
)

// errApprovalUnavailable is returned whenever the gate cannot be reached. The
// post never goes out in that case.
var errApprovalUnavailable = errors.New("approval system unavailable")

// Post is an outbound message that passed the gate.
type Post struct {
	Platform string
	Action   string
	Target   string
	Content  string
}

// Poster publishes an authorized post.
type Poster interface {
	Post(ctx context.Context, p Post) error
}

// dryRunPoster prints the post instead of sending it.
type dryRunPoster struct {
	out io.Writer
}

func (d dryRunPoster) Post(ctx context.Context, p Post) error {
	target := p.Target
	if target == "" {
		target = "-"
	}
	_, err := fmt.Fprintf(d.out, "[dry-run] %s %s to %s: %s\n", p.Action, p.Platform, target, p.Content)
	return err
}

func NewSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <content>",
		Short: "Send a post, asking for approval when policy requires it",
		Long: `Send evaluates the posting policy. Posts to restricted platforms need a
human decision: pass --approval-token from an earlier approval, or let send
request one and wait for it. If the gate cannot be reached nothing is sent.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runSend,
	}
	cmd.Flags().String("platform", "", "Platform to post to (detected from --target when empty)")
	cmd.Flags().String("action", "send", "Posting action")
	cmd.Flags().String("target", "", "Post target, e.g. a handle or URL")
	cmd.Flags().String("approval-token", "", "Token from an approved request")
	cmd.Flags().Bool("wait", true, "Wait for a human decision when no token is given")
	cmd.Flags().Duration("timeout", 10*time.Minute, "Maximum time to wait for a decision")
	addClientFlags(cmd)
	return cmd
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, api, err := loadGateClient(cmd)
	if err != nil {
		return err
	}

	platform, _ := cmd.Flags().GetString("platform")
	action, _ := cmd.Flags().GetString("action")
	target, _ := cmd.Flags().GetString("target")
	token, _ := cmd.Flags().GetString("approval-token")
	wait, _ := cmd.Flags().GetBool("wait")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	s := &sender{
		evaluator: policy.NewEvaluator(policy.Config{
			Mode:                policy.Mode(cfg.Policy.Mode),
			RestrictedPlatforms: cfg.Policy.RestrictedPlatforms,
			PostingActions:      cfg.Policy.PostingActions,
		}),
		api:     api,
		poster:  dryRunPoster{out: os.Stdout},
		out:     os.Stdout,
		wait:    wait,
		timeout: timeout,
	}
	return s.send(cmd.Context(), Post{
		Platform: platform,
		Action:   action,
		Target:   target,
		Content:  strings.Join(args, " "),
	}, token)
}

type sender struct {
	evaluator policy.Evaluator
	api       gateAPI
	poster    Poster
	out       io.Writer
	wait      bool
	timeout   time.Duration
	interval  time.Duration
}

func (s *sender) send(ctx context.Context, p Post, token string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(p.Content) == "" {
		return fmt.Errorf("content is required")
	}
	if strings.TrimSpace(p.Action) == "" {
		p.Action = "send"
	}

	decision := s.evaluator.Evaluate(policy.Input{Platform: p.Platform, Action: p.Action, Target: p.Target})
	p.Platform = decision.Platform

	switch decision.Action {
	case policy.ActionAllow:
		return s.poster.Post(ctx, p)
	case policy.ActionDeny:
		return fmt.Errorf("posting blocked by policy: %s", decision.Reason)
	}

	if strings.TrimSpace(token) == "" {
		var err error
		token, err = s.obtainToken(ctx, p, decision.Reason)
		if err != nil || token == "" {
			return err
		}
	}

	verdict := s.api.Redeem(ctx, token, p.Platform, p.Action)
	if !verdict.Allowed {
		if verdict.Reason == gate.ReasonUnavailable {
			return errApprovalUnavailable
		}
		return fmt.Errorf("approval token rejected: %s", verdict.Reason)
	}
	return s.poster.Post(ctx, p)
}

// obtainToken opens a request and, when waiting, blocks for the decision. It
// returns an empty token without error when the caller chose not to wait.
func (s *sender) obtainToken(ctx context.Context, p Post, reason string) (string, error) {
	ticket, err := s.api.RequestApproval(ctx, gate.RequestInput{
		Platform: p.Platform,
		Action:   p.Action,
		Content:  p.Content,
		Target:   p.Target,
	})
	if err != nil {
		if gateerr.KindOf(err) == gateerr.UpstreamUnavailable || gateerr.KindOf(err) == "" {
			return "", fmt.Errorf("%w: %v", errApprovalUnavailable, err)
		}
		return "", err
	}

	fmt.Fprintf(s.out, "Approval required (%s). Request %s sent for review.\n", reason, ticket.RequestID)
	if ticket.ApprovalURL != "" {
		fmt.Fprintf(s.out, "Approve at: %s\n", ticket.ApprovalURL)
	}
	if !s.wait {
		fmt.Fprintln(s.out, "Re-run with --approval-token once the request is approved.")
		return "", nil
	}

	waitCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	view, err := s.api.WaitForDecision(waitCtx, ticket.RequestID, s.interval)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("no decision on %s before timeout", ticket.RequestID)
		}
		return "", fmt.Errorf("%w: %v", errApprovalUnavailable, err)
	}

	switch view.Status {
	case approval.StatusApproved:
		if view.Token == "" {
			return "", fmt.Errorf("request %s approved without a token", view.RequestID)
		}
		fmt.Fprintf(s.out, "Approved by %s.\n", view.DecidedBy)
		return view.Token, nil
	case approval.StatusDenied:
		return "", fmt.Errorf("posting denied by %s", view.DecidedBy)
	default:
		return "", fmt.Errorf("approval request %s", view.Status)
	}
}
