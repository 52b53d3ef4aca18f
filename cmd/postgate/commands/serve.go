package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MEKXH/postgate/internal/approval"
	"github.com/MEKXH/postgate/internal/audit"
	"github.com/MEKXH/postgate/internal/bus"
	"github.com/MEKXH/postgate/internal/channel"
	"github.com/MEKXH/postgate/internal/channel/discord"
	"github.com/MEKXH/postgate/internal/channel/feishu"
	"github.com/MEKXH/postgate/internal/channel/slack"
	"github.com/MEKXH/postgate/internal/channel/telegram"
	"github.com/MEKXH/postgate/internal/channel/webhook"
	"github.com/MEKXH/postgate/internal/config"
	"github.com/MEKXH/postgate/internal/gate"
	"github.com/MEKXH/postgate/internal/gateway"
	"github.com/MEKXH/postgate/internal/metrics"
	"github.com/MEKXH/postgate/internal/token"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	decisionBuffer  = 64
	shutdownTimeout = 5 * time.Second
)

func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the approval gateway and chat channels",
		RunE:  runServe,
	}
	cmd.Flags().Int("port", 0, "Override gateway.port")
	return cmd
}

// gateRuntime is everything serve runs.
type gateRuntime struct {
	decisions *bus.DecisionBus
	channels  *channel.Manager
	service   *gate.Service
	server    *gateway.Server
}

func buildRuntime(cfg *config.Config) (*gateRuntime, error) {
	auditDir, err := cfg.AuditDir()
	if err != nil {
		return nil, err
	}
	recorder := audit.NewRecorder(
		audit.NewWriter(auditDir),
		audit.NewHistory(cfg.Audit.HistorySize),
		cfg.Audit.PreviewLength,
	)
	runtimeMetrics := metrics.NewRecorder()

	decisions := bus.NewDecisionBus(decisionBuffer)
	chanMgr := channel.NewManager()
	chanMgr.SetRuntimeMetrics(runtimeMetrics)
	hook, err := registerEnabledChannels(cfg, decisions, chanMgr)
	if err != nil {
		return nil, err
	}

	svc := gate.New(gate.Options{
		Requests: approval.NewRegistry(
			approval.WithTTL(cfg.Approval.RequestTTLDuration()),
			approval.WithRetention(cfg.Approval.RequestRetentionDuration()),
		),
		Tokens: token.NewRegistry(
			token.WithTTL(cfg.Approval.TokenTTLDuration()),
			token.WithRetention(cfg.Approval.ConsumedRetentionDuration()),
		),
		Notifier:      chanMgr,
		Audit:         recorder,
		Metrics:       runtimeMetrics,
		PublicURL:     cfg.Gateway.PublicURL,
		RedeemTimeout: cfg.Approval.RedeemTimeout(),
	})

	inbound := func(ctx context.Context, in webhook.Inbound) error {
		return webhook.Forward(ctx, decisions, in)
	}
	if hook != nil {
		inbound = hook.HandleInbound
	}

	return &gateRuntime{
		decisions: decisions,
		channels:  chanMgr,
		service:   svc,
		server:    gateway.New(cfg.Gateway, svc, inbound),
	}, nil
}

// registerEnabledChannels adds every enabled channel to mgr. The webhook
// channel is returned so /decision-webhook can reply through it.
func registerEnabledChannels(cfg *config.Config, decisions *bus.DecisionBus, mgr *channel.Manager) (*webhook.Channel, error) {
	if cfg.Channels.Discord.Enabled {
		mgr.Register(discord.New(&cfg.Channels.Discord, decisions))
	}
	if cfg.Channels.Telegram.Enabled {
		mgr.Register(telegram.New(&cfg.Channels.Telegram, decisions))
	}
	if cfg.Channels.Slack.Enabled {
		mgr.Register(slack.New(&cfg.Channels.Slack, decisions))
	}
	if cfg.Channels.Feishu.Enabled {
		mgr.Register(feishu.New(&cfg.Channels.Feishu, decisions))
	}
	if !cfg.Channels.Webhook.Enabled {
		return nil, nil
	}
	hook, err := webhook.New(&cfg.Channels.Webhook, decisions)
	if err != nil {
		return nil, fmt.Errorf("webhook channel: %w", err)
	}
	mgr.Register(hook)
	return hook, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Gateway.Port = port
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	if len(rt.channels.Names()) == 0 {
		slog.Warn("no channels enabled, approval requests will fail until one is configured")
	}

	rt.channels.StartAll(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.service.Dispatch(gctx, rt.decisions)
		return nil
	})
	g.Go(func() error {
		rt.service.RunSweeper(gctx, cfg.Approval.SweepIntervalDuration())
		return nil
	})
	g.Go(func() error {
		if err := rt.server.Start(); err != nil {
			return fmt.Errorf("gateway server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := rt.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("gateway shutdown failed", "error", err)
		}
		return nil
	})

	fmt.Printf("Postgate running. Gateway: http://%s\nChannels: %s\nPress Ctrl+C to stop.\n",
		rt.server.Addr(), channelList(rt.channels.Names()))

	runErr := g.Wait()
	if runErr != nil {
		slog.Error("server component failed", "error", runErr)
	}

	slog.Info("shutting down")
	rt.service.Wait()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	rt.channels.StopAll(shutdownCtx)
	rt.decisions.Close()

	return runErr
}

func channelList(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}
