package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MEKXH/postgate/internal/audit"
	"github.com/MEKXH/postgate/internal/client"
	"github.com/MEKXH/postgate/internal/config"
	"github.com/MEKXH/postgate/internal/gate"
	"github.com/spf13/cobra"
)

// gateAPI is the subset of *client.Client the commands use.
type gateAPI interface {
	RequestApproval(ctx context.Context, in gate.RequestInput) (gate.Ticket, error)
	Status(ctx context.Context, requestID string) (gate.StatusView, error)
	WaitForDecision(ctx context.Context, requestID string, interval time.Duration) (gate.StatusView, error)
	Redeem(ctx context.Context, token, platform, action string) gate.Verdict
	Health(ctx context.Context) (client.HealthView, error)
	History(ctx context.Context, limit int) ([]audit.Entry, error)
}

// newGateClient is replaced in tests.
var newGateClient = func(cfg *config.Config, cmd *cobra.Command) (gateAPI, error) {
	server := cfg.Client.ServerURL
	token := cfg.Client.Token
	if cmd != nil {
		if v, _ := cmd.Flags().GetString("server"); strings.TrimSpace(v) != "" {
			server = v
		}
		if v, _ := cmd.Flags().GetString("auth-token"); strings.TrimSpace(v) != "" {
			token = v
		}
	}
	if strings.TrimSpace(token) == "" {
		token = cfg.Gateway.Token
	}
	c, err := client.New(server, client.WithToken(token), client.WithTimeout(cfg.Client.TimeoutDuration()))
	if err != nil {
		return nil, fmt.Errorf("gate client: %w", err)
	}
	return c, nil
}

func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().String("server", "", "Gateway URL (default client.server_url)")
	cmd.Flags().String("auth-token", "", "Gateway bearer token (default client.token)")
}

func loadGateClient(cmd *cobra.Command) (*config.Config, gateAPI, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	api, err := newGateClient(cfg, cmd)
	if err != nil {
		return nil, nil, err
	}
	return cfg, api, nil
}
