package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Gateway.Port != 18790 {
		t.Errorf("expected Port=18790, got %d", cfg.Gateway.Port)
	}
	if cfg.Approval.RequestTTLDuration() != 5*time.Minute {
		t.Errorf("expected 5m request ttl, got %s", cfg.Approval.RequestTTLDuration())
	}
	if cfg.Approval.TokenTTLDuration() != 5*time.Minute {
		t.Errorf("expected 5m token ttl, got %s", cfg.Approval.TokenTTLDuration())
	}
	if cfg.Approval.ConsumedRetentionDuration() != 30*time.Second {
		t.Errorf("expected 30s consumed retention, got %s", cfg.Approval.ConsumedRetentionDuration())
	}
	if cfg.Approval.RedeemTimeout() != 2*time.Second {
		t.Errorf("expected 2s redeem timeout, got %s", cfg.Approval.RedeemTimeout())
	}
	if cfg.Audit.HistorySize != 1000 || cfg.Audit.PreviewLength != 100 {
		t.Errorf("unexpected audit defaults: %+v", cfg.Audit)
	}
	if len(cfg.Policy.RestrictedPlatforms) != 6 {
		t.Errorf("expected 6 restricted platforms, got %d", len(cfg.Policy.RestrictedPlatforms))
	}
}

func TestLoad_CreatesDefaultFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Gateway.Port != 18790 {
		t.Fatalf("expected default port, got %d", cfg.Gateway.Port)
	}
	if _, err := os.Stat(filepath.Join(home, ".postgate", "config.json")); err != nil {
		t.Fatalf("expected config file to be written: %v", err)
	}
}

func TestLoad_ReadsFileAndNormalizesKeys(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".postgate")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll error: %v", err)
	}
	raw := `{
  "gateway": {"port": 19000, "token": "secret"},
  "approval": {"requestTTL": 60, "token-ttl": 120},
  "channels": {"discord": {"enabled": true, "token": "bot", "channel_id": "c1", "allow_from": ["alice"]}},
  "policy": {"mode": "STRICT"},
  "log": {"level": "DEBUG"}
}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(raw), 0600); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Gateway.Port != 19000 || cfg.Gateway.Token != "secret" {
		t.Fatalf("unexpected gateway config: %+v", cfg.Gateway)
	}
	if cfg.Approval.RequestTTL != 60 || cfg.Approval.TokenTTL != 120 {
		t.Fatalf("unexpected approval config: %+v", cfg.Approval)
	}
	if cfg.Approval.SweepInterval != 30 {
		t.Fatalf("expected default sweep interval kept, got %d", cfg.Approval.SweepInterval)
	}
	if !cfg.Channels.Discord.Enabled || cfg.Channels.Discord.ChannelID != "c1" {
		t.Fatalf("unexpected discord config: %+v", cfg.Channels.Discord)
	}
	if cfg.Policy.Mode != "strict" || cfg.Log.Level != "debug" {
		t.Fatalf("expected normalized mode and level, got %q/%q", cfg.Policy.Mode, cfg.Log.Level)
	}
	if got := cfg.EnabledChannels(); len(got) != 1 || got[0] != "discord" {
		t.Fatalf("unexpected enabled channels: %v", got)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Gateway.Port = 70000 }},
		{"negative ttl", func(c *Config) { c.Approval.RequestTTL = -1 }},
		{"negative max request ttl", func(c *Config) { c.Gateway.MaxRequestTTL = -1 }},
		{"negative history", func(c *Config) { c.Audit.HistorySize = -5 }},
		{"webhook without url", func(c *Config) { c.Channels.Webhook.Enabled = true }},
		{"bad mode", func(c *Config) { c.Policy.Mode = "paranoid" }},
		{"bad level", func(c *Config) { c.Log.Level = "verbose" }},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tt.name)
		}
	}
}

func TestValidate_FillsZeroTimings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Approval = ApprovalConfig{}
	cfg.Client.Timeout = 0
	cfg.Gateway.MaxRequestTTL = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if cfg.Approval.RequestTTL != 300 || cfg.Approval.RedeemTimeoutMs != 2000 {
		t.Fatalf("expected defaults restored, got %+v", cfg.Approval)
	}
	if cfg.Client.Timeout != 10 {
		t.Fatalf("expected client timeout default, got %d", cfg.Client.Timeout)
	}
	if cfg.Gateway.MaxRequestTTL != 3600 {
		t.Fatalf("expected max request ttl default, got %d", cfg.Gateway.MaxRequestTTL)
	}
}

func TestAuditDir_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := DefaultConfig()
	cfg.Audit.Dir = "~/audit"
	got, err := cfg.AuditDir()
	if err != nil {
		t.Fatalf("AuditDir error: %v", err)
	}
	if got != filepath.Join(home, "audit") {
		t.Fatalf("unexpected audit dir %q", got)
	}

	cfg.Audit.Dir = ""
	got, _ = cfg.AuditDir()
	if got != filepath.Join(home, ".postgate", "logs") {
		t.Fatalf("unexpected default audit dir %q", got)
	}
}
