package commands

import (
	"strings"
	"testing"

	"github.com/MEKXH/postgate/internal/config"
)

func TestChannelsSetEnabled_ChatChannels(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("USERPROFILE", tmpDir)

	for _, name := range []string{"discord", "telegram", "slack", "feishu"} {
		if err := runChannelsSetEnabled(name, true); err != nil {
			t.Fatalf("enable %s: %v", name, err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got := strings.Join(cfg.EnabledChannels(), ","); got != "discord,telegram,slack,feishu" {
		t.Fatalf("unexpected enabled channels: %s", got)
	}

	for _, name := range []string{"discord", "telegram", "slack", "feishu"} {
		if err := runChannelsSetEnabled(name, false); err != nil {
			t.Fatalf("disable %s: %v", name, err)
		}
	}
}

func TestChannelsSetEnabled_WebhookNeedsURL(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("USERPROFILE", tmpDir)

	if err := runChannelsSetEnabled("webhook", true); err == nil {
		t.Fatal("expected error enabling webhook without url")
	}

	cfg := config.DefaultConfig()
	cfg.Channels.Webhook.URL = "https://hooks.example.com/postgate"
	if err := config.Save(cfg); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if err := runChannelsSetEnabled("webhook", true); err != nil {
		t.Fatalf("enable webhook: %v", err)
	}
}

func TestChannelsSetEnabled_UnknownChannel(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("USERPROFILE", tmpDir)

	if err := runChannelsSetEnabled("whatsapp", true); err == nil {
		t.Fatal("expected error for unknown channel")
	}
}

func TestChannelsList_ContainsAllSupportedChannels(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("USERPROFILE", tmpDir)

	out := captureOutput(t, func() {
		if err := runChannelsList(nil, nil); err != nil {
			t.Fatalf("runChannelsList: %v", err)
		}
	})

	for _, name := range []string{"discord", "telegram", "slack", "feishu", "webhook"} {
		if !strings.Contains(out, name) {
			t.Fatalf("expected channel %q in output, got: %s", name, out)
		}
	}
}

func TestChannelStates_Readiness(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Channels.Discord.Enabled = true
	cfg.Channels.Discord.Token = "token"
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.Token = "token"
	cfg.Channels.Telegram.ChatID = "-1001"

	states := channelStates(cfg)
	if states[0].Note() != "token/channel_id not set" {
		t.Fatalf("expected discord to need a channel id, got %q", states[0].Note())
	}
	if states[1].Note() != "ready" {
		t.Fatalf("expected telegram ready, got %q", states[1].Note())
	}
	if states[2].Note() != "" {
		t.Fatalf("expected disabled slack to have no note, got %q", states[2].Note())
	}

	cfg.Channels.Feishu.Enabled = true
	cfg.Channels.Feishu.AppID = "cli_a1"
	cfg.Channels.Feishu.AppSecret = "secret"
	if note := channelStates(cfg)[3].Note(); note != "app_id/app_secret/chat_id not set" {
		t.Fatalf("expected feishu to need a chat id, got %q", note)
	}
}
