package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config root configuration
type Config struct {
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Approval ApprovalConfig `mapstructure:"approval"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Channels ChannelsConfig `mapstructure:"channels"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Client   ClientConfig   `mapstructure:"client"`
	Log      LogConfig      `mapstructure:"log"`
}

// GatewayConfig server settings
type GatewayConfig struct {
	Host      string          `mapstructure:"host"`
	Port      int             `mapstructure:"port"`
	Token     string          `mapstructure:"token"`
	PublicURL string          `mapstructure:"public_url"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// MaxRequestTTL caps the ttlSeconds a caller may ask for, in seconds.
	MaxRequestTTL int `mapstructure:"max_request_ttl"`
}

// RateLimitConfig bounds how fast approval requests may be created.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
	Burst             int     `mapstructure:"burst"`
}

// ApprovalConfig lifecycle timings. Durations are in seconds unless noted.
type ApprovalConfig struct {
	RequestTTL        int `mapstructure:"request_ttl"`
	TokenTTL          int `mapstructure:"token_ttl"`
	ConsumedRetention int `mapstructure:"consumed_retention"`
	RequestRetention  int `mapstructure:"request_retention"`
	SweepInterval     int `mapstructure:"sweep_interval"`
	RedeemTimeoutMs   int `mapstructure:"redeem_timeout_ms"`
}

// AuditConfig audit trail settings
type AuditConfig struct {
	Dir           string `mapstructure:"dir"`
	HistorySize   int    `mapstructure:"history_size"`
	PreviewLength int    `mapstructure:"preview_length"`
}

// ChannelsConfig channel settings
type ChannelsConfig struct {
	Discord  DiscordConfig  `mapstructure:"discord"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Slack    SlackConfig    `mapstructure:"slack"`
	Feishu   FeishuConfig   `mapstructure:"feishu"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
}

// DiscordConfig Discord bot settings
type DiscordConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Token     string   `mapstructure:"token"`
	ChannelID string   `mapstructure:"channel_id"`
	AllowFrom []string `mapstructure:"allow_from"`
}

// TelegramConfig telegram bot settings
type TelegramConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Token     string   `mapstructure:"token"`
	ChatID    string   `mapstructure:"chat_id"`
	AllowFrom []string `mapstructure:"allow_from"`
}

// SlackConfig Slack bot settings
type SlackConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	BotToken  string   `mapstructure:"bot_token"`
	AppToken  string   `mapstructure:"app_token"`
	ChannelID string   `mapstructure:"channel_id"`
	AllowFrom []string `mapstructure:"allow_from"`
}

// FeishuConfig Feishu/Lark bot settings
type FeishuConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	AppID             string   `mapstructure:"app_id"`
	AppSecret         string   `mapstructure:"app_secret"`
	VerificationToken string   `mapstructure:"verification_token"`
	EncryptKey        string   `mapstructure:"encrypt_key"`
	ChatID            string   `mapstructure:"chat_id"`
	AllowFrom         []string `mapstructure:"allow_from"`
}

// WebhookConfig generic HTTP webhook settings
type WebhookConfig struct {
	Enabled    bool              `mapstructure:"enabled"`
	URL        string            `mapstructure:"url"`
	Headers    map[string]string `mapstructure:"headers"`
	MaxRetries int               `mapstructure:"max_retries"`
	Timeout    int               `mapstructure:"timeout"` // seconds
}

// PolicyConfig posting policy settings
type PolicyConfig struct {
	Mode                string   `mapstructure:"mode"`
	RestrictedPlatforms []string `mapstructure:"restricted_platforms"`
	PostingActions      []string `mapstructure:"posting_actions"`
}

// ClientConfig settings used by CLI commands that talk to a running gate.
type ClientConfig struct {
	ServerURL string `mapstructure:"server_url"`
	Token     string `mapstructure:"token"`
	Timeout   int    `mapstructure:"timeout"` // seconds
}

// LogConfig application logging settings
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DefaultConfig returns config with sensible defaults
func DefaultConfig() *Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("failed to resolve home directory, using current directory as fallback", "error", err)
		homeDir = "."
	}
	return &Config{
		Gateway: GatewayConfig{
			Host:  "0.0.0.0",
			Port:  18790,
			Token: "",
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 30,
				Burst:             5,
			},
			MaxRequestTTL: 3600,
		},
		Approval: ApprovalConfig{
			RequestTTL:        300,
			TokenTTL:          300,
			ConsumedRetention: 30,
			RequestRetention:  86400,
			SweepInterval:     30,
			RedeemTimeoutMs:   2000,
		},
		Audit: AuditConfig{
			Dir:           filepath.Join(homeDir, ".postgate", "logs"),
			HistorySize:   1000,
			PreviewLength: 100,
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				Enabled:   false,
				AllowFrom: []string{},
			},
			Telegram: TelegramConfig{
				Enabled:   false,
				AllowFrom: []string{},
			},
			Slack: SlackConfig{
				Enabled:   false,
				AllowFrom: []string{},
			},
			Feishu: FeishuConfig{
				Enabled:   false,
				AllowFrom: []string{},
			},
			Webhook: WebhookConfig{
				Enabled:    false,
				Headers:    map[string]string{},
				MaxRetries: 3,
				Timeout:    10,
			},
		},
		Policy: PolicyConfig{
			Mode:                "relaxed",
			RestrictedPlatforms: []string{"twitter", "x", "linkedin", "facebook", "instagram", "tiktok"},
			PostingActions:      []string{"send", "post", "tweet", "share", "publish"},
		},
		Client: ClientConfig{
			ServerURL: "http://localhost:18790",
			Timeout:   10,
		},
		Log: LogConfig{
			Level: "info",
			File:  "",
		},
	}
}

// ConfigDir returns the postgate config directory
func ConfigDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".postgate")
}

// ConfigPath returns the config file path
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// Load loads config from file or returns defaults
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := ConfigPath()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := Save(cfg); err != nil {
			return cfg, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix("POSTGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return cfg, err
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.MatchName = func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		}
	}); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func normalizeKey(input string) string {
	input = strings.ReplaceAll(input, "_", "")
	input = strings.ReplaceAll(input, "-", "")
	return strings.ToLower(input)
}

// Save saves config to file
func Save(cfg *Config) error {
	configPath := ConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0600)
}

// Validate checks that the configuration values are within acceptable ranges.
// Zero timings are replaced by their defaults.
func (c *Config) Validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be between 1 and 65535, got %d", c.Gateway.Port)
	}
	if c.Gateway.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("gateway.rate_limit.requests_per_minute must not be negative, got %f", c.Gateway.RateLimit.RequestsPerMinute)
	}
	if c.Gateway.RateLimit.Burst < 0 {
		return fmt.Errorf("gateway.rate_limit.burst must not be negative, got %d", c.Gateway.RateLimit.Burst)
	}
	if c.Gateway.MaxRequestTTL < 0 {
		return fmt.Errorf("gateway.max_request_ttl must not be negative, got %d", c.Gateway.MaxRequestTTL)
	}
	if c.Gateway.MaxRequestTTL == 0 {
		c.Gateway.MaxRequestTTL = 3600
	}

	a := &c.Approval
	for _, field := range []struct {
		name  string
		value *int
		def   int
	}{
		{"approval.request_ttl", &a.RequestTTL, 300},
		{"approval.token_ttl", &a.TokenTTL, 300},
		{"approval.consumed_retention", &a.ConsumedRetention, 30},
		{"approval.request_retention", &a.RequestRetention, 86400},
		{"approval.sweep_interval", &a.SweepInterval, 30},
		{"approval.redeem_timeout_ms", &a.RedeemTimeoutMs, 2000},
	} {
		if *field.value < 0 {
			return fmt.Errorf("%s must not be negative, got %d", field.name, *field.value)
		}
		if *field.value == 0 {
			*field.value = field.def
		}
	}

	if c.Audit.HistorySize < 0 {
		return fmt.Errorf("audit.history_size must not be negative, got %d", c.Audit.HistorySize)
	}
	if c.Audit.HistorySize == 0 {
		c.Audit.HistorySize = 1000
	}
	if c.Audit.PreviewLength <= 0 {
		c.Audit.PreviewLength = 100
	}

	if c.Channels.Webhook.Enabled && strings.TrimSpace(c.Channels.Webhook.URL) == "" {
		return fmt.Errorf("channels.webhook.url must be set when the webhook channel is enabled")
	}
	if c.Channels.Webhook.MaxRetries < 0 {
		return fmt.Errorf("channels.webhook.max_retries must not be negative, got %d", c.Channels.Webhook.MaxRetries)
	}

	mode := strings.ToLower(strings.TrimSpace(c.Policy.Mode))
	if mode == "" {
		c.Policy.Mode = "relaxed"
	} else {
		validModes := map[string]bool{"strict": true, "relaxed": true, "off": true}
		if !validModes[mode] {
			return fmt.Errorf("policy.mode must be one of strict, relaxed, off; got %q", c.Policy.Mode)
		}
		c.Policy.Mode = mode
	}

	if c.Client.Timeout < 0 {
		return fmt.Errorf("client.timeout must not be negative, got %d", c.Client.Timeout)
	}
	if c.Client.Timeout == 0 {
		c.Client.Timeout = 10
	}

	level := strings.ToLower(strings.TrimSpace(c.Log.Level))
	if level == "" {
		c.Log.Level = "info"
	} else {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[level] {
			return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
		}
		c.Log.Level = level
	}

	return nil
}

// RequestTTLDuration returns the pending window of a new request.
func (a ApprovalConfig) RequestTTLDuration() time.Duration {
	return time.Duration(a.RequestTTL) * time.Second
}

// TokenTTLDuration returns the lifetime of an issued token.
func (a ApprovalConfig) TokenTTLDuration() time.Duration {
	return time.Duration(a.TokenTTL) * time.Second
}

// ConsumedRetentionDuration returns how long consumed tokens are remembered.
func (a ApprovalConfig) ConsumedRetentionDuration() time.Duration {
	return time.Duration(a.ConsumedRetention) * time.Second
}

// RequestRetentionDuration returns how long decided requests are kept.
func (a ApprovalConfig) RequestRetentionDuration() time.Duration {
	return time.Duration(a.RequestRetention) * time.Second
}

// SweepIntervalDuration returns the cleanup period.
func (a ApprovalConfig) SweepIntervalDuration() time.Duration {
	return time.Duration(a.SweepInterval) * time.Second
}

// RedeemTimeout bounds a single token redemption.
func (a ApprovalConfig) RedeemTimeout() time.Duration {
	return time.Duration(a.RedeemTimeoutMs) * time.Millisecond
}

// TimeoutDuration returns the HTTP client timeout.
func (c ClientConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// AuditDir returns the expanded audit directory.
func (c *Config) AuditDir() (string, error) {
	dir := strings.TrimSpace(c.Audit.Dir)
	if dir == "" {
		return filepath.Join(ConfigDir(), "logs"), nil
	}
	if dir[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory for audit dir: %w", err)
		}
		rest := dir[1:]
		rest = strings.TrimPrefix(rest, string(filepath.Separator))
		rest = strings.TrimPrefix(rest, "/")
		return filepath.Join(homeDir, rest), nil
	}
	return dir, nil
}

// EnabledChannels returns the names of enabled channels.
func (c *Config) EnabledChannels() []string {
	var names []string
	if c.Channels.Discord.Enabled {
		names = append(names, "discord")
	}
	if c.Channels.Telegram.Enabled {
		names = append(names, "telegram")
	}
	if c.Channels.Slack.Enabled {
		names = append(names, "slack")
	}
	if c.Channels.Feishu.Enabled {
		names = append(names, "feishu")
	}
	if c.Channels.Webhook.Enabled {
		names = append(names, "webhook")
	}
	return names
}
