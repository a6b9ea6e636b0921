package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Assistant: AssistantConfig{
			APIBase:        "https://api.openai.com/v1",
			RunTimeoutSec:  120,
			PollIntervalMs: 1500,
		},
		Channels: ChannelsConfig{
			RateLimitRPM: 20,
		},
		Store: StoreConfig{
			Backend:    "file",
			Path:       "~/.porter/sessions.json",
			SQLitePath: "~/.porter/sessions.db",
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18791,
		},
		Maintenance: MaintenanceConfig{
			Schedule: "0 4 * * *",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "porter",
		},
	}
}

// Load reads config from a JSON file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values; secrets come only from env.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("PORTER_OPENAI_API_KEY", &c.Assistant.APIKey)
	envStr("PORTER_ASSISTANT_ID", &c.Assistant.AssistantID)
	envStr("PORTER_API_BASE", &c.Assistant.APIBase)

	envStr("PORTER_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("PORTER_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)

	// Auto-enable channels if credentials are provided via env
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}

	// Store
	envStr("PORTER_STORE_BACKEND", &c.Store.Backend)
	envStr("PORTER_STORE_PATH", &c.Store.Path)
	envStr("PORTER_SQLITE_PATH", &c.Store.SQLitePath)
	envStr("PORTER_POSTGRES_DSN", &c.Store.PostgresDSN)

	// Ops gateway
	envStr("PORTER_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("PORTER_GATEWAY_HOST", &c.Gateway.Host)
	if v := os.Getenv("PORTER_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	// Telemetry
	envStr("PORTER_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("PORTER_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("PORTER_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("PORTER_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("PORTER_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	// Tailscale (tsnet)
	envStr("PORTER_TSNET_HOSTNAME", &c.Tailscale.Hostname)
	envStr("PORTER_TSNET_AUTH_KEY", &c.Tailscale.AuthKey)
	envStr("PORTER_TSNET_DIR", &c.Tailscale.StateDir)
}

// ApplyEnvOverrides re-applies environment variable overrides onto the config.
// Call this after modifying config to restore runtime secrets from env vars.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// Hash returns a SHA-256 hash of the config, used to skip no-op reloads.
func (c *Config) Hash() string {
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

const secretMask = "***"

// MaskedCopy returns a deep copy of the config with all secret fields masked,
// safe to log or dump.
func (c *Config) MaskedCopy() *Config {
	// Deep copy via JSON round-trip; secrets carry json:"-" so restore then mask.
	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}
	cp.Assistant.APIKey = c.Assistant.APIKey
	cp.Channels.Discord.Token = c.Channels.Discord.Token
	cp.Channels.Telegram.Token = c.Channels.Telegram.Token
	cp.Store.PostgresDSN = c.Store.PostgresDSN
	cp.Gateway.Token = c.Gateway.Token
	cp.Tailscale.AuthKey = c.Tailscale.AuthKey

	maskNonEmpty(&cp.Assistant.APIKey)
	maskNonEmpty(&cp.Channels.Discord.Token)
	maskNonEmpty(&cp.Channels.Telegram.Token)
	maskNonEmpty(&cp.Store.PostgresDSN)
	maskNonEmpty(&cp.Gateway.Token)
	maskNonEmpty(&cp.Tailscale.AuthKey)

	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
