package config

import (
	"encoding/json"
	"fmt"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the Porter gateway.
// Config is immutable once loaded; the hot-reload watcher hands out fresh
// instances and components adopt individual fields through their own setters.
type Config struct {
	Assistant   AssistantConfig   `json:"assistant"`
	Channels    ChannelsConfig    `json:"channels"`
	Store       StoreConfig       `json:"store"`
	Gateway     GatewayConfig     `json:"gateway"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
	Telemetry   TelemetryConfig   `json:"telemetry,omitempty"`
	Tailscale   TailscaleConfig   `json:"tailscale,omitempty"`
}

// AssistantConfig configures the remote assistant the gateway relays to.
// APIKey is NEVER read from config.json (secret) — only from env PORTER_OPENAI_API_KEY.
type AssistantConfig struct {
	APIKey         string `json:"-"`                          // from env PORTER_OPENAI_API_KEY only
	AssistantID    string `json:"assistant_id"`               // asst_... identifier to run
	APIBase        string `json:"api_base,omitempty"`         // default "https://api.openai.com/v1"
	RunTimeoutSec  int    `json:"run_timeout_sec,omitempty"`  // wall-clock deadline per run (default 120)
	PollIntervalMs int    `json:"poll_interval_ms,omitempty"` // run status poll interval (default 1500)
}

// StoreConfig selects and configures the session store backend.
// PostgresDSN is env-only (PORTER_POSTGRES_DSN), never persisted.
type StoreConfig struct {
	Backend     string `json:"backend,omitempty"`     // "file" (default), "sqlite", "postgres"
	Path        string `json:"path,omitempty"`        // file backend: JSON document path (default ~/.porter/sessions.json)
	SQLitePath  string `json:"sqlite_path,omitempty"` // sqlite backend: database path (default ~/.porter/sessions.db)
	PostgresDSN string `json:"-"`                     // from env PORTER_POSTGRES_DSN only
}

// GatewayConfig controls the local ops server (HTTP API + WebSocket event feed).
type GatewayConfig struct {
	Enabled        bool     `json:"enabled"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"-"`                        // bearer token for HTTP/WS auth, env PORTER_GATEWAY_TOKEN only
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // WebSocket origin whitelist (empty = same-host only)
}

// MaintenanceConfig controls the scheduled session verification sweep.
type MaintenanceConfig struct {
	Enabled  bool   `json:"enabled,omitempty"`
	Schedule string `json:"schedule,omitempty"` // cron expression (default "0 4 * * *")
}

// TelemetryConfig configures OpenTelemetry export for run lifecycle traces.
// When enabled, spans are exported to an OTLP-compatible backend
// (Jaeger, Tempo, Datadog, etc.).
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317", "https://otel.example.com:4318")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // skip TLS verification (default false, set true for local dev)
	ServiceName string            `json:"service_name,omitempty"` // OTEL service name (default "porter")
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (e.g. auth tokens for cloud backends)
}

// TailscaleConfig configures the optional Tailscale tsnet listener for the ops server.
// Requires building with -tags tsnet. Auth key from env only (never persisted).
type TailscaleConfig struct {
	Hostname  string `json:"hostname"`            // Tailscale machine name (e.g. "porter")
	StateDir  string `json:"state_dir,omitempty"` // persistent state directory (default: os.UserConfigDir/tsnet-porter)
	AuthKey   string `json:"-"`                   // from env PORTER_TSNET_AUTH_KEY only
	Ephemeral bool   `json:"ephemeral,omitempty"` // remove node on exit (default false)
}
