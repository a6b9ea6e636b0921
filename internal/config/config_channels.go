package config

// ChannelsConfig contains per-channel configuration.
type ChannelsConfig struct {
	Discord      DiscordConfig  `json:"discord"`
	Telegram     TelegramConfig `json:"telegram"`
	RateLimitRPM int            `json:"rate_limit_rpm,omitempty"` // inbound messages per minute per sender (default 20, 0 = disabled)
}

type DiscordConfig struct {
	Enabled        bool                `json:"enabled"`
	Token          string              `json:"-"` // from env PORTER_DISCORD_TOKEN only
	AllowFrom      FlexibleStringSlice `json:"allow_from"`
	DMPolicy       string              `json:"dm_policy,omitempty"`       // "open" (default), "allowlist", "disabled"
	GroupPolicy    string              `json:"group_policy,omitempty"`    // "open" (default), "allowlist", "disabled"
	RequireMention *bool               `json:"require_mention,omitempty"` // require @bot mention in guild channels (default true)
}

type TelegramConfig struct {
	Enabled        bool                `json:"enabled"`
	Token          string              `json:"-"` // from env PORTER_TELEGRAM_TOKEN only
	AllowFrom      FlexibleStringSlice `json:"allow_from"`
	DMPolicy       string              `json:"dm_policy,omitempty"`       // "open" (default), "allowlist", "disabled"
	GroupPolicy    string              `json:"group_policy,omitempty"`    // "open" (default), "allowlist", "disabled"
	RequireMention *bool               `json:"require_mention,omitempty"` // require @bot mention in groups (default true)
	Proxy          string              `json:"proxy,omitempty"`           // HTTP(S) proxy URL for Bot API access
}

// HasAnyChannel returns true if at least one channel is enabled with a token.
func (c *Config) HasAnyChannel() bool {
	return (c.Channels.Discord.Enabled && c.Channels.Discord.Token != "") ||
		(c.Channels.Telegram.Enabled && c.Channels.Telegram.Token != "")
}
