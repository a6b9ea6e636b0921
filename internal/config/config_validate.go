package config

import (
	"fmt"
	"strings"
)

// Credential plausibility checks. These catch paste errors and swapped
// values before any network call is made; real validity is only proven by
// the remote API (see assistant.Client.ValidateAssistant).

// CheckOpenAIKey verifies the API key looks like an OpenAI secret key.
func CheckOpenAIKey(key string) error {
	if key == "" {
		return fmt.Errorf("OpenAI API key is empty (set PORTER_OPENAI_API_KEY)")
	}
	if !strings.HasPrefix(key, "sk-") || len(key) < 20 {
		return fmt.Errorf("OpenAI API key does not look valid (expected sk-... )")
	}
	return nil
}

// CheckAssistantID verifies the assistant identifier shape.
func CheckAssistantID(id string) error {
	if id == "" {
		return fmt.Errorf("assistant ID is empty (set PORTER_ASSISTANT_ID)")
	}
	if !strings.HasPrefix(id, "asst_") {
		return fmt.Errorf("assistant ID does not look valid (expected asst_...)")
	}
	return nil
}

// CheckDiscordToken verifies the bot token shape.
func CheckDiscordToken(token string) error {
	if token == "" {
		return fmt.Errorf("Discord token is empty (set PORTER_DISCORD_TOKEN)")
	}
	if len(token) < 50 {
		return fmt.Errorf("Discord token looks too short to be a bot token")
	}
	return nil
}

// CheckTelegramToken verifies the "123456:ABC..." bot token shape.
func CheckTelegramToken(token string) error {
	if token == "" {
		return fmt.Errorf("Telegram token is empty (set PORTER_TELEGRAM_TOKEN)")
	}
	id, rest, ok := strings.Cut(token, ":")
	if !ok || id == "" || rest == "" {
		return fmt.Errorf("Telegram token does not look valid (expected <id>:<secret>)")
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return fmt.Errorf("Telegram token does not look valid (expected numeric bot ID before colon)")
		}
	}
	return nil
}

// ValidateStartup checks every precondition that must hold before the
// gateway accepts inbound events. Returns all failures, not just the first.
func (c *Config) ValidateStartup() []error {
	var errs []error

	if err := CheckOpenAIKey(c.Assistant.APIKey); err != nil {
		errs = append(errs, err)
	}
	if err := CheckAssistantID(c.Assistant.AssistantID); err != nil {
		errs = append(errs, err)
	}

	if !c.HasAnyChannel() {
		errs = append(errs, fmt.Errorf("no channel enabled (set PORTER_DISCORD_TOKEN or PORTER_TELEGRAM_TOKEN)"))
	}
	if c.Channels.Discord.Enabled {
		if err := CheckDiscordToken(c.Channels.Discord.Token); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Channels.Telegram.Enabled {
		if err := CheckTelegramToken(c.Channels.Telegram.Token); err != nil {
			errs = append(errs, err)
		}
	}

	switch c.Store.Backend {
	case "", "file", "sqlite":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("store backend is postgres but PORTER_POSTGRES_DSN is not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q (want file, sqlite or postgres)", c.Store.Backend))
	}

	return errs
}
