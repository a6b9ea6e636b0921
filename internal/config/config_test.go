package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load() error = %v, want nil for missing file", err)
	}
	if cfg.Assistant.APIBase != "https://api.openai.com/v1" {
		t.Errorf("APIBase = %q, want default", cfg.Assistant.APIBase)
	}
	if cfg.Assistant.RunTimeoutSec != 120 || cfg.Assistant.PollIntervalMs != 1500 {
		t.Errorf("run defaults = (%d, %d), want (120, 1500)",
			cfg.Assistant.RunTimeoutSec, cfg.Assistant.PollIntervalMs)
	}
	if cfg.Store.Backend != "file" {
		t.Errorf("Store.Backend = %q, want file", cfg.Store.Backend)
	}
}

func TestLoadParsesJSON5AndAppliesEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		// comments are allowed
		assistant: { assistant_id: "asst_file", run_timeout_sec: 60 },
		channels: { discord: { enabled: false, dm_policy: "allowlist", allow_from: [123, "alice"] } },
	}`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PORTER_ASSISTANT_ID", "asst_env")
	t.Setenv("PORTER_DISCORD_TOKEN", strings.Repeat("x", 60))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Assistant.AssistantID != "asst_env" {
		t.Errorf("AssistantID = %q, want env value to win", cfg.Assistant.AssistantID)
	}
	if cfg.Assistant.RunTimeoutSec != 60 {
		t.Errorf("RunTimeoutSec = %d, want 60 from file", cfg.Assistant.RunTimeoutSec)
	}
	if !cfg.Channels.Discord.Enabled {
		t.Error("Discord.Enabled = false, want auto-enable when token set via env")
	}
	got := []string(cfg.Channels.Discord.AllowFrom)
	if len(got) != 2 || got[0] != "123" || got[1] != "alice" {
		t.Errorf("AllowFrom = %v, want [123 alice] with numeric coerced to string", got)
	}
}

func TestCheckCredentials(t *testing.T) {
	tests := []struct {
		name    string
		check   func(string) error
		value   string
		wantErr bool
	}{
		{"openai valid", CheckOpenAIKey, "sk-proj-" + strings.Repeat("a", 40), false},
		{"openai empty", CheckOpenAIKey, "", true},
		{"openai wrong prefix", CheckOpenAIKey, "pk-" + strings.Repeat("a", 40), true},
		{"openai too short", CheckOpenAIKey, "sk-abc", true},
		{"assistant valid", CheckAssistantID, "asst_abc123", false},
		{"assistant empty", CheckAssistantID, "", true},
		{"assistant wrong prefix", CheckAssistantID, "agent_abc123", true},
		{"discord valid", CheckDiscordToken, strings.Repeat("t", 70), false},
		{"discord empty", CheckDiscordToken, "", true},
		{"discord short", CheckDiscordToken, "short", true},
		{"telegram valid", CheckTelegramToken, "123456:ABC-def", false},
		{"telegram empty", CheckTelegramToken, "", true},
		{"telegram no colon", CheckTelegramToken, "123456ABCdef", true},
		{"telegram non-numeric id", CheckTelegramToken, "abc:def", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.check(tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("check(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestValidateStartupCollectsAllFailures(t *testing.T) {
	cfg := Default()
	cfg.Channels.Discord.Enabled = true
	cfg.Channels.Discord.Token = "short"

	errs := cfg.ValidateStartup()
	if len(errs) < 3 {
		t.Fatalf("ValidateStartup() returned %d errors, want at least 3 (key, assistant, discord)", len(errs))
	}
}

func TestMaskedCopyHidesSecrets(t *testing.T) {
	cfg := Default()
	cfg.Assistant.APIKey = "sk-proj-secret"
	cfg.Channels.Discord.Token = strings.Repeat("x", 60)
	cfg.Assistant.AssistantID = "asst_visible"

	cp := cfg.MaskedCopy()
	if cp.Assistant.APIKey != "***" {
		t.Errorf("masked APIKey = %q, want ***", cp.Assistant.APIKey)
	}
	if cp.Channels.Discord.Token != "***" {
		t.Errorf("masked Discord token = %q, want ***", cp.Channels.Discord.Token)
	}
	if cp.Assistant.AssistantID != "asst_visible" {
		t.Errorf("AssistantID = %q, want unmasked", cp.Assistant.AssistantID)
	}
	if cfg.Assistant.APIKey != "sk-proj-secret" {
		t.Error("MaskedCopy mutated the original config")
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	tests := []struct {
		in   string
		want string
	}{
		{"~/.porter/sessions.json", home + "/.porter/sessions.json"},
		{"~", home},
		{"/abs/path", "/abs/path"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExpandHome(tt.in); got != tt.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
