package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/porter/internal/assistant"
	"github.com/nextlevelbuilder/porter/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("porter doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	// Assistant
	fmt.Println()
	fmt.Println("  Assistant:")
	checkCredential("API key", cfg.Assistant.APIKey)
	if cfg.Assistant.AssistantID != "" {
		fmt.Printf("    %-12s %s\n", "ID:", cfg.Assistant.AssistantID)
	} else {
		fmt.Printf("    %-12s (not configured)\n", "ID:")
	}
	if cfg.Assistant.APIBase != "" {
		fmt.Printf("    %-12s %s\n", "API base:", cfg.Assistant.APIBase)
	}
	if cfg.Assistant.APIKey != "" && cfg.Assistant.AssistantID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		api := assistant.New(cfg.Assistant.APIKey, cfg.Assistant.APIBase)
		name, vErr := api.ValidateAssistant(ctx, cfg.Assistant.AssistantID)
		cancel()
		switch {
		case vErr == nil:
			fmt.Printf("    %-12s OK (%s)\n", "Remote:", name)
		case assistant.IsAuthFailure(vErr):
			fmt.Printf("    %-12s KEY REJECTED (401)\n", "Remote:")
		case assistant.IsNotFound(vErr):
			fmt.Printf("    %-12s ASSISTANT NOT FOUND (404)\n", "Remote:")
		default:
			fmt.Printf("    %-12s UNREACHABLE (%s)\n", "Remote:", vErr)
		}
	}

	// Channels
	fmt.Println()
	fmt.Println("  Channels:")
	checkChannel("Discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")
	checkChannel("Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")

	// Session store
	fmt.Println()
	fmt.Println("  Store:")
	fmt.Printf("    %-12s %s\n", "Backend:", storeBackendName(cfg))
	if st, sErr := openSessionStore(cfg); sErr != nil {
		fmt.Printf("    %-12s OPEN FAILED (%s)\n", "Status:", sErr)
	} else {
		if lErr := st.Load(context.Background()); lErr != nil {
			fmt.Printf("    %-12s LOAD FAILED (%s)\n", "Status:", lErr)
		} else {
			fmt.Printf("    %-12s OK (%d sessions)\n", "Status:", st.Len())
		}
		st.Close()
	}

	// Maintenance sweep
	if cfg.Maintenance.Enabled {
		fmt.Println()
		fmt.Println("  Maintenance:")
		schedule := cfg.Maintenance.Schedule
		if schedule == "" {
			schedule = "0 4 * * *"
		}
		if gronx.New().IsValid(schedule) {
			fmt.Printf("    %-12s %s (OK)\n", "Schedule:", schedule)
		} else {
			fmt.Printf("    %-12s %s (INVALID)\n", "Schedule:", schedule)
		}
	}

	// Ops server
	fmt.Println()
	fmt.Println("  Ops server:")
	if cfg.Gateway.Enabled {
		fmt.Printf("    %-12s %s:%d\n", "Listen:", cfg.Gateway.Host, cfg.Gateway.Port)
		checkCredential("Token", cfg.Gateway.Token)
	} else {
		fmt.Printf("    %-12s disabled\n", "Status:")
	}
	if cfg.Tailscale.Hostname != "" {
		fmt.Printf("    %-12s %s (requires -tags tsnet build)\n", "Tailscale:", cfg.Tailscale.Hostname)
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkCredential(name, secret string) {
	switch {
	case secret == "":
		fmt.Printf("    %-12s (not configured)\n", name+":")
	case len(secret) < 12:
		fmt.Printf("    %-12s %s\n", name+":", strings.Repeat("*", len(secret)))
	default:
		masked := secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
		fmt.Printf("    %-12s %s\n", name+":", masked)
	}
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}
