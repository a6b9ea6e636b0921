package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"

	"github.com/nextlevelbuilder/porter/internal/assistant"
	"github.com/nextlevelbuilder/porter/internal/config"
	"github.com/nextlevelbuilder/porter/internal/store/pg"
)

// canAutoOnboard returns true if PORTER_OPENAI_API_KEY is set, indicating
// the user wants non-interactive configuration (e.g. Docker).
func canAutoOnboard() bool {
	return os.Getenv("PORTER_OPENAI_API_KEY") != ""
}

// runAutoOnboard performs non-interactive setup from environment variables.
// Returns true on success, false on fatal error.
func runAutoOnboard(cfgPath string) bool {
	fmt.Println("Auto-onboard: environment variables detected, running non-interactive setup...")

	cfg := config.Default()
	cfg.ApplyEnvOverrides()

	if err := config.CheckOpenAIKey(cfg.Assistant.APIKey); err != nil {
		fmt.Printf("  Error: %v\n", err)
		return false
	}
	if err := config.CheckAssistantID(cfg.Assistant.AssistantID); err != nil {
		fmt.Printf("  Error: %v\n", err)
		return false
	}
	if !cfg.HasAnyChannel() {
		fmt.Println("  Error: no channel token found (set PORTER_DISCORD_TOKEN or PORTER_TELEGRAM_TOKEN)")
		return false
	}

	var enabled []string
	if cfg.Channels.Discord.Enabled {
		enabled = append(enabled, "discord")
	}
	if cfg.Channels.Telegram.Enabled {
		enabled = append(enabled, "telegram")
	}
	fmt.Printf("  Channels: %s\n", strings.Join(enabled, ", "))

	// Verify the assistant exists before writing anything.
	fmt.Print("  Validating assistant...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	name, err := assistant.New(cfg.Assistant.APIKey, cfg.Assistant.APIBase).ValidateAssistant(ctx, cfg.Assistant.AssistantID)
	cancel()
	if err != nil {
		fmt.Println(" FAILED")
		fmt.Printf("  Error: %v\n", err)
		return false
	}
	fmt.Printf(" OK (%s)\n", name)

	// A DSN without an explicit backend choice means postgres.
	if os.Getenv("PORTER_STORE_BACKEND") == "" && cfg.Store.PostgresDSN != "" {
		cfg.Store.Backend = "postgres"
	}
	if cfg.Store.Backend == "postgres" {
		if cfg.Store.PostgresDSN == "" {
			fmt.Println("  Error: store backend is postgres but PORTER_POSTGRES_DSN is not set")
			return false
		}
		if err := preparePostgres(cfg.Store.PostgresDSN); err != nil {
			fmt.Printf("  Error: %v\n", err)
			return false
		}
	}
	fmt.Printf("  Store:    %s\n", cfg.Store.Backend)

	if err := saveCleanConfig(cfgPath, cfg); err != nil {
		fmt.Printf("  Warning: could not save config: %v\n", err)
	} else {
		fmt.Printf("  Config saved to %s\n", cfgPath)
	}

	fmt.Println("Auto-onboard complete.")
	return true
}

// preparePostgres waits for the database to accept connections, then applies
// the schema. A migration failure is reported but tolerated; a connection
// failure is not.
func preparePostgres(dsn string) error {
	fmt.Print("  Testing Postgres connection...")

	// Retry loop: the database container may still be starting.
	var pgErr error
	for attempt := 1; attempt <= 5; attempt++ {
		pgErr = testPostgresConnection(dsn)
		if pgErr == nil {
			break
		}
		if attempt < 5 {
			fmt.Printf(" retry %d/5...", attempt)
			time.Sleep(2 * time.Second)
		}
	}
	if pgErr != nil {
		fmt.Println(" FAILED")
		return pgErr
	}
	fmt.Println(" OK")

	fmt.Print("  Running migrations...")
	m, err := newMigrator(dsn)
	if err != nil {
		fmt.Printf(" error: %v\n", err)
		fmt.Println("  Continuing without migration (run manually: porter migrate up)")
		return nil
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		fmt.Printf(" error: %v\n", err)
		fmt.Println("  Continuing without migration (run manually: porter migrate up)")
		return nil
	}
	v, _, _ := m.Version()
	fmt.Printf(" OK (version: %d)\n", v)
	return nil
}

func testPostgresConnection(dsn string) error {
	db, err := pg.OpenDB(dsn)
	if err != nil {
		return err
	}
	return db.Close()
}
