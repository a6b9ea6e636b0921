package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/porter/internal/assistant"
	"github.com/nextlevelbuilder/porter/internal/bus"
	"github.com/nextlevelbuilder/porter/internal/channels"
	"github.com/nextlevelbuilder/porter/internal/channels/discord"
	"github.com/nextlevelbuilder/porter/internal/channels/telegram"
	"github.com/nextlevelbuilder/porter/internal/config"
	"github.com/nextlevelbuilder/porter/internal/gateway"
	"github.com/nextlevelbuilder/porter/internal/maintenance"
	"github.com/nextlevelbuilder/porter/internal/runner"
	"github.com/nextlevelbuilder/porter/internal/sessions"
	"github.com/nextlevelbuilder/porter/internal/store"
	"github.com/nextlevelbuilder/porter/internal/store/file"
	"github.com/nextlevelbuilder/porter/internal/store/pg"
	"github.com/nextlevelbuilder/porter/internal/store/sqlite"
	"github.com/nextlevelbuilder/porter/internal/telemetry"
	"github.com/nextlevelbuilder/porter/pkg/protocol"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the relay gateway (default command)",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runGateway() {
	// Setup structured logging
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	// Load config
	cfgPath := resolveConfigPath()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// First run: no API key yet, or no config file at all.
	// Docker / CI provide secrets via env → non-interactive auto-onboard;
	// a terminal user gets the wizard instead.
	_, cfgStatErr := os.Stat(cfgPath)
	configMissing := os.IsNotExist(cfgStatErr)
	if cfg.Assistant.APIKey == "" || configMissing {
		if canAutoOnboard() {
			if !runAutoOnboard(cfgPath) {
				os.Exit(1)
			}
			cfg, _ = config.Load(cfgPath)
		} else if !configMissing {
			// Config file exists — user already onboarded but forgot to source secrets.
			envPath := filepath.Join(filepath.Dir(cfgPath), ".env.local")
			fmt.Println("No OpenAI API key found. Did you forget to load your secrets?")
			fmt.Println()
			fmt.Printf("  source %s && ./porter\n", envPath)
			fmt.Println()
			os.Exit(1)
		} else {
			if err := runOnboard(cfgPath); err != nil {
				slog.Error("onboarding failed", "error", err)
				os.Exit(1)
			}
			cfg, _ = config.Load(cfgPath)
		}
	}

	// All startup preconditions are fatal: a relay with a bad key or no
	// transport would accept messages it can never answer.
	if errs := cfg.ValidateStartup(); len(errs) > 0 {
		for _, e := range errs {
			slog.Error("startup validation failed", "error", e)
		}
		os.Exit(1)
	}

	if verbose {
		if dump, err := json.MarshalIndent(cfg.MaskedCopy(), "", "  "); err == nil {
			slog.Debug("effective config", "config", string(dump))
		}
	}

	// Telemetry (OTLP trace export; no-op unless enabled)
	shutdownTelemetry, err := telemetry.Setup(context.Background(), cfg.Telemetry, Version)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without tracing", "error", err)
	} else {
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				slog.Warn("telemetry shutdown failed", "error", err)
			}
		}()
	}

	// Assistant API client + existence check before serving anything.
	api := assistant.New(cfg.Assistant.APIKey, cfg.Assistant.APIBase)
	{
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		name, err := api.ValidateAssistant(ctx, cfg.Assistant.AssistantID)
		cancel()
		if err != nil {
			switch {
			case assistant.IsAuthFailure(err):
				slog.Error("OpenAI rejected the API key (check PORTER_OPENAI_API_KEY)", "error", err)
			case assistant.IsNotFound(err):
				slog.Error("assistant does not exist (check assistant_id)",
					"assistant_id", cfg.Assistant.AssistantID, "error", err)
			default:
				slog.Error("assistant validation failed", "error", err)
			}
			os.Exit(1)
		}
		slog.Info("assistant validated", "assistant_id", cfg.Assistant.AssistantID, "name", name)
	}

	// Session store
	st, err := openSessionStore(cfg)
	if err != nil {
		slog.Error("failed to open session store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Load(context.Background()); err != nil {
		if cfg.Store.Backend == "postgres" {
			slog.Error("session store load failed (did you run: porter migrate up?)", "error", err)
			os.Exit(1)
		}
		slog.Warn("session store load failed, starting empty", "error", err)
	}
	slog.Info("session store ready", "backend", storeBackendName(cfg), "sessions", st.Len())

	msgBus := bus.NewMessageBus()
	resolver := sessions.NewResolver(st, api)
	run := runner.New(runner.Config{
		API:          api,
		AssistantID:  cfg.Assistant.AssistantID,
		Timeout:      time.Duration(cfg.Assistant.RunTimeoutSec) * time.Second,
		PollInterval: time.Duration(cfg.Assistant.PollIntervalMs) * time.Millisecond,
		Events:       msgBus,
	})

	// Channels
	channelMgr := channels.NewManager(msgBus)

	var dc *discord.Channel
	var tg *telegram.Channel

	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		c, err := discord.New(cfg.Channels.Discord, msgBus)
		if err != nil {
			slog.Error("failed to initialize discord channel", "error", err)
		} else {
			dc = c
			channelMgr.RegisterChannel("discord", dc)
			slog.Info("discord channel enabled")
		}
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		c, err := telegram.New(cfg.Channels.Telegram, msgBus)
		if err != nil {
			slog.Error("failed to initialize telegram channel", "error", err)
		} else {
			tg = c
			channelMgr.RegisterChannel("telegram", tg)
			slog.Info("telegram channel enabled")
		}
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
	}

	// Inbound relay loop (channel → resolve → run → channel)
	go consumeInbound(ctx, msgBus, cfg, st, resolver, run)

	// Scheduled session verification sweep
	var sweeper *maintenance.Sweeper
	if cfg.Maintenance.Enabled {
		sweeper = maintenance.New(st, api, msgBus, cfg.Maintenance.Schedule)
		go sweeper.Run(ctx)
	}

	// Config hot-reload: adopt policy-level fields live. Transport and
	// secret changes still require a restart.
	go func() {
		err := config.Watch(ctx, cfgPath, cfg, func(fresh *config.Config) {
			if dc != nil {
				dcCfg := fresh.Channels.Discord
				dc.SetAllowList(dcCfg.AllowFrom)
				dc.SetRequireMention(dcCfg.RequireMention == nil || *dcCfg.RequireMention)
			}
			if tg != nil {
				tgCfg := fresh.Channels.Telegram
				tg.SetAllowList(tgCfg.AllowFrom)
				tg.SetRequireMention(tgCfg.RequireMention == nil || *tgCfg.RequireMention)
			}
			if sweeper != nil {
				sweeper.SetSchedule(fresh.Maintenance.Schedule)
			}
		})
		if err != nil {
			slog.Warn("config watcher unavailable", "error", err)
		}
	}()

	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		msgBus.Broadcast(bus.Event{Name: protocol.EventShutdown})
		channelMgr.StopAll(context.Background())
		cancel()
	}()

	slog.Info("porter gateway starting",
		"version", Version,
		"channels", channelMgr.GetEnabledChannels(),
		"store", storeBackendName(cfg),
		"ops_server", cfg.Gateway.Enabled,
	)

	if !cfg.Gateway.Enabled {
		<-ctx.Done()
		return
	}

	// Ops server: build the mux first, then hand it to initTailscale so the
	// same routes are served on both the local listener and the tailnet.
	// Compiled via build tags: `go build -tags tsnet` to enable.
	server := gateway.NewServer(cfg, msgBus, st, resolver, Version)
	mux := server.BuildMux()
	tsCleanup := initTailscale(ctx, cfg, mux)
	if tsCleanup != nil {
		defer tsCleanup()
	}

	if cfg.Tailscale.Hostname != "" && cfg.Gateway.Host == "0.0.0.0" {
		slog.Info("Tailscale enabled. Consider PORTER_GATEWAY_HOST=127.0.0.1 for localhost-only + tailnet access")
	}

	if err := server.Start(ctx); err != nil {
		slog.Error("ops server error", "error", err)
		os.Exit(1)
	}
}

// openSessionStore creates the session store selected by config. The file
// backend is the default; sqlite and postgres are opt-in.
func openSessionStore(cfg *config.Config) (store.SessionStore, error) {
	switch cfg.Store.Backend {
	case "", "file":
		return file.New(config.ExpandHome(cfg.Store.Path)), nil
	case "sqlite":
		return sqlite.Open(config.ExpandHome(cfg.Store.SQLitePath))
	case "postgres":
		db, err := pg.OpenDB(cfg.Store.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return pg.New(db), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func storeBackendName(cfg *config.Config) string {
	if cfg.Store.Backend == "" {
		return "file"
	}
	return cfg.Store.Backend
}
