package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/porter/internal/assistant"
	"github.com/nextlevelbuilder/porter/internal/config"
	"github.com/nextlevelbuilder/porter/internal/runner"
	"github.com/nextlevelbuilder/porter/internal/sessions"
)

func chatCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the assistant from the terminal",
		Long:  "Relays a message through the same session store the gateway uses.\nWith no argument, starts an interactive session.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := ""
			if len(args) > 0 {
				message = args[0]
			}
			return runChat(userID, message)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "cli", "session key to chat under")
	return cmd
}

func runChat(userID, message string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	if err := config.CheckOpenAIKey(cfg.Assistant.APIKey); err != nil {
		return err
	}
	if err := config.CheckAssistantID(cfg.Assistant.AssistantID); err != nil {
		return err
	}

	st, err := openSessionStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Load(context.Background()); err != nil {
		slog.Warn("session store load failed, starting empty", "error", err)
	}

	api := assistant.New(cfg.Assistant.APIKey, cfg.Assistant.APIBase)
	resolver := sessions.NewResolver(st, api)
	run := runner.New(runner.Config{
		API:          api,
		AssistantID:  cfg.Assistant.AssistantID,
		Timeout:      time.Duration(cfg.Assistant.RunTimeoutSec) * time.Second,
		PollInterval: time.Duration(cfg.Assistant.PollIntervalMs) * time.Millisecond,
	})

	chatFn := func(ctx context.Context, text string) (string, error) {
		threadID, err := resolver.Resolve(ctx, userID)
		if err != nil {
			return "", err
		}
		return run.Execute(ctx, threadID, text)
	}

	if message != "" {
		resp, err := chatFn(context.Background(), message)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(resp)
		return nil
	}

	// Interactive REPL
	fmt.Fprintf(os.Stderr, "\nPorter Chat\n")
	fmt.Fprintf(os.Stderr, "Assistant: %s | Session: %s\n", cfg.Assistant.AssistantID, userID)
	fmt.Fprintf(os.Stderr, "Type \"exit\" to quit, \"/reset\" to start a fresh thread\n\n")

	// Handle Ctrl+C gracefully
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "\nGoodbye!")
			return nil
		default:
		}

		fmt.Fprint(os.Stderr, "You: ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Fprintln(os.Stderr, "Goodbye!")
			return nil
		}
		if input == "/reset" {
			if threadID, ok := st.Get(userID); ok {
				resolver.Invalidate(ctx, userID, threadID)
			}
			fmt.Fprintf(os.Stderr, "Conversation reset.\n\n")
			continue
		}

		resp, err := chatFn(ctx, input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
			continue
		}
		fmt.Printf("\n%s\n\n", resp)
	}
	return scanner.Err()
}
