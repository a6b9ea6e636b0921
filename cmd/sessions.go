package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/porter/internal/assistant"
	"github.com/nextlevelbuilder/porter/internal/config"
	"github.com/nextlevelbuilder/porter/internal/sessions"
	"github.com/nextlevelbuilder/porter/pkg/protocol"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and reset user sessions",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsResetCmd())
	return cmd
}

func sessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List user-to-thread bindings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}

			// Prefer the running gateway; its view includes unpersisted writes.
			if cfg.Gateway.Enabled {
				var resp protocol.SessionListResponse
				if err := opsRequest(cfg, http.MethodGet, protocol.PathSessions, &resp); err == nil {
					printSessionsTable(resp.Sessions, "ops server")
					return nil
				}
			}

			st, err := openSessionStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Load(context.Background()); err != nil {
				return err
			}

			entries := st.List()
			views := make([]protocol.SessionView, 0, len(entries))
			for _, e := range entries {
				views = append(views, protocol.SessionView{UserID: e.UserID, ThreadID: e.ThreadID})
			}
			printSessionsTable(views, storeBackendName(cfg))
			return nil
		},
	}
}

func sessionsResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <user-id>",
		Short: "Drop a user's session so their next message starts fresh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := args[0]
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}

			if cfg.Gateway.Enabled {
				err := opsRequest(cfg, http.MethodDelete, protocol.PathSessions+"/"+userID, nil)
				if err == nil {
					fmt.Printf("Session reset for %s\n", userID)
					return nil
				}
			}

			st, err := openSessionStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Load(context.Background()); err != nil {
				return err
			}

			threadID, ok := st.Get(userID)
			if !ok {
				fmt.Printf("No session for %s\n", userID)
				return nil
			}

			api := assistant.New(cfg.Assistant.APIKey, cfg.Assistant.APIBase)
			resolver := sessions.NewResolver(st, api)
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			resolver.Invalidate(ctx, userID, threadID)

			fmt.Printf("Session reset for %s\n", userID)
			return nil
		},
	}
}

// opsRequest calls the local ops server. Bearer auth when a token is set.
func opsRequest(cfg *config.Config, method, path string, out interface{}) error {
	host := cfg.Gateway.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	url := fmt.Sprintf("http://%s:%d%s", host, cfg.Gateway.Port, path)

	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return err
	}
	if cfg.Gateway.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Gateway.Token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e protocol.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s", e.Error)
		}
		return fmt.Errorf("ops server returned %s", resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// printSessionsTable renders rows with display-width alignment so user IDs
// with wide characters line up.
func printSessionsTable(rows []protocol.SessionView, source string) {
	if len(rows) == 0 {
		fmt.Println("No sessions.")
		return
	}

	const maxUserWidth = 48
	userW := runewidth.StringWidth("USER")
	for _, r := range rows {
		if w := runewidth.StringWidth(r.UserID); w > userW {
			userW = w
		}
	}
	if userW > maxUserWidth {
		userW = maxUserWidth
	}

	fmt.Printf("%s  THREAD\n", runewidth.FillRight("USER", userW))
	for _, r := range rows {
		user := runewidth.Truncate(r.UserID, userW, "...")
		fmt.Printf("%s  %s\n", runewidth.FillRight(user, userW), r.ThreadID)
	}
	fmt.Printf("\n%d session(s) via %s\n", len(rows), source)
}
