//go:build tsnet

package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"tailscale.com/tsnet"

	"github.com/nextlevelbuilder/porter/internal/config"
)

// initTailscale brings up a tsnet node and serves the ops mux on the tailnet
// (port 80). Returns a cleanup func, or nil when Tailscale is not configured
// or fails to start. Failures are non-fatal: the local listener keeps serving.
func initTailscale(ctx context.Context, cfg *config.Config, mux *http.ServeMux) func() {
	tsCfg := cfg.Tailscale
	if tsCfg.Hostname == "" {
		return nil
	}

	stateDir := tsCfg.StateDir
	if stateDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			slog.Error("tailscale disabled: cannot resolve state dir (set tailscale.state_dir)", "error", err)
			return nil
		}
		stateDir = filepath.Join(base, "tsnet-porter")
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		slog.Error("tailscale disabled: state dir create failed", "dir", stateDir, "error", err)
		return nil
	}

	authKey := tsCfg.AuthKey
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		slog.Error("tailscale disabled: auth key required, set PORTER_TSNET_AUTH_KEY (get one at https://login.tailscale.com/admin/settings/keys)")
		return nil
	}

	srv := &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	slog.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := srv.Up(ctx)
	if err != nil {
		_ = srv.Close()
		slog.Error("tailscale disabled: node start failed", "error", err)
		return nil
	}

	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		slog.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = strings.TrimSuffix(status.Self.DNSName, ".")
	}
	slog.Info("tailscale node ready", "hostname", tsCfg.Hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)

	ln, err := srv.Listen("tcp", ":80")
	if err != nil {
		_ = srv.Close()
		slog.Error("tailscale disabled: listen failed", "error", err)
		return nil
	}

	go func() {
		if err := http.Serve(ln, mux); err != nil && ctx.Err() == nil {
			slog.Error("tailscale serve stopped", "error", err)
		}
	}()

	return func() {
		_ = ln.Close()
		_ = srv.Close()
	}
}
