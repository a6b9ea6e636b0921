//go:build !tsnet

package cmd

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/nextlevelbuilder/porter/internal/config"
)

// initTailscale is a no-op in builds without the tsnet tag.
func initTailscale(_ context.Context, cfg *config.Config, _ *http.ServeMux) func() {
	if cfg.Tailscale.Hostname != "" {
		slog.Warn("tailscale.hostname is set but this build has no tsnet support (rebuild with -tags tsnet)")
	}
	return nil
}
