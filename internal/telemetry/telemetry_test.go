package telemetry

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/porter/internal/config"
)

// TestSetupDisabledIsNoop verifies disabled telemetry returns a working
// shutdown func without touching the global provider.
func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{}, "test")
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if shutdown == nil {
		t.Fatal("Setup() returned nil shutdown func")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

// TestProtocolOrDefault verifies anything but "http" falls back to grpc.
func TestProtocolOrDefault(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: "grpc"},
		{in: "grpc", want: "grpc"},
		{in: "http", want: "http"},
		{in: "h2c", want: "grpc"},
	}

	for _, tt := range tests {
		if got := protocolOrDefault(tt.in); got != tt.want {
			t.Errorf("protocolOrDefault(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
