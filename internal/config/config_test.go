package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	if cfg.Mode != ModeDevelopment {
		t.Fatalf("Mode = %q, want development", cfg.Mode)
	}
	if cfg.Server.Port != 4518 {
		t.Fatalf("Port = %d, want 4518", cfg.Server.Port)
	}
	if cfg.Tracker.NotifyThreshold != 30*time.Second {
		t.Fatalf("NotifyThreshold = %v, want 30s", cfg.Tracker.NotifyThreshold)
	}
	if cfg.Tracker.StaleAfter != time.Hour {
		t.Fatalf("StaleAfter = %v, want 1h", cfg.Tracker.StaleAfter)
	}
	if cfg.Summarizer.Timeout != 15*time.Second {
		t.Fatalf("Summarizer.Timeout = %v, want 15s", cfg.Summarizer.Timeout)
	}
}

func TestRequireAuth(t *testing.T) {
	tests := []struct {
		name string
		mode Mode
		env  string
		want bool
	}{
		{"production default", ModeProduction, "", true},
		{"development default", ModeDevelopment, "", false},
		{"env true overrides dev", ModeDevelopment, "true", true},
		{"env 1 overrides dev", ModeDevelopment, "1", true},
		{"env false overrides prod", ModeProduction, "false", false},
		{"env 0 overrides prod", ModeProduction, "0", false},
		{"env garbage falls back to mode", ModeProduction, "maybe", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.env == "" {
				os.Unsetenv("REQUIRE_AUTH")
			} else {
				t.Setenv("REQUIRE_AUTH", tt.env)
			}
			cfg := &Config{Mode: tt.mode}
			if got := cfg.RequireAuth(); got != tt.want {
				t.Fatalf("RequireAuth() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequireAuthExplicitConfig(t *testing.T) {
	os.Unsetenv("REQUIRE_AUTH")
	no := false
	cfg := &Config{Mode: ModeProduction, Auth: AuthConfig{Require: &no}}
	if cfg.RequireAuth() {
		t.Fatal("explicit auth.require=false should win over production default")
	}
}

func TestBaseURL(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Port: 4518}}
	if got := cfg.BaseURL(); got != "http://127.0.0.1:4518" {
		t.Fatalf("BaseURL() = %q", got)
	}
	cfg.Server.PublicURL = "https://trak.example.com/"
	if got := cfg.BaseURL(); got != "https://trak.example.com" {
		t.Fatalf("BaseURL() with public url = %q", got)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 4518 {
		t.Fatalf("Port = %d, want default", cfg.Server.Port)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_TRAK_WEBHOOK", "https://discord.com/api/webhooks/1/abc")
	path := filepath.Join(t.TempDir(), "trak.yaml")
	data := "mode: production\nchannels:\n  discord: true\n  discord_webhook_url: ${TEST_TRAK_WEBHOOK}\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Channels.DiscordWebhookURL != "https://discord.com/api/webhooks/1/abc" {
		t.Fatalf("webhook url = %q, env not expanded", cfg.Channels.DiscordWebhookURL)
	}
}

func TestLoadTracingEndpointFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Tracing.Endpoint != "collector:4317" {
		t.Fatalf("Tracing.Endpoint = %q, env not applied", cfg.Tracing.Endpoint)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() on defaults: %v", err)
	}
	cfg.Channels.Discord = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for discord channel without webhook url")
	}
}
