// Package config loads and validates trak daemon configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Mode selects operational defaults.
type Mode string

const (
	ModeProduction  Mode = "production"
	ModeDevelopment Mode = "development"
)

// Config is the full daemon configuration.
type Config struct {
	// Mode selects production or development defaults (auth on/off).
	Mode Mode `yaml:"mode"`

	// Debug enables verbose logging.
	Debug bool `yaml:"debug"`

	// DataDir holds the SQLite database, PID file and generated audio.
	DataDir string `yaml:"data_dir"`

	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Tracker    TrackerConfig    `yaml:"tracker"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	TTS        TTSConfig        `yaml:"tts"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Responses  ResponsesConfig  `yaml:"responses"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// PublicURL, when set, is used for links in notifications instead of
	// http://127.0.0.1:<port>.
	PublicURL string `yaml:"public_url"`
}

// AuthConfig configures the bearer-key gate.
type AuthConfig struct {
	// Require enables auth enforcement. Overridden by REQUIRE_AUTH when
	// that variable is set; defaults to true in production mode and
	// false in development mode.
	Require *bool `yaml:"require"`
}

// TrackerConfig configures transaction tracking.
type TrackerConfig struct {
	// NotifyThreshold is the minimum transaction duration that triggers
	// a notification. Default: 30s.
	NotifyThreshold time.Duration `yaml:"notify_threshold"`

	// StaleAfter is the age past which unfinished transactions are
	// reaped. Default: 1h.
	StaleAfter time.Duration `yaml:"stale_after"`

	// EventRetention is the age past which stored events are deleted by
	// the daily sweep. Zero disables retention pruning.
	EventRetention time.Duration `yaml:"event_retention"`
}

// SummarizerConfig configures the LLM summarizer.
type SummarizerConfig struct {
	// APIKey authenticates against the summarization endpoint. When
	// empty the deterministic fallback is always used.
	APIKey string `yaml:"api_key"`

	// BaseURL selects the provider: URLs containing "anthropic" use the
	// Anthropic message shape, anything else the OpenAI chat shape.
	BaseURL string `yaml:"base_url"`

	// Model is the chat model used for summaries.
	Model string `yaml:"model"`

	// Timeout is the wall-clock deadline for one LLM call. Default: 15s.
	Timeout time.Duration `yaml:"timeout"`

	// AllowedTranscriptDirs are extra transcript path prefixes accepted
	// by validation, in addition to the agent home dir and system temp.
	AllowedTranscriptDirs []string `yaml:"allowed_transcript_dirs"`
}

// TTSConfig configures speech synthesis.
type TTSConfig struct {
	APIKey  string `yaml:"api_key"`
	VoiceID string `yaml:"voice_id"`
	ModelID string `yaml:"model_id"`

	// Player is the external audio player binary. Default is platform
	// dependent (afplay on darwin, mpv elsewhere).
	Player string `yaml:"player"`
}

// ChannelsConfig feature-flags the notification channels.
type ChannelsConfig struct {
	TTS     bool `yaml:"tts"`
	Discord bool `yaml:"discord"`
	Console bool `yaml:"console"`

	// DiscordWebhookURL is the global webhook; per-request overrides are
	// validated against the Discord host allowlist before use.
	DiscordWebhookURL string `yaml:"discord_webhook_url"`
}

// ResponsesConfig bounds the in-memory response store.
type ResponsesConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// TracingConfig configures OTLP trace export. With no endpoint, spans
// are no-ops.
type TracingConfig struct {
	// Endpoint is the OTLP gRPC collector address, e.g. "localhost:4317".
	Endpoint string `yaml:"endpoint"`

	// SampleRate is the fraction of traces recorded, in (0, 1]. Zero
	// records everything.
	SampleRate float64 `yaml:"sample_rate"`

	// Insecure disables TLS on the collector connection.
	Insecure bool `yaml:"insecure"`
}

// Default returns a development-mode configuration with all defaults
// applied.
func Default() *Config {
	cfg := &Config{Mode: ModeDevelopment}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeDevelopment
	}
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		c.DataDir = filepath.Join(home, ".trak")
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 4518
	}
	if c.Tracker.NotifyThreshold == 0 {
		c.Tracker.NotifyThreshold = 30 * time.Second
	}
	if c.Tracker.StaleAfter == 0 {
		c.Tracker.StaleAfter = time.Hour
	}
	if c.Summarizer.Timeout == 0 {
		c.Summarizer.Timeout = 15 * time.Second
	}
	if c.Summarizer.Model == "" {
		c.Summarizer.Model = "claude-3-5-haiku-latest"
	}
	if c.TTS.ModelID == "" {
		c.TTS.ModelID = "eleven_turbo_v2_5"
	}
	if c.Responses.TTL == 0 {
		c.Responses.TTL = time.Hour
	}
	if c.Responses.MaxEntries == 0 {
		c.Responses.MaxEntries = 100
	}
}

// RequireAuth resolves whether the auth gate is enforced, giving the
// REQUIRE_AUTH environment variable priority over the config file.
func (c *Config) RequireAuth() bool {
	if v, ok := os.LookupEnv("REQUIRE_AUTH"); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1":
			return true
		case "false", "0":
			return false
		}
	}
	if c.Auth.Require != nil {
		return *c.Auth.Require
	}
	return c.Mode == ModeProduction
}

// BaseURL returns the externally reachable base URL for links embedded in
// notifications. Priority: configured public URL, then loopback.
func (c *Config) BaseURL() string {
	if c.Server.PublicURL != "" {
		return strings.TrimRight(c.Server.PublicURL, "/")
	}
	return fmt.Sprintf("http://127.0.0.1:%d", c.Server.Port)
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "trak.db")
}

// PIDPath returns the daemon PID file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.DataDir, "trak.pid")
}

// AudioDir returns the directory for generated audio files.
func (c *Config) AudioDir() string {
	return filepath.Join(c.DataDir, "audio")
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Mode != ModeProduction && c.Mode != ModeDevelopment {
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Channels.Discord && c.Channels.DiscordWebhookURL == "" {
		return fmt.Errorf("channels.discord enabled without discord_webhook_url")
	}
	return nil
}
