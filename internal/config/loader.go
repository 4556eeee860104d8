package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file, expands ${VAR} references from the
// environment, applies env overrides and defaults, and validates.
//
// A missing file is not an error: the daemon runs on defaults plus env
// overrides, which keeps `trak serve` zero-config in development.
func Load(path string) (*Config, error) {
	// Best effort: a .env next to the working directory seeds the
	// environment in development. Ignore absence.
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to defaults
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRAK_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("TRAK_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TRAK_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("TRAK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TRAK_PUBLIC_URL"); v != "" {
		cfg.Server.PublicURL = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.Summarizer.APIKey == "" {
		cfg.Summarizer.APIKey = v
	}
	if v := os.Getenv("ELEVENLABS_API_KEY"); v != "" && cfg.TTS.APIKey == "" {
		cfg.TTS.APIKey = v
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" && cfg.Channels.DiscordWebhookURL == "" {
		cfg.Channels.DiscordWebhookURL = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" && cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = v
	}
}
