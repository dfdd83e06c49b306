package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/pulsekit/llm"
)

// Common errors.
var (
	ErrNotFound = errors.New("config file not found")
)

// Duration wraps time.Duration so intervals can be written as strings
// ("30s", "1h") in the TOML file.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the full runtime configuration, one section per package.
type Config struct {
	Daemon     DaemonConfig     `toml:"daemon"`
	Dispatcher DispatcherConfig `toml:"dispatcher"`
	Webhook    WebhookConfig    `toml:"webhook"`
	Stream     StreamConfig     `toml:"stream"`
	Responder  ResponderConfig  `toml:"responder"`
	Archive    ArchiveConfig    `toml:"archive"`
	Logging    LoggingConfig    `toml:"logging"`
}

// DaemonConfig tunes the heartbeat loop and component supervision.
type DaemonConfig struct {
	HeartbeatInterval    Duration `toml:"heartbeat_interval"`
	MaxComponentRestarts int      `toml:"max_component_restarts"`
	RestartCooldown      Duration `toml:"restart_cooldown"`
}

// DispatcherConfig tunes the event queue.
type DispatcherConfig struct {
	MaxHistory     int      `toml:"max_history"`
	HandlerTimeout Duration `toml:"handler_timeout"`
}

// WebhookConfig configures the HTTP ingress.
type WebhookConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
	Secret  string `toml:"secret"`
}

// StreamConfig configures the X stream listener.
type StreamConfig struct {
	Enabled       bool     `toml:"enabled"`
	Username      string   `toml:"username"`
	BearerToken   string   `toml:"bearer_token"`
	MaxReconnects int      `toml:"max_reconnects"`
	InitBackoff   Duration `toml:"init_backoff"`
	MaxBackoff    Duration `toml:"max_backoff"`
}

// ResponderConfig configures reply generation.
type ResponderConfig struct {
	Enabled     bool     `toml:"enabled"`
	Provider    string   `toml:"provider"` // anthropic, openai, google, mock
	Model       string   `toml:"model"`
	APIKey      string   `toml:"api_key"`
	MaxTokens   int      `toml:"max_tokens"`
	Persona     string   `toml:"persona"`
	ReplyLimit  int      `toml:"reply_limit"`
	ReplyWindow Duration `toml:"reply_window"`
}

// ArchiveConfig configures the searchable event archive.
type ArchiveConfig struct {
	Enabled bool `toml:"enabled"`
	MaxDocs int  `toml:"max_docs"`
}

// LoggingConfig configures console output.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// Default returns the built-in configuration: webhook and archive on,
// stream and responder off until credentials are provided.
func Default() Config {
	return Config{
		Daemon: DaemonConfig{
			HeartbeatInterval:    Duration{30 * time.Second},
			MaxComponentRestarts: 5,
			RestartCooldown:      Duration{60 * time.Second},
		},
		Dispatcher: DispatcherConfig{
			MaxHistory:     1000,
			HandlerTimeout: Duration{30 * time.Second},
		},
		Webhook: WebhookConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		Stream: StreamConfig{
			MaxReconnects: 10,
			InitBackoff:   Duration{time.Second},
			MaxBackoff:    Duration{60 * time.Second},
		},
		Responder: ResponderConfig{
			Provider:    "mock",
			MaxTokens:   200,
			ReplyLimit:  3,
			ReplyWindow: Duration{time.Hour},
		},
		Archive: ArchiveConfig{
			Enabled: true,
			MaxDocs: 10000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a TOML file over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWithDefaults returns the defaults with environment overrides
// applied, for running without a config file.
func LoadWithDefaults() (*Config, error) {
	cfg := Default()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv pulls secrets from the environment. Values from the file win
// so operators can still pin them explicitly.
func (c *Config) applyEnv() {
	if c.Webhook.Secret == "" {
		c.Webhook.Secret = os.Getenv("PULSE_WEBHOOK_SECRET")
	}
	if c.Stream.BearerToken == "" {
		c.Stream.BearerToken = os.Getenv("X_BEARER_TOKEN")
	}
	if c.Responder.APIKey == "" {
		c.Responder.APIKey = os.Getenv(apiKeyEnv(c.responderProvider()))
	}
}

// responderProvider resolves the provider name, inferring it from the
// model when unset.
func (c *Config) responderProvider() string {
	if c.Responder.Provider != "" {
		return c.Responder.Provider
	}
	return llm.InferProviderFromModel(c.Responder.Model)
}

// apiKeyEnv names the environment variable holding a provider's API key.
func apiKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GEMINI_API_KEY"
	default:
		return ""
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Daemon.HeartbeatInterval.Duration <= 0 {
		return errors.New("daemon.heartbeat_interval must be positive")
	}
	if c.Daemon.MaxComponentRestarts < 0 {
		return errors.New("daemon.max_component_restarts must not be negative")
	}
	if c.Dispatcher.MaxHistory < 1 {
		return errors.New("dispatcher.max_history must be at least 1")
	}
	if c.Dispatcher.HandlerTimeout.Duration <= 0 {
		return errors.New("dispatcher.handler_timeout must be positive")
	}
	if c.Webhook.Enabled && c.Webhook.Addr == "" {
		return errors.New("webhook.addr is required when webhook is enabled")
	}
	if c.Stream.Enabled {
		if c.Stream.Username == "" {
			return errors.New("stream.username is required when stream is enabled")
		}
		if c.Stream.BearerToken == "" {
			return errors.New("stream.bearer_token is required when stream is enabled (or set X_BEARER_TOKEN)")
		}
	}
	if c.Responder.Enabled {
		p := c.responderProvider()
		if p == "" {
			return errors.New("responder.provider or responder.model is required when responder is enabled")
		}
		if p != "mock" && c.Responder.APIKey == "" {
			return fmt.Errorf("responder.api_key is required for provider %s (or set %s)", p, apiKeyEnv(p))
		}
	}
	if c.Archive.Enabled && c.Archive.MaxDocs < 1 {
		return errors.New("archive.max_docs must be at least 1")
	}
	return nil
}
