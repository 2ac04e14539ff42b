// ABOUTME: Configuration loading and parsing for inbox-gateway
// ABOUTME: YAML files with env var expansion, env overrides, and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the complete inbox-gateway configuration
type Config struct {
	App       AppConfig       `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Inbox     InboxConfig     `yaml:"inbox"`
	Streaming StreamingConfig `yaml:"streaming"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AppConfig identifies the producer application whose sessions this
// gateway serves.
type AppConfig struct {
	Name string `yaml:"name" env:"INBOX_APP_NAME"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" env:"INBOX_HTTP_ADDR"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" env:"INBOX_TAILSCALE_ENABLED"`
	Hostname  string `yaml:"hostname" env:"INBOX_TAILSCALE_HOSTNAME"`
	AuthKey   string `yaml:"auth_key" env:"TS_AUTHKEY"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	CertFile  string `yaml:"cert_file"` // TLS cert file (generate via: tailscale cert <hostname>)
	KeyFile   string `yaml:"key_file"`  // TLS key file
	Funnel    bool   `yaml:"funnel"`    // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" env:"INBOX_DB_PATH"`
}

// AuthConfig holds authentication configuration. With neither field set
// the API runs unauthenticated (local development only).
type AuthConfig struct {
	APIKey    string `yaml:"api_key" env:"WOODSTOCK_API_KEY"`
	JWTSecret string `yaml:"jwt_secret" env:"INBOX_JWT_SECRET"`
}

// InboxConfig holds the outbound webhook configuration
type InboxConfig struct {
	WebhookURL string `yaml:"webhook_url" env:"INBOX_WEBHOOK_URL"`

	WebhookTimeout    time.Duration `yaml:"-"`
	WebhookTimeoutRaw string        `yaml:"webhook_timeout" env:"INBOX_WEBHOOK_TIMEOUT"`
}

// StreamingConfig holds stream keepalive configuration
type StreamingConfig struct {
	KeepaliveInterval    time.Duration `yaml:"-"`
	KeepaliveIntervalRaw string        `yaml:"keepalive_interval" env:"INBOX_KEEPALIVE_INTERVAL"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" env:"INBOX_LOG_LEVEL"`
	Format string `yaml:"format" env:"INBOX_LOG_FORMAT"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded, then any
// env-tagged fields are overridden by their environment variables.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Environment overrides win over file values
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("applying env overrides: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Inbox.WebhookTimeoutRaw != "" {
		cfg.Inbox.WebhookTimeout, err = time.ParseDuration(cfg.Inbox.WebhookTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing webhook_timeout %q: %w", cfg.Inbox.WebhookTimeoutRaw, err)
		}
	}

	if cfg.Streaming.KeepaliveIntervalRaw != "" {
		cfg.Streaming.KeepaliveInterval, err = time.ParseDuration(cfg.Streaming.KeepaliveIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing keepalive_interval %q: %w", cfg.Streaming.KeepaliveIntervalRaw, err)
		}
	}

	return nil
}
