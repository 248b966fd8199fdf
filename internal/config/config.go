// Package config provides server configuration loaded from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	masterminds "github.com/Masterminds/semver/v3"
	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Config holds cmdrpc configuration.
type Config struct {
	// HTTP listener (CMDRPC_HTTP_ADDR preferred, e.g. "0.0.0.0:3000")
	HTTPAddr string `envconfig:"CMDRPC_HTTP_ADDR"`
	HTTPPort int    `envconfig:"HTTP_PORT" default:"3000"`

	// COMMS: serve commands over NATS at COMMSURL. Empty disables the bridge.
	COMMSURL  string `envconfig:"COMMS_URL"`
	COMMSName string `envconfig:"SERVICE_NAME" default:"cmdrpc"`

	ServiceVersion string `envconfig:"SERVICE_VERSION" default:"1.0.0"`

	// Subjects
	Subject           string `envconfig:"CMDRPC_SUBJECT" default:"cmdrpc.v1"`
	ErrorEventSubject string `envconfig:"CMDRPC_ERROR_EVENT_SUBJECT"`

	// Timeouts
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	ClientTimeout   time.Duration `envconfig:"CLIENT_TIMEOUT" default:"30s"`

	MetricsEnabled bool `envconfig:"METRICS_ENABLED" default:"true"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	if c.HTTPAddr != "" {
		return c.HTTPAddr
	}
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// ValidateForServe checks required config when running the server.
func (c *Config) ValidateForServe() error {
	if c.HTTPAddr == "" && (c.HTTPPort <= 0 || c.HTTPPort > 65535) {
		return fmt.Errorf("%s - HTTP_PORT must be between 1 and 65535", logPrefix)
	}
	if _, err := masterminds.NewVersion(c.ServiceVersion); err != nil {
		return fmt.Errorf("%s - SERVICE_VERSION %q is not a valid semver: %w", logPrefix, c.ServiceVersion, err)
	}
	if c.COMMSURL != "" && c.Subject == "" {
		return fmt.Errorf("%s - CMDRPC_SUBJECT is required when COMMS_URL is set", logPrefix)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%s - SHUTDOWN_TIMEOUT must be positive", logPrefix)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%s - LOG_FORMAT must be text or json, got %q", logPrefix, c.LogFormat)
	}
	return nil
}

// ValidateForClient checks required config when running client commands.
func (c *Config) ValidateForClient() error {
	if c.ClientTimeout <= 0 {
		return fmt.Errorf("%s - CLIENT_TIMEOUT must be positive", logPrefix)
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("%s - invalid LOG_LEVEL %q: %w", logPrefix, c.LogLevel, err)
	}
	return level, nil
}
