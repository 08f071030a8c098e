// Package config loads and validates the relay daemon configuration.
//
// Configuration is read from relay.toml in the relay config directory and may
// be overridden field-by-field with RELAY_* environment variables. The core
// components only consume MaxConnections; the remaining fields drive the
// HTTP/WebSocket bootstrap.
package config

import (
	"time"

	"github.com/grovetools/relay/errors"
)

// Config holds the daemon configuration.
type Config struct {
	// HTTPPort is the port for the JSON API and health endpoints.
	HTTPPort int `toml:"http_port" env:"RELAY_HTTP_PORT"`

	// WebSocketPort is the port for client WebSocket connections.
	// Zero means HTTPPort+1.
	WebSocketPort int `toml:"websocket_port" env:"RELAY_WEBSOCKET_PORT"`

	// MaxConnections caps the number of concurrently registered sessions.
	MaxConnections int `toml:"max_connections" env:"RELAY_MAX_CONNECTIONS"`

	// EnableCORS enables cross-origin checks on the HTTP API.
	EnableCORS bool `toml:"enable_cors" env:"RELAY_ENABLE_CORS"`

	// AllowedOrigins lists origins accepted for CORS and WebSocket upgrades.
	// Empty means same-origin only; a single "*" allows any origin.
	AllowedOrigins []string `toml:"allowed_origins" env:"RELAY_ALLOWED_ORIGINS" envSeparator:","`

	// DefaultMinUpdateIntervalMs is the throttle interval applied to sessions
	// that do not declare their own.
	DefaultMinUpdateIntervalMs int `toml:"default_min_update_interval_ms" env:"RELAY_DEFAULT_MIN_UPDATE_INTERVAL_MS"`

	// WriteTimeoutMs bounds a single transport send; a session whose send
	// exceeds it is treated as disconnected.
	WriteTimeoutMs int `toml:"write_timeout_ms" env:"RELAY_WRITE_TIMEOUT_MS"`

	// CommandHook is the program invoked to execute allowlisted commands.
	// It receives the command identifier as its single argument. Empty means
	// command requests fail with an execution error.
	CommandHook string `toml:"command_hook" env:"RELAY_COMMAND_HOOK"`
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		HTTPPort:                   7420,
		WebSocketPort:              0, // derived: HTTPPort+1
		MaxConnections:             64,
		EnableCORS:                 false,
		AllowedOrigins:             nil,
		DefaultMinUpdateIntervalMs: 100,
		WriteTimeoutMs:             5000,
	}
}

// ResolvedWebSocketPort returns the WebSocket port, deriving it from the
// HTTP port when unset.
func (c *Config) ResolvedWebSocketPort() int {
	if c.WebSocketPort != 0 {
		return c.WebSocketPort
	}
	return c.HTTPPort + 1
}

// DefaultMinUpdateInterval returns the default throttle interval as a duration.
func (c *Config) DefaultMinUpdateInterval() time.Duration {
	return time.Duration(c.DefaultMinUpdateIntervalMs) * time.Millisecond
}

// WriteTimeout returns the transport write deadline as a duration.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return errors.ConfigInvalid("http_port must be in 1..65535")
	}
	if c.WebSocketPort < 0 || c.WebSocketPort > 65535 {
		return errors.ConfigInvalid("websocket_port must be in 0..65535")
	}
	if c.WebSocketPort != 0 && c.WebSocketPort == c.HTTPPort {
		return errors.ConfigInvalid("websocket_port must differ from http_port")
	}
	if c.MaxConnections <= 0 {
		return errors.ConfigInvalid("max_connections must be positive")
	}
	if c.DefaultMinUpdateIntervalMs < 0 {
		return errors.ConfigInvalid("default_min_update_interval_ms must not be negative")
	}
	if c.WriteTimeoutMs <= 0 {
		return errors.ConfigInvalid("write_timeout_ms must be positive")
	}
	return nil
}
