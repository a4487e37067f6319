// Package config holds the runtime configuration for the assistant channel
// and its commands: endpoint, language, reconnect tuning, and logging.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config represents channel configuration
type Config struct {
	// BaseURL is the http(s) origin of the chat backend, e.g.
	// "https://market.example.com". The channel derives the ws(s) endpoint
	// and the REST fallback endpoint from it.
	BaseURL string `json:"base_url"`
	// Language is sent with user messages and fallback requests.
	Language string `json:"language,omitempty"`

	// KeepAliveSeconds is the liveness ping interval while connected.
	KeepAliveSeconds int `json:"keep_alive_seconds"`
	// BackoffBaseMs is the delay before the first reconnect attempt.
	BackoffBaseMs int `json:"backoff_base_ms"`
	// BackoffMaxMs caps the exponential reconnect delay.
	BackoffMaxMs int `json:"backoff_max_ms"`
	// MaxReconnectAttempts is the retry ceiling before the channel fails.
	MaxReconnectAttempts int `json:"max_reconnect_attempts"`
	// RequestTimeoutSeconds bounds how long a sent message may stay pending.
	RequestTimeoutSeconds int `json:"request_timeout_seconds"`
	// DedupWindow is the capacity of the duplicate-suppression window.
	DedupWindow int `json:"dedup_window"`

	// HistoryPath is the sqlite transcript database; empty disables history.
	HistoryPath string `json:"history_path,omitempty"`

	LogLevel string `json:"log_level"` // debug, info, warn, error, none
	LogPath  string `json:"log_path,omitempty"`
}

// DefaultConfig returns the default channel configuration
func DefaultConfig() *Config {
	return &Config{
		BaseURL:               "http://localhost:8936",
		Language:              "en",
		KeepAliveSeconds:      30,
		BackoffBaseMs:         1000,
		BackoffMaxMs:          30000,
		MaxReconnectAttempts:  5,
		RequestTimeoutSeconds: 30,
		DedupWindow:           200,
		LogLevel:              "info",
	}
}

// Load reads configuration from path, applying defaults for absent fields
// and environment overrides on top.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		} else if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// Save writes the configuration to path
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// applyEnv overrides fields from MARKTKANAL_* environment variables
func (c *Config) applyEnv() {
	if v := os.Getenv("MARKTKANAL_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("MARKTKANAL_LANGUAGE"); v != "" {
		c.Language = v
	}
	if v := os.Getenv("MARKTKANAL_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("MARKTKANAL_LOG_PATH"); v != "" {
		c.LogPath = v
	}
	if v := os.Getenv("MARKTKANAL_MAX_RECONNECT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxReconnectAttempts = n
		}
	}
}

// KeepAlive returns the keep-alive interval as a duration
func (c *Config) KeepAlive() time.Duration {
	if c.KeepAliveSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.KeepAliveSeconds) * time.Second
}

// BackoffBase returns the initial reconnect delay as a duration
func (c *Config) BackoffBase() time.Duration {
	if c.BackoffBaseMs <= 0 {
		return time.Second
	}
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

// BackoffMax returns the reconnect delay cap as a duration
func (c *Config) BackoffMax() time.Duration {
	if c.BackoffMaxMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}

// RequestTimeout returns the pending-request timeout as a duration
func (c *Config) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// DefaultPath returns the per-user config file location
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "marktkanal", "config.json"), nil
}
