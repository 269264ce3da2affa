// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for chatcore.
//
// Configuration lives in a single TOML file with sensible defaults,
// environment variable overrides, and validation. The file can be watched
// for changes; see Watch.
//
// Default location: ~/.chatcore/config.toml
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/pennywise-ai/chatcore/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete chatcore configuration.
type Config struct {
	// Endpoints configuration for the chat backend
	Endpoints EndpointsConfig `toml:"endpoints"`

	// Chat behavior configuration
	Chat ChatConfig `toml:"chat"`

	// Store (persistence) configuration
	Store StoreConfig `toml:"store"`

	// Log configuration
	Log LogConfig `toml:"log"`
}

// EndpointsConfig names the backend endpoints and their limits.
type EndpointsConfig struct {
	// CompletionURL is the streaming chat completion endpoint
	CompletionURL string `toml:"completion_url"`
	// ImageURL is the image generation endpoint
	ImageURL string `toml:"image_url"`
	// APIKey authenticates against the backend (empty = unauthenticated)
	APIKey string `toml:"api_key"`
	// TimeoutSecs bounds non-streaming requests
	TimeoutSecs int `toml:"timeout_secs"`
	// RequestsPerSecond is the client-side rate limit (0 = unlimited)
	RequestsPerSecond float64 `toml:"requests_per_second"`
	// Burst is the rate limiter's burst allowance
	Burst int `toml:"burst"`
}

// ChatConfig contains chat behavior settings.
type ChatConfig struct {
	// UserID scopes persisted conversations
	UserID string `toml:"user_id"`
}

// StoreConfig contains persistence settings.
type StoreConfig struct {
	// Enabled controls whether conversations are persisted at all
	Enabled bool `toml:"enabled"`
	// Path is the SQLite database location
	Path string `toml:"path"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is the zerolog level: trace, debug, info, warn, error
	Level string `toml:"level"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Endpoints: EndpointsConfig{
			TimeoutSecs:       60,
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Chat: ChatConfig{
			UserID: "local",
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    filepath.Join(home, ".chatcore", "chat.db"),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ConfigDir returns the chatcore configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".chatcore"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load loads configuration from the default config file, falling back to
// defaults when the file does not exist. Environment overrides apply last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); statErr != nil {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		return cfg, cfg.Validate()
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific file with validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	fillDefaults(cfg)
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// fillDefaults fills in any missing values with defaults. TOML zero values
// for absent keys would otherwise clobber required settings.
func fillDefaults(cfg *Config) {
	defaults := Default()
	if cfg.Endpoints.TimeoutSecs == 0 {
		cfg.Endpoints.TimeoutSecs = defaults.Endpoints.TimeoutSecs
	}
	if cfg.Endpoints.Burst == 0 {
		cfg.Endpoints.Burst = defaults.Endpoints.Burst
	}
	if cfg.Chat.UserID == "" {
		cfg.Chat.UserID = defaults.Chat.UserID
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = defaults.Store.Path
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
}

// Save writes the configuration to path atomically with 0600 permissions.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# chatcore configuration file")
	fmt.Fprintln(&buf, "")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	for field, raw := range map[string]string{
		"endpoints.completion_url": c.Endpoints.CompletionURL,
		"endpoints.image_url":      c.Endpoints.ImageURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid URL %q", raw),
			})
		}
	}

	if c.Endpoints.TimeoutSecs <= 0 {
		errs = append(errs, ValidationError{
			Field:   "endpoints.timeout_secs",
			Message: "must be positive",
		})
	}
	if c.Endpoints.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{
			Field:   "endpoints.requests_per_second",
			Message: "cannot be negative",
		})
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("unknown level %q", c.Log.Level),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Timeout returns the request timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Endpoints.TimeoutSecs) * time.Second
}

// ApplyLogLevel sets the global zerolog level from the config.
func (c *Config) ApplyLogLevel() {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - CHATCORE_COMPLETION_URL: overrides endpoints.completion_url
//   - CHATCORE_IMAGE_URL: overrides endpoints.image_url
//   - CHATCORE_API_KEY: overrides endpoints.api_key
//   - CHATCORE_DB_PATH: overrides store.path
//   - CHATCORE_NO_PERSIST: set to "1" or "true" to disable persistence
//   - CHATCORE_LOG_LEVEL: overrides log.level
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CHATCORE_COMPLETION_URL"); v != "" {
		c.Endpoints.CompletionURL = v
	}
	if v := os.Getenv("CHATCORE_IMAGE_URL"); v != "" {
		c.Endpoints.ImageURL = v
	}
	if v := os.Getenv("CHATCORE_API_KEY"); v != "" {
		c.Endpoints.APIKey = v
	}
	if v := os.Getenv("CHATCORE_DB_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("CHATCORE_NO_PERSIST"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil && b {
			c.Store.Enabled = false
		}
	}
	if v := os.Getenv("CHATCORE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}
