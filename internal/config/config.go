// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for polychat.
//
// Supports TOML configuration with sensible defaults, environment variable
// overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - $POLYCHAT_CONFIG
//   - ~/.polychat/config.toml
//   - Built-in defaults
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete polychat configuration.
type Config struct {
	Storage StorageConfig `toml:"storage"`
	Sync    SyncConfig    `toml:"sync"`
	Relay   RelayConfig   `toml:"relay"`
	Logging LoggingConfig `toml:"logging"`
	Export  ExportConfig  `toml:"export"`
}

// StorageConfig locates the durable store.
type StorageConfig struct {
	// DataDir holds the database, the sync journal, and the relay cache.
	// Default: ~/.polychat
	DataDir string `toml:"data_dir"`

	// Passphrase, when set, seals provider API keys at rest. Prefer the
	// POLYCHAT_PASSPHRASE environment variable over the file.
	Passphrase string `toml:"passphrase"`
}

// SyncConfig shapes the cross-process event fan-out.
type SyncConfig struct {
	// RelayURL is the websocket endpoint of the relay daemon, e.g.
	// ws://127.0.0.1:8788/sync. Empty disables the relay transport.
	RelayURL string `toml:"relay_url"`

	// JournalFallback enables the file journal transport used when no
	// other transport is attached.
	JournalFallback bool `toml:"journal_fallback"`
}

// RelayConfig configures the relay daemon.
type RelayConfig struct {
	// Addr is the daemon listen address.
	Addr string `toml:"addr"`

	// CacheVersion names the active asset cache generation.
	CacheVersion string `toml:"cache_version"`

	// Upstream is the asset origin the cache proxies. Empty disables
	// the caching routes.
	Upstream string `toml:"upstream"`
}

// LoggingConfig shapes log output.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `toml:"level"`

	// File receives the JSON log stream in addition to stderr text.
	// Empty means stderr only.
	File string `toml:"file"`
}

// ExportConfig shapes file exports.
type ExportConfig struct {
	// OutputDir receives exported chat files. Default: current directory.
	OutputDir string `toml:"output_dir"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		Storage: StorageConfig{
			DataDir: filepath.Join(home, ".polychat"),
		},
		Sync: SyncConfig{
			RelayURL:        "ws://127.0.0.1:8788/sync",
			JournalFallback: true,
		},
		Relay: RelayConfig{
			Addr:         "127.0.0.1:8788",
			CacheVersion: "1",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Export: ExportConfig{
			OutputDir: ".",
		},
	}
}

// DatabasePath is the SQLite file under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Storage.DataDir, "polychat.db")
}

// JournalPath is the sync journal file under the data directory.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Storage.DataDir, "sync.journal")
}

// CacheDir is the root for relay cache generations.
func (c *Config) CacheDir() string {
	return filepath.Join(c.Storage.DataDir, "cache")
}

// SaltPath is the key-derivation salt file under the data directory.
func (c *Config) SaltPath() string {
	return filepath.Join(c.Storage.DataDir, "salt")
}

// LogLevel parses Logging.Level; unknown values fall back to info.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the config file (if present), applies environment overrides,
// and validates the result.
func Load() (*Config, error) {
	cfg := Default()

	path := os.Getenv("POLYCHAT_CONFIG")
	if path == "" {
		path = filepath.Join(cfg.Storage.DataDir, "config.toml")
	}

	if _, err := os.Stat(path); err == nil {
		if err := loadTOML(cfg, path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath reads a specific config file with overrides and validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := loadTOML(cfg, path); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Save writes the configuration as TOML.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open config for writing: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// applyEnvOverrides applies POLYCHAT_* environment variables on top of the
// loaded configuration.
//
// Supported variables:
//   - POLYCHAT_DATA_DIR
//   - POLYCHAT_PASSPHRASE
//   - POLYCHAT_RELAY_URL
//   - POLYCHAT_RELAY_ADDR
//   - POLYCHAT_RELAY_UPSTREAM
//   - POLYCHAT_CACHE_VERSION
//   - POLYCHAT_LOG_LEVEL
//   - POLYCHAT_LOG_FILE
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("POLYCHAT_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("POLYCHAT_PASSPHRASE"); v != "" {
		c.Storage.Passphrase = v
	}
	if v := os.Getenv("POLYCHAT_RELAY_URL"); v != "" {
		c.Sync.RelayURL = v
	}
	if v := os.Getenv("POLYCHAT_RELAY_ADDR"); v != "" {
		c.Relay.Addr = v
	}
	if v := os.Getenv("POLYCHAT_RELAY_UPSTREAM"); v != "" {
		c.Relay.Upstream = v
	}
	if v := os.Getenv("POLYCHAT_CACHE_VERSION"); v != "" {
		c.Relay.CacheVersion = v
	}
	if v := os.Getenv("POLYCHAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("POLYCHAT_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return errors.New("storage.data_dir must not be empty")
	}

	if c.Sync.RelayURL != "" {
		u, err := url.Parse(c.Sync.RelayURL)
		if err != nil {
			return fmt.Errorf("sync.relay_url is not a valid URL: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("sync.relay_url must use ws:// or wss://, got %q", u.Scheme)
		}
	}

	if c.Relay.Upstream != "" {
		u, err := url.Parse(c.Relay.Upstream)
		if err != nil {
			return fmt.Errorf("relay.upstream is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("relay.upstream must use http:// or https://, got %q", u.Scheme)
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	if c.Relay.CacheVersion != "" && strings.ContainsAny(c.Relay.CacheVersion, `/\`) {
		return errors.New("relay.cache_version must not contain path separators")
	}
	return nil
}
