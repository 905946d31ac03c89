// Package config loads assetlabel configuration.
//
// Priority: environment variables > settings.json in the config
// directory > defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// AppDirName is the per-user directory holding the vault and settings.
const AppDirName = "asset-label-generator"

const (
	VaultFileName    = "vault.dat"
	SettingsFileName = "settings.json"
)

// Config holds the resolved runtime configuration.
type Config struct {
	ConfigDir    string
	MaxAttempts  int
	LogLevel     string
	HTTPTimeout  time.Duration
	TemplatePath string
	OutputPath   string
}

// settingsFile mirrors Config with durations as strings.
type settingsFile struct {
	MaxAttempts  int    `json:"max_attempts"`
	LogLevel     string `json:"log_level"`
	HTTPTimeout  string `json:"http_timeout"`
	TemplatePath string `json:"template_path"`
	OutputPath   string `json:"output_path"`
}

// VaultPath is the fixed location of the encrypted credential file.
func (c *Config) VaultPath() string {
	return filepath.Join(c.ConfigDir, VaultFileName)
}

// SlogLevel maps LogLevel onto slog levels, defaulting to warn.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// Dir resolves the config directory: ASSETLABEL_CONFIG_DIR, then
// $XDG_CONFIG_HOME/asset-label-generator, then the platform user config
// directory.
func Dir() (string, error) {
	if v, ok := os.LookupEnv("ASSETLABEL_CONFIG_DIR"); ok && v != "" {
		return v, nil
	}
	if v, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && v != "" {
		return filepath.Join(v, AppDirName), nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate user config directory: %w", err)
	}
	return filepath.Join(base, AppDirName), nil
}

func defaults(dir string) Config {
	cfg := Config{
		ConfigDir:   dir,
		MaxAttempts: 3,
		LogLevel:    "warn",
		HTTPTimeout: 30 * time.Second,
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.TemplatePath = filepath.Join(home, "Asset-Template.odt")
		cfg.OutputPath = filepath.Join(home, "Asset-Label.odt")
	}
	return cfg
}

// Load resolves the configuration. Optional variables:
// ASSETLABEL_MAX_ATTEMPTS (3), ASSETLABEL_LOG_LEVEL (warn),
// ASSETLABEL_HTTP_TIMEOUT (30s), ASSETLABEL_TEMPLATE, ASSETLABEL_OUTPUT.
func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	cfg := defaults(dir)

	if err := applySettings(&cfg, filepath.Join(dir, SettingsFileName)); err != nil {
		return nil, err
	}

	if v, ok := os.LookupEnv("ASSETLABEL_MAX_ATTEMPTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("ASSETLABEL_MAX_ATTEMPTS has invalid value %q: %w", v, err)
		}
		cfg.MaxAttempts = n
	}
	if v, ok := os.LookupEnv("ASSETLABEL_LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv("ASSETLABEL_HTTP_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("ASSETLABEL_HTTP_TIMEOUT has invalid duration %q: %w", v, err)
		}
		cfg.HTTPTimeout = d
	}
	if v, ok := os.LookupEnv("ASSETLABEL_TEMPLATE"); ok && v != "" {
		cfg.TemplatePath = v
	}
	if v, ok := os.LookupEnv("ASSETLABEL_OUTPUT"); ok && v != "" {
		cfg.OutputPath = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applySettings layers settings.json over cfg. A missing file is not an error.
func applySettings(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var s settingsFile
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if s.MaxAttempts != 0 {
		cfg.MaxAttempts = s.MaxAttempts
	}
	if s.LogLevel != "" {
		cfg.LogLevel = s.LogLevel
	}
	if s.HTTPTimeout != "" {
		d, err := time.ParseDuration(s.HTTPTimeout)
		if err != nil {
			return fmt.Errorf("%s: http_timeout has invalid duration %q: %w", path, s.HTTPTimeout, err)
		}
		cfg.HTTPTimeout = d
	}
	if s.TemplatePath != "" {
		cfg.TemplatePath = s.TemplatePath
	}
	if s.OutputPath != "" {
		cfg.OutputPath = s.OutputPath
	}
	return nil
}

func (c *Config) validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be positive, got %s", c.HTTPTimeout)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	return nil
}
