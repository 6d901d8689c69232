package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines runtime settings for the propagation engine.
type Config struct {
	Root        string `yaml:"root"`
	Debounce    string `yaml:"debounce"`
	MaxDeferral string `yaml:"maxDeferral"`
	Workers     int    `yaml:"workers"`
	LogLevel    string `yaml:"logLevel"`
	LogFormat   string `yaml:"logFormat"`
}

// LoadConfig loads configuration from a YAML file and environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Root:        "./fleet",
		Debounce:    "3s",
		MaxDeferral: "30s",
		Workers:     4,
		LogLevel:    "info",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if root := os.Getenv("TIERSYNC_ROOT"); root != "" {
		cfg.Root = root
	}
	if logLevel := os.Getenv("TIERSYNC_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat := os.Getenv("TIERSYNC_LOG_FORMAT"); logFormat != "" {
		cfg.LogFormat = logFormat
	}

	if _, err := cfg.DebounceWindow(); err != nil {
		return nil, err
	}
	if _, err := cfg.MaxDeferralWindow(); err != nil {
		return nil, err
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1, got %d", cfg.Workers)
	}
	return cfg, nil
}

// DebounceWindow parses the debounce duration.
func (c *Config) DebounceWindow() (time.Duration, error) {
	d, err := time.ParseDuration(c.Debounce)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid debounce %q", c.Debounce)
	}
	return d, nil
}

// MaxDeferralWindow parses the maximum total deferral for a debounce burst.
func (c *Config) MaxDeferralWindow() (time.Duration, error) {
	d, err := time.ParseDuration(c.MaxDeferral)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid maxDeferral %q", c.MaxDeferral)
	}
	return d, nil
}

// DefaultConfigPath returns the default location for the CLI config file.
func DefaultConfigPath() string {
	if path := os.Getenv("TIERSYNC_CONFIG"); path != "" {
		return path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tiersync", "config.yaml")
}
