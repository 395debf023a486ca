// Package config loads the process configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when no path is supplied.
const DefaultConfigPath = "config.yaml"

// Config is the YAML process configuration. Runtime-tunable values live in
// the settings table instead; this file only carries what is needed to
// reach the database and bind the listener.
type Config struct {
	// Database holds the connection DSN (postgres URL or sqlite path).
	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`

	// Server holds the HTTP listener settings.
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	// Redis holds the optional summary cache connection.
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	// Logging holds log output settings.
	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`
}

// ResolveConfigPath returns the effective config path, preferring the
// explicit argument, then the METERING_CONFIG environment variable, then
// the default.
func ResolveConfigPath(path string) string {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return trimmed
	}
	if env := strings.TrimSpace(os.Getenv("METERING_CONFIG")); env != "" {
		return env
	}
	return DefaultConfigPath
}

// Load reads and parses the config file, applying defaults for omitted
// fields. The database DSN is required.
func Load(path string) (Config, error) {
	var cfg Config

	data, errRead := os.ReadFile(filepath.Clean(path))
	if errRead != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, errRead)
	}
	if errDecode := yaml.Unmarshal(data, &cfg); errDecode != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, errDecode)
	}

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return cfg, fmt.Errorf("config: database.dsn is required")
	}
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		cfg.Server.Addr = ":8080"
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
	return cfg, nil
}
