// Package config provides process-level configuration for the Gemini key-pool
// proxy. It handles loading and parsing the YAML configuration file and exposes
// structured access to the listen address, database location, logging behavior,
// and audit retention policy. Runtime-tunable settings (retry count, inbound
// secret, egress proxy) live in the database instead; see internal/store.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default values applied when the configuration file omits a field.
const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 5675

	// DefaultDatabasePath is the SQLite file holding keys, logs, and settings.
	DefaultDatabasePath = "gemini-proxy.db"

	// DefaultResponseBodyLimit caps captured upstream response bodies in the
	// audit trail. Bodies beyond the limit are truncated, not dropped.
	DefaultResponseBodyLimit = 65536
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the address the proxy listens on.
	Host string `yaml:"host" json:"host"`

	// Port is the TCP port the proxy listens on.
	Port int `yaml:"port" json:"port"`

	// DatabasePath is the location of the SQLite database file.
	DatabasePath string `yaml:"database" json:"database"`

	// Debug enables debug-level logging and gin debug mode.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile routes log output to rotating files instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogDir is the directory for rotating log files when LoggingToFile is set.
	LogDir string `yaml:"log-dir" json:"log-dir"`

	// LogRetentionDays prunes request_logs rows older than this many days.
	// <= 0 disables retention; append semantics are unchanged either way.
	LogRetentionDays int `yaml:"log-retention-days" json:"log-retention-days"`

	// ResponseBodyLimit is the byte ceiling for captured response bodies in
	// the audit trail. <= 0 selects DefaultResponseBodyLimit.
	ResponseBodyLimit int `yaml:"response-body-limit" json:"response-body-limit"`
}

// LoadConfig reads and parses the configuration file at the given path.
// A missing file is not an error; defaults are returned instead so the proxy
// can start with nothing but a database beside it.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Host:              DefaultHost,
		Port:              DefaultPort,
		DatabasePath:      DefaultDatabasePath,
		LogDir:            "logs",
		ResponseBodyLimit: DefaultResponseBodyLimit,
	}
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Host) == "" {
		c.Host = DefaultHost
	}
	if c.Port <= 0 || c.Port > 65535 {
		c.Port = DefaultPort
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		c.DatabasePath = DefaultDatabasePath
	}
	if strings.TrimSpace(c.LogDir) == "" {
		c.LogDir = "logs"
	}
	if c.ResponseBodyLimit <= 0 {
		c.ResponseBodyLimit = DefaultResponseBodyLimit
	}
}

// Addr returns the host:port pair the HTTP server binds to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
