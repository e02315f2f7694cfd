package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/maillens/maillens/helpers"
)

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Output string `toml:"output"` // Log output: "stderr", "stdout", "syslog", or file path
	Format string `toml:"format"` // Log format: "json" or "console"
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", "error"
}

// DatabaseConfig holds configuration for the embedded SQLite store.
type DatabaseConfig struct {
	Path        string `toml:"path"`         // Path to the SQLite database file
	BusyTimeout string `toml:"busy_timeout"` // How long a stalled writer/reader conflict may wait (default: "30s")
	LogQueries  bool   `toml:"log_queries"`  // Log all database queries
}

// GetBusyTimeout parses the busy timeout duration.
func (d *DatabaseConfig) GetBusyTimeout() (time.Duration, error) {
	if d.BusyTimeout == "" {
		return 30 * time.Second, nil
	}
	return helpers.ParseDuration(d.BusyTimeout)
}

// IngestConfig holds configuration for ingestion jobs.
type IngestConfig struct {
	BatchSize     int    `toml:"batch_size"`     // Files per transaction commit (default: 500)
	CancelTimeout string `toml:"cancel_timeout"` // Bounded join wait for a cancelled worker (default: "5s")
}

// GetCancelTimeout parses the cancel join timeout duration.
func (i *IngestConfig) GetCancelTimeout() (time.Duration, error) {
	if i.CancelTimeout == "" {
		return 5 * time.Second, nil
	}
	return helpers.ParseDuration(i.CancelTimeout)
}

// HTTPConfig holds configuration for the worker HTTP API.
type HTTPConfig struct {
	Addr         string   `toml:"addr"`          // Listen address (default: "127.0.0.1:8765")
	APIKey       string   `toml:"api_key"`       // Optional bearer token; empty disables auth
	AllowedHosts []string `toml:"allowed_hosts"` // Optional client allow-list (IPs or CIDR blocks)
}

// Config holds all configuration for the application.
type Config struct {
	Logging  LoggingConfig  `toml:"logging"`
	Database DatabaseConfig `toml:"database"`
	Ingest   IngestConfig   `toml:"ingest"`
	HTTP     HTTPConfig     `toml:"http"`
}

// NewDefaultConfig creates a Config struct with default values.
func NewDefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		Database: DatabaseConfig{
			Path:        "maillens.db",
			BusyTimeout: "30s",
		},
		Ingest: IngestConfig{
			BatchSize:     500,
			CancelTimeout: "5s",
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:8765",
		},
	}
}

// LoadConfigFromFile loads configuration from a TOML file into cfg.
// Unknown keys are logged and ignored so that typos and deprecated
// settings do not prevent startup.
func LoadConfigFromFile(configPath string, cfg *Config) error {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	metadata, err := toml.Decode(string(content), cfg)
	if err != nil {
		return fmt.Errorf("failed to parse config file '%s': %w", configPath, err)
	}

	if len(metadata.Undecoded()) > 0 {
		log.Printf("WARNING: Configuration file '%s' contains unknown keys that will be ignored:", configPath)
		for _, key := range metadata.Undecoded() {
			log.Printf("WARNING:   - %s", key)
		}
	}

	return nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if dir := filepath.Dir(c.Database.Path); dir != "." {
		if info, err := os.Stat(dir); err == nil && !info.IsDir() {
			return fmt.Errorf("database.path parent '%s' is not a directory", dir)
		}
	}
	if c.Ingest.BatchSize < 1 {
		return fmt.Errorf("ingest.batch_size must be at least 1, got %d", c.Ingest.BatchSize)
	}
	if _, err := c.Ingest.GetCancelTimeout(); err != nil {
		return fmt.Errorf("invalid ingest.cancel_timeout: %w", err)
	}
	if _, err := c.Database.GetBusyTimeout(); err != nil {
		return fmt.Errorf("invalid database.busy_timeout: %w", err)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be 'json' or 'console', got '%s'", c.Logging.Format)
	}
	return nil
}
