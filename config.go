// Package drawfile wires the file service together: configuration, storage,
// observability, HTTP surface, lifecycle.
package drawfile

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration, loaded from YAML with
// optional environment overrides applied by the caller.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`
	// DataRoot is the directory all served file paths are confined to.
	DataRoot string `yaml:"data_root"`
	// BackupCooldown is the minimum interval between automatic backups of
	// the same file.
	BackupCooldown time.Duration `yaml:"backup_cooldown"`
	// BackupSlots is the size of the per-file rotating backup ring.
	BackupSlots int `yaml:"backup_slots"`
	// ObservabilityDB is the SQLite path for event and request logs.
	// Empty disables persistence of observability events.
	ObservabilityDB string `yaml:"observability_db"`
	// Retention controls observability cleanup.
	Retention RetentionConfig `yaml:"retention"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// RetentionConfig bounds how long observability rows are kept.
type RetentionConfig struct {
	FileEventsDays int           `yaml:"file_events_days"`
	HTTPLogsDays   int           `yaml:"http_logs_days"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

func (c *Config) defaults() {
	if c.Listen == "" {
		c.Listen = ":3031"
	}
	if c.DataRoot == "" {
		c.DataRoot = "."
	}
	if c.BackupCooldown <= 0 {
		c.BackupCooldown = 5 * time.Minute
	}
	if c.BackupSlots <= 0 {
		c.BackupSlots = 10
	}
	if c.Retention.FileEventsDays <= 0 {
		c.Retention.FileEventsDays = 30
	}
	if c.Retention.HTTPLogsDays <= 0 {
		c.Retention.HTTPLogsDays = 7
	}
	if c.Retention.SweepInterval <= 0 {
		c.Retention.SweepInterval = 6 * time.Hour
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.BackupSlots > 100 {
		return fmt.Errorf("config: backup_slots %d exceeds the two-digit slot namespace", c.BackupSlots)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	return nil
}

// LoadConfig reads a YAML config file, applies defaults and validates.
// A missing path yields the default configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
