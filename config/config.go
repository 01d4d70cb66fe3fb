// Package config loads the runtime configuration for the engine and CLI.
// The tagging policy itself is a separate JSON document; this file only
// points at it.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the runtime configuration
type Config struct {
	Version    string   `yaml:"version"`
	PolicyPath string   `yaml:"policy_path"`
	Regions    []string `yaml:"regions"`
	AccountID  string   `yaml:"account_id,omitempty"`

	StorageDir string `yaml:"storage_dir"`
	AuditDir   string `yaml:"audit_dir"`

	Fetch  Fetch  `yaml:"fetch,omitempty"`
	Drift  Drift  `yaml:"drift,omitempty"`
	Daemon Daemon `yaml:"daemon,omitempty"`
}

// Fetch tunes gateway batching, retries, and caching
type Fetch struct {
	BatchSize    int           `yaml:"batch_size"`
	MaxAttempts  int           `yaml:"max_attempts"`
	InventoryTTL time.Duration `yaml:"inventory_ttl"`
	CostTTL      time.Duration `yaml:"cost_ttl"`
	Concurrency  int           `yaml:"concurrency"`
}

// Drift tunes baseline selection
type Drift struct {
	LookbackDays int `yaml:"lookback_days"`
}

// Daemon tunes continuous mode
type Daemon struct {
	ScanInterval  time.Duration `yaml:"scan_interval"`
	MetricsAddr   string        `yaml:"metrics_addr"`
	ResourceTypes []string      `yaml:"resource_types"`
}

// Load reads and validates configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.StorageDir == "" {
		c.StorageDir = "./data"
	}
	if c.AuditDir == "" {
		c.AuditDir = "./audit"
	}
	if c.Drift.LookbackDays <= 0 {
		c.Drift.LookbackDays = 30
	}
	if c.Daemon.ScanInterval <= 0 {
		c.Daemon.ScanInterval = time.Hour
	}
	if c.Daemon.MetricsAddr == "" {
		c.Daemon.MetricsAddr = ":9090"
	}
}

// Validate ensures config has required fields
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}
	if c.PolicyPath == "" {
		return fmt.Errorf("policy_path is required")
	}
	if len(c.Regions) == 0 {
		return fmt.Errorf("at least one region is required")
	}
	return nil
}
