package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	content := `
version: v1
policy_path: ./policy.json
regions:
  - us-east-1
  - us-west-2
account_id: "123456789012"

storage_dir: /var/lib/tagvet
audit_dir: /var/log/tagvet

fetch:
  batch_size: 5
  max_attempts: 3
  inventory_ttl: 5m
  cost_ttl: 6h
  concurrency: 4

drift:
  lookback_days: 14

daemon:
  scan_interval: 30m
  metrics_addr: ":9100"
  resource_types:
    - ec2:instance
`
	path := filepath.Join(t.TempDir(), "tagvet.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Version != "v1" {
		t.Errorf("Version = %v, want v1", cfg.Version)
	}
	if cfg.PolicyPath != "./policy.json" {
		t.Errorf("PolicyPath = %v, want ./policy.json", cfg.PolicyPath)
	}
	if len(cfg.Regions) != 2 {
		t.Errorf("Regions count = %v, want 2", len(cfg.Regions))
	}
	if cfg.Fetch.InventoryTTL != 5*time.Minute {
		t.Errorf("InventoryTTL = %v, want 5m", cfg.Fetch.InventoryTTL)
	}
	if cfg.Drift.LookbackDays != 14 {
		t.Errorf("LookbackDays = %v, want 14", cfg.Drift.LookbackDays)
	}
	if cfg.Daemon.ScanInterval != 30*time.Minute {
		t.Errorf("ScanInterval = %v, want 30m", cfg.Daemon.ScanInterval)
	}
}

func TestLoad_Defaults(t *testing.T) {
	content := `
version: v1
policy_path: ./policy.json
regions:
  - us-east-1
`
	path := filepath.Join(t.TempDir(), "tagvet.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.StorageDir != "./data" {
		t.Errorf("StorageDir = %v, want ./data", cfg.StorageDir)
	}
	if cfg.Drift.LookbackDays != 30 {
		t.Errorf("LookbackDays = %v, want 30", cfg.Drift.LookbackDays)
	}
	if cfg.Daemon.ScanInterval != time.Hour {
		t.Errorf("ScanInterval = %v, want 1h", cfg.Daemon.ScanInterval)
	}
	if cfg.Daemon.MetricsAddr != ":9090" {
		t.Errorf("MetricsAddr = %v, want :9090", cfg.Daemon.MetricsAddr)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "valid config",
			config: Config{
				Version:    "v1",
				PolicyPath: "./policy.json",
				Regions:    []string{"us-east-1"},
			},
			wantErr: false,
		},
		{
			name: "missing version",
			config: Config{
				PolicyPath: "./policy.json",
				Regions:    []string{"us-east-1"},
			},
			wantErr: true,
		},
		{
			name: "missing policy path",
			config: Config{
				Version: "v1",
				Regions: []string{"us-east-1"},
			},
			wantErr: true,
		},
		{
			name: "no regions",
			config: Config{
				Version:    "v1",
				PolicyPath: "./policy.json",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
