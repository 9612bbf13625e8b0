package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if len(cfg.Ledger.Servers) == 0 {
		return nil, fmt.Errorf("config: ledger.servers must list at least one rippled endpoint")
	}
	if cfg.Oracle.Account == "" {
		return nil, fmt.Errorf("config: oracle.account is required")
	}

	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Ledger.RequestInterval == 0 {
		cfg.Ledger.RequestInterval = Duration(1 * time.Second)
	}
	if cfg.Oracle.Currency == "" {
		cfg.Oracle.Currency = "USD"
	}
	if cfg.Oracle.PollInterval == 0 {
		cfg.Oracle.PollInterval = Duration(30 * time.Second)
	}
	if cfg.Oracle.TxFetchLimit == 0 {
		cfg.Oracle.TxFetchLimit = 5
	}
	if cfg.Gaps.Threshold == 0 {
		cfg.Gaps.Threshold = Duration(2 * time.Minute)
	}
	if cfg.Gaps.MaxPerScan == 0 {
		cfg.Gaps.MaxPerScan = 50
	}
	if cfg.Backfill.SampleSpacing == 0 {
		cfg.Backfill.SampleSpacing = 100
	}
	if cfg.Backfill.Stride == 0 {
		cfg.Backfill.Stride = 10
	}
	if cfg.Backfill.BootstrapWindow == 0 {
		cfg.Backfill.BootstrapWindow = 1000
	}
	if cfg.Backfill.LedgerDelay == 0 {
		cfg.Backfill.LedgerDelay = Duration(500 * time.Millisecond)
	}
	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = "./backups"
	}
}
