package config

import (
	"fmt"
	"time"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Gaps     GapConfig      `yaml:"gaps"`
	Backfill BackfillConfig `yaml:"backfill"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Backup   BackupConfig   `yaml:"backup"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LedgerConfig holds rippled connection settings.
type LedgerConfig struct {
	Servers         []ServerEntry `yaml:"servers"`
	RequestInterval Duration      `yaml:"request_interval"`
}

// ServerEntry identifies one rippled endpoint. WebSocket URLs (ws:// or
// wss://) get a websocket session, everything else is JSON-RPC over HTTP.
type ServerEntry struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// OracleConfig identifies the oracle account and polling cadence.
type OracleConfig struct {
	Account      string   `yaml:"account"`
	Currency     string   `yaml:"currency"`
	PollInterval Duration `yaml:"poll_interval"`
	TxFetchLimit int      `yaml:"tx_fetch_limit"`
}

// GapConfig controls gap detection.
type GapConfig struct {
	Threshold  Duration `yaml:"threshold"`
	Floor      string   `yaml:"floor"` // RFC3339; earliest time considered
	MaxPerScan int      `yaml:"max_per_scan"`
}

// BackfillConfig controls the historical backfiller.
type BackfillConfig struct {
	SampleSpacing   uint32   `yaml:"sample_spacing"`
	Stride          uint32   `yaml:"stride"`
	BootstrapWindow uint32   `yaml:"bootstrap_window"`
	LedgerDelay     Duration `yaml:"ledger_delay"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// BackupConfig holds backup artifact settings.
type BackupConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Duration wraps time.Duration so YAML values like "30s" decode cleanly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
