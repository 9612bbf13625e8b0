package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
ledger:
  servers:
    - name: s1
      url: "https://s1.ripple.com:51234"
oracle:
  account: rLsn6Z3T8uCxbcd1oxoMDn3mKRgKkfCDY
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Oracle.Currency != "USD" {
		t.Errorf("expected default currency USD, got %s", cfg.Oracle.Currency)
	}
	if cfg.Oracle.PollInterval.Std() != 30*time.Second {
		t.Errorf("expected default poll interval 30s, got %v", cfg.Oracle.PollInterval.Std())
	}
	if cfg.Gaps.Threshold.Std() != 2*time.Minute {
		t.Errorf("expected default gap threshold 2m, got %v", cfg.Gaps.Threshold.Std())
	}
	if cfg.Backfill.Stride != 10 {
		t.Errorf("expected default stride 10, got %d", cfg.Backfill.Stride)
	}
	if cfg.Ledger.RequestInterval.Std() != time.Second {
		t.Errorf("expected default request interval 1s, got %v", cfg.Ledger.RequestInterval.Std())
	}
}

func TestLoad_Durations(t *testing.T) {
	path := writeConfig(t, `
ledger:
  servers:
    - name: s1
      url: "wss://s1.ripple.com"
  request_interval: 1500ms
oracle:
  account: rLsn6Z3T8uCxbcd1oxoMDn3mKRgKkfCDY
  poll_interval: 45s
backfill:
  ledger_delay: 250ms
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Ledger.RequestInterval.Std() != 1500*time.Millisecond {
		t.Errorf("request_interval = %v", cfg.Ledger.RequestInterval.Std())
	}
	if cfg.Oracle.PollInterval.Std() != 45*time.Second {
		t.Errorf("poll_interval = %v", cfg.Oracle.PollInterval.Std())
	}
	if cfg.Backfill.LedgerDelay.Std() != 250*time.Millisecond {
		t.Errorf("ledger_delay = %v", cfg.Backfill.LedgerDelay.Std())
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_DATABASE_URL", "postgres://localhost:5432/prices")

	path := writeConfig(t, `
ledger:
  servers:
    - name: s1
      url: "https://s1.ripple.com:51234"
oracle:
  account: rLsn6Z3T8uCxbcd1oxoMDn3mKRgKkfCDY
database:
  url: ${TEST_DATABASE_URL}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.URL != "postgres://localhost:5432/prices" {
		t.Errorf("env expansion failed, got %q", cfg.Database.URL)
	}
}

func TestLoad_MissingServers(t *testing.T) {
	path := writeConfig(t, `
oracle:
  account: rLsn6Z3T8uCxbcd1oxoMDn3mKRgKkfCDY
`)

	if _, err := Load(path); err == nil {
		t.Error("expected error for missing ledger servers")
	}
}

func TestLoad_MissingAccount(t *testing.T) {
	path := writeConfig(t, `
ledger:
  servers:
    - name: s1
      url: "https://s1.ripple.com:51234"
`)

	if _, err := Load(path); err == nil {
		t.Error("expected error for missing oracle account")
	}
}
