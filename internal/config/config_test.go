package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "saturn.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ALPACA_API_KEY", "ALPACA_API_SECRET", "APCA_API_KEY_ID",
		"APCA_API_SECRET_KEY", "DATA_DIR", "SQLITE_PATH", "SATURN_ACCOUNT",
		"LOG_LEVEL",
	} {
		os.Unsetenv(k)
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/saturn/data"
  sqlite_path: "/tmp/saturn/saturn.db"
server:
  host: "0.0.0.0"
  port: 8080
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  base_url: "https://paper-api.alpaca.markets"
  data_url: "https://data.alpaca.markets"
logging:
  level: "info"
  format: "json"
engine:
  reconcile_interval: 15s
  cancel_grace_window: 5m
  list_page_size: 250
  max_list_pages: 10
  heuristic_mapping: true
trading:
  account: "main"
  paper_mode: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Storage.SQLitePath != "/tmp/saturn/saturn.db" {
		t.Errorf("SQLitePath = %q", cfg.Storage.SQLitePath)
	}
	if cfg.Alpaca.APIKey != "test-key" {
		t.Errorf("APIKey = %q", cfg.Alpaca.APIKey)
	}
	if cfg.Engine.ReconcileInterval.Std() != 15*time.Second {
		t.Errorf("ReconcileInterval = %v", cfg.Engine.ReconcileInterval)
	}
	if cfg.Engine.CancelGraceWindow.Std() != 5*time.Minute {
		t.Errorf("CancelGraceWindow = %v", cfg.Engine.CancelGraceWindow)
	}
	if cfg.Engine.ListPageSize != 250 || cfg.Engine.MaxListPages != 10 {
		t.Errorf("pagination = %d/%d", cfg.Engine.ListPageSize, cfg.Engine.MaxListPages)
	}
	if !cfg.Engine.HeuristicMapping {
		t.Error("HeuristicMapping should be true")
	}
	if !cfg.Trading.PaperMode || cfg.Trading.Account != "main" {
		t.Errorf("Trading = %+v", cfg.Trading)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  sqlite_path: "/tmp/saturn.db"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Engine.CancelGraceWindow.Std() != 5*time.Minute {
		t.Errorf("default CancelGraceWindow = %v, want 5m", cfg.Engine.CancelGraceWindow)
	}
	if cfg.Engine.MaxListPages != 20 {
		t.Errorf("default MaxListPages = %d, want 20", cfg.Engine.MaxListPages)
	}
	want := []time.Duration{time.Second, 3 * time.Second, 10 * time.Second}
	if len(cfg.Engine.RetrySchedule) != len(want) {
		t.Fatalf("default RetrySchedule = %v", cfg.Engine.RetrySchedule)
	}
	for i := range want {
		if cfg.Engine.RetrySchedule[i].Std() != want[i] {
			t.Errorf("RetrySchedule[%d] = %v, want %v", i, cfg.Engine.RetrySchedule[i], want[i])
		}
	}
	if cfg.Trading.TimeInForce != "gtc" {
		t.Errorf("default TimeInForce = %q", cfg.Trading.TimeInForce)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("default Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
alpaca:
  api_key: "file-key"
  api_secret: "file-secret"
`)

	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("APCA_API_KEY_ID", "apca-key")
	t.Setenv("SATURN_ACCOUNT", "env-acct")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// Canonical APCA names win over both the file and ALPACA_* names.
	if cfg.Alpaca.APIKey != "apca-key" {
		t.Errorf("APIKey = %q, want apca-key", cfg.Alpaca.APIKey)
	}
	if cfg.Alpaca.APISecret != "file-secret" {
		t.Errorf("APISecret = %q, want file-secret", cfg.Alpaca.APISecret)
	}
	if cfg.Trading.Account != "env-acct" {
		t.Errorf("Account = %q, want env-acct", cfg.Trading.Account)
	}
}
