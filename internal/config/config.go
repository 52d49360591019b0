// Package config loads the YAML configuration file and applies environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s"
// or "5m". yaml.v3 has no native duration support.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts back to the standard library type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the saturn order engine. It is
// passed by value into each component at construction; nothing mutates it
// after Load returns.
type Config struct {
	Storage Storage      `yaml:"storage"`
	Server  Server       `yaml:"server"`
	Alpaca  Alpaca       `yaml:"alpaca"`
	Logging Logging      `yaml:"logging"`
	Engine  EngineConfig `yaml:"engine"`
	Trading Trading      `yaml:"trading"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// EngineConfig tunes the reconciliation and retry behaviour. The grace
// window and page cap are deliberately configuration rather than constants:
// both encode assumptions about broker latency that change per environment.
type EngineConfig struct {
	// ReconcileInterval is the period of scheduled reconciliation passes.
	ReconcileInterval Duration `yaml:"reconcile_interval"`

	// CancelGraceWindow is how long a freshly submitted order may be absent
	// from the broker's listing before it is presumed canceled.
	CancelGraceWindow Duration `yaml:"cancel_grace_window"`

	// ListPageSize is the page size for backward pagination of order history.
	ListPageSize int `yaml:"list_page_size"`

	// MaxListPages is the hard safety cap on pages fetched per pass.
	MaxListPages int `yaml:"max_list_pages"`

	// RetrySchedule are the delays between rate-limited broker call retries.
	RetrySchedule []Duration `yaml:"retry_schedule"`

	// HeuristicMapping enables matching unlinked local rows to remote orders
	// by idempotency comment during reconciliation.
	HeuristicMapping bool `yaml:"heuristic_mapping"`

	// ListRateLimitPerMin throttles broker listing calls.
	ListRateLimitPerMin int `yaml:"list_rate_limit_per_min"`
}

// Trading defines execution parameters.
type Trading struct {
	// Account labels idempotency comment tokens; it distinguishes multiple
	// engines sharing one brokerage account namespace.
	Account string `yaml:"account"`

	// PaperMode swaps the Alpaca gateway for the in-memory simulator.
	PaperMode bool `yaml:"paper_mode"`

	// TimeInForce applies to every submitted order (default "gtc").
	TimeInForce string `yaml:"time_in_force"`

	// PriceCacheTTL bounds staleness of the latest-price cache.
	PriceCacheTTL Duration `yaml:"price_cache_ttl"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyDefaults fills zero-valued tuning fields with working defaults.
func applyDefaults(cfg *Config) {
	if cfg.Engine.ReconcileInterval <= 0 {
		cfg.Engine.ReconcileInterval = Duration(30 * time.Second)
	}
	if cfg.Engine.CancelGraceWindow <= 0 {
		cfg.Engine.CancelGraceWindow = Duration(5 * time.Minute)
	}
	if cfg.Engine.ListPageSize <= 0 {
		cfg.Engine.ListPageSize = 500
	}
	if cfg.Engine.MaxListPages <= 0 {
		cfg.Engine.MaxListPages = 20
	}
	if len(cfg.Engine.RetrySchedule) == 0 {
		cfg.Engine.RetrySchedule = []Duration{Duration(time.Second), Duration(3 * time.Second), Duration(10 * time.Second)}
	}
	if cfg.Engine.ListRateLimitPerMin <= 0 {
		cfg.Engine.ListRateLimitPerMin = 200
	}
	if cfg.Trading.TimeInForce == "" {
		cfg.Trading.TimeInForce = "gtc"
	}
	if cfg.Trading.PriceCacheTTL <= 0 {
		cfg.Trading.PriceCacheTTL = Duration(5 * time.Second)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("SATURN_ACCOUNT"); v != "" {
		cfg.Trading.Account = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
