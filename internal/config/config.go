// Package config loads the YAML configuration file and applies environment
// variable overrides on top.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"tradexec/internal/engine"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the tradexec service.
type Config struct {
	Storage Storage      `yaml:"storage"`
	Server  Server       `yaml:"server"`
	Venue   VenueConfig  `yaml:"venue"`
	Engine  EngineConfig `yaml:"engine"`
	Risk    RiskConfig   `yaml:"risk"`
	Logging Logging      `yaml:"logging"`
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

// VenueConfig selects the execution venue and holds broker credentials.
type VenueConfig struct {
	PaperMode bool   `yaml:"paper_mode"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`

	// Paper venue simulation knobs.
	FillDelayMS int `yaml:"fill_delay_ms"`
	FillParts   int `yaml:"fill_parts"`
}

// EngineConfig holds the execution engine's runtime tunables. Durations are
// expressed in the unit named by the field so the YAML stays plain integers.
type EngineConfig struct {
	QueueDepth           int      `yaml:"queue_depth"`
	MaxSubmitAttempts    int      `yaml:"max_submit_attempts"`
	RetryBaseDelayMS     int      `yaml:"retry_base_delay_ms"`
	IdempotencyWindowMin int      `yaml:"idempotency_window_min"`
	ReorderWindow        int      `yaml:"reorder_window"`
	ReorderGapTimeoutMS  int      `yaml:"reorder_gap_timeout_ms"`
	CancelTimeoutMS      int      `yaml:"cancel_timeout_ms"`
	SubmitRatePerMin     int      `yaml:"submit_rate_per_min"`
	InitialCash          float64  `yaml:"initial_cash"`
	Instruments          []string `yaml:"instruments"`
}

// RiskConfig defines pre-trade limits. Zero disables a limit.
type RiskConfig struct {
	MaxOrderNotional float64 `yaml:"max_order_notional"`
	MaxPositionQty   float64 `yaml:"max_position_qty"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns the configuration the service runs with when no file is
// provided.
func Default() *Config {
	eng := engine.DefaultConfig()
	cash, _ := eng.InitialCash.Float64()
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/tradexec.db",
		},
		Server: Server{
			Host: "0.0.0.0",
			Port: 3004,
		},
		Venue: VenueConfig{
			PaperMode:   true,
			BaseURL:     "https://paper-api.alpaca.markets",
			FillDelayMS: 50,
			FillParts:   1,
		},
		Engine: EngineConfig{
			QueueDepth:           eng.QueueDepth,
			MaxSubmitAttempts:    eng.MaxSubmitAttempts,
			RetryBaseDelayMS:     int(eng.RetryBaseDelay / time.Millisecond),
			IdempotencyWindowMin: int(eng.IdempotencyWindow / time.Minute),
			ReorderWindow:        eng.ReorderWindow,
			ReorderGapTimeoutMS:  int(eng.ReorderGapTimeout / time.Millisecond),
			CancelTimeoutMS:      int(eng.CancelTimeout / time.Millisecond),
			SubmitRatePerMin:     eng.SubmitRatePerMin,
			InitialCash:          cash,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides. A missing
// file (or an empty path) falls back to the defaults, still honoring the
// environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// run on defaults
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
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

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("PAPER_TRADING"); v != "" {
		if paper, err := strconv.ParseBool(v); err == nil {
			cfg.Venue.PaperMode = paper
		}
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Venue.BaseURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Venue.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Venue.APISecret = v
	}
}

// ---------------------------------------------------------------------------
// Conversion
// ---------------------------------------------------------------------------

// EngineConfig converts the file representation into the engine's runtime
// configuration.
func (c *Config) EngineConfig() engine.Config {
	e := c.Engine
	return engine.Config{
		QueueDepth:        e.QueueDepth,
		MaxSubmitAttempts: e.MaxSubmitAttempts,
		RetryBaseDelay:    time.Duration(e.RetryBaseDelayMS) * time.Millisecond,
		IdempotencyWindow: time.Duration(e.IdempotencyWindowMin) * time.Minute,
		ReorderWindow:     e.ReorderWindow,
		ReorderGapTimeout: time.Duration(e.ReorderGapTimeoutMS) * time.Millisecond,
		CancelTimeout:     time.Duration(e.CancelTimeoutMS) * time.Millisecond,
		SubmitRatePerMin:  e.SubmitRatePerMin,
		InitialCash:       decimal.NewFromFloat(e.InitialCash),
		Instruments:       e.Instruments,
	}
}

// RiskManager builds the engine's risk checker, or nil when no limit is set.
func (c *Config) RiskManager() *engine.RiskManager {
	if c.Risk.MaxOrderNotional == 0 && c.Risk.MaxPositionQty == 0 {
		return nil
	}
	return engine.NewRiskManager(
		decimal.NewFromFloat(c.Risk.MaxOrderNotional),
		decimal.NewFromFloat(c.Risk.MaxPositionQty),
	)
}
