// Package config loads process configuration from defaults, an optional
// config.json and environment variable overrides, and hands the result to
// the rest of the system as immutable versioned snapshots.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"miniqmt/logger"
)

// RiskConfig parameters of the stop-loss / take-profit state machine
type RiskConfig struct {
	StopLossRatio          float64    `json:"stop_loss_ratio"`           // negative, e.g. -0.07
	InitialTakeProfitRatio float64    `json:"initial_take_profit_ratio"` // arming threshold, e.g. 0.05
	PullbackRatio          float64    `json:"pullback_ratio"`            // retracement for partial exit, e.g. 0.03
	PartialSellFraction    float64    `json:"partial_sell_fraction"`     // fraction of available sold on take_profit_half
	TrailingTiers          []RiskTier `json:"trailing_tiers"`            // ordered highest gain threshold first
}

// RiskTier one (gain_threshold, retain_coefficient) pair of the trailing table
type RiskTier struct {
	GainThreshold     float64 `json:"gain_threshold"`
	RetainCoefficient float64 `json:"retain_coefficient"`
}

// MonitorConfig worker cadences
type MonitorConfig struct {
	TickInterval    time.Duration `json:"-"` // price/position monitor period
	ExecuteInterval time.Duration `json:"-"` // broker drain period
	FlushInterval   time.Duration `json:"-"` // durable store flush period
	CallTimeout     time.Duration `json:"-"` // bound on gateway / market data calls
}

// Config full process configuration. Treat values as read-only once built;
// reloads produce a new Snapshot instead of mutating in place.
type Config struct {
	SimulationMode bool   `json:"simulation_mode"`
	AutoTrading    bool   `json:"auto_trading"`
	DBPath         string `json:"db_path"`

	APIServerPort int    `json:"api_server_port"`
	JWTSecret     string `json:"jwt_secret"`
	AdminPassword string `json:"admin_password"` // empty disables the API login

	QuoteWSURL    string `json:"quote_ws_url"`
	BridgeBaseURL string `json:"bridge_base_url"`

	TelegramToken  string `json:"telegram_token"`
	TelegramChatID int64  `json:"telegram_chat_id"`

	Symbols []string `json:"symbols"`

	Risk    RiskConfig    `json:"risk"`
	Monitor MonitorConfig `json:"-"`

	Log *logger.Config `json:"log"`
}

// Snapshot an immutable configuration view with a version number.
// Engines hold the snapshot they were built with; a reload bumps the
// version so consumers can detect change without shared mutable flags.
type Snapshot struct {
	Version int
	Config
}

// Provider owns the current snapshot and serves reloads
type Provider struct {
	mu      sync.RWMutex
	current *Snapshot
}

// defaultTrailingTiers scanned highest threshold first; below the lowest
// threshold the retain coefficient is 1.0 (stop pinned at the peak).
func defaultTrailingTiers() []RiskTier {
	return []RiskTier{
		{GainThreshold: 0.60, RetainCoefficient: 0.82},
		{GainThreshold: 0.40, RetainCoefficient: 0.85},
		{GainThreshold: 0.30, RetainCoefficient: 0.87},
		{GainThreshold: 0.20, RetainCoefficient: 0.90},
		{GainThreshold: 0.10, RetainCoefficient: 0.94},
		{GainThreshold: 0.05, RetainCoefficient: 0.96},
	}
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		SimulationMode: true,
		AutoTrading:    true,
		DBPath:         "data/miniqmt.db",
		APIServerPort:  8080,
		JWTSecret:      "default-jwt-secret-change-in-production",
		Risk: RiskConfig{
			StopLossRatio:          -0.07,
			InitialTakeProfitRatio: 0.05,
			PullbackRatio:          0.03,
			PartialSellFraction:    0.6,
			TrailingTiers:          defaultTrailingTiers(),
		},
		Monitor: MonitorConfig{
			TickInterval:    3 * time.Second,
			ExecuteInterval: 10 * time.Second,
			FlushInterval:   5 * time.Second,
			CallTimeout:     3 * time.Second,
		},
		Log: &logger.Config{Level: "info"},
	}
}

// Load builds a Config from defaults, then config.json (if present), then
// environment variables. The .env file itself is loaded by main via godotenv.
func Load() (*Config, error) {
	cfg := Default()

	if data, err := os.ReadFile("config.json"); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config.json: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config.json: %w", err)
	}

	applyEnv(cfg)

	if len(cfg.Risk.TrailingTiers) == 0 {
		cfg.Risk.TrailingTiers = defaultTrailingTiers()
	}
	if cfg.Risk.StopLossRatio >= 0 {
		return nil, fmt.Errorf("stop_loss_ratio must be negative, got %v", cfg.Risk.StopLossRatio)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SIMULATION_MODE"); v != "" {
		cfg.SimulationMode = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("AUTO_TRADING"); v != "" {
		cfg.AutoTrading = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("API_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.APIServerPort = port
		}
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = strings.TrimSpace(v)
	}
	if v := os.Getenv("ADMIN_PASSWORD"); v != "" {
		cfg.AdminPassword = strings.TrimSpace(v)
	}
	if v := os.Getenv("QUOTE_WS_URL"); v != "" {
		cfg.QuoteWSURL = v
	}
	if v := os.Getenv("BRIDGE_BASE_URL"); v != "" {
		cfg.BridgeBaseURL = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.TelegramToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TelegramChatID = id
		}
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		parts := strings.Split(v, ",")
		cfg.Symbols = cfg.Symbols[:0]
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				cfg.Symbols = append(cfg.Symbols, s)
			}
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if cfg.Log == nil {
			cfg.Log = &logger.Config{}
		}
		cfg.Log.Level = v
	}
}

// NewProvider wraps an initial config as snapshot version 1
func NewProvider(cfg *Config) *Provider {
	return &Provider{current: &Snapshot{Version: 1, Config: *cfg}}
}

// Current returns the active snapshot
func (p *Provider) Current() *Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Reload re-reads configuration sources and publishes a new snapshot
func (p *Provider) Reload() (*Snapshot, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	snap := &Snapshot{Version: p.current.Version + 1, Config: *cfg}
	p.current = snap
	logger.Infof("🔄 Config reloaded (version %d)", snap.Version)
	return snap, nil
}
