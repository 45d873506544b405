// Package config defines the top-level configuration for the crossarb
// execution core and provides validation helpers.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CROSSARB_* environment variables.
type Config struct {
	Database DatabaseConfig         `toml:"database"`
	Redis    RedisConfig            `toml:"redis"`
	Venues   map[string]VenueConfig `toml:"venues"`
	Risk     RiskConfig             `toml:"risk"`
	Engine   EngineConfig           `toml:"engine"`
	Executor ExecutorConfig         `toml:"executor"`
	Monitor  MonitorConfig          `toml:"monitor"`
	Feed     FeedConfig             `toml:"feed"`
	Notify   NotifyConfig           `toml:"notify"`
	Mode     string                 `toml:"mode"`
	LogLevel string                 `toml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// VenueConfig holds per-venue API credentials. Secrets may be supplied raw or
// as an encrypted credential file plus password.
type VenueConfig struct {
	BaseURL          string `toml:"base_url"`
	APIKey           string `toml:"api_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// RiskConfig holds the tunable parameters for pre-trade validation and the
// periodic limit-enforcement sweep. Sizes are in contracts (one contract pays
// $1); monetary values are dollars.
type RiskConfig struct {
	TotalCapital        float64  `toml:"total_capital"`
	MinNetProfitPct     float64  `toml:"min_net_profit_pct"`
	MinPositionSize     float64  `toml:"min_position_size"`
	MaxPositionSize     float64  `toml:"max_position_size"`
	BlockedVenues       []string `toml:"blocked_venues"`
	MaxOpenPositions    int      `toml:"max_open_positions"`
	MaxDailyDeployment  float64  `toml:"max_daily_deployment"`
	SlippageBase        float64  `toml:"slippage_base"`
	SpreadCost          float64  `toml:"spread_cost"`
	ImpactK             float64  `toml:"impact_k"`
	SlippageTolerance   float64  `toml:"slippage_tolerance"`
	StalePositionDays   int      `toml:"stale_position_days"`
	EnforceIntervalMins int      `toml:"enforce_interval_minutes"`
}

// EngineConfig holds execution-engine timeouts in milliseconds.
type EngineConfig struct {
	FreshnessBudgetMs  int64 `toml:"freshness_budget_ms"`
	ExecutionTimeoutMs int64 `toml:"execution_timeout_ms"`
	PrepareTimeoutMs   int64 `toml:"prepare_timeout_ms"`
	RollbackTimeoutMs  int64 `toml:"rollback_timeout_ms"`
}

// ExecutorConfig holds the opportunity runner's parameters.
type ExecutorConfig struct {
	MaxTradeSize    float64 `toml:"max_trade_size"`
	DedupTTLSeconds int     `toml:"dedup_ttl_seconds"`
	ChannelBuffer   int     `toml:"channel_buffer"`
}

// MonitorConfig holds the position monitor's sweep parameters.
type MonitorConfig struct {
	IntervalSeconds  int     `toml:"interval_seconds"`
	SizeTolerancePct float64 `toml:"size_tolerance_pct"`
	LockTTLSeconds   int     `toml:"lock_ttl_seconds"`
	UseLock          bool    `toml:"use_lock"`
}

// FeedConfig holds the upstream opportunity feed parameters.
type FeedConfig struct {
	Channel string `toml:"channel"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "crossarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Venues: map[string]VenueConfig{},
		Risk: RiskConfig{
			TotalCapital:        10_000,
			MinNetProfitPct:     1.0,
			MinPositionSize:     10,
			MaxPositionSize:     1_000,
			MaxOpenPositions:    20,
			MaxDailyDeployment:  5_000,
			SlippageBase:        0.001,
			SpreadCost:          0.002,
			ImpactK:             0.05,
			SlippageTolerance:   0.02,
			StalePositionDays:   30,
			EnforceIntervalMins: 15,
		},
		Engine: EngineConfig{
			FreshnessBudgetMs:  500,
			ExecutionTimeoutMs: 10_000,
			PrepareTimeoutMs:   3_000,
			RollbackTimeoutMs:  5_000,
		},
		Executor: ExecutorConfig{
			MaxTradeSize:    500,
			DedupTTLSeconds: 120,
			ChannelBuffer:   64,
		},
		Monitor: MonitorConfig{
			IntervalSeconds:  60,
			SizeTolerancePct: 1.0,
			LockTTLSeconds:   90,
			UseLock:          false,
		},
		Feed: FeedConfig{
			Channel: "opportunities",
		},
		Notify: NotifyConfig{
			Events: []string{"execution_completed", "execution_failed", "critical_discrepancy"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"execute": true,
	"monitor": true,
	"paper":   true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: execute, monitor, paper, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Database — required for every mode but paper.
	if strings.ToLower(c.Mode) != "paper" {
		if c.Database.DSN == "" && (c.Database.Host == "" || c.Database.Database == "" || c.Database.User == "") {
			errs = append(errs, "database: either dsn or host/database/user must be set for mode "+c.Mode)
		}
	}

	// Risk.
	if c.Risk.TotalCapital <= 0 {
		errs = append(errs, "risk: total_capital must be positive")
	}
	if c.Risk.MinPositionSize <= 0 {
		errs = append(errs, "risk: min_position_size must be positive")
	}
	if c.Risk.MaxPositionSize < c.Risk.MinPositionSize {
		errs = append(errs, "risk: max_position_size must be >= min_position_size")
	}
	if c.Risk.MaxOpenPositions <= 0 {
		errs = append(errs, "risk: max_open_positions must be positive")
	}
	if c.Risk.MaxDailyDeployment <= 0 {
		errs = append(errs, "risk: max_daily_deployment must be positive")
	}
	if c.Risk.SlippageTolerance <= 0 {
		errs = append(errs, "risk: slippage_tolerance must be positive")
	}

	// Engine.
	if c.Engine.FreshnessBudgetMs <= 0 {
		errs = append(errs, "engine: freshness_budget_ms must be positive")
	}
	if c.Engine.ExecutionTimeoutMs <= 0 {
		errs = append(errs, "engine: execution_timeout_ms must be positive")
	}

	// Executor.
	if c.Executor.MaxTradeSize <= 0 {
		errs = append(errs, "executor: max_trade_size must be positive")
	}

	// Monitor.
	if c.Monitor.IntervalSeconds <= 0 {
		errs = append(errs, "monitor: interval_seconds must be positive")
	}
	if c.Monitor.SizeTolerancePct < 0 {
		errs = append(errs, "monitor: size_tolerance_pct must not be negative")
	}

	// Venues — encrypted credential paths need a password.
	for name, v := range c.Venues {
		if v.EncryptedKeyPath != "" && v.KeyPassword == "" {
			errs = append(errs, fmt.Sprintf("venues.%s: key_password is required when encrypted_key_path is set", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
