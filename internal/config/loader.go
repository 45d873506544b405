package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CROSSARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CROSSARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "CROSSARB_DATABASE_DSN")
	setStr(&cfg.Database.Host, "CROSSARB_DATABASE_HOST")
	setInt(&cfg.Database.Port, "CROSSARB_DATABASE_PORT")
	setStr(&cfg.Database.Database, "CROSSARB_DATABASE_NAME")
	setStr(&cfg.Database.User, "CROSSARB_DATABASE_USER")
	setStr(&cfg.Database.Password, "CROSSARB_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "CROSSARB_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "CROSSARB_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "CROSSARB_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "CROSSARB_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CROSSARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CROSSARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CROSSARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CROSSARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CROSSARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CROSSARB_REDIS_TLS_ENABLED")

	// ── Venues: CROSSARB_VENUE_<NAME>_API_KEY / _KEY_PASSWORD ──
	for name, v := range cfg.Venues {
		prefix := "CROSSARB_VENUE_" + strings.ToUpper(name)
		setStr(&v.APIKey, prefix+"_API_KEY")
		setStr(&v.KeyPassword, prefix+"_KEY_PASSWORD")
		setStr(&v.BaseURL, prefix+"_BASE_URL")
		cfg.Venues[name] = v
	}

	// ── Risk ──
	setFloat64(&cfg.Risk.TotalCapital, "CROSSARB_RISK_TOTAL_CAPITAL")
	setFloat64(&cfg.Risk.MinNetProfitPct, "CROSSARB_RISK_MIN_NET_PROFIT_PCT")
	setFloat64(&cfg.Risk.MinPositionSize, "CROSSARB_RISK_MIN_POSITION_SIZE")
	setFloat64(&cfg.Risk.MaxPositionSize, "CROSSARB_RISK_MAX_POSITION_SIZE")
	setInt(&cfg.Risk.MaxOpenPositions, "CROSSARB_RISK_MAX_OPEN_POSITIONS")
	setFloat64(&cfg.Risk.MaxDailyDeployment, "CROSSARB_RISK_MAX_DAILY_DEPLOYMENT")
	setFloat64(&cfg.Risk.SlippageTolerance, "CROSSARB_RISK_SLIPPAGE_TOLERANCE")
	setInt(&cfg.Risk.StalePositionDays, "CROSSARB_RISK_STALE_POSITION_DAYS")

	// ── Engine ──
	setInt64(&cfg.Engine.FreshnessBudgetMs, "CROSSARB_ENGINE_FRESHNESS_BUDGET_MS")
	setInt64(&cfg.Engine.ExecutionTimeoutMs, "CROSSARB_ENGINE_EXECUTION_TIMEOUT_MS")
	setInt64(&cfg.Engine.PrepareTimeoutMs, "CROSSARB_ENGINE_PREPARE_TIMEOUT_MS")
	setInt64(&cfg.Engine.RollbackTimeoutMs, "CROSSARB_ENGINE_ROLLBACK_TIMEOUT_MS")

	// ── Executor ──
	setFloat64(&cfg.Executor.MaxTradeSize, "CROSSARB_EXECUTOR_MAX_TRADE_SIZE")
	setInt(&cfg.Executor.DedupTTLSeconds, "CROSSARB_EXECUTOR_DEDUP_TTL_SECONDS")

	// ── Monitor ──
	setInt(&cfg.Monitor.IntervalSeconds, "CROSSARB_MONITOR_INTERVAL_SECONDS")
	setFloat64(&cfg.Monitor.SizeTolerancePct, "CROSSARB_MONITOR_SIZE_TOLERANCE_PCT")
	setBool(&cfg.Monitor.UseLock, "CROSSARB_MONITOR_USE_LOCK")

	// ── Feed ──
	setStr(&cfg.Feed.Channel, "CROSSARB_FEED_CHANNEL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CROSSARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CROSSARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CROSSARB_NOTIFY_DISCORD_WEBHOOK_URL")

	// ── Top-level ──
	setStr(&cfg.Mode, "CROSSARB_MODE")
	setStr(&cfg.LogLevel, "CROSSARB_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
