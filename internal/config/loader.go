package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies GOTRADER_* environment variable overrides, and
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

// applyEnvOverrides reads well-known GOTRADER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStringSlice(&cfg.Engine.Symbols, "GOTRADER_ENGINE_SYMBOLS")
	setInt(&cfg.Engine.BookDepth, "GOTRADER_ENGINE_BOOK_DEPTH")
	setDuration(&cfg.Engine.StrategyInterval, "GOTRADER_ENGINE_STRATEGY_INTERVAL")
	setDuration(&cfg.Engine.OrderCheckInterval, "GOTRADER_ENGINE_ORDER_CHECK_INTERVAL")
	setDuration(&cfg.Engine.PerfReportInterval, "GOTRADER_ENGINE_PERF_REPORT_INTERVAL")
	setDuration(&cfg.Engine.RiskMonitorInterval, "GOTRADER_ENGINE_RISK_MONITOR_INTERVAL")
	setDuration(&cfg.Engine.PersistInterval, "GOTRADER_ENGINE_PERSIST_INTERVAL")
	setInt(&cfg.Engine.MaxConsecutiveErrors, "GOTRADER_ENGINE_MAX_CONSECUTIVE_ERRORS")
	setDuration(&cfg.Engine.ErrorRecoveryDelay, "GOTRADER_ENGINE_ERROR_RECOVERY_DELAY")

	// ── Feed ──
	setStr(&cfg.Feed.URL, "GOTRADER_FEED_URL")

	// ── Venue ──
	setStr(&cfg.Venue.Exchange, "GOTRADER_VENUE_EXCHANGE")
	setInt(&cfg.Venue.RateLimit, "GOTRADER_VENUE_RATE_LIMIT")
	setDuration(&cfg.Venue.RateWindow, "GOTRADER_VENUE_RATE_WINDOW")
	setDuration(&cfg.Venue.AdaptiveCooldown, "GOTRADER_VENUE_ADAPTIVE_COOLDOWN")

	// ── Executor ──
	setDuration(&cfg.Executor.OrderTimeout, "GOTRADER_EXECUTOR_ORDER_TIMEOUT")
	setBool(&cfg.Executor.CancelOnTimeout, "GOTRADER_EXECUTOR_CANCEL_ON_TIMEOUT")
	setInt(&cfg.Executor.MaxRetries, "GOTRADER_EXECUTOR_MAX_RETRIES")
	setDuration(&cfg.Executor.RetryDelay, "GOTRADER_EXECUTOR_RETRY_DELAY")
	setBool(&cfg.Executor.ExponentialBackoff, "GOTRADER_EXECUTOR_EXPONENTIAL_BACKOFF")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxOrderValue, "GOTRADER_RISK_MAX_ORDER_VALUE")
	setFloat64(&cfg.Risk.MaxExposure, "GOTRADER_RISK_MAX_EXPOSURE")
	setInt(&cfg.Risk.MaxOpenOrders, "GOTRADER_RISK_MAX_OPEN_ORDERS")

	// ── Strategy ──
	setBool(&cfg.Strategy.Spread.Enabled, "GOTRADER_STRATEGY_SPREAD_ENABLED")
	setFloat64(&cfg.Strategy.Spread.MinSpread, "GOTRADER_STRATEGY_SPREAD_MIN_SPREAD")
	setFloat64(&cfg.Strategy.Spread.OrderSize, "GOTRADER_STRATEGY_SPREAD_ORDER_SIZE")
	setDuration(&cfg.Strategy.Spread.Cooldown, "GOTRADER_STRATEGY_SPREAD_COOLDOWN")
	setBool(&cfg.Strategy.MeanReversion.Enabled, "GOTRADER_STRATEGY_MEAN_REVERSION_ENABLED")
	setInt(&cfg.Strategy.MeanReversion.Window, "GOTRADER_STRATEGY_MEAN_REVERSION_WINDOW")
	setFloat64(&cfg.Strategy.MeanReversion.Threshold, "GOTRADER_STRATEGY_MEAN_REVERSION_THRESHOLD")
	setFloat64(&cfg.Strategy.MeanReversion.OrderSize, "GOTRADER_STRATEGY_MEAN_REVERSION_ORDER_SIZE")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "GOTRADER_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "GOTRADER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "GOTRADER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "GOTRADER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "GOTRADER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "GOTRADER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "GOTRADER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "GOTRADER_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "GOTRADER_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "GOTRADER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "GOTRADER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "GOTRADER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "GOTRADER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "GOTRADER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "GOTRADER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "GOTRADER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "GOTRADER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "GOTRADER_REDIS_MAX_RETRIES")
	setDuration(&cfg.Redis.DialTimeout, "GOTRADER_REDIS_DIAL_TIMEOUT")
	setBool(&cfg.Redis.TLSEnabled, "GOTRADER_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "GOTRADER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "GOTRADER_S3_REGION")
	setStr(&cfg.S3.Bucket, "GOTRADER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "GOTRADER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "GOTRADER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "GOTRADER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "GOTRADER_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "GOTRADER_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "GOTRADER_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "GOTRADER_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "GOTRADER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "GOTRADER_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "GOTRADER_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "GOTRADER_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "GOTRADER_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "GOTRADER_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "GOTRADER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "GOTRADER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "GOTRADER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "GOTRADER_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.RepeatWindow, "GOTRADER_NOTIFY_REPEAT_WINDOW")

	// ── Top-level ──
	setStr(&cfg.Mode, "GOTRADER_MODE")
	setStr(&cfg.LogLevel, "GOTRADER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
