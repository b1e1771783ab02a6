// Package config defines the top-level configuration for the trading engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by GOTRADER_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Feed     FeedConfig     `toml:"feed"`
	Venue    VenueConfig    `toml:"venue"`
	Executor ExecutorConfig `toml:"executor"`
	Risk     RiskConfig     `toml:"risk"`
	Strategy StrategyConfig `toml:"strategy"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds the event-loop cadences and failure tolerances.
type EngineConfig struct {
	Symbols              []string `toml:"symbols"`
	BookDepth            int      `toml:"book_depth"`
	StrategyInterval     duration `toml:"strategy_interval"`
	OrderCheckInterval   duration `toml:"order_check_interval"`
	PerfReportInterval   duration `toml:"perf_report_interval"`
	RiskMonitorInterval  duration `toml:"risk_monitor_interval"`
	PersistInterval      duration `toml:"persist_interval"`
	MaxConsecutiveErrors int      `toml:"max_consecutive_errors"`
	ErrorRecoveryDelay   duration `toml:"error_recovery_delay"`
}

// FeedConfig holds market-data connection parameters.
type FeedConfig struct {
	URL string `toml:"url"`
}

// VenueConfig holds execution-venue parameters. In paper mode the engine
// fills orders against an in-memory venue seeded with StartingBalances.
type VenueConfig struct {
	Exchange         string             `toml:"exchange"`
	RateLimit        int                `toml:"rate_limit"`
	RateWindow       duration           `toml:"rate_window"`
	AdaptiveCooldown duration           `toml:"adaptive_cooldown"`
	StartingBalances map[string]float64 `toml:"starting_balances"`
}

// ExecutorConfig holds order submission parameters.
type ExecutorConfig struct {
	OrderTimeout       duration           `toml:"order_timeout"`
	CancelOnTimeout    bool               `toml:"cancel_on_timeout"`
	MaxRetries         int                `toml:"max_retries"`
	RetryDelay         duration           `toml:"retry_delay"`
	ExponentialBackoff bool               `toml:"exponential_backoff"`
	SplitThreshold     map[string]float64 `toml:"split_threshold"` // symbol -> max child size
}

// RiskConfig holds the pre-trade limit set. Zero values disable a limit.
type RiskConfig struct {
	MaxOrderSize    map[string]float64 `toml:"max_order_size"`    // symbol -> size
	MaxPositionSize map[string]float64 `toml:"max_position_size"` // symbol -> abs size
	MaxDailyLoss    map[string]float64 `toml:"max_daily_loss"`    // symbol -> quote amount
	MaxOrderValue   float64            `toml:"max_order_value"`
	MaxExposure     float64            `toml:"max_exposure"`
	MaxOpenOrders   int                `toml:"max_open_orders"`
	MinFreeBalance  map[string]float64 `toml:"min_free_balance"` // asset -> amount
}

// StrategyConfig selects and parameterizes the built-in strategies.
type StrategyConfig struct {
	Spread        SpreadStrategyConfig        `toml:"spread"`
	MeanReversion MeanReversionStrategyConfig `toml:"mean_reversion"`
}

// SpreadStrategyConfig holds config for the spread-capture strategy.
type SpreadStrategyConfig struct {
	Enabled   bool     `toml:"enabled"`
	MinSpread float64  `toml:"min_spread"`
	OrderSize float64  `toml:"order_size"`
	Cooldown  duration `toml:"cooldown"`
}

// MeanReversionStrategyConfig holds config for the mean-reversion strategy.
type MeanReversionStrategyConfig struct {
	Enabled   bool    `toml:"enabled"`
	Window    int     `toml:"window"`
	Threshold float64 `toml:"threshold"`
	OrderSize float64 `toml:"order_size"`
}

// PostgresConfig holds ledger durability parameters. When disabled the
// shadow ledger runs purely in memory.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// RedisConfig holds mark-cache / distributed-coordination parameters. When
// disabled, marks stay process-local and live mode skips the instance lock.
type RedisConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	DialTimeout duration `toml:"dial_timeout"`
	TLSEnabled  bool     `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds cold-storage retention parameters. Archiving requires
// postgres (the source of exported records) and s3.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// ServerConfig holds the read-only HTTP status API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"` // requests per client IP per window; 0 disables
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	RepeatWindow      duration `toml:"repeat_window"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			Symbols:              []string{"BTC-USDT"},
			BookDepth:            10,
			StrategyInterval:     duration{time.Second},
			OrderCheckInterval:   duration{5 * time.Second},
			PerfReportInterval:   duration{time.Minute},
			RiskMonitorInterval:  duration{30 * time.Second},
			PersistInterval:      duration{30 * time.Second},
			MaxConsecutiveErrors: 10,
			ErrorRecoveryDelay:   duration{time.Second},
		},
		Feed: FeedConfig{
			URL: "wss://stream.example.com/ws",
		},
		Venue: VenueConfig{
			Exchange:         "paper",
			RateLimit:        10,
			RateWindow:       duration{time.Second},
			AdaptiveCooldown: duration{time.Minute},
			StartingBalances: map[string]float64{"USDT": 100_000},
		},
		Executor: ExecutorConfig{
			OrderTimeout:       duration{30 * time.Second},
			CancelOnTimeout:    true,
			MaxRetries:         3,
			RetryDelay:         duration{500 * time.Millisecond},
			ExponentialBackoff: true,
			SplitThreshold:     map[string]float64{},
		},
		Risk: RiskConfig{
			MaxOrderSize:    map[string]float64{},
			MaxPositionSize: map[string]float64{},
			MaxDailyLoss:    map[string]float64{},
			MaxOpenOrders:   20,
			MinFreeBalance:  map[string]float64{},
		},
		Strategy: StrategyConfig{
			Spread: SpreadStrategyConfig{
				Enabled:   true,
				MinSpread: 0.5,
				OrderSize: 0.01,
				Cooldown:  duration{5 * time.Second},
			},
			MeanReversion: MeanReversionStrategyConfig{
				Enabled:   false,
				Window:    20,
				Threshold: 0.002,
				OrderSize: 0.01,
			},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "gotrader",
			User:          "gotrader",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:     false,
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			DialTimeout: duration{5 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "gotrader-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Server: ServerConfig{
			Enabled:    false,
			Port:       8080,
			RateLimit:  0,
			RateWindow: duration{time.Second},
		},
		Notify: NotifyConfig{
			Events:       []string{"risk_violation", "daily_loss_halt", "engine_stopped"},
			RepeatWindow: duration{5 * time.Minute},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":  true,
	"paper": true,
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
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, paper)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if len(c.Engine.Symbols) == 0 {
		errs = append(errs, "engine: at least one symbol is required")
	}
	for _, s := range c.Engine.Symbols {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, "engine: symbols must not contain empty entries")
			break
		}
	}
	if c.Engine.MaxConsecutiveErrors < 1 {
		errs = append(errs, "engine: max_consecutive_errors must be >= 1")
	}

	// Feed — live mode needs a real stream.
	if strings.ToLower(c.Mode) == "live" && strings.TrimSpace(c.Feed.URL) == "" {
		errs = append(errs, "feed: url is required for live mode")
	}

	// Venue
	if c.Venue.RateLimit < 1 {
		errs = append(errs, "venue: rate_limit must be >= 1")
	}
	if c.Venue.RateWindow.Duration <= 0 {
		errs = append(errs, "venue: rate_window must be positive")
	}

	// Executor
	if c.Executor.MaxRetries < 0 {
		errs = append(errs, "executor: max_retries must be >= 0")
	}
	for sym, v := range c.Executor.SplitThreshold {
		if v <= 0 {
			errs = append(errs, fmt.Sprintf("executor: split_threshold[%s] must be > 0", sym))
		}
	}

	// Risk — limits are optional but never negative.
	for sym, v := range c.Risk.MaxOrderSize {
		if v < 0 {
			errs = append(errs, fmt.Sprintf("risk: max_order_size[%s] must be >= 0", sym))
		}
	}
	for sym, v := range c.Risk.MaxPositionSize {
		if v < 0 {
			errs = append(errs, fmt.Sprintf("risk: max_position_size[%s] must be >= 0", sym))
		}
	}
	for sym, v := range c.Risk.MaxDailyLoss {
		if v < 0 {
			errs = append(errs, fmt.Sprintf("risk: max_daily_loss[%s] must be >= 0", sym))
		}
	}
	if c.Risk.MaxOrderValue < 0 {
		errs = append(errs, "risk: max_order_value must be >= 0")
	}
	if c.Risk.MaxExposure < 0 {
		errs = append(errs, "risk: max_exposure must be >= 0")
	}
	if c.Risk.MaxOpenOrders < 0 {
		errs = append(errs, "risk: max_open_orders must be >= 0")
	}

	// Strategy
	if c.Strategy.Spread.Enabled && c.Strategy.Spread.OrderSize <= 0 {
		errs = append(errs, "strategy: spread.order_size must be > 0 when enabled")
	}
	if c.Strategy.MeanReversion.Enabled {
		if c.Strategy.MeanReversion.OrderSize <= 0 {
			errs = append(errs, "strategy: mean_reversion.order_size must be > 0 when enabled")
		}
		if c.Strategy.MeanReversion.Window < 2 {
			errs = append(errs, "strategy: mean_reversion.window must be >= 2 when enabled")
		}
	}
	if !c.Strategy.Spread.Enabled && !c.Strategy.MeanReversion.Enabled {
		errs = append(errs, "strategy: at least one strategy must be enabled")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if !c.Postgres.Enabled {
			errs = append(errs, "archive: requires postgres to be enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archiving is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
	}

	// Notify — telegram credentials come in pairs.
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tt != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
