// Package config defines the top-level configuration for the trade lifecycle
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADELIFE_* environment variables.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Oracle   OracleConfig   `toml:"oracle"`
	Engine   EngineConfig   `toml:"engine"`
	Risk     RiskConfig     `toml:"risk"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Archive  ArchiveConfig  `toml:"archive"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
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

// OracleConfig holds price feed parameters: the streaming WebSocket feed that
// keeps the cache warm and the REST endpoint used as a pull fallback.
type OracleConfig struct {
	WSURL       string   `toml:"ws_url"`
	HTTPBaseURL string   `toml:"http_base_url"`
	APIKey      string   `toml:"api_key"`
	Symbols     []string `toml:"symbols"`
	HTTPTimeout duration `toml:"http_timeout"`
	PriceMaxAge duration `toml:"price_max_age"`
}

// EngineConfig holds monitor loop and profit-taking parameters.
type EngineConfig struct {
	Interval          duration `toml:"interval"`
	PriceTimeout      duration `toml:"price_timeout"`
	Concurrency       int      `toml:"concurrency"`
	MissWarnThreshold int      `toml:"miss_warn_threshold"`
	DistributedLock   bool     `toml:"distributed_lock"`
	LockTTL           duration `toml:"lock_ttl"`

	// TP1ClosedFraction and TP2ClosedFraction are the fractions of the
	// original size closed at each take-profit level.
	TP1ClosedFraction float64 `toml:"tp1_closed_fraction"`
	TP2ClosedFraction float64 `toml:"tp2_closed_fraction"`
	// TrailDistanceR is the trailing-stop distance behind price, in R.
	TrailDistanceR float64 `toml:"trail_distance_r"`
}

// RiskConfig holds the daily circuit-breaker parameters.
type RiskConfig struct {
	ConsecutiveLossLimit int     `toml:"consecutive_loss_limit"`
	BreakevenEpsilonR    float64 `toml:"breakeven_epsilon_r"`
	// BreakevenPolicy selects whether breakeven closes "ignore" or "reset"
	// the consecutive-loss streak.
	BreakevenPolicy string `toml:"breakeven_policy"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
	BatchSize     int      `toml:"batch_size"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tradelife",
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
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tradelife-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Oracle: OracleConfig{
			HTTPTimeout: duration{5 * time.Second},
			PriceMaxAge: duration{2 * time.Minute},
		},
		Engine: EngineConfig{
			Interval:          duration{30 * time.Second},
			PriceTimeout:      duration{5 * time.Second},
			Concurrency:       8,
			MissWarnThreshold: 3,
			DistributedLock:   false,
			LockTTL:           duration{time.Minute},
			TP1ClosedFraction: 1.0 / 3.0,
			TP2ClosedFraction: 1.0 / 3.0,
			TrailDistanceR:    0.5,
		},
		Risk: RiskConfig{
			ConsecutiveLossLimit: 3,
			BreakevenEpsilonR:    0.05,
			BreakevenPolicy:      "ignore",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   0,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"TP1_HIT", "TP2_HIT", "STOPPED_OUT", "FINAL_CLOSE", "ERROR"},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
			BatchSize:     5000,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"server":  true,
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

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, server, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 is only needed when archival is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// The monitor needs at least one price source.
	if c.Mode == "monitor" || c.Mode == "full" {
		if c.Oracle.WSURL == "" && c.Oracle.HTTPBaseURL == "" {
			errs = append(errs, "oracle: either ws_url or http_base_url must be set for mode "+c.Mode)
		}
		if c.Oracle.PriceMaxAge.Duration <= 0 {
			errs = append(errs, "oracle: price_max_age must be > 0")
		}
	}

	// Engine
	if c.Engine.Interval.Duration <= 0 {
		errs = append(errs, "engine: interval must be > 0")
	}
	if c.Engine.Concurrency < 1 {
		errs = append(errs, "engine: concurrency must be >= 1")
	}
	if c.Engine.TP1ClosedFraction <= 0 || c.Engine.TP2ClosedFraction <= 0 {
		errs = append(errs, "engine: tp1_closed_fraction and tp2_closed_fraction must be > 0")
	}
	if c.Engine.TP1ClosedFraction+c.Engine.TP2ClosedFraction >= 1 {
		errs = append(errs, "engine: tp1_closed_fraction + tp2_closed_fraction must leave a runner (< 1)")
	}
	if c.Engine.TrailDistanceR <= 0 {
		errs = append(errs, "engine: trail_distance_r must be > 0")
	}
	if c.Engine.DistributedLock && c.Engine.LockTTL.Duration <= 0 {
		errs = append(errs, "engine: lock_ttl must be > 0 when distributed_lock is enabled")
	}

	// Risk
	if c.Risk.ConsecutiveLossLimit < 1 {
		errs = append(errs, "risk: consecutive_loss_limit must be >= 1")
	}
	if c.Risk.BreakevenEpsilonR < 0 {
		errs = append(errs, "risk: breakeven_epsilon_r must be >= 0")
	}
	if c.Risk.BreakevenPolicy != "ignore" && c.Risk.BreakevenPolicy != "reset" {
		errs = append(errs, fmt.Sprintf("risk: breakeven_policy must be \"ignore\" or \"reset\", got %q", c.Risk.BreakevenPolicy))
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Telegram chat ID and token travel together.
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
