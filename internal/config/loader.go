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
// built-in defaults, applies TRADELIFE_* environment variable overrides, and
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

// applyEnvOverrides reads well-known TRADELIFE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "TRADELIFE_DATABASE_DSN")
	setStr(&cfg.Database.Host, "TRADELIFE_DATABASE_HOST")
	setInt(&cfg.Database.Port, "TRADELIFE_DATABASE_PORT")
	setStr(&cfg.Database.Database, "TRADELIFE_DATABASE_NAME")
	setStr(&cfg.Database.User, "TRADELIFE_DATABASE_USER")
	setStr(&cfg.Database.Password, "TRADELIFE_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "TRADELIFE_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "TRADELIFE_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "TRADELIFE_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "TRADELIFE_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TRADELIFE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADELIFE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADELIFE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADELIFE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADELIFE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADELIFE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TRADELIFE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADELIFE_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADELIFE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADELIFE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADELIFE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADELIFE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADELIFE_S3_FORCE_PATH_STYLE")

	// ── Oracle ──
	setStr(&cfg.Oracle.WSURL, "TRADELIFE_ORACLE_WS_URL")
	setStr(&cfg.Oracle.HTTPBaseURL, "TRADELIFE_ORACLE_HTTP_BASE_URL")
	setStr(&cfg.Oracle.APIKey, "TRADELIFE_ORACLE_API_KEY")
	setStringSlice(&cfg.Oracle.Symbols, "TRADELIFE_ORACLE_SYMBOLS")
	setDuration(&cfg.Oracle.HTTPTimeout, "TRADELIFE_ORACLE_HTTP_TIMEOUT")
	setDuration(&cfg.Oracle.PriceMaxAge, "TRADELIFE_ORACLE_PRICE_MAX_AGE")

	// ── Engine ──
	setDuration(&cfg.Engine.Interval, "TRADELIFE_ENGINE_INTERVAL")
	setDuration(&cfg.Engine.PriceTimeout, "TRADELIFE_ENGINE_PRICE_TIMEOUT")
	setInt(&cfg.Engine.Concurrency, "TRADELIFE_ENGINE_CONCURRENCY")
	setInt(&cfg.Engine.MissWarnThreshold, "TRADELIFE_ENGINE_MISS_WARN_THRESHOLD")
	setBool(&cfg.Engine.DistributedLock, "TRADELIFE_ENGINE_DISTRIBUTED_LOCK")
	setDuration(&cfg.Engine.LockTTL, "TRADELIFE_ENGINE_LOCK_TTL")
	setFloat64(&cfg.Engine.TP1ClosedFraction, "TRADELIFE_ENGINE_TP1_CLOSED_FRACTION")
	setFloat64(&cfg.Engine.TP2ClosedFraction, "TRADELIFE_ENGINE_TP2_CLOSED_FRACTION")
	setFloat64(&cfg.Engine.TrailDistanceR, "TRADELIFE_ENGINE_TRAIL_DISTANCE_R")

	// ── Risk ──
	setInt(&cfg.Risk.ConsecutiveLossLimit, "TRADELIFE_RISK_CONSECUTIVE_LOSS_LIMIT")
	setFloat64(&cfg.Risk.BreakevenEpsilonR, "TRADELIFE_RISK_BREAKEVEN_EPSILON_R")
	setStr(&cfg.Risk.BreakevenPolicy, "TRADELIFE_RISK_BREAKEVEN_POLICY")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADELIFE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRADELIFE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TRADELIFE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "TRADELIFE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "TRADELIFE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "TRADELIFE_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADELIFE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADELIFE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADELIFE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRADELIFE_NOTIFY_EVENTS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "TRADELIFE_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "TRADELIFE_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "TRADELIFE_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.BatchSize, "TRADELIFE_ARCHIVE_BATCH_SIZE")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRADELIFE_MODE")
	setStr(&cfg.LogLevel, "TRADELIFE_LOG_LEVEL")
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
