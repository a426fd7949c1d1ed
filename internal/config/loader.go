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
// built-in defaults, applies TRADESIM_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		// An explicit [[fee_tiers]] table replaces the defaults instead of
		// overlaying them row by row.
		var probe struct {
			FeeTiers []FeeTierConfig `toml:"fee_tiers"`
		}
		md, err := toml.DecodeFile(path, &probe)
		if err != nil {
			return nil, err
		}
		if md.IsDefined("fee_tiers") {
			cfg.FeeTiers = nil
		}
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADESIM_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Feed ──
	setStr(&cfg.Feed.Source, "TRADESIM_FEED_SOURCE")
	setStr(&cfg.Feed.WsURL, "TRADESIM_FEED_WS_URL")
	setStr(&cfg.Feed.Exchange, "TRADESIM_FEED_EXCHANGE")
	setStr(&cfg.Feed.Symbol, "TRADESIM_FEED_SYMBOL")
	setDuration(&cfg.Feed.Cadence, "TRADESIM_FEED_CADENCE")
	setUint64(&cfg.Feed.Seed, "TRADESIM_FEED_SEED")
	setDuration(&cfg.Feed.ConnectTimeout, "TRADESIM_FEED_CONNECT_TIMEOUT")
	setDuration(&cfg.Feed.ReconnectDelay, "TRADESIM_FEED_RECONNECT_DELAY")
	setFloat64(&cfg.Feed.ReconnectJitter, "TRADESIM_FEED_RECONNECT_JITTER")
	setDuration(&cfg.Feed.MaxReconnectDelay, "TRADESIM_FEED_MAX_RECONNECT_DELAY")
	setBool(&cfg.Feed.AutoConnect, "TRADESIM_FEED_AUTO_CONNECT")

	// ── Order ──
	setFloat64(&cfg.Order.Quantity, "TRADESIM_ORDER_QUANTITY")
	setStr(&cfg.Order.OrderType, "TRADESIM_ORDER_TYPE")
	setStr(&cfg.Order.Side, "TRADESIM_ORDER_SIDE")
	setFloat64(&cfg.Order.Volatility, "TRADESIM_ORDER_VOLATILITY")
	setStr(&cfg.Order.FeeTier, "TRADESIM_ORDER_FEE_TIER")
	setBool(&cfg.Order.RandomLatency, "TRADESIM_ORDER_RANDOM_LATENCY")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TRADESIM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADESIM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADESIM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADESIM_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADESIM_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADESIM_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.BookTTL, "TRADESIM_REDIS_BOOK_TTL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TRADESIM_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "TRADESIM_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADESIM_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADESIM_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADESIM_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADESIM_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADESIM_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRADESIM_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRADESIM_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRADESIM_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TRADESIM_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADESIM_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADESIM_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADESIM_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADESIM_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADESIM_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADESIM_S3_FORCE_PATH_STYLE")

	// ── Archive / recorder ──
	setBool(&cfg.Archive.Enabled, "TRADESIM_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "TRADESIM_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "TRADESIM_ARCHIVE_RETENTION_DAYS")
	setBool(&cfg.Recorder.Enabled, "TRADESIM_RECORDER_ENABLED")
	setInt(&cfg.Recorder.EveryN, "TRADESIM_RECORDER_EVERY_N")
	setDuration(&cfg.Recorder.StatsInterval, "TRADESIM_RECORDER_STATS_INTERVAL")
	setDuration(&cfg.Recorder.LogInterval, "TRADESIM_RECORDER_LOG_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADESIM_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRADESIM_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TRADESIM_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "TRADESIM_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerSec, "TRADESIM_SERVER_RATE_LIMIT_PER_SEC")
	setDuration(&cfg.Server.BroadcastEvery, "TRADESIM_SERVER_BROADCAST_EVERY")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRADESIM_MODE")
	setStr(&cfg.LogLevel, "TRADESIM_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
