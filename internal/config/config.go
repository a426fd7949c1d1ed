// Package config defines the top-level configuration for tradesim and
// provides validation helpers.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/tradesim/internal/costmodel"
	"github.com/alanyoungcy/tradesim/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADESIM_* environment variables.
type Config struct {
	Feed     FeedConfig      `toml:"feed"`
	Order    OrderConfig     `toml:"order"`
	FeeTiers []FeeTierConfig `toml:"fee_tiers"`
	Model    ModelConfig     `toml:"model"`
	Redis    RedisConfig     `toml:"redis"`
	Postgres PostgresConfig  `toml:"postgres"`
	S3       S3Config        `toml:"s3"`
	Archive  ArchiveConfig   `toml:"archive"`
	Recorder RecorderConfig  `toml:"recorder"`
	Server   ServerConfig    `toml:"server"`
	Mode     string          `toml:"mode"`
	LogLevel string          `toml:"log_level"`
}

// FeedConfig selects and tunes the snapshot source.
type FeedConfig struct {
	Source            string   `toml:"source"` // synthetic | websocket
	WsURL             string   `toml:"ws_url"`
	Exchange          string   `toml:"exchange"`
	Symbol            string   `toml:"symbol"`
	Cadence           duration `toml:"cadence"`
	Seed              uint64   `toml:"seed"`
	ConnectTimeout    duration `toml:"connect_timeout"`
	ReconnectDelay    duration `toml:"reconnect_delay"`
	ReconnectJitter   float64  `toml:"reconnect_jitter"`
	MaxReconnectDelay duration `toml:"max_reconnect_delay"`
	AutoConnect       bool     `toml:"auto_connect"`
}

// OrderConfig holds the default hypothetical order. ResetParams returns to
// these values.
type OrderConfig struct {
	Quantity   float64 `toml:"quantity"`
	OrderType  string  `toml:"order_type"`
	Side       string  `toml:"side"`
	Volatility float64 `toml:"volatility"`
	FeeTier    string  `toml:"fee_tier"`
	// RandomLatency attaches the 2-7 ms placeholder to each estimate instead
	// of the measured ingestion-to-publish time.
	RandomLatency bool `toml:"random_latency"`
}

// FeeTierConfig is one row of the fee catalog. Rates are percentages.
type FeeTierConfig struct {
	ID           string  `toml:"id"`
	Label        string  `toml:"label"`
	MakerRate    float64 `toml:"maker_rate"`
	TakerRate    float64 `toml:"taker_rate"`
	MinVolumeUSD float64 `toml:"min_volume_usd"`
}

// ModelConfig holds the cost model constants.
type ModelConfig struct {
	ImpactCoefficient float64 `toml:"impact_coefficient"`
	ShortfallPenalty  float64 `toml:"shortfall_penalty"`
	StatsWindow       int     `toml:"stats_window"`
	SlippageHistory   int     `toml:"slippage_history"`

	// Almgren-Chriss execution planning.
	PermanentImpact  float64  `toml:"permanent_impact"`
	TemporaryImpact  float64  `toml:"temporary_impact"`
	RiskAversion     float64  `toml:"risk_aversion"`
	ExecutionHorizon duration `toml:"execution_horizon"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	BookTTL    duration `toml:"book_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls moving old metrics history to S3.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// RecorderConfig controls persisting estimates to Postgres.
type RecorderConfig struct {
	Enabled bool `toml:"enabled"`
	// EveryN persists one in every N recomputed estimates.
	EveryN        int      `toml:"every_n"`
	StatsInterval duration `toml:"stats_interval"`
	// LogInterval is how often the latest estimate is logged.
	LogInterval duration `toml:"log_interval"`
}

// ServerConfig holds HTTP API server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimitPerSec int      `toml:"rate_limit_per_sec"`
	BroadcastEvery  duration `toml:"broadcast_every"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so that TOML values can
// be written as "5s" or "250ms".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible default values. Load
// merges the TOML file on top of these.
func Defaults() Config {
	return Config{
		Feed: FeedConfig{
			Source:         "synthetic",
			WsURL:          "wss://ws.gomarket-cpp.goquant.io/ws/l2-orderbook/okx/BTC-USDT-SWAP",
			Exchange:       "OKX",
			Symbol:         "BTC-USDT-SWAP",
			Cadence:        duration{time.Second},
			ConnectTimeout: duration{10 * time.Second},
			ReconnectDelay: duration{5 * time.Second},
			AutoConnect:    true,
		},
		Order: OrderConfig{
			Quantity:      1,
			OrderType:     "market",
			Side:          "buy",
			Volatility:    2,
			FeeTier:       "tier1",
			RandomLatency: true,
		},
		FeeTiers: defaultFeeTiers(),
		Model: ModelConfig{
			ImpactCoefficient: 0.3,
			ShortfallPenalty:  0.05,
			StatsWindow:       100,
			SlippageHistory:   1000,
			PermanentImpact:   0.1,
			TemporaryImpact:   0.1,
			RiskAversion:      0.1,
			ExecutionHorizon:  duration{time.Hour},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			BookTTL:    duration{time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tradesim",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tradesim-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 30,
		},
		Recorder: RecorderConfig{
			Enabled:       true,
			EveryN:        10,
			StatsInterval: duration{30 * time.Second},
			LogInterval:   duration{5 * time.Second},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerSec: 20,
			BroadcastEvery:  duration{250 * time.Millisecond},
		},
		Mode:     "simulate",
		LogLevel: "info",
	}
}

func defaultFeeTiers() []FeeTierConfig {
	tiers := domain.DefaultFeeTiers()
	out := make([]FeeTierConfig, len(tiers))
	for i, t := range tiers {
		out[i] = FeeTierConfig{
			ID:           t.ID,
			Label:        t.Label,
			MakerRate:    t.MakerRate,
			TakerRate:    t.TakerRate,
			MinVolumeUSD: t.MinVolumeUSD,
		}
	}
	return out
}

// FeeCatalog builds the read-only catalog from the configured tiers.
func (c *Config) FeeCatalog() *domain.FeeCatalog {
	tiers := make([]domain.FeeTier, len(c.FeeTiers))
	for i, t := range c.FeeTiers {
		tiers[i] = domain.FeeTier(t)
	}
	return domain.NewFeeCatalog(tiers)
}

// DefaultParams resolves the [order] section against catalog.
func (c *Config) DefaultParams(catalog *domain.FeeCatalog) (domain.OrderParameters, error) {
	ot, err := domain.ParseOrderType(c.Order.OrderType)
	if err != nil {
		return domain.OrderParameters{}, err
	}
	side, err := domain.ParseSide(c.Order.Side)
	if err != nil {
		return domain.OrderParameters{}, err
	}
	tier, err := catalog.Lookup(c.Order.FeeTier)
	if err != nil {
		return domain.OrderParameters{}, err
	}
	p := domain.OrderParameters{
		Quantity:   c.Order.Quantity,
		OrderType:  ot,
		Side:       side,
		FeeTier:    tier,
		Volatility: c.Order.Volatility,
	}
	return p, p.Validate()
}

// ExecutionModel builds the Almgren-Chriss model for an order at
// volatilityPct.
func (c *Config) ExecutionModel(volatilityPct float64) costmodel.ExecutionModel {
	return costmodel.ExecutionModel{
		Volatility:      volatilityPct / 100,
		PermanentImpact: c.Model.PermanentImpact,
		TemporaryImpact: c.Model.TemporaryImpact,
		RiskAversion:    c.Model.RiskAversion,
		Horizon:         c.Model.ExecutionHorizon.Hours(),
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"simulate": true,
	"serve":    true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSources = map[string]bool{
	"synthetic": true,
	"websocket": true,
}

// NeedsRedis reports whether the mode requires a Redis connection.
func (c *Config) NeedsRedis() bool {
	m := strings.ToLower(c.Mode)
	return m == "serve" || m == "full"
}

// NeedsPostgres reports whether the mode requires a Postgres connection.
func (c *Config) NeedsPostgres() bool {
	return strings.ToLower(c.Mode) == "full"
}

// NeedsS3 reports whether the mode archives to S3.
func (c *Config) NeedsS3() bool {
	return c.NeedsPostgres() && c.Archive.Enabled
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: simulate, serve, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Feed
	if !validSources[strings.ToLower(c.Feed.Source)] {
		errs = append(errs, fmt.Sprintf("feed: unknown source %q (valid: synthetic, websocket)", c.Feed.Source))
	}
	if strings.EqualFold(c.Feed.Source, "websocket") {
		if u, err := url.Parse(c.Feed.WsURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Sprintf("feed: ws_url must be a ws:// or wss:// url, got %q", c.Feed.WsURL))
		}
	}
	if c.Feed.Cadence.Duration <= 0 {
		errs = append(errs, "feed: cadence must be > 0")
	}
	if c.Feed.ReconnectDelay.Duration <= 0 {
		errs = append(errs, "feed: reconnect_delay must be > 0")
	}
	if c.Feed.ReconnectJitter < 0 || c.Feed.ReconnectJitter > 1 {
		errs = append(errs, "feed: reconnect_jitter must be within [0,1]")
	}
	if c.Feed.MaxReconnectDelay.Duration != 0 && c.Feed.MaxReconnectDelay.Duration < c.Feed.ReconnectDelay.Duration {
		errs = append(errs, "feed: max_reconnect_delay must be 0 or >= reconnect_delay")
	}

	// Fee tiers and default order
	if len(c.FeeTiers) == 0 {
		errs = append(errs, "fee_tiers: at least one tier is required")
	}
	seen := make(map[string]bool, len(c.FeeTiers))
	for _, t := range c.FeeTiers {
		if t.ID == "" {
			errs = append(errs, "fee_tiers: id must not be empty")
		}
		if seen[t.ID] {
			errs = append(errs, fmt.Sprintf("fee_tiers: duplicate id %q", t.ID))
		}
		seen[t.ID] = true
		if t.MakerRate < 0 || t.TakerRate < 0 {
			errs = append(errs, fmt.Sprintf("fee_tiers: %s: rates must be >= 0", t.ID))
		}
	}
	if len(c.FeeTiers) > 0 {
		if _, err := c.DefaultParams(c.FeeCatalog()); err != nil {
			errs = append(errs, "order: "+err.Error())
		}
	}

	// Model
	if c.Model.ImpactCoefficient < 0 {
		errs = append(errs, "model: impact_coefficient must be >= 0")
	}
	if c.Model.ShortfallPenalty < 0 || c.Model.ShortfallPenalty >= 1 {
		errs = append(errs, "model: shortfall_penalty must be within [0,1)")
	}
	if c.Model.StatsWindow < 1 {
		errs = append(errs, "model: stats_window must be >= 1")
	}
	if c.Model.SlippageHistory < 2 {
		errs = append(errs, "model: slippage_history must be >= 2")
	}
	if err := c.ExecutionModel(0).Validate(); err != nil {
		errs = append(errs, "model: "+err.Error())
	}

	// Redis
	if c.NeedsRedis() {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.NeedsPostgres() {
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
		if c.Recorder.EveryN < 1 {
			errs = append(errs, "recorder: every_n must be >= 1")
		}
	}

	// S3 and archive
	if c.NeedsS3() {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled && c.NeedsRedis() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerSec < 0 {
			errs = append(errs, "server: rate_limit_per_sec must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
