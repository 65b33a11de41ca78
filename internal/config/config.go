// Package config defines the top-level configuration for the paper-trading
// engine and provides validation helpers.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config is the root configuration structure. Fields are populated from a TOML
// (or YAML) file and then optionally overridden by POLYPAPER_* environment
// variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket" yaml:"polymarket"`
	Index      IndexConfig      `toml:"index" yaml:"index"`
	Feeds      FeedsConfig      `toml:"feeds" yaml:"feeds"`
	Window     WindowConfig     `toml:"window" yaml:"window"`
	Strategy   StrategyConfig   `toml:"strategy" yaml:"strategy"`
	Paper      PaperConfig      `toml:"paper" yaml:"paper"`
	Storage    StorageConfig    `toml:"storage" yaml:"storage"`
	Postgres   PostgresConfig   `toml:"postgres" yaml:"postgres"`
	Redis      RedisConfig      `toml:"redis" yaml:"redis"`
	S3         S3Config         `toml:"s3" yaml:"s3"`
	Server     ServerConfig     `toml:"server" yaml:"server"`
	Notify     NotifyConfig     `toml:"notify" yaml:"notify"`
	Mode       string           `toml:"mode" yaml:"mode"`
	LogLevel   string           `toml:"log_level" yaml:"log_level"`
}

// PolymarketConfig holds Polymarket API endpoints and request budgets.
type PolymarketConfig struct {
	ClobHost        string  `toml:"clob_host" yaml:"clob_host"`
	GammaHost       string  `toml:"gamma_host" yaml:"gamma_host"`
	WsHost          string  `toml:"ws_host" yaml:"ws_host"`
	BookRatePerSec  float64 `toml:"book_rate_per_sec" yaml:"book_rate_per_sec"`
	GammaRatePerSec float64 `toml:"gamma_rate_per_sec" yaml:"gamma_rate_per_sec"`
}

// IndexConfig selects and locates the external reference price source.
type IndexConfig struct {
	// Source is "coinbase" or "binance".
	Source          string `toml:"source" yaml:"source"`
	CoinbaseWsURL   string `toml:"coinbase_ws_url" yaml:"coinbase_ws_url"`
	CoinbaseRestURL string `toml:"coinbase_rest_url" yaml:"coinbase_rest_url"`
	CoinbaseProduct string `toml:"coinbase_product" yaml:"coinbase_product"`
	BinanceWsURL    string `toml:"binance_ws_url" yaml:"binance_ws_url"`
	BinanceRestURL  string `toml:"binance_rest_url" yaml:"binance_rest_url"`
	BinanceSymbol   string `toml:"binance_symbol" yaml:"binance_symbol"`
}

// FeedsConfig controls reconnect and pull-fallback behaviour of both feeds.
type FeedsConfig struct {
	ReconnectDelay    duration `toml:"reconnect_delay" yaml:"reconnect_delay"`
	ConnectTimeout    duration `toml:"connect_timeout" yaml:"connect_timeout"`
	StaleAfter        duration `toml:"stale_after" yaml:"stale_after"`
	BookPollInterval  duration `toml:"book_poll_interval" yaml:"book_poll_interval"`
	IndexPollInterval duration `toml:"index_poll_interval" yaml:"index_poll_interval"`
	RequestTimeout    duration `toml:"request_timeout" yaml:"request_timeout"`
}

// WindowConfig controls how the current event window is discovered.
type WindowConfig struct {
	// EventSlug pins a fixed event. When empty the tracker follows the
	// time-bucketed series named by SeriesPrefix.
	EventSlug       string   `toml:"event_slug" yaml:"event_slug"`
	SeriesPrefix    string   `toml:"series_prefix" yaml:"series_prefix"`
	Bucket          duration `toml:"bucket" yaml:"bucket"`
	SearchBuckets   int      `toml:"search_buckets" yaml:"search_buckets"`
	RefreshInterval duration `toml:"refresh_interval" yaml:"refresh_interval"`
}

// WatchPair is a statically configured complementary pair.
type WatchPair struct {
	Key  string `toml:"key" yaml:"key"`
	Up   string `toml:"up" yaml:"up"`
	Down string `toml:"down" yaml:"down"`
}

// StrategyConfig holds the signal thresholds and trading cadence.
type StrategyConfig struct {
	MinEdge       float64     `toml:"min_edge" yaml:"min_edge"`
	BiasK         float64     `toml:"bias_k" yaml:"bias_k"`
	MinLag        float64     `toml:"min_lag" yaml:"min_lag"`
	MaxEntryPrice float64     `toml:"max_entry_price" yaml:"max_entry_price"`
	MinModelEdge  float64     `toml:"min_model_edge" yaml:"min_model_edge"`
	MaxQuoteAge   duration    `toml:"max_quote_age" yaml:"max_quote_age"`
	TradeInterval duration    `toml:"trade_interval" yaml:"trade_interval"`
	Cooldown      duration    `toml:"cooldown" yaml:"cooldown"`
	WatchPairs    []WatchPair `toml:"watch_pairs" yaml:"watch_pairs"`
}

// TierConfig is one paper bankroll tier.
type TierConfig struct {
	Name   string  `toml:"name" yaml:"name"`
	BetUSD float64 `toml:"bet_usd" yaml:"bet_usd"`
}

// PaperConfig holds the simulated ledgers' parameters.
type PaperConfig struct {
	BankrollUSD    float64      `toml:"bankroll_usd" yaml:"bankroll_usd"`
	Tiers          []TierConfig `toml:"tiers" yaml:"tiers"`
	GracePeriod    duration     `toml:"grace_period" yaml:"grace_period"`
	EquityInterval duration     `toml:"equity_interval" yaml:"equity_interval"`
	SeriesInterval duration     `toml:"series_interval" yaml:"series_interval"`
}

// StorageConfig selects the durable backend and the local data directory.
type StorageConfig struct {
	// Backend is "sqlite" or "postgres".
	Backend              string `toml:"backend" yaml:"backend"`
	Dir                  string `toml:"dir" yaml:"dir"`
	SQLitePath           string `toml:"sqlite_path" yaml:"sqlite_path"`
	OpportunityKeepLines int    `toml:"opportunity_keep_lines" yaml:"opportunity_keep_lines"`
	SeriesKeepLines      int    `toml:"series_keep_lines" yaml:"series_keep_lines"`
	// CompactCron schedules log compaction inside paper mode using a
	// 5-field cron expression. Empty disables it.
	CompactCron          string `toml:"compact_cron" yaml:"compact_cron"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn" yaml:"dsn"`
	Host          string `toml:"host" yaml:"host"`
	Port          int    `toml:"port" yaml:"port"`
	Database      string `toml:"database" yaml:"database"`
	User          string `toml:"user" yaml:"user"`
	Password      string `toml:"password" yaml:"password"`
	SSLMode       string `toml:"ssl_mode" yaml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns" yaml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns" yaml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations" yaml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled" yaml:"enabled"`
	Addr         string   `toml:"addr" yaml:"addr"`
	Password     string   `toml:"password" yaml:"password"`
	DB           int      `toml:"db" yaml:"db"`
	PoolSize     int      `toml:"pool_size" yaml:"pool_size"`
	MaxRetries   int      `toml:"max_retries" yaml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled" yaml:"tls_enabled"`
	StreamMaxLen int      `toml:"stream_max_len" yaml:"stream_max_len"`
	PriceTTL     duration `toml:"price_ttl" yaml:"price_ttl"`
	LockTTL      duration `toml:"lock_ttl" yaml:"lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled" yaml:"enabled"`
	Endpoint       string `toml:"endpoint" yaml:"endpoint"`
	Region         string `toml:"region" yaml:"region"`
	Bucket         string `toml:"bucket" yaml:"bucket"`
	Prefix         string `toml:"prefix" yaml:"prefix"`
	AccessKey      string `toml:"access_key" yaml:"access_key"`
	SecretKey      string `toml:"secret_key" yaml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl" yaml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style" yaml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML and YAML
// string decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the decoders can
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled" yaml:"enabled"`
	Bind        string   `toml:"bind" yaml:"bind"`
	Port        int      `toml:"port" yaml:"port"`
	APIKey      string   `toml:"api_key" yaml:"api_key"`
	CORSOrigins []string `toml:"cors_origins" yaml:"cors_origins"`

	// PublicReads serves the GET snapshots without api_key.
	PublicReads bool `toml:"public_reads" yaml:"public_reads"`

	// RateLimitPerMin caps requests per client (API key or IP) when redis
	// is enabled.
	RateLimitPerMin int `toml:"rate_limit_per_min" yaml:"rate_limit_per_min"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token" yaml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id" yaml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url" yaml:"discord_webhook_url"`
	Events            []string `toml:"events" yaml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:        "https://clob.polymarket.com",
			GammaHost:       "https://gamma-api.polymarket.com",
			WsHost:          "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			BookRatePerSec:  10,
			GammaRatePerSec: 4,
		},
		Index: IndexConfig{
			Source:          "coinbase",
			CoinbaseWsURL:   "wss://ws-feed.exchange.coinbase.com",
			CoinbaseRestURL: "https://api.exchange.coinbase.com",
			CoinbaseProduct: "BTC-USD",
			BinanceWsURL:    "wss://stream.binance.com:9443/ws",
			BinanceRestURL:  "https://api.binance.com",
			BinanceSymbol:   "BTCUSDT",
		},
		Feeds: FeedsConfig{
			ReconnectDelay:    duration{2 * time.Second},
			ConnectTimeout:    duration{15 * time.Second},
			StaleAfter:        duration{5 * time.Second},
			BookPollInterval:  duration{1 * time.Second},
			IndexPollInterval: duration{1 * time.Second},
			RequestTimeout:    duration{2500 * time.Millisecond},
		},
		Window: WindowConfig{
			SeriesPrefix:    "btc-updown-5m",
			Bucket:          duration{5 * time.Minute},
			SearchBuckets:   3,
			RefreshInterval: duration{15 * time.Second},
		},
		Strategy: StrategyConfig{
			MinEdge:       0.03,
			BiasK:         50,
			MinLag:        0.0015,
			MaxEntryPrice: 0.65,
			MinModelEdge:  0.02,
			MaxQuoteAge:   duration{10 * time.Second},
			TradeInterval: duration{3 * time.Second},
			Cooldown:      duration{15 * time.Second},
		},
		Paper: PaperConfig{
			BankrollUSD: 85,
			Tiers: []TierConfig{
				{Name: "t1", BetUSD: 1},
				{Name: "t2", BetUSD: 2},
				{Name: "t5", BetUSD: 5},
			},
			GracePeriod:    duration{1 * time.Second},
			EquityInterval: duration{2 * time.Second},
			SeriesInterval: duration{1 * time.Second},
		},
		Storage: StorageConfig{
			Backend:              "sqlite",
			Dir:                  "./data",
			OpportunityKeepLines: 2000,
			SeriesKeepLines:      20000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			StreamMaxLen: 10000,
			PriceTTL:     duration{10 * time.Minute},
			LockTTL:      duration{30 * time.Second},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polypaper-archive",
			Prefix:         "polypaper",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:         true,
			Bind:            "127.0.0.1",
			Port:            3188,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMin: 600,
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_resolved", "window_rolled"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"paper":    true,
	"report":   true,
	"backtest": true,
	"compact":  true,
	"reset":    true,
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
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, report, backtest, compact, reset)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Polymarket endpoints
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host must not be empty")
	}
	if c.Polymarket.BookRatePerSec <= 0 || c.Polymarket.GammaRatePerSec <= 0 {
		errs = append(errs, "polymarket: book_rate_per_sec and gamma_rate_per_sec must be > 0")
	}

	// Index
	switch strings.ToLower(c.Index.Source) {
	case "coinbase":
		if c.Index.CoinbaseWsURL == "" || c.Index.CoinbaseRestURL == "" || c.Index.CoinbaseProduct == "" {
			errs = append(errs, "index: coinbase_ws_url, coinbase_rest_url and coinbase_product are required for source coinbase")
		}
	case "binance":
		if c.Index.BinanceWsURL == "" || c.Index.BinanceRestURL == "" || c.Index.BinanceSymbol == "" {
			errs = append(errs, "index: binance_ws_url, binance_rest_url and binance_symbol are required for source binance")
		}
	default:
		errs = append(errs, fmt.Sprintf("index: unknown source %q (valid: coinbase, binance)", c.Index.Source))
	}

	// Feeds
	if c.Feeds.ReconnectDelay.Duration <= 0 {
		errs = append(errs, "feeds: reconnect_delay must be > 0")
	}
	if c.Feeds.StaleAfter.Duration <= 0 {
		errs = append(errs, "feeds: stale_after must be > 0")
	}
	if c.Feeds.BookPollInterval.Duration <= 0 || c.Feeds.IndexPollInterval.Duration <= 0 {
		errs = append(errs, "feeds: poll intervals must be > 0")
	}
	if c.Feeds.RequestTimeout.Duration <= 0 || c.Feeds.ConnectTimeout.Duration <= 0 {
		errs = append(errs, "feeds: request_timeout and connect_timeout must be > 0")
	}

	// Window
	if c.Window.EventSlug == "" {
		if c.Window.SeriesPrefix == "" {
			errs = append(errs, "window: series_prefix is required when event_slug is empty")
		}
		if c.Window.Bucket.Duration < time.Second {
			errs = append(errs, "window: bucket must be at least 1s")
		}
		if c.Window.SearchBuckets < 0 {
			errs = append(errs, "window: search_buckets must be >= 0")
		}
	}
	if c.Window.RefreshInterval.Duration <= 0 {
		errs = append(errs, "window: refresh_interval must be > 0")
	}

	// Strategy
	s := c.Strategy
	if !inUnit(s.MinEdge) {
		errs = append(errs, "strategy: min_edge must be in [0,1)")
	}
	if s.BiasK <= 0 || !isFinite(s.BiasK) {
		errs = append(errs, "strategy: bias_k must be > 0")
	}
	if !inUnit(s.MinLag) {
		errs = append(errs, "strategy: min_lag must be in [0,1)")
	}
	if s.MaxEntryPrice <= 0.01 || s.MaxEntryPrice > 1 {
		errs = append(errs, "strategy: max_entry_price must be in (0.01,1]")
	}
	if !inUnit(s.MinModelEdge) {
		errs = append(errs, "strategy: min_model_edge must be in [0,1)")
	}
	if s.TradeInterval.Duration <= 0 || s.MaxQuoteAge.Duration <= 0 {
		errs = append(errs, "strategy: trade_interval and max_quote_age must be > 0")
	}
	for i, wp := range s.WatchPairs {
		if wp.Key == "" || wp.Up == "" || wp.Down == "" {
			errs = append(errs, fmt.Sprintf("strategy: watch_pairs[%d] needs key, up and down", i))
		}
	}

	// Paper
	if c.Paper.BankrollUSD <= 0 || !isFinite(c.Paper.BankrollUSD) {
		errs = append(errs, "paper: bankroll_usd must be > 0")
	}
	if len(c.Paper.Tiers) == 0 {
		errs = append(errs, "paper: at least one tier is required")
	}
	seen := make(map[string]bool, len(c.Paper.Tiers))
	for i, t := range c.Paper.Tiers {
		if t.Name == "" {
			errs = append(errs, fmt.Sprintf("paper: tiers[%d] name must not be empty", i))
		}
		if seen[t.Name] {
			errs = append(errs, fmt.Sprintf("paper: duplicate tier %q", t.Name))
		}
		seen[t.Name] = true
		if t.BetUSD <= 0 || !isFinite(t.BetUSD) {
			errs = append(errs, fmt.Sprintf("paper: tier %q bet_usd must be > 0", t.Name))
		}
	}
	if c.Paper.GracePeriod.Duration < 0 {
		errs = append(errs, "paper: grace_period must be >= 0")
	}
	if c.Paper.EquityInterval.Duration <= 0 || c.Paper.SeriesInterval.Duration <= 0 {
		errs = append(errs, "paper: equity_interval and series_interval must be > 0")
	}

	// Storage
	switch strings.ToLower(c.Storage.Backend) {
	case "sqlite":
	case "postgres":
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
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: sqlite, postgres)", c.Storage.Backend))
	}
	if c.Storage.Dir == "" {
		errs = append(errs, "storage: dir must not be empty")
	}
	if c.Storage.OpportunityKeepLines < 1 || c.Storage.SeriesKeepLines < 1 {
		errs = append(errs, "storage: keep lines must be >= 1")
	}
	if expr := strings.TrimSpace(c.Storage.CompactCron); expr != "" {
		if _, err := cron.ParseStandard(expr); err != nil {
			errs = append(errs, fmt.Sprintf("storage: compact_cron %q: %v", expr, err))
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
		if c.Redis.LockTTL.Duration < time.Second {
			errs = append(errs, "redis: lock_ttl must be at least 1s")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// SQLitePath returns the sqlite database path, defaulting into Storage.Dir.
func (c *Config) SQLitePath() string {
	if c.Storage.SQLitePath != "" {
		return c.Storage.SQLitePath
	}
	return strings.TrimRight(c.Storage.Dir, "/") + "/polypaper.db"
}

func inUnit(f float64) bool {
	return isFinite(f) && f >= 0 && f < 1
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
