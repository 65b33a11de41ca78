package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads a configuration file at path, merges it on top of the built-in
// defaults, applies POLYPAPER_* environment variable overrides, and returns
// the final Config. Files ending in .yaml or .yml are decoded as YAML, every
// other file as TOML. The returned Config has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode yaml %s: %w", path, err)
		}
	default:
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYPAPER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the config file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYPAPER_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYPAPER_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "POLYPAPER_POLYMARKET_WS_HOST")
	setFloat64(&cfg.Polymarket.BookRatePerSec, "POLYPAPER_POLYMARKET_BOOK_RATE_PER_SEC")
	setFloat64(&cfg.Polymarket.GammaRatePerSec, "POLYPAPER_POLYMARKET_GAMMA_RATE_PER_SEC")

	// ── Index ──
	setStr(&cfg.Index.Source, "POLYPAPER_INDEX_SOURCE")
	setStr(&cfg.Index.CoinbaseWsURL, "POLYPAPER_INDEX_COINBASE_WS_URL")
	setStr(&cfg.Index.CoinbaseRestURL, "POLYPAPER_INDEX_COINBASE_REST_URL")
	setStr(&cfg.Index.CoinbaseProduct, "POLYPAPER_INDEX_COINBASE_PRODUCT")
	setStr(&cfg.Index.BinanceWsURL, "POLYPAPER_INDEX_BINANCE_WS_URL")
	setStr(&cfg.Index.BinanceRestURL, "POLYPAPER_INDEX_BINANCE_REST_URL")
	setStr(&cfg.Index.BinanceSymbol, "POLYPAPER_INDEX_BINANCE_SYMBOL")

	// ── Feeds ──
	setDuration(&cfg.Feeds.ReconnectDelay, "POLYPAPER_FEEDS_RECONNECT_DELAY")
	setDuration(&cfg.Feeds.ConnectTimeout, "POLYPAPER_FEEDS_CONNECT_TIMEOUT")
	setDuration(&cfg.Feeds.StaleAfter, "POLYPAPER_FEEDS_STALE_AFTER")
	setDuration(&cfg.Feeds.BookPollInterval, "POLYPAPER_FEEDS_BOOK_POLL_INTERVAL")
	setDuration(&cfg.Feeds.IndexPollInterval, "POLYPAPER_FEEDS_INDEX_POLL_INTERVAL")
	setDuration(&cfg.Feeds.RequestTimeout, "POLYPAPER_FEEDS_REQUEST_TIMEOUT")

	// ── Window ──
	setStr(&cfg.Window.EventSlug, "POLYPAPER_WINDOW_EVENT_SLUG")
	setStr(&cfg.Window.SeriesPrefix, "POLYPAPER_WINDOW_SERIES_PREFIX")
	setDuration(&cfg.Window.Bucket, "POLYPAPER_WINDOW_BUCKET")
	setInt(&cfg.Window.SearchBuckets, "POLYPAPER_WINDOW_SEARCH_BUCKETS")
	setDuration(&cfg.Window.RefreshInterval, "POLYPAPER_WINDOW_REFRESH_INTERVAL")

	// ── Strategy ──
	setFloat64(&cfg.Strategy.MinEdge, "POLYPAPER_STRATEGY_MIN_EDGE")
	setFloat64(&cfg.Strategy.BiasK, "POLYPAPER_STRATEGY_BIAS_K")
	setFloat64(&cfg.Strategy.MinLag, "POLYPAPER_STRATEGY_MIN_LAG")
	setFloat64(&cfg.Strategy.MaxEntryPrice, "POLYPAPER_STRATEGY_MAX_ENTRY_PRICE")
	setFloat64(&cfg.Strategy.MinModelEdge, "POLYPAPER_STRATEGY_MIN_MODEL_EDGE")
	setDuration(&cfg.Strategy.MaxQuoteAge, "POLYPAPER_STRATEGY_MAX_QUOTE_AGE")
	setDuration(&cfg.Strategy.TradeInterval, "POLYPAPER_STRATEGY_TRADE_INTERVAL")
	setDuration(&cfg.Strategy.Cooldown, "POLYPAPER_STRATEGY_COOLDOWN")

	// ── Paper ──
	setFloat64(&cfg.Paper.BankrollUSD, "POLYPAPER_PAPER_BANKROLL_USD")
	setDuration(&cfg.Paper.GracePeriod, "POLYPAPER_PAPER_GRACE_PERIOD")
	setDuration(&cfg.Paper.EquityInterval, "POLYPAPER_PAPER_EQUITY_INTERVAL")
	setDuration(&cfg.Paper.SeriesInterval, "POLYPAPER_PAPER_SERIES_INTERVAL")

	// ── Storage ──
	setStr(&cfg.Storage.Backend, "POLYPAPER_STORAGE_BACKEND")
	setStr(&cfg.Storage.Dir, "POLYPAPER_STORAGE_DIR")
	setStr(&cfg.Storage.SQLitePath, "POLYPAPER_STORAGE_SQLITE_PATH")
	setInt(&cfg.Storage.OpportunityKeepLines, "POLYPAPER_STORAGE_OPPORTUNITY_KEEP_LINES")
	setInt(&cfg.Storage.SeriesKeepLines, "POLYPAPER_STORAGE_SERIES_KEEP_LINES")
	setStr(&cfg.Storage.CompactCron, "POLYPAPER_STORAGE_COMPACT_CRON")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLYPAPER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "POLYPAPER_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POLYPAPER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYPAPER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYPAPER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYPAPER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYPAPER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYPAPER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYPAPER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYPAPER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYPAPER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POLYPAPER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLYPAPER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYPAPER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYPAPER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYPAPER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYPAPER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYPAPER_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.StreamMaxLen, "POLYPAPER_REDIS_STREAM_MAX_LEN")
	setDuration(&cfg.Redis.PriceTTL, "POLYPAPER_REDIS_PRICE_TTL")
	setDuration(&cfg.Redis.LockTTL, "POLYPAPER_REDIS_LOCK_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POLYPAPER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYPAPER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYPAPER_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYPAPER_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "POLYPAPER_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "POLYPAPER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYPAPER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYPAPER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYPAPER_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYPAPER_SERVER_ENABLED")
	setStr(&cfg.Server.Bind, "POLYPAPER_SERVER_BIND")
	setInt(&cfg.Server.Port, "POLYPAPER_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "POLYPAPER_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYPAPER_SERVER_CORS_ORIGINS")
	setBool(&cfg.Server.PublicReads, "POLYPAPER_SERVER_PUBLIC_READS")
	setInt(&cfg.Server.RateLimitPerMin, "POLYPAPER_SERVER_RATE_LIMIT_PER_MIN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYPAPER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYPAPER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYPAPER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYPAPER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYPAPER_MODE")
	setStr(&cfg.LogLevel, "POLYPAPER_LOG_LEVEL")
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
