package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/alanyoungcy/polypaper/internal/blob/local"
	s3blob "github.com/alanyoungcy/polypaper/internal/blob/s3"
	"github.com/alanyoungcy/polypaper/internal/cache/redis"
	"github.com/alanyoungcy/polypaper/internal/config"
	"github.com/alanyoungcy/polypaper/internal/domain"
	"github.com/alanyoungcy/polypaper/internal/notify"
	"github.com/alanyoungcy/polypaper/internal/store/jsonl"
	"github.com/alanyoungcy/polypaper/internal/store/postgres"
	"github.com/alanyoungcy/polypaper/internal/store/sqlite"
)

// Log file names under the storage directory.
const (
	SeriesLog      = "series.jsonl"
	OpportunityLog = "opportunities.jsonl"
)

// redisKeyPrefix namespaces every key this application writes.
const redisKeyPrefix = "polypaper:"

// Dependencies bundles the durable and shared collaborators the modes need.
// Optional members are nil when their backend is disabled or the mode does
// not use them.
type Dependencies struct {
	Store   domain.PaperStore
	Archive domain.ArchiveSink

	Series        *jsonl.Log
	Opportunities *jsonl.Log

	// Redis backed, nil unless [redis] enabled.
	Mirror  domain.PriceMirror
	Bus     domain.SignalBus
	Limiter domain.RateLimiter
	Locks   domain.LockManager

	Notifier *notify.Notifier
}

// needsStore reports whether mode reads or writes the ledgers.
func needsStore(mode string) bool {
	switch mode {
	case "paper", "report", "reset":
		return true
	default:
		return false
	}
}

// needsRedis reports whether mode uses the redis backed collaborators.
func needsRedis(mode string) bool {
	switch mode {
	case "paper", "report", "reset":
		return true
	default:
		return false
	}
}

// Wire constructs the dependencies mode needs and returns them together
// with a cleanup function releasing them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- Durable store ---
	if needsStore(mode) {
		store, err := openStore(ctx, cfg)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { _ = store.Close() })
		deps.Store = store
	}

	// --- Logs ---
	series, err := jsonl.Open(filepath.Join(cfg.Storage.Dir, SeriesLog))
	if err != nil {
		return fail(fmt.Errorf("wire: series log: %w", err))
	}
	opps, err := jsonl.Open(filepath.Join(cfg.Storage.Dir, OpportunityLog))
	if err != nil {
		return fail(fmt.Errorf("wire: opportunity log: %w", err))
	}
	deps.Series, deps.Opportunities = series, opps

	// --- Redis ---
	if cfg.Redis.Enabled && needsRedis(mode) {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  redisKeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })

		streamMaxLen := int64(10000)
		if cfg.Redis.StreamMaxLen > 0 {
			streamMaxLen = int64(cfg.Redis.StreamMaxLen)
		}
		deps.Mirror = redis.NewPriceMirror(rc, cfg.Redis.PriceTTL.Duration)
		deps.Bus = redis.NewSignalBus(rc, streamMaxLen)
		deps.Limiter = redis.NewRateLimiter(rc)
		deps.Locks = redis.NewLockManager(rc)
	}

	// --- Archive sink ---
	if cfg.S3.Enabled {
		bucket, err := s3blob.Open(ctx, s3blob.Options{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			UseSSL:    cfg.S3.UseSSL,
			PathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = bucket.Check(cctx)
		cancel()
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archive = s3blob.NewSink(bucket, cfg.S3.Prefix, time.Now)
	} else {
		deps.Archive = local.NewDirSink(filepath.Join(cfg.Storage.Dir, "archive"), time.Now)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			notify.DefaultTelegramAPI,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

func openStore(ctx context.Context, cfg *config.Config) (domain.PaperStore, error) {
	switch strings.ToLower(cfg.Storage.Backend) {
	case "postgres":
		st, err := postgres.Open(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		}, cfg.Postgres.RunMigrations)
		if err != nil {
			return nil, fmt.Errorf("wire: postgres: %w", err)
		}
		return st, nil
	default:
		st, err := sqlite.Open(ctx, cfg.SQLitePath())
		if err != nil {
			return nil, fmt.Errorf("wire: sqlite: %w", err)
		}
		return st, nil
	}
}
