package domain

import (
	"context"
	"time"
)

// PriceMirror publishes live best prices to an out-of-process cache so other
// tools can read them without attaching to the feeds.
type PriceMirror interface {
	SetBestPrice(ctx context.Context, bp BestPrice) error
	GetBestPrice(ctx context.Context, instrumentID string) (BestPrice, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking. The returned extend function
// pushes the lock expiry out by ttl while the caller still holds it.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), extend func(context.Context) error, err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
