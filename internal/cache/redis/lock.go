package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polypaper/internal/domain"
)

// unlockLua deletes the lock only when it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua pushes the expiry out only when the caller still holds the lock.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager with SET NX and token-checked
// scripts for release and extension.
type LockManager struct {
	c        *Client
	unlockSc *redis.Script
	extendSc *redis.Script
}

// NewLockManager creates a LockManager backed by c.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		c:        c,
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
	}
}

// Acquire takes the lock for key or returns domain.ErrLockHeld. unlock is
// safe to call more than once. extend fails with domain.ErrLockHeld once the
// lock has expired or been taken by someone else.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), func(context.Context) error, error) {
	token := uuid.NewString()
	lk := lm.c.Key("lock:", key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(ctx, lm.c.rdb, []string{lk}, token).Err()
		})
	}
	extend := func(ctx context.Context) error {
		n, err := lm.extendSc.Run(ctx, lm.c.rdb, []string{lk}, token, ttl.Milliseconds()).Int64()
		if err != nil {
			return fmt.Errorf("redis: extend lock %s: %w", key, err)
		}
		if n == 0 {
			return fmt.Errorf("redis: extend lock %s: %w", key, domain.ErrLockHeld)
		}
		return nil
	}
	return unlock, extend, nil
}

var _ domain.LockManager = (*LockManager)(nil)
