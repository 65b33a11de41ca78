package executor

import (
	"sync"
	"time"
)

// Dedup suppresses repeats of the same key within a time-to-live window. The
// engine uses it as the per-content cooldown of the opportunity log. It is
// safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // key -> last accepted time
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup that treats a key as a duplicate if it was
// accepted within ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return NewDedupWithClock(ttl, time.Now)
}

// NewDedupWithClock is NewDedup with an injected clock.
func NewDedupWithClock(ttl time.Duration, now func() time.Time) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  now,
	}
}

// IsDuplicate returns true if key was accepted within the TTL window.
// Otherwise the key is recorded and false is returned.
func (d *Dedup) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if lastSeen, ok := d.seen[key]; ok {
		if now.Sub(lastSeen) < d.ttl {
			return true
		}
	}

	d.seen[key] = now
	return false
}

// Cleanup removes entries older than the TTL. Call it periodically to keep
// the map bounded.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
}

// Len is the number of tracked keys.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
