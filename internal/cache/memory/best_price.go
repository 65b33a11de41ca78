// Package memory holds the in-process best-price cache shared by the feeds
// and the engine.
package memory

import (
	"sync"
	"time"

	"github.com/alanyoungcy/polypaper/internal/domain"
)

// BestPriceCache keeps the latest top of book per instrument. Updates are
// last-write-wins by arrival order and entries are never evicted; readers
// decide freshness with BestPrice.Age.
type BestPriceCache struct {
	mu      sync.RWMutex
	entries map[string]domain.BestPrice
	now     func() time.Time
	hooks   []func(domain.BestPrice)
}

// NewBestPriceCache creates an empty cache stamped with the wall clock.
func NewBestPriceCache() *BestPriceCache {
	return NewBestPriceCacheWithClock(time.Now)
}

// NewBestPriceCacheWithClock creates an empty cache stamped with now.
func NewBestPriceCacheWithClock(now func() time.Time) *BestPriceCache {
	return &BestPriceCache{
		entries: make(map[string]domain.BestPrice),
		now:     now,
	}
}

// OnUpdate registers a hook invoked after every Update with the stored entry.
// Hooks run on the updating goroutine and must not block.
func (c *BestPriceCache) OnUpdate(fn func(domain.BestPrice)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// Update overwrites the entry for top.InstrumentID and stamps it with the
// current time. Updates with an empty instrument id are ignored.
func (c *BestPriceCache) Update(top domain.TopOfBook) domain.BestPrice {
	bp := domain.BestPrice{TopOfBook: top, ObservedAt: c.now()}
	if top.InstrumentID == "" {
		return bp
	}

	c.mu.Lock()
	c.entries[top.InstrumentID] = bp
	hooks := c.hooks
	c.mu.Unlock()

	for _, h := range hooks {
		h(bp)
	}
	return bp
}

// Get returns the entry for id, if any.
func (c *BestPriceCache) Get(id string) (domain.BestPrice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bp, ok := c.entries[id]
	return bp, ok
}

// GetFresh returns the entry for id only when it is younger than maxAge.
func (c *BestPriceCache) GetFresh(id string, maxAge time.Duration) (domain.BestPrice, bool) {
	bp, ok := c.Get(id)
	if !ok || bp.Age(c.now()) > maxAge {
		return domain.BestPrice{}, false
	}
	return bp, true
}

// Len returns the number of cached instruments.
func (c *BestPriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
