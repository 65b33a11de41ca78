package memory_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polypaper/internal/cache/memory"
	"github.com/alanyoungcy/polypaper/internal/domain"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestUpdateOverwritesAndStamps(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := memory.NewBestPriceCacheWithClock(clk.Now)

	_, ok := c.Get("up")
	assert.False(t, ok)

	c.Update(domain.TopOfBook{InstrumentID: "up", Ask: &domain.PriceLevel{Price: 0.55, Size: 10}})
	clk.Advance(time.Second)
	c.Update(domain.TopOfBook{InstrumentID: "up", Bid: &domain.PriceLevel{Price: 0.50, Size: 3}})

	bp, ok := c.Get("up")
	require.True(t, ok)
	assert.Nil(t, bp.Ask, "last write wins even when it drops a side")
	bid, ok := bp.BidPrice()
	require.True(t, ok)
	assert.Equal(t, 0.50, bid)
	assert.Equal(t, clk.Now(), bp.ObservedAt)
	assert.Equal(t, 1, c.Len())
}

func TestGetFreshHonoursAge(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := memory.NewBestPriceCacheWithClock(clk.Now)
	c.Update(domain.TopOfBook{InstrumentID: "down", Ask: &domain.PriceLevel{Price: 0.4}})

	_, ok := c.GetFresh("down", 5*time.Second)
	assert.True(t, ok)

	clk.Advance(6 * time.Second)
	_, ok = c.GetFresh("down", 5*time.Second)
	assert.False(t, ok)

	_, ok = c.Get("down")
	assert.True(t, ok, "stale entries are never evicted")
}

func TestUpdateIgnoresEmptyIDAndRunsHooks(t *testing.T) {
	c := memory.NewBestPriceCache()
	var seen []string
	c.OnUpdate(func(bp domain.BestPrice) { seen = append(seen, bp.InstrumentID) })

	c.Update(domain.TopOfBook{})
	c.Update(domain.TopOfBook{InstrumentID: "a"})

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, []string{"a"}, seen)
}

func TestConcurrentUpdates(t *testing.T) {
	c := memory.NewBestPriceCache()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Update(domain.TopOfBook{InstrumentID: "x", Ask: &domain.PriceLevel{Price: float64(i) / 10}})
				_, _ = c.Get("x")
			}
		}(i)
	}
	wg.Wait()
	_, ok := c.Get("x")
	assert.True(t, ok)
}
