package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polypaper/internal/arbitrage"
	"github.com/alanyoungcy/polypaper/internal/cache/memory"
	"github.com/alanyoungcy/polypaper/internal/domain"
	"github.com/alanyoungcy/polypaper/internal/executor"
	"github.com/alanyoungcy/polypaper/internal/feed"
	"github.com/alanyoungcy/polypaper/internal/paper"
	"github.com/alanyoungcy/polypaper/internal/store/jsonl"
	"github.com/alanyoungcy/polypaper/internal/store/sqlite"
	"github.com/alanyoungcy/polypaper/internal/window"
)

var t0 = time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fakeBook struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeBook) SetInstruments(ids []string) {
	f.mu.Lock()
	f.ids = append([]string(nil), ids...)
	f.mu.Unlock()
}

func (f *fakeBook) Instruments() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ids
}

func (f *fakeBook) Run(ctx context.Context) error { <-ctx.Done(); return nil }
func (f *fakeBook) Connected() bool               { return true }
func (f *fakeBook) Status() feed.Status           { return feed.Status{Name: "book"} }

type fakeIndex struct {
	mu     sync.Mutex
	latest *domain.IndexTick
	hooks  []func(domain.IndexTick)
	fetch  func() (domain.IndexTick, error)
}

func (f *fakeIndex) OnTick(fn func(domain.IndexTick)) {
	f.mu.Lock()
	f.hooks = append(f.hooks, fn)
	f.mu.Unlock()
}

func (f *fakeIndex) push(t domain.IndexTick) {
	f.mu.Lock()
	f.latest = &t
	hooks := f.hooks
	f.mu.Unlock()
	for _, h := range hooks {
		h(t)
	}
}

func (f *fakeIndex) Latest() (domain.IndexTick, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latest == nil {
		return domain.IndexTick{}, false
	}
	return *f.latest, true
}

func (f *fakeIndex) Reset() {
	f.mu.Lock()
	f.latest = nil
	f.mu.Unlock()
}

func (f *fakeIndex) Fetch(context.Context) (domain.IndexTick, error) {
	if f.fetch == nil {
		return domain.IndexTick{}, errors.New("offline")
	}
	return f.fetch()
}

func (f *fakeIndex) Run(ctx context.Context) error { <-ctx.Done(); return nil }
func (f *fakeIndex) Connected() bool               { return false }
func (f *fakeIndex) Status() feed.Status           { return feed.Status{Name: "index"} }

type fakeLookup struct {
	mu  sync.Mutex
	w   domain.EventWindow
	err error
}

func (f *fakeLookup) set(w domain.EventWindow) {
	f.mu.Lock()
	f.w = w
	f.mu.Unlock()
}

func (f *fakeLookup) GetEventWindow(context.Context, string) (domain.EventWindow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.w, f.err
}

type fakeBus struct {
	mu        sync.Mutex
	published []string
	streamed  []string
}

func (b *fakeBus) Publish(_ context.Context, channel string, _ []byte) error {
	b.mu.Lock()
	b.published = append(b.published, channel)
	b.mu.Unlock()
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *fakeBus) StreamAppend(_ context.Context, stream string, _ []byte) error {
	b.mu.Lock()
	b.streamed = append(b.streamed, stream)
	b.mu.Unlock()
	return nil
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeMirror struct {
	mu  sync.Mutex
	set []string
}

func (m *fakeMirror) SetBestPrice(_ context.Context, bp domain.BestPrice) error {
	m.mu.Lock()
	m.set = append(m.set, bp.InstrumentID)
	m.mu.Unlock()
	return nil
}

func (m *fakeMirror) GetBestPrice(context.Context, string) (domain.BestPrice, error) {
	return domain.BestPrice{}, domain.ErrNotFound
}

type harness struct {
	e      *Engine
	clk    *clock
	cache  *memory.BestPriceCache
	book   *fakeBook
	index  *fakeIndex
	lookup *fakeLookup
	store  *sqlite.Store
}

func testWindow(id string, closes time.Time) domain.EventWindow {
	return domain.EventWindow{
		WindowID:       id,
		InstrumentUp:   id + "-up",
		InstrumentDown: id + "-down",
		Question:       "BTC up or down " + id,
		OpensAt:        closes.Add(-5 * time.Minute),
		ClosesAt:       closes,
	}
}

func newHarness(t *testing.T, mutate func(*Deps)) *harness {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		clk:    &clock{now: t0},
		book:   &fakeBook{},
		index:  &fakeIndex{},
		lookup: &fakeLookup{},
		store:  store,
	}
	h.cache = memory.NewBestPriceCacheWithClock(h.clk.Now)

	var ledgers []*paper.Ledger
	for _, tc := range []paper.Config{
		{Tier: "t5", BetUSD: 5, BankrollStartUSD: 85},
		{Tier: "t1", BetUSD: 1, BankrollStartUSD: 85},
	} {
		l, err := paper.LoadWithClock(ctx, tc, store, logger, h.clk.Now)
		require.NoError(t, err)
		ledgers = append(ledgers, l)
	}

	deps := Deps{
		Cache:   h.cache,
		Book:    h.book,
		Index:   h.index,
		Tracker: window.NewTrackerWithClock(window.FixedResolver{Slug: "w", Lookup: h.lookup}, logger, h.clk.Now),
		Detector: arbitrage.NewDetector(arbitrage.Config{
			MinEdge:       0.03,
			BiasK:         50,
			MinLag:        0.0015,
			MaxEntryPrice: 0.65,
			MinModelEdge:  0.02,
		}),
		Ledgers: ledgers,
		Labels:  store,
		Logger:  logger,
		Now:     h.clk.Now,
	}
	if mutate != nil {
		mutate(&deps)
	}
	h.e, err = New(Config{}, deps)
	require.NoError(t, err)
	return h
}

func (h *harness) quote(id string, bid, ask float64) {
	h.cache.Update(domain.TopOfBook{
		InstrumentID: id,
		Bid:          &domain.PriceLevel{Price: bid, Size: 100},
		Ask:          &domain.PriceLevel{Price: ask, Size: 100},
	})
}

func kinds(opps []domain.Opportunity) []domain.SignalKind {
	out := make([]domain.SignalKind, 0, len(opps))
	for _, o := range opps {
		out = append(out, o.Kind)
	}
	return out
}

func TestNewValidatesDeps(t *testing.T) {
	_, err := New(Config{}, Deps{})
	require.Error(t, err)
}

func TestTiersOrderedByBet(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, []domain.Tier{"t1", "t5"}, h.e.Tiers())
	ov := h.e.Overview()
	require.Len(t, ov, 2)
	assert.Equal(t, domain.Tier("t1"), ov[0].Tier)
	assert.Equal(t, 85.0, ov[1].BankrollUSD)
}

func TestTradeLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	w := testWindow("w1", t0.Add(5*time.Minute))
	h.lookup.set(w)

	h.index.push(domain.IndexTick{Price: 100, ObservedAt: t0, Source: "test"})
	h.e.refreshWindow(ctx)

	assert.Equal(t, []string{"w1-up", "w1-down"}, h.book.Instruments())
	ref, ok := h.e.deps.Tracker.StartReference()
	require.True(t, ok)
	assert.Equal(t, 100.0, ref.Price)

	h.clk.Set(t0.Add(time.Second))
	h.quote(w.InstrumentUp, 0.44, 0.45)
	h.quote(w.InstrumentDown, 0.50, 0.52)
	h.index.push(domain.IndexTick{Price: 100.2, ObservedAt: t0.Add(time.Second), Source: "test"})

	h.e.tradeTick(ctx)

	for _, tier := range []domain.Tier{"t1", "t5"} {
		pos, err := h.e.Positions(tier)
		require.NoError(t, err)
		require.Len(t, pos, 1, tier)
		assert.Equal(t, domain.OutcomeUp, pos[0].Outcome)
		assert.Equal(t, 0.45, pos[0].EntryPrice)
		require.NotNil(t, pos[0].StartReference)
		assert.Equal(t, 100.0, *pos[0].StartReference)
		require.NotNil(t, pos[0].MarkBid)
		assert.InDelta(t, 0.44, *pos[0].MarkBid, 1e-9)
	}
	ov := h.e.Overview()
	assert.InDelta(t, 84.0, ov[0].BankrollUSD, 1e-9)
	assert.InDelta(t, 80.0, ov[1].BankrollUSD, 1e-9)
	assert.Empty(t, h.e.Window().Pending)

	got := kinds(h.e.RecentOpportunities(0))
	assert.Contains(t, got, domain.SignalRollover)
	assert.Contains(t, got, domain.SignalSumToOne)
	assert.Contains(t, got, domain.SignalModelLag)
	assert.Contains(t, got, domain.SignalFill)

	// No second entry while the position is open.
	h.e.tradeTick(ctx)
	pos, err := h.e.Positions("t1")
	require.NoError(t, err)
	assert.Len(t, pos, 1)

	// Before the grace period ends nothing settles.
	h.clk.Set(w.ClosesAt.Add(500 * time.Millisecond))
	h.index.push(domain.IndexTick{Price: 99, ObservedAt: w.ClosesAt.Add(400 * time.Millisecond), Source: "test"})
	h.e.tradeTick(ctx)
	pos, _ = h.e.Positions("t1")
	assert.True(t, pos[0].IsOpen())

	h.clk.Set(w.ClosesAt.Add(3 * time.Second))
	h.index.push(domain.IndexTick{Price: 100.5, ObservedAt: w.ClosesAt.Add(1500 * time.Millisecond), Source: "test"})
	h.index.push(domain.IndexTick{Price: 90, ObservedAt: w.ClosesAt.Add(2500 * time.Millisecond), Source: "test"})
	h.e.tradeTick(ctx)

	pos, err = h.e.Positions("t1")
	require.NoError(t, err)
	require.Len(t, pos, 1)
	p := pos[0]
	assert.False(t, p.IsOpen())
	require.NotNil(t, p.Result)
	assert.Equal(t, domain.ResultWin, *p.Result, "first tick after the cutoff decides")
	require.NotNil(t, p.EndReference)
	assert.Equal(t, 100.5, *p.EndReference)

	ov = h.e.Overview()
	assert.InDelta(t, 84+1/0.45, ov[0].BankrollUSD, 1e-9)
	assert.Contains(t, kinds(h.e.RecentOpportunities(0)), domain.SignalResolution)

	trades, err := h.e.TradeLog("t1", 0)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, domain.OrderSideSell, trades[0].Side)

	labels, err := h.e.Labels(ctx, 10)
	require.NoError(t, err)
	require.Len(t, labels, 1)
	assert.Equal(t, "w1", labels[0].Key)
}

func TestRolloverDiscardsPendingOrders(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	w1 := testWindow("w1", t0.Add(5*time.Minute))
	h.lookup.set(w1)
	h.index.push(domain.IndexTick{Price: 100, ObservedAt: t0})
	h.e.refreshWindow(ctx)

	l, err := h.e.Ledger("t1")
	require.NoError(t, err)
	_, placed := h.e.matcher.Place(l, executor.Intent{Window: w1, Side: domain.OutcomeUp, LimitPrice: 0.3, ModelPrice: 0.32})
	require.True(t, placed)
	require.Len(t, h.e.Window().Pending, 1)

	// Same pair: nothing changes.
	h.e.refreshWindow(ctx)
	assert.Len(t, h.e.Window().Pending, 1)

	w2 := testWindow("w2", t0.Add(10*time.Minute))
	h.lookup.set(w2)
	h.e.refreshWindow(ctx)

	assert.Empty(t, h.e.Window().Pending)
	assert.Equal(t, []string{"w2-up", "w2-down"}, h.book.Instruments())
	view := h.e.Window()
	require.NotNil(t, view.Window)
	assert.Equal(t, "w2", view.Window.WindowID)
}

func TestResolveFailureKeepsWindow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.lookup.set(testWindow("w1", t0.Add(5*time.Minute)))
	h.e.refreshWindow(ctx)

	h.lookup.err = errors.New("gamma down")
	h.e.refreshWindow(ctx)

	view := h.e.Window()
	require.NotNil(t, view.Window)
	assert.Equal(t, "w1", view.Window.WindowID)
	assert.True(t, view.Open)
}

func TestStaleQuotesAreIgnored(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	w := testWindow("w1", t0.Add(5*time.Minute))
	h.lookup.set(w)
	h.index.push(domain.IndexTick{Price: 100, ObservedAt: t0})
	h.e.refreshWindow(ctx)

	h.quote(w.InstrumentUp, 0.44, 0.45)
	h.quote(w.InstrumentDown, 0.50, 0.52)
	h.clk.Set(t0.Add(time.Minute))
	h.index.push(domain.IndexTick{Price: 100.2, ObservedAt: t0.Add(time.Minute)})
	h.e.tradeTick(ctx)

	pos, err := h.e.Positions("t1")
	require.NoError(t, err)
	assert.Empty(t, pos)
}

func TestRecentOpportunitiesCollapseDuplicates(t *testing.T) {
	dir := t.TempDir()
	log, err := jsonl.Open(filepath.Join(dir, "opportunities.jsonl"))
	require.NoError(t, err)
	h := newHarness(t, func(d *Deps) { d.Opportunities = log })

	sig := domain.SumToOneSignal{
		Pair:    domain.Pair{Key: "p", Up: "a", Down: "b"},
		AskUp:   0.4,
		AskDown: 0.5,
		Sum:     0.9,
		Edge:    0.1,
	}
	for i := range 3 {
		sig.ObservedAt = t0.Add(time.Duration(i) * time.Second)
		h.e.emit(sig)
	}
	h.e.emit(domain.BookTickSignal{Price: domain.BestPrice{TopOfBook: domain.TopOfBook{InstrumentID: "a"}}})

	recent := h.e.RecentOpportunities(50)
	require.Len(t, recent, 1)
	assert.Equal(t, t0.Add(2*time.Second), recent[0].ObservedAt, "newest occurrence wins")

	logged, err := jsonl.Tail[domain.Opportunity](log, 0)
	require.NoError(t, err)
	assert.Len(t, logged, 1, "cooldown suppresses repeats in the log")

	// A fresh engine reloads the ring from the log.
	h2 := newHarness(t, func(d *Deps) { d.Opportunities = log })
	assert.Len(t, h2.e.RecentOpportunities(0), 1)
}

func TestRingIsBounded(t *testing.T) {
	h := newHarness(t, nil)
	for i := range ringSize + 50 {
		h.e.emit(domain.SumToOneSignal{
			Pair:       domain.Pair{Key: "p"},
			AskUp:      float64(i) / 10000,
			ObservedAt: t0,
		})
	}
	h.e.ringMu.RLock()
	n := len(h.e.ring)
	h.e.ringMu.RUnlock()
	assert.Equal(t, ringSize, n)
	assert.Len(t, h.e.RecentOpportunities(1000), maxRecent)
}

func TestDeliverRoutesSignals(t *testing.T) {
	ctx := context.Background()
	bus, mirror := &fakeBus{}, &fakeMirror{}
	h := newHarness(t, func(d *Deps) {
		d.Bus = bus
		d.Mirror = mirror
	})

	h.e.deliver(ctx, domain.BookTickSignal{Price: domain.BestPrice{TopOfBook: domain.TopOfBook{InstrumentID: "x"}}})
	h.e.deliver(ctx, domain.RolloverSignal{Current: testWindow("w1", t0), ObservedAt: t0})

	assert.Equal(t, []string{"x"}, mirror.set)
	assert.Equal(t, []string{ChannelSignals, ChannelSignals}, bus.published)
	assert.Equal(t, []string{StreamOpportunities}, bus.streamed, "book ticks stay off the stream")
}

func TestStartStopIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.lookup.err = errors.New("offline")

	require.NoError(t, h.e.Start(context.Background()))
	require.NoError(t, h.e.Start(context.Background()))
	st := h.e.Status()
	assert.True(t, st.Running)
	assert.True(t, st.FeedConnected)
	assert.False(t, st.IndexConnected)
	assert.Equal(t, 5.0, st.Limits.BetUSD["t5"])
	require.NotNil(t, st.StartedAt)

	err := h.e.ResetTier(context.Background(), "t1")
	require.ErrorIs(t, err, domain.ErrEngineRunning)

	require.NoError(t, h.e.Stop())
	require.NoError(t, h.e.Stop())
	assert.False(t, h.e.Status().Running)

	require.NoError(t, h.e.Start(context.Background()))
	require.NoError(t, h.e.Stop())
}

func TestStartClearsRunState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	w := testWindow("w1", t0.Add(5*time.Minute))
	h.lookup.set(w)
	h.e.refreshWindow(ctx)
	l, _ := h.e.Ledger("t1")
	h.e.matcher.Place(l, executor.Intent{Window: w, Side: domain.OutcomeUp, LimitPrice: 0.3})

	h.lookup.err = errors.New("offline")
	require.NoError(t, h.e.Start(ctx))
	defer h.e.Stop()

	assert.Empty(t, h.e.Window().Pending)
	_, ok := h.e.deps.Tracker.Last()
	assert.False(t, ok)
}

func TestRunStopsWithContext(t *testing.T) {
	h := newHarness(t, nil)
	h.lookup.err = errors.New("offline")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.e.Run(ctx) }()

	require.Eventually(t, h.e.Running, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, h.e.Running())
}

func TestUnknownTier(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.e.Positions("t9")
	require.ErrorIs(t, err, domain.ErrUnknownTier)
	_, err = h.e.TierStats("t9")
	require.ErrorIs(t, err, domain.ErrUnknownTier)
	require.ErrorIs(t, h.e.ResetTier(context.Background(), "t9"), domain.ErrUnknownTier)
}

func TestSettlementFallsBackToFetch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	w := testWindow("w1", t0.Add(5*time.Minute))
	h.lookup.set(w)
	h.index.push(domain.IndexTick{Price: 100, ObservedAt: t0})
	h.e.refreshWindow(ctx)

	h.clk.Set(t0.Add(time.Second))
	h.quote(w.InstrumentUp, 0.44, 0.45)
	h.quote(w.InstrumentDown, 0.50, 0.52)
	h.index.push(domain.IndexTick{Price: 100.2, ObservedAt: t0.Add(time.Second)})
	h.e.tradeTick(ctx)

	after := w.ClosesAt.Add(5 * time.Second)
	h.clk.Set(after)
	h.e.history.Reset()
	h.index.fetch = func() (domain.IndexTick, error) {
		return domain.IndexTick{Price: 99.5, ObservedAt: after, Source: "rest"}, nil
	}
	h.e.tradeTick(ctx)

	pos, err := h.e.Positions("t1")
	require.NoError(t, err)
	require.NotNil(t, pos[0].Result)
	assert.Equal(t, domain.ResultLoss, *pos[0].Result)
	stats, err := h.e.TierStats("t1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Losses)
}

// rollingIndex applies a new window the first time the tick reads the
// index, as a window refresh landing in the middle of a trade tick would.
type rollingIndex struct {
	*fakeIndex
	once  sync.Once
	apply func()
}

func (r *rollingIndex) Latest() (domain.IndexTick, bool) {
	if r.apply != nil {
		r.once.Do(r.apply)
	}
	return r.fakeIndex.Latest()
}

func TestRolloverDuringTickOpensNothingOnOldWindow(t *testing.T) {
	ctx := context.Background()
	w1 := testWindow("w1", t0.Add(5*time.Minute))
	w2 := testWindow("w2", t0.Add(10*time.Minute))

	var ri *rollingIndex
	h := newHarness(t, func(d *Deps) {
		ri = &rollingIndex{fakeIndex: d.Index.(*fakeIndex)}
		d.Index = ri
	})
	h.lookup.set(w1)
	h.index.push(domain.IndexTick{Price: 100, ObservedAt: t0})
	h.e.refreshWindow(ctx)

	h.clk.Set(t0.Add(time.Second))
	h.quote(w1.InstrumentUp, 0.44, 0.45)
	h.quote(w1.InstrumentDown, 0.50, 0.52)
	h.index.push(domain.IndexTick{Price: 100.2, ObservedAt: t0.Add(time.Second)})
	ri.apply = func() { h.e.deps.Tracker.Apply(w2) }

	h.e.tradeTick(ctx)

	cur, ok := h.e.deps.Tracker.Current()
	require.True(t, ok)
	assert.Equal(t, "w2", cur.WindowID)
	for _, tier := range h.e.Tiers() {
		pos, err := h.e.Positions(tier)
		require.NoError(t, err)
		assert.Empty(t, pos, tier)
	}
	assert.Empty(t, h.e.Window().Pending)
}

func TestRefreshHoldsTradeLockAcrossRollover(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.lookup.set(testWindow("w1", t0.Add(5*time.Minute)))
	h.e.refreshWindow(ctx)

	h.lookup.set(testWindow("w2", t0.Add(10*time.Minute)))
	h.e.tradeMu.Lock()
	done := make(chan struct{})
	go func() {
		h.e.refreshWindow(ctx)
		close(done)
	}()

	// The resolve may run, but the new window is not installed while a
	// tick holds the lock.
	time.Sleep(50 * time.Millisecond)
	cur, ok := h.e.deps.Tracker.Current()
	require.True(t, ok)
	assert.Equal(t, "w1", cur.WindowID)

	h.e.tradeMu.Unlock()
	<-done
	cur, ok = h.e.deps.Tracker.Current()
	require.True(t, ok)
	assert.Equal(t, "w2", cur.WindowID)
}

func TestStaleIndexSkipsModelLag(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	w := testWindow("w1", t0.Add(5*time.Minute))
	h.lookup.set(w)
	h.index.push(domain.IndexTick{Price: 100, ObservedAt: t0})
	h.e.refreshWindow(ctx)

	h.index.push(domain.IndexTick{Price: 100.2, ObservedAt: t0.Add(time.Second)})
	h.clk.Set(t0.Add(time.Minute))
	h.quote(w.InstrumentUp, 0.44, 0.45)
	h.quote(w.InstrumentDown, 0.50, 0.52)
	h.e.tradeTick(ctx)

	assert.NotContains(t, kinds(h.e.RecentOpportunities(0)), domain.SignalModelLag)
	pos, err := h.e.Positions("t1")
	require.NoError(t, err)
	assert.Empty(t, pos)
}

func TestStartForgetsPreviousIndexTick(t *testing.T) {
	h := newHarness(t, nil)
	h.lookup.err = errors.New("offline")
	h.index.push(domain.IndexTick{Price: 100, ObservedAt: t0})
	require.NotNil(t, h.e.Window().Index)

	require.NoError(t, h.e.Start(context.Background()))
	defer h.e.Stop()
	assert.Nil(t, h.e.Window().Index)
}
