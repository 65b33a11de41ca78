// Package engine wires the feeds, the window tracker, the detector, the
// matcher and the paper ledgers into one paper-trading loop, and serves
// read-only snapshots of its state.
package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polypaper/internal/arbitrage"
	"github.com/alanyoungcy/polypaper/internal/cache/memory"
	"github.com/alanyoungcy/polypaper/internal/domain"
	"github.com/alanyoungcy/polypaper/internal/executor"
	"github.com/alanyoungcy/polypaper/internal/feed"
	"github.com/alanyoungcy/polypaper/internal/notify"
	"github.com/alanyoungcy/polypaper/internal/paper"
	"github.com/alanyoungcy/polypaper/internal/recorder"
	"github.com/alanyoungcy/polypaper/internal/store/jsonl"
	"github.com/alanyoungcy/polypaper/internal/window"
)

// Bus names, prefixed by the redis client.
const (
	ChannelSignals      = "signals"
	StreamOpportunities = "opportunities"
)

const (
	ringSize        = 500
	maxRecent       = 200
	publishQueue    = 256
	historySize     = 1200
	refreshTimeout  = 10 * time.Second
	defaultInterval = time.Second
)

// BookFeed is the order-book feed as the engine drives it.
type BookFeed interface {
	SetInstruments(ids []string)
	Run(ctx context.Context) error
	Connected() bool
	Status() feed.Status
}

// IndexFeed is the reference-price feed as the engine drives it.
type IndexFeed interface {
	OnTick(fn func(domain.IndexTick))
	Latest() (domain.IndexTick, bool)
	Reset()
	Fetch(ctx context.Context) (domain.IndexTick, error)
	Run(ctx context.Context) error
	Connected() bool
	Status() feed.Status
}

// Config holds the loop periods and trading limits.
type Config struct {
	TradeInterval  time.Duration
	WindowInterval time.Duration
	SeriesInterval time.Duration
	EquityInterval time.Duration
	MaxQuoteAge    time.Duration
	GracePeriod    time.Duration
	// Cooldown suppresses identical opportunities in the opportunity log.
	Cooldown   time.Duration
	WatchPairs []domain.Pair
}

func (c Config) withDefaults() Config {
	if c.TradeInterval <= 0 {
		c.TradeInterval = 3 * time.Second
	}
	if c.WindowInterval <= 0 {
		c.WindowInterval = 15 * time.Second
	}
	if c.SeriesInterval <= 0 {
		c.SeriesInterval = defaultInterval
	}
	if c.EquityInterval <= 0 {
		c.EquityInterval = 2 * time.Second
	}
	if c.MaxQuoteAge <= 0 {
		c.MaxQuoteAge = 10 * time.Second
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 15 * time.Second
	}
	return c
}

// Deps are the collaborators of an Engine. Recorder, Opportunities, Mirror,
// Bus and Notifier are optional.
type Deps struct {
	Cache    *memory.BestPriceCache
	Book     BookFeed
	Index    IndexFeed
	Tracker  *window.Tracker
	Detector *arbitrage.Detector
	Ledgers  []*paper.Ledger
	Labels   domain.LabelStore

	Recorder      *recorder.Recorder
	Opportunities *jsonl.Log
	Mirror        domain.PriceMirror
	Bus           domain.SignalBus
	Notifier      *notify.Notifier

	Logger *slog.Logger
	Now    func() time.Time
}

// Engine is the paper-trading orchestrator. Its loops run between Start
// and Stop; the snapshot methods are safe to call at any time.
type Engine struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	ledgers  map[domain.Tier]*paper.Ledger
	order    []domain.Tier
	matcher  *executor.Matcher
	settler  *paper.Settler
	dedup    *executor.Dedup
	history  *tickHistory
	pubCh    chan domain.Signal
	ringMu   sync.RWMutex
	ring     []domain.Opportunity
	tradeMu  sync.Mutex
	ctlMu    sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	running  atomic.Bool
	started  atomic.Pointer[time.Time]
	lastTick atomic.Pointer[time.Time]
}

// New builds an Engine. It does not start any goroutine.
func New(cfg Config, deps Deps) (*Engine, error) {
	switch {
	case deps.Cache == nil, deps.Book == nil, deps.Index == nil:
		return nil, errors.New("engine: cache and feeds are required")
	case deps.Tracker == nil, deps.Detector == nil:
		return nil, errors.New("engine: tracker and detector are required")
	case len(deps.Ledgers) == 0:
		return nil, errors.New("engine: at least one ledger is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	cfg = cfg.withDefaults()

	e := &Engine{
		cfg:     cfg,
		deps:    deps,
		logger:  deps.Logger.With(slog.String("component", "engine")),
		now:     deps.Now,
		ledgers: make(map[domain.Tier]*paper.Ledger, len(deps.Ledgers)),
		matcher: executor.NewMatcher(deps.Cache, cfg.MaxQuoteAge, deps.Logger, deps.Now),
		dedup:   executor.NewDedupWithClock(cfg.Cooldown, deps.Now),
		history: newTickHistory(historySize),
		pubCh:   make(chan domain.Signal, publishQueue),
	}
	for _, l := range deps.Ledgers {
		if _, dup := e.ledgers[l.Tier()]; dup {
			return nil, fmt.Errorf("engine: duplicate tier %q", l.Tier())
		}
		e.ledgers[l.Tier()] = l
		e.order = append(e.order, l.Tier())
	}
	slices.SortStableFunc(e.order, func(a, b domain.Tier) int {
		return cmp.Compare(e.ledgers[a].BetUSD(), e.ledgers[b].BetUSD())
	})

	var sources []paper.ReferenceFunc
	if deps.Recorder != nil {
		sources = append(sources, deps.Recorder.FirstIndexAtOrAfter)
	}
	sources = append(sources, e.history.FirstAtOrAfter, e.fetchReference)
	e.settler = paper.NewSettler(cfg.GracePeriod, deps.Logger, deps.Now, sources...)

	if deps.Opportunities != nil {
		recent, err := jsonl.Tail[domain.Opportunity](deps.Opportunities, ringSize)
		if err != nil {
			return nil, fmt.Errorf("engine: load opportunities: %w", err)
		}
		e.ring = recent
	}

	deps.Index.OnTick(e.onIndexTick)
	deps.Cache.OnUpdate(e.onBookTick)
	return e, nil
}

// Start launches the feeds and the periodic loops. Calling Start on a
// running engine is a no-op. The loops outlive ctx; use Stop or Run to end
// them.
func (e *Engine) Start(ctx context.Context) error {
	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()
	if e.cancel != nil {
		return nil
	}

	e.deps.Tracker.Reset()
	e.deps.Index.Reset()
	e.matcher.Clear()
	e.history.Reset()
	e.drainPublishQueue()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return e.deps.Book.Run(gctx) })
	g.Go(func() error { return e.deps.Index.Run(gctx) })
	g.Go(func() error { return e.windowLoop(gctx) })
	g.Go(func() error { return e.every(gctx, e.cfg.TradeInterval, e.tradeTick) })
	g.Go(func() error { return e.every(gctx, e.cfg.SeriesInterval, e.sampleSeries) })
	g.Go(func() error { return e.every(gctx, e.cfg.EquityInterval, e.sampleEquity) })
	if e.deps.Bus != nil || e.deps.Mirror != nil {
		g.Go(func() error { return e.publishLoop(gctx) })
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Error("engine loop failed", slog.String("error", err.Error()))
		}
	}()

	e.cancel, e.done = cancel, done
	now := e.now()
	e.started.Store(&now)
	e.running.Store(true)
	e.upsertWatchLabels(runCtx)
	e.logger.Info("engine started", slog.Int("tiers", len(e.ledgers)))
	return nil
}

// Stop cancels every loop and waits for them to exit. Pending orders are
// discarded. Calling Stop on a stopped engine is a no-op.
func (e *Engine) Stop() error {
	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()
	if e.cancel == nil {
		return nil
	}
	e.running.Store(false)
	e.cancel()
	<-e.done
	e.cancel, e.done = nil, nil
	e.started.Store(nil)
	e.matcher.Clear()
	e.logger.Info("engine stopped")
	return nil
}

// Run starts the engine, blocks until ctx ends and stops it.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return e.Stop()
}

// Running reports whether the loops are active.
func (e *Engine) Running() bool { return e.running.Load() }

// Ledger returns the ledger of tier.
func (e *Engine) Ledger(tier domain.Tier) (*paper.Ledger, error) {
	l, ok := e.ledgers[tier]
	if !ok {
		return nil, fmt.Errorf("engine: %q: %w", tier, domain.ErrUnknownTier)
	}
	return l, nil
}

// ResetTier restores tier to its starting bankroll. The engine must be
// stopped.
func (e *Engine) ResetTier(ctx context.Context, tier domain.Tier) error {
	if e.Running() {
		return fmt.Errorf("engine: reset %s: %w", tier, domain.ErrEngineRunning)
	}
	l, err := e.Ledger(tier)
	if err != nil {
		return err
	}
	return l.Reset(ctx)
}

// every runs fn once per interval until ctx ends.
func (e *Engine) every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (e *Engine) onIndexTick(t domain.IndexTick) {
	e.deps.Tracker.ObserveIndex(t)
	e.history.Add(t)
}

func (e *Engine) onBookTick(bp domain.BestPrice) {
	if !e.running.Load() {
		return
	}
	e.publish(domain.BookTickSignal{Price: bp})
}

func (e *Engine) fetchReference(ctx context.Context, cutoff time.Time) (domain.IndexTick, bool) {
	if e.now().Before(cutoff) {
		return domain.IndexTick{}, false
	}
	tick, err := e.deps.Index.Fetch(ctx)
	if err != nil {
		e.logger.Debug("index fetch for settlement failed", slog.String("error", err.Error()))
		return domain.IndexTick{}, false
	}
	return tick, true
}

func (e *Engine) bid(instrumentID string) (float64, bool) {
	bp, ok := e.deps.Cache.Get(instrumentID)
	if !ok {
		return 0, false
	}
	return bp.BidPrice()
}

func (e *Engine) freshAsk(instrumentID string) *float64 {
	bp, ok := e.deps.Cache.GetFresh(instrumentID, e.cfg.MaxQuoteAge)
	if !ok {
		return nil
	}
	if p, ok := bp.AskPrice(); ok {
		return domain.Float(p)
	}
	return nil
}
