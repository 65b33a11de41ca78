package feed

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polypaper/internal/cache/memory"
	"github.com/alanyoungcy/polypaper/internal/domain"
	"github.com/alanyoungcy/polypaper/internal/platform/polymarket"
	"github.com/alanyoungcy/polypaper/internal/platform/wsconn"
)

// Options tunes a feed's reconnect and pull behaviour.
type Options struct {
	ConnectTimeout time.Duration
	ReconnectDelay time.Duration
	// StaleAfter is how long a value may go without a push before the
	// poller pulls it.
	StaleAfter     time.Duration
	PollInterval   time.Duration
	RequestTimeout time.Duration
}

// BookFetcher pulls a single instrument's top of book.
type BookFetcher interface {
	GetBookTop(ctx context.Context, instrumentID string) (domain.TopOfBook, error)
}

// SessionRunner runs a websocket session. wsconn.Run in production.
type SessionRunner func(ctx context.Context, s wsconn.Session) error

// OrderBookFeed keeps BestPriceCache current for a changing set of
// instruments.
type OrderBookFeed struct {
	wsURL   string
	opts    Options
	cache   *memory.BestPriceCache
	fetcher BookFetcher
	logger  *slog.Logger
	runner  SessionRunner

	sup      *Supervisor
	coalesce *Coalescer[domain.BestPrice]

	mu    sync.Mutex
	ids   []string
	resub chan struct{}
}

// NewOrderBookFeed creates a feed writing into cache. runner may be nil, in
// which case wsconn.Run is used.
func NewOrderBookFeed(wsURL string, opts Options, cache *memory.BestPriceCache, fetcher BookFetcher, runner SessionRunner, logger *slog.Logger) *OrderBookFeed {
	if runner == nil {
		runner = wsconn.Run
	}
	if logger == nil {
		logger = slog.Default()
	}
	f := &OrderBookFeed{
		wsURL:    wsURL,
		opts:     opts,
		cache:    cache,
		fetcher:  fetcher,
		logger:   logger.With(slog.String("component", "book_feed")),
		runner:   runner,
		coalesce: NewCoalescer[domain.BestPrice](opts.RequestTimeout),
		resub:    make(chan struct{}, 1),
	}
	f.sup = NewSupervisor("orderbook", opts.ReconnectDelay, f.session, logger)
	return f
}

// SetInstruments replaces the subscription set. A changed set forces the
// live session to resubscribe.
func (f *OrderBookFeed) SetInstruments(ids []string) {
	next := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(next, id) {
			next = append(next, id)
		}
	}

	f.mu.Lock()
	changed := !slices.Equal(f.ids, next)
	if changed {
		f.ids = next
	}
	f.mu.Unlock()

	if !changed {
		return
	}
	f.logger.Info("instruments changed", slog.Any("instruments", next))
	select {
	case f.resub <- struct{}{}:
	default:
	}
}

// Instruments returns the current subscription set.
func (f *OrderBookFeed) Instruments() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.ids)
}

// Snapshot pulls the top of book for id and writes it to the cache.
// Concurrent calls for the same id share one request.
func (f *OrderBookFeed) Snapshot(ctx context.Context, id string) (domain.BestPrice, error) {
	bp, _, err := f.coalesce.Do(ctx, id, func(ctx context.Context) (domain.BestPrice, error) {
		top, err := f.fetcher.GetBookTop(ctx, id)
		if err != nil {
			return domain.BestPrice{}, err
		}
		top.InstrumentID = id
		return f.cache.Update(top), nil
	})
	return bp, err
}

// Connected reports whether the push session is live.
func (f *OrderBookFeed) Connected() bool { return f.sup.Connected() }

// Status returns the push session status.
func (f *OrderBookFeed) Status() Status { return f.sup.Status() }

// Run runs the push supervisor and the pull poller until ctx ends.
func (f *OrderBookFeed) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return f.sup.Run(gctx) })
	g.Go(func() error { return f.poll(gctx) })
	return g.Wait()
}

func (f *OrderBookFeed) session(ctx context.Context, connected func()) error {
	ids := f.Instruments()
	if len(ids) == 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.resub:
			return ErrResubscribe
		}
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	s := polymarket.MarketSession(f.wsURL, ids, f.opts.ConnectTimeout, connected, f.onPush)
	go func() { done <- f.runner(sctx, s) }()

	select {
	case <-f.resub:
		cancel()
		<-done
		return ErrResubscribe
	case err := <-done:
		return err
	}
}

func (f *OrderBookFeed) onPush(top domain.TopOfBook) {
	f.sup.Touch()
	f.cache.Update(top)
}

func (f *OrderBookFeed) poll(ctx context.Context) error {
	if f.opts.PollInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(f.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			f.pollStale(ctx)
		}
	}
}

// pollStale pulls every instrument whose cached entry is missing or older
// than StaleAfter.
func (f *OrderBookFeed) pollStale(ctx context.Context) {
	for _, id := range f.Instruments() {
		if _, fresh := f.cache.GetFresh(id, f.opts.StaleAfter); fresh {
			continue
		}
		if _, err := f.Snapshot(ctx, id); err != nil && ctx.Err() == nil {
			f.logger.Warn("book pull failed",
				slog.String("instrument", id),
				slog.String("error", err.Error()),
			)
		}
	}
}
