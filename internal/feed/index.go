package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polypaper/internal/domain"
	"github.com/alanyoungcy/polypaper/internal/platform/wsconn"
)

// IndexSource is an external reference price venue.
type IndexSource interface {
	Name() string
	Session(connectTimeout time.Duration, onConnected func(), onTick func(domain.IndexTick)) wsconn.Session
	Fetch(ctx context.Context) (domain.IndexTick, error)
}

// IndexPriceFeed tracks the latest reference price and fans ticks out to
// subscribers.
type IndexPriceFeed struct {
	src    IndexSource
	opts   Options
	runner SessionRunner
	logger *slog.Logger
	now    func() time.Time

	sup      *Supervisor
	coalesce *Coalescer[domain.IndexTick]

	mu        sync.RWMutex
	latest    domain.IndexTick
	hasLatest bool
	hooks     []func(domain.IndexTick)
}

// NewIndexPriceFeed creates a feed over src. runner may be nil.
func NewIndexPriceFeed(src IndexSource, opts Options, runner SessionRunner, logger *slog.Logger) *IndexPriceFeed {
	if runner == nil {
		runner = wsconn.Run
	}
	if logger == nil {
		logger = slog.Default()
	}
	f := &IndexPriceFeed{
		src:      src,
		opts:     opts,
		runner:   runner,
		logger:   logger.With(slog.String("component", "index_feed"), slog.String("source", src.Name())),
		now:      time.Now,
		coalesce: NewCoalescer[domain.IndexTick](opts.RequestTimeout),
	}
	f.sup = NewSupervisor("index:"+src.Name(), opts.ReconnectDelay, f.session, logger)
	return f
}

// OnTick registers fn to run on every accepted tick. Hooks run on the
// publishing goroutine and must not block.
func (f *IndexPriceFeed) OnTick(fn func(domain.IndexTick)) {
	f.mu.Lock()
	f.hooks = append(f.hooks, fn)
	f.mu.Unlock()
}

// Latest returns the most recently received tick.
func (f *IndexPriceFeed) Latest() (domain.IndexTick, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latest, f.hasLatest
}

// Reset forgets the latest tick. Hooks stay registered.
func (f *IndexPriceFeed) Reset() {
	f.mu.Lock()
	f.latest, f.hasLatest = domain.IndexTick{}, false
	f.mu.Unlock()
}

// Fetch pulls the price once over REST and publishes it. Concurrent calls
// share one request.
func (f *IndexPriceFeed) Fetch(ctx context.Context) (domain.IndexTick, error) {
	tick, _, err := f.coalesce.Do(ctx, "index", func(ctx context.Context) (domain.IndexTick, error) {
		t, err := f.src.Fetch(ctx)
		if err != nil {
			return domain.IndexTick{}, err
		}
		f.publish(t)
		return t, nil
	})
	return tick, err
}

func (f *IndexPriceFeed) Connected() bool { return f.sup.Connected() }

func (f *IndexPriceFeed) Status() Status { return f.sup.Status() }

// Run runs the push supervisor and the pull poller until ctx ends.
func (f *IndexPriceFeed) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return f.sup.Run(gctx) })
	g.Go(func() error { return f.poll(gctx) })
	return g.Wait()
}

func (f *IndexPriceFeed) session(ctx context.Context, connected func()) error {
	return f.runner(ctx, f.src.Session(f.opts.ConnectTimeout, connected, func(t domain.IndexTick) {
		f.sup.Touch()
		f.publish(t)
	}))
}

func (f *IndexPriceFeed) publish(t domain.IndexTick) {
	if !t.Valid() {
		return
	}
	f.mu.Lock()
	f.latest = t
	f.hasLatest = true
	hooks := f.hooks
	f.mu.Unlock()

	for _, h := range hooks {
		h(t)
	}
}

func (f *IndexPriceFeed) poll(ctx context.Context) error {
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
			if t, ok := f.Latest(); ok && f.now().Sub(t.ObservedAt) <= f.opts.StaleAfter {
				continue
			}
			if _, err := f.Fetch(ctx); err != nil && ctx.Err() == nil {
				f.logger.Warn("index pull failed", slog.String("error", err.Error()))
			}
		}
	}
}
