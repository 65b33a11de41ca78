package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/alanyoungcy/polypaper/internal/arbitrage"
	"github.com/alanyoungcy/polypaper/internal/cache/memory"
	"github.com/alanyoungcy/polypaper/internal/domain"
	"github.com/alanyoungcy/polypaper/internal/engine"
	"github.com/alanyoungcy/polypaper/internal/feed"
	"github.com/alanyoungcy/polypaper/internal/paper"
	"github.com/alanyoungcy/polypaper/internal/platform/binance"
	"github.com/alanyoungcy/polypaper/internal/platform/coinbase"
	"github.com/alanyoungcy/polypaper/internal/platform/polymarket"
	"github.com/alanyoungcy/polypaper/internal/platform/restclient"
	"github.com/alanyoungcy/polypaper/internal/recorder"
	"github.com/alanyoungcy/polypaper/internal/window"
)

// indexRatePerSec budgets the index venue's REST fallback.
const indexRatePerSec = 5

func (a *App) tierConfigs() []paper.Config {
	out := make([]paper.Config, 0, len(a.cfg.Paper.Tiers))
	for _, t := range a.cfg.Paper.Tiers {
		out = append(out, paper.Config{
			Tier:             domain.Tier(t.Name),
			BetUSD:           t.BetUSD,
			BankrollStartUSD: a.cfg.Paper.BankrollUSD,
		})
	}
	return out
}

func (a *App) tiers() []domain.Tier {
	out := make([]domain.Tier, 0, len(a.cfg.Paper.Tiers))
	for _, t := range a.cfg.Paper.Tiers {
		out = append(out, domain.Tier(t.Name))
	}
	return out
}

func (a *App) loadLedgers(ctx context.Context, store paper.Store) ([]*paper.Ledger, error) {
	var out []*paper.Ledger
	for _, tc := range a.tierConfigs() {
		l, err := paper.Load(ctx, tc, store, a.base)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (a *App) detector() *arbitrage.Detector {
	s := a.cfg.Strategy
	return arbitrage.NewDetector(arbitrage.Config{
		MinEdge:       s.MinEdge,
		BiasK:         s.BiasK,
		MinLag:        s.MinLag,
		MaxEntryPrice: s.MaxEntryPrice,
		MinModelEdge:  s.MinModelEdge,
	})
}

func (a *App) restClient(ratePerSec float64) *restclient.Client {
	return restclient.New(restclient.Options{
		Timeout:    a.cfg.Feeds.RequestTimeout.Duration,
		RatePerSec: ratePerSec,
		Burst:      max(1, int(math.Ceil(ratePerSec))),
		Logger:     a.base,
	})
}

func (a *App) feedOptions(poll time.Duration) feed.Options {
	f := a.cfg.Feeds
	return feed.Options{
		ConnectTimeout: f.ConnectTimeout.Duration,
		ReconnectDelay: f.ReconnectDelay.Duration,
		StaleAfter:     f.StaleAfter.Duration,
		PollInterval:   poll,
		RequestTimeout: f.RequestTimeout.Duration,
	}
}

func (a *App) indexSource() (feed.IndexSource, error) {
	ic := a.cfg.Index
	rest := a.restClient(indexRatePerSec)
	switch strings.ToLower(ic.Source) {
	case coinbase.SourceName:
		return coinbase.NewSource(ic.CoinbaseWsURL, ic.CoinbaseRestURL, ic.CoinbaseProduct, rest), nil
	case binance.SourceName:
		return binance.NewSource(ic.BinanceWsURL, ic.BinanceRestURL, ic.BinanceSymbol, rest), nil
	default:
		return nil, fmt.Errorf("app: unknown index source %q", ic.Source)
	}
}

func (a *App) resolver(lookup window.Lookup) window.Resolver {
	w := a.cfg.Window
	if w.EventSlug != "" {
		return window.FixedResolver{Slug: w.EventSlug, Lookup: lookup}
	}
	return window.ScheduleResolver{
		Prefix: w.SeriesPrefix,
		Bucket: w.Bucket.Duration,
		Search: w.SearchBuckets,
		Lookup: lookup,
	}
}

func (a *App) watchPairs() []domain.Pair {
	out := make([]domain.Pair, 0, len(a.cfg.Strategy.WatchPairs))
	for _, wp := range a.cfg.Strategy.WatchPairs {
		out = append(out, domain.Pair{Key: wp.Key, Up: wp.Up, Down: wp.Down})
	}
	return out
}

// buildEngine assembles the feeds, window tracker, detector, ledgers and
// recorder into an engine. Nothing is started.
func (a *App) buildEngine(ctx context.Context, deps *Dependencies) (*engine.Engine, error) {
	pm := a.cfg.Polymarket
	clob := polymarket.NewClobClient(pm.ClobHost, a.restClient(pm.BookRatePerSec))
	gamma := polymarket.NewGammaClient(pm.GammaHost, a.restClient(pm.GammaRatePerSec))

	cache := memory.NewBestPriceCache()
	book := feed.NewOrderBookFeed(pm.WsHost, a.feedOptions(a.cfg.Feeds.BookPollInterval.Duration), cache, clob, nil, a.base)

	src, err := a.indexSource()
	if err != nil {
		return nil, err
	}
	index := feed.NewIndexPriceFeed(src, a.feedOptions(a.cfg.Feeds.IndexPollInterval.Duration), nil, a.base)

	ledgers, err := a.loadLedgers(ctx, deps.Store)
	if err != nil {
		return nil, fmt.Errorf("app: load ledgers: %w", err)
	}

	rec, err := recorder.New(deps.Series, 0, a.base)
	if err != nil {
		return nil, fmt.Errorf("app: recorder: %w", err)
	}

	s, p := a.cfg.Strategy, a.cfg.Paper
	return engine.New(engine.Config{
		TradeInterval:  s.TradeInterval.Duration,
		WindowInterval: a.cfg.Window.RefreshInterval.Duration,
		SeriesInterval: p.SeriesInterval.Duration,
		EquityInterval: p.EquityInterval.Duration,
		MaxQuoteAge:    s.MaxQuoteAge.Duration,
		GracePeriod:    p.GracePeriod.Duration,
		Cooldown:       s.Cooldown.Duration,
		WatchPairs:     a.watchPairs(),
	}, engine.Deps{
		Cache:         cache,
		Book:          book,
		Index:         index,
		Tracker:       window.NewTracker(a.resolver(gamma), a.base),
		Detector:      a.detector(),
		Ledgers:       ledgers,
		Labels:        deps.Store,
		Recorder:      rec,
		Opportunities: deps.Opportunities,
		Mirror:        deps.Mirror,
		Bus:           deps.Bus,
		Notifier:      deps.Notifier,
		Logger:        a.base,
	})
}
