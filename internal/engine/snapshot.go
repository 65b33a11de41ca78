package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/alanyoungcy/polypaper/internal/domain"
	"github.com/alanyoungcy/polypaper/internal/feed"
	"github.com/alanyoungcy/polypaper/internal/paper"
)

// Limits are the trading thresholds in force.
type Limits struct {
	MinEdge       float64                 `json:"minEdge"`
	MinLag        float64                 `json:"minLag"`
	BiasK         float64                 `json:"biasK"`
	MaxEntryPrice float64                 `json:"maxEntryPrice"`
	MinModelEdge  float64                 `json:"minModelEdge"`
	BetUSD        map[domain.Tier]float64 `json:"betUsd"`
}

// Status is the engine health view.
type Status struct {
	Running        bool          `json:"running"`
	FeedConnected  bool          `json:"feedConnected"`
	IndexConnected bool          `json:"indexConnected"`
	StartedAt      *time.Time    `json:"startedAt,omitempty"`
	LastTradeTick  *time.Time    `json:"lastTradeTick,omitempty"`
	Feeds          []feed.Status `json:"feeds"`
	PendingOrders  int           `json:"pendingOrders"`
	Limits         Limits        `json:"limits"`
}

// Status reports whether the engine runs, the feed states and the limits.
func (e *Engine) Status() Status {
	det := e.deps.Detector.Config()
	lim := Limits{
		MinEdge:       det.MinEdge,
		MinLag:        det.MinLag,
		BiasK:         det.BiasK,
		MaxEntryPrice: det.MaxEntryPrice,
		MinModelEdge:  det.MinModelEdge,
		BetUSD:        make(map[domain.Tier]float64, len(e.ledgers)),
	}
	for tier, l := range e.ledgers {
		lim.BetUSD[tier] = l.BetUSD()
	}
	st := Status{
		Running:        e.Running(),
		FeedConnected:  e.deps.Book.Connected(),
		IndexConnected: e.deps.Index.Connected(),
		Feeds:          []feed.Status{e.deps.Book.Status(), e.deps.Index.Status()},
		PendingOrders:  len(e.matcher.Pending()),
		Limits:         lim,
	}
	if t := e.started.Load(); t != nil {
		st.StartedAt = domain.Time(*t)
	}
	if t := e.lastTick.Load(); t != nil {
		st.LastTradeTick = domain.Time(*t)
	}
	return st
}

// WindowView is the current window with its reference state and quotes.
type WindowView struct {
	Window         *domain.EventWindow   `json:"window"`
	Open           bool                  `json:"open"`
	SecondsToClose *float64              `json:"secondsToClose,omitempty"`
	StartReference *domain.IndexTick     `json:"startReference,omitempty"`
	Index          *domain.IndexTick     `json:"index,omitempty"`
	Up             *domain.BestPrice     `json:"up,omitempty"`
	Down           *domain.BestPrice     `json:"down,omitempty"`
	Pending        []domain.PendingOrder `json:"pending"`
}

// Window returns the latest window and the state around it.
func (e *Engine) Window() WindowView {
	v := WindowView{Pending: e.matcher.Pending()}
	if idx, ok := e.deps.Index.Latest(); ok {
		v.Index = &idx
	}
	w, ok := e.deps.Tracker.Last()
	if !ok {
		return v
	}
	now := e.now()
	v.Window = &w
	v.Open = w.Open(now)
	if v.Open {
		v.SecondsToClose = domain.Float(w.ClosesAt.Sub(now).Seconds())
	}
	if ref, ok := e.deps.Tracker.StartReference(); ok {
		v.StartReference = &ref
	}
	if bp, ok := e.deps.Cache.Get(w.InstrumentUp); ok {
		v.Up = &bp
	}
	if bp, ok := e.deps.Cache.Get(w.InstrumentDown); ok {
		v.Down = &bp
	}
	return v
}

// RecentOpportunities returns up to limit opportunities, newest first, with
// identical content collapsed to its newest occurrence.
func (e *Engine) RecentOpportunities(limit int) []domain.Opportunity {
	if limit <= 0 || limit > maxRecent {
		limit = maxRecent
	}
	e.ringMu.RLock()
	defer e.ringMu.RUnlock()

	out := make([]domain.Opportunity, 0, min(limit, len(e.ring)))
	seen := make(map[string]bool)
	for i := len(e.ring) - 1; i >= 0 && len(out) < limit; i-- {
		o := e.ring[i]
		if o.Kind == domain.SignalBookTick {
			continue
		}
		key := o.DedupKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, o)
	}
	return out
}

// Overview summarises every tier, smallest bet first.
func (e *Engine) Overview() []paper.Overview {
	out := make([]paper.Overview, 0, len(e.ledgers))
	for _, tier := range e.tiers() {
		out = append(out, paper.Summarize(e.ledgers[tier], e.bid))
	}
	return out
}

// TierStats returns the detailed performance of tier.
func (e *Engine) TierStats(tier domain.Tier) (paper.Stats, error) {
	l, err := e.Ledger(tier)
	if err != nil {
		return paper.Stats{}, err
	}
	return paper.ComputeStats(l, e.bid), nil
}

// Positions returns the positions of tier, newest first, marked against the
// live bids.
func (e *Engine) Positions(tier domain.Tier) ([]paper.MarkedPosition, error) {
	l, err := e.Ledger(tier)
	if err != nil {
		return nil, err
	}
	return paper.Mark(l.Positions(), e.bid, e.now()), nil
}

// TradeLog returns the BUY and SELL entries of tier, newest first.
func (e *Engine) TradeLog(tier domain.Tier, limit int) ([]domain.TradeLogEntry, error) {
	l, err := e.Ledger(tier)
	if err != nil {
		return nil, err
	}
	return paper.TradeLog(l.Positions(), limit), nil
}

// Equity returns the latest limit equity points of tier, oldest first.
func (e *Engine) Equity(ctx context.Context, tier domain.Tier, limit int) ([]domain.EquityPoint, error) {
	l, err := e.Ledger(tier)
	if err != nil {
		return nil, err
	}
	return l.ReadEquity(ctx, limit)
}

// Series returns the latest limit recorded samples, oldest first.
func (e *Engine) Series(limit int) []domain.SeriesPoint {
	if e.deps.Recorder == nil {
		return []domain.SeriesPoint{}
	}
	return e.deps.Recorder.Tail(limit)
}

// Labels returns the instrument-pair label cache, most recently updated
// first.
func (e *Engine) Labels(ctx context.Context, limit int) ([]domain.MarketLabel, error) {
	if e.deps.Labels == nil {
		return []domain.MarketLabel{}, nil
	}
	labels, err := e.deps.Labels.ListLabels(ctx, domain.ListOpts{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("engine: labels: %w", err)
	}
	return labels, nil
}

// Tiers lists the configured tiers ordered by bet size.
func (e *Engine) Tiers() []domain.Tier { return slices.Clone(e.order) }

func (e *Engine) tiers() []domain.Tier { return e.order }
