package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polypaper/internal/arbitrage"
	"github.com/alanyoungcy/polypaper/internal/domain"
	"github.com/alanyoungcy/polypaper/internal/executor"
	"github.com/alanyoungcy/polypaper/internal/paper"
	"github.com/alanyoungcy/polypaper/internal/recorder"
	"github.com/alanyoungcy/polypaper/internal/window"
)

// windowLoop refreshes the current window on the configured interval, and
// one second past the current close when that comes sooner.
func (e *Engine) windowLoop(ctx context.Context) error {
	e.refreshWindow(ctx)
	for {
		timer := time.NewTimer(e.deps.Tracker.NextWait(e.cfg.WindowInterval))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			e.refreshWindow(ctx)
		}
	}
}

// refreshWindow resolves outside the trade lock, then applies the window,
// drops stale pending orders and emits the rollover as one step with
// respect to tradeTick.
func (e *Engine) refreshWindow(ctx context.Context) {
	rctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()
	w, err := e.deps.Tracker.Resolve(rctx)
	if err != nil {
		e.logger.Warn("window resolve failed", slog.String("error", err.Error()))
		return
	}

	e.tradeMu.Lock()
	tr := e.deps.Tracker.Apply(w)
	if tr.Rolled {
		e.matcher.DiscardExcept(tr.Current.WindowID)
		sig := domain.RolloverSignal{
			Previous:   tr.Previous,
			Current:    tr.Current,
			ObservedAt: e.now(),
		}
		if tr.StartReference != nil {
			sig.StartReference = domain.Float(tr.StartReference.Price)
		}
		e.emit(sig)
	}
	e.tradeMu.Unlock()

	e.afterRollover(ctx, tr)
}

// afterRollover resubscribes the book feed and records the new window's
// label.
func (e *Engine) afterRollover(ctx context.Context, tr window.Transition) {
	if !tr.Rolled {
		return
	}
	e.deps.Book.SetInstruments(e.instruments(tr.Current))

	if e.deps.Labels == nil {
		return
	}
	label := domain.MarketLabel{
		Key:          tr.Current.WindowID,
		Question:     tr.Current.Question,
		ConditionID:  tr.Current.ConditionID,
		InstrumentUp: tr.Current.InstrumentUp,
		InstrumentDn: tr.Current.InstrumentDown,
		ClosesAt:     tr.Current.ClosesAt,
		UpdatedAt:    e.now(),
	}
	if err := e.deps.Labels.UpsertLabel(ctx, label); err != nil {
		e.logger.Warn("label upsert failed", slog.String("key", label.Key), slog.String("error", err.Error()))
	}
}

func (e *Engine) upsertWatchLabels(ctx context.Context) {
	if e.deps.Labels == nil {
		return
	}
	for _, p := range e.cfg.WatchPairs {
		label := domain.MarketLabel{
			Key:          p.Key,
			Question:     p.Key,
			InstrumentUp: p.Up,
			InstrumentDn: p.Down,
			UpdatedAt:    e.now(),
		}
		if err := e.deps.Labels.UpsertLabel(ctx, label); err != nil {
			e.logger.Warn("label upsert failed", slog.String("key", p.Key), slog.String("error", err.Error()))
		}
	}
}

// instruments is the subscription set for w plus the watch pairs, without
// duplicates.
func (e *Engine) instruments(w domain.EventWindow) []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	add(w.InstrumentUp)
	add(w.InstrumentDown)
	for _, p := range e.cfg.WatchPairs {
		add(p.Up)
		add(p.Down)
	}
	return ids
}

func (e *Engine) pairs() []domain.Pair {
	out := make([]domain.Pair, 0, len(e.cfg.WatchPairs)+1)
	if w, ok := e.deps.Tracker.Current(); ok {
		out = append(out, w.Pair())
	}
	return append(out, e.cfg.WatchPairs...)
}

// tradeTick runs one signal -> pending -> fill -> resolve pass.
func (e *Engine) tradeTick(ctx context.Context) {
	e.tradeMu.Lock()
	defer e.tradeMu.Unlock()

	now := e.now()
	e.lastTick.Store(&now)

	for _, pair := range e.pairs() {
		if sig, ok := e.deps.Detector.SumToOne(pair, e.freshAsk(pair.Up), e.freshAsk(pair.Down), now); ok {
			e.emit(sig)
		}
	}

	if w, ok := e.deps.Tracker.Current(); ok {
		e.evaluateModelLag(w, now)
	}
	// Match against the window as it is now; orders of any other window
	// are dropped by the matcher.
	if w, ok := e.deps.Tracker.Current(); ok {
		for _, pos := range e.matcher.Match(ctx, w, e.executorLedgers()) {
			e.logger.Info("paper fill",
				slog.String("position_id", pos.ID),
				slog.String("outcome", string(pos.Outcome)),
				slog.Float64("entry_price", pos.EntryPrice),
			)
			e.emit(domain.FillSignal{Position: pos})
		}
	}

	for _, tier := range e.tiers() {
		for _, pos := range e.settler.Settle(ctx, e.ledgers[tier]) {
			e.emit(domain.ResolutionSignal{Position: pos})
		}
	}
	e.dedup.Cleanup()
}

func (e *Engine) evaluateModelLag(w domain.EventWindow, now time.Time) {
	start, ok := e.deps.Tracker.StartReference()
	if !ok {
		return
	}
	idx, ok := e.freshIndex(now)
	if !ok {
		return
	}
	sig, ok := e.deps.Detector.ModelLag(arbitrage.LagInput{
		WindowID:   w.WindowID,
		IndexPrice: idx.Price,
		StartPrice: start.Price,
		AskUp:      e.freshAsk(w.InstrumentUp),
		AskDown:    e.freshAsk(w.InstrumentDown),
		Now:        now,
	})
	if !ok {
		return
	}
	e.emit(sig)
	if !sig.Accepted {
		return
	}
	if cur, ok := e.deps.Tracker.Current(); !ok || cur.WindowID != w.WindowID {
		return
	}
	intent := executor.Intent{
		Window:         w,
		Side:           sig.Side,
		LimitPrice:     e.deps.Detector.LimitPrice(sig.ModelPrice),
		ModelPrice:     sig.ModelPrice,
		StartReference: domain.Float(start.Price),
	}
	for _, tier := range e.tiers() {
		e.matcher.Place(e.ledgers[tier], intent)
	}
}

// freshIndex returns the latest index tick unless it is older than
// MaxQuoteAge.
func (e *Engine) freshIndex(now time.Time) (domain.IndexTick, bool) {
	idx, ok := e.deps.Index.Latest()
	if !ok || now.Sub(idx.ObservedAt) > e.cfg.MaxQuoteAge {
		return domain.IndexTick{}, false
	}
	return idx, true
}

func (e *Engine) executorLedgers() map[domain.Tier]executor.Ledger {
	out := make(map[domain.Tier]executor.Ledger, len(e.ledgers))
	for tier, l := range e.ledgers {
		out[tier] = l
	}
	return out
}

func (e *Engine) sampleSeries(context.Context) {
	if e.deps.Recorder == nil {
		return
	}
	var st recorder.State
	if w, ok := e.deps.Tracker.Last(); ok {
		st.Window = &w
		if bp, ok := e.deps.Cache.Get(w.InstrumentUp); ok {
			st.Up = &bp
		}
		if bp, ok := e.deps.Cache.Get(w.InstrumentDown); ok {
			st.Down = &bp
		}
	}
	if ref, ok := e.deps.Tracker.StartReference(); ok {
		st.StartPrice = domain.Float(ref.Price)
	}
	if idx, ok := e.deps.Index.Latest(); ok {
		st.Index = &idx
	}
	e.deps.Recorder.Sample(e.now(), st)
}

func (e *Engine) sampleEquity(ctx context.Context) {
	now := e.now()
	for _, tier := range e.tiers() {
		l := e.ledgers[tier]
		ov := paper.Summarize(l, e.bid)
		pt := domain.EquityPoint{
			ObservedAt:       now,
			BankrollUSD:      ov.BankrollUSD,
			UnrealizedPnlUSD: ov.UnrealizedPnlUSD,
			TotalPnlUSD:      ov.TotalPnlUSD,
		}
		if err := l.AppendEquity(ctx, pt); err != nil {
			e.logger.Warn("equity sample failed", slog.String("tier", string(tier)), slog.String("error", err.Error()))
		}
	}
}
