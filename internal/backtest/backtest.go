// Package backtest replays recorded series samples through the model-lag
// rule and settles one entry per window with the binary resolution rule.
package backtest

import (
	"cmp"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polypaper/internal/arbitrage"
	"github.com/alanyoungcy/polypaper/internal/domain"
	"github.com/alanyoungcy/polypaper/internal/paper"
)

// Window is the ordered samples of one event window.
type Window struct {
	ID      string
	Samples []domain.SeriesPoint
}

// Group splits points by window id. Samples keep their order within a
// window; windows are ordered by their first sample.
func Group(points []domain.SeriesPoint) []Window {
	idx := make(map[string]int)
	var out []Window
	for _, pt := range points {
		if pt.WindowID == "" {
			continue
		}
		i, ok := idx[pt.WindowID]
		if !ok {
			i = len(out)
			idx[pt.WindowID] = i
			out = append(out, Window{ID: pt.WindowID})
		}
		out[i].Samples = append(out[i].Samples, pt)
	}
	for i := range out {
		slices.SortStableFunc(out[i].Samples, func(a, b domain.SeriesPoint) int {
			return a.ObservedAt.Compare(b.ObservedAt)
		})
	}
	slices.SortStableFunc(out, func(a, b Window) int {
		return a.Samples[0].ObservedAt.Compare(b.Samples[0].ObservedAt)
	})
	return out
}

// Trade is the single simulated entry of a window.
type Trade struct {
	WindowID   string         `json:"windowId"`
	Side       domain.Outcome `json:"side"`
	EnteredAt  time.Time      `json:"enteredAt"`
	EntryPrice float64        `json:"entryPrice"`
	ModelEdge  float64        `json:"modelEdge"`
	StartPrice float64        `json:"startPrice"`
	EndPrice   float64        `json:"endPrice"`
	Won        bool           `json:"won"`
	Push       bool           `json:"push"`
}

// TierResult aggregates the trades at one bet size.
type TierResult struct {
	Tier       domain.Tier `json:"tier"`
	BetUSD     float64     `json:"betUsd"`
	Trades     int         `json:"trades"`
	Wins       int         `json:"wins"`
	Losses     int         `json:"losses"`
	Pushes     int         `json:"pushes"`
	WinRatePct *float64    `json:"winRatePct"`
	PnlUSD     float64     `json:"pnlUsd"`
	AvgPnlUSD  *float64    `json:"avgPnlUsd"`
}

// Result is the outcome of a replay.
type Result struct {
	Windows int          `json:"windows"`
	Skipped int          `json:"skipped"`
	Trades  []Trade      `json:"trades"`
	Tiers   []TierResult `json:"tiers"`
}

// Run replays points. A window trades at most once: on the first sample
// whose model-lag signal is accepted, at that sample's ask on the chosen
// side. An accepted signal's ask is already at or under the limit price the
// live engine would rest, so the order fills at once. The entry settles
// against the last index sample of the window observed after the entry;
// windows without one are skipped.
func Run(points []domain.SeriesPoint, det *arbitrage.Detector, tiers []paper.Config) Result {
	windows := Group(points)
	res := Result{Windows: len(windows)}
	for _, w := range windows {
		tr, ok := replay(w, det)
		if !ok {
			res.Skipped++
			continue
		}
		res.Trades = append(res.Trades, tr)
	}

	ordered := slices.Clone(tiers)
	slices.SortStableFunc(ordered, func(a, b paper.Config) int { return cmp.Compare(a.BetUSD, b.BetUSD) })
	for _, t := range ordered {
		res.Tiers = append(res.Tiers, aggregate(t, res.Trades))
	}
	return res
}

func replay(w Window, det *arbitrage.Detector) (Trade, bool) {
	var (
		tr      Trade
		entered bool
	)
	for _, pt := range w.Samples {
		if !entered {
			sig, ok := det.ModelLag(arbitrage.LagInput{
				WindowID:   w.ID,
				IndexPrice: deref(pt.IndexPrice),
				StartPrice: deref(pt.StartPrice),
				AskUp:      pt.AskUp,
				AskDown:    pt.AskDown,
				Now:        pt.ObservedAt,
			})
			if !ok || !sig.Accepted {
				continue
			}
			tr = Trade{
				WindowID:   w.ID,
				Side:       sig.Side,
				EnteredAt:  pt.ObservedAt,
				EntryPrice: sig.EntryAsk,
				ModelEdge:  sig.ModelEdge,
				StartPrice: sig.StartPrice,
			}
			entered = true
			continue
		}
		if pt.IndexPrice != nil && *pt.IndexPrice > 0 {
			tr.EndPrice = *pt.IndexPrice
		}
	}
	if !entered || tr.EndPrice == 0 {
		return Trade{}, false
	}
	r := paper.Decide(tr.Side, tr.StartPrice, tr.EndPrice)
	tr.Won, tr.Push = r.Won, r.Push
	return tr, true
}

func aggregate(t paper.Config, trades []Trade) TierResult {
	out := TierResult{Tier: t.Tier, BetUSD: t.BetUSD, Trades: len(trades)}
	bet := decimal.NewFromFloat(t.BetUSD)
	pnl := decimal.Zero
	for _, tr := range trades {
		switch {
		case tr.Push:
			out.Pushes++
		case tr.Won:
			out.Wins++
			shares := bet.Div(decimal.NewFromFloat(tr.EntryPrice))
			pnl = pnl.Add(shares.Sub(bet))
		default:
			out.Losses++
			pnl = pnl.Sub(bet)
		}
	}
	out.PnlUSD = pnl.Round(6).InexactFloat64()
	if decided := out.Wins + out.Losses; decided > 0 {
		out.WinRatePct = domain.Float(float64(out.Wins) / float64(decided) * 100)
	}
	if out.Trades > 0 {
		out.AvgPnlUSD = domain.Float(pnl.Div(decimal.NewFromInt(int64(out.Trades))).Round(6).InexactFloat64())
	}
	return out
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
