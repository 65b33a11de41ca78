package paper

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polypaper/internal/domain"
)

// BidFunc returns the current best bid of an instrument.
type BidFunc func(instrumentID string) (float64, bool)

// UnrealizedPnL is the sum over open positions of size*bid - size.
// Positions without a known bid contribute nothing.
func UnrealizedPnL(positions []domain.Position, bid BidFunc) float64 {
	total := decimal.Zero
	for _, p := range positions {
		if !p.IsOpen() {
			continue
		}
		b, ok := bid(p.InstrumentID)
		if !ok {
			continue
		}
		size := decimal.NewFromFloat(p.SizeUSD)
		total = total.Add(size.Mul(decimal.NewFromFloat(b)).Sub(size))
	}
	return total.InexactFloat64()
}

// RealizedPnL sums the realized PnL of closed positions.
func RealizedPnL(positions []domain.Position) float64 {
	total := decimal.Zero
	for _, p := range positions {
		if !p.IsOpen() && p.RealizedPnlUSD != nil {
			total = total.Add(decimal.NewFromFloat(*p.RealizedPnlUSD))
		}
	}
	return total.InexactFloat64()
}

// Overview is the per-tier headline view.
type Overview struct {
	Tier             domain.Tier `json:"tier"`
	BetUSD           float64     `json:"betUsd"`
	BankrollStartUSD float64     `json:"bankrollStartUsd"`
	BankrollUSD      float64     `json:"bankrollUsd"`
	OpenPositions    int         `json:"openPositions"`
	UnrealizedPnlUSD float64     `json:"unrealizedPnlUsd"`
	RealizedPnlUSD   float64     `json:"realizedPnlUsd"`
	TotalPnlUSD      float64     `json:"totalPnlUsd"`
	WinRatePct       *float64    `json:"winRatePct"`
}

// Stats is the detailed per-tier performance view.
type Stats struct {
	Overview
	Balance         float64   `json:"balance"`
	ROIPct          float64   `json:"roiPct"`
	TotalTrades     int       `json:"totalTrades"`
	ClosedPositions int       `json:"closedPositions"`
	Wins            int       `json:"wins"`
	Losses          int       `json:"losses"`
	AvgWin          float64   `json:"avgWin"`
	AvgLoss         float64   `json:"avgLoss"`
	LargestWin      float64   `json:"largestWin"`
	LargestLoss     float64   `json:"largestLoss"`
	AvgPnlPerTrade  float64   `json:"avgPnlPerTrade"`
	PnlDistribution []float64 `json:"pnlDistribution"`
}

// Summarize builds the overview of l marked against bid.
func Summarize(l *Ledger, bid BidFunc) Overview {
	st := l.State()
	unreal := UnrealizedPnL(st.Positions, bid)
	realized := RealizedPnL(st.Positions)

	ov := Overview{
		Tier:             l.Tier(),
		BetUSD:           l.BetUSD(),
		BankrollStartUSD: st.BankrollStartUSD,
		BankrollUSD:      st.BankrollUSD,
		UnrealizedPnlUSD: unreal,
		RealizedPnlUSD:   realized,
		TotalPnlUSD:      realized + unreal,
	}
	closed, wins := 0, 0
	for _, p := range st.Positions {
		if p.IsOpen() {
			ov.OpenPositions++
			continue
		}
		closed++
		if p.RealizedPnlUSD != nil && *p.RealizedPnlUSD > 0 {
			wins++
		}
	}
	if closed > 0 {
		ov.WinRatePct = domain.Float(float64(wins) / float64(closed) * 100)
	}
	return ov
}

// ComputeStats builds the detailed stats of l marked against bid.
func ComputeStats(l *Ledger, bid BidFunc) Stats {
	ov := Summarize(l, bid)
	st := l.State()

	s := Stats{
		Overview:        ov,
		Balance:         ov.BankrollUSD + ov.UnrealizedPnlUSD,
		TotalTrades:     len(st.Positions),
		PnlDistribution: []float64{},
	}
	var sumWin, sumLoss float64
	for _, p := range st.Positions {
		if p.IsOpen() {
			continue
		}
		s.ClosedPositions++
		if p.RealizedPnlUSD == nil {
			continue
		}
		v := *p.RealizedPnlUSD
		s.PnlDistribution = append(s.PnlDistribution, v)
		switch {
		case v > 0:
			s.Wins++
			sumWin += v
			s.LargestWin = max(s.LargestWin, v)
		case v < 0:
			s.Losses++
			sumLoss += v
			s.LargestLoss = min(s.LargestLoss, v)
		}
	}
	if s.Wins > 0 {
		s.AvgWin = sumWin / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLoss = sumLoss / float64(s.Losses)
	}
	if s.ClosedPositions > 0 {
		s.AvgPnlPerTrade = ov.RealizedPnlUSD / float64(s.ClosedPositions)
	}
	if ov.BankrollStartUSD > 0 {
		s.ROIPct = ov.TotalPnlUSD / ov.BankrollStartUSD * 100
	}
	return s
}

// MarkedPosition is a position annotated with its live mark.
type MarkedPosition struct {
	domain.Position
	MarkBid          *float64 `json:"markBid,omitempty"`
	UnrealizedPnlUSD *float64 `json:"unrealizedPnlUsd,omitempty"`
	Expired          bool     `json:"expired"`
}

// Mark annotates positions (newest first) with bid marks and expiry.
func Mark(positions []domain.Position, bid BidFunc, now time.Time) []MarkedPosition {
	out := make([]MarkedPosition, 0, len(positions))
	for _, p := range positions {
		mp := MarkedPosition{Position: p}
		if b, ok := bid(p.InstrumentID); ok {
			mp.MarkBid = domain.Float(b)
			if p.IsOpen() {
				mp.UnrealizedPnlUSD = domain.Float(p.SizeUSD*b - p.SizeUSD)
			}
		}
		mp.Expired = p.IsOpen() && p.Expiry != nil && now.After(*p.Expiry)
		out = append(out, mp)
	}
	return out
}

// TradeLog lists one BUY per open and one SELL per close, newest first,
// truncated to limit (limit <= 0 keeps everything).
func TradeLog(positions []domain.Position, limit int) []domain.TradeLogEntry {
	entries := make([]domain.TradeLogEntry, 0, 2*len(positions))
	for _, p := range positions {
		entries = append(entries, domain.TradeLogEntry{
			At:           p.OpenedAt,
			Side:         domain.OrderSideBuy,
			PositionID:   p.ID,
			ConditionKey: p.ConditionKey,
			Outcome:      p.Outcome,
			Price:        p.EntryPrice,
			SizeUSD:      p.SizeUSD,
			Question:     p.Question,
		})
		if p.IsOpen() || p.ClosedAt == nil {
			continue
		}
		exit := 0.0
		if p.ExitPrice != nil {
			exit = *p.ExitPrice
		}
		entries = append(entries, domain.TradeLogEntry{
			At:           *p.ClosedAt,
			Side:         domain.OrderSideSell,
			PositionID:   p.ID,
			ConditionKey: p.ConditionKey,
			Outcome:      p.Outcome,
			Price:        exit,
			SizeUSD:      p.SizeUSD,
			PnlUSD:       p.RealizedPnlUSD,
			Result:       p.Result,
			Question:     p.Question,
		})
	}
	slices.SortStableFunc(entries, func(a, b domain.TradeLogEntry) int {
		return b.At.Compare(a.At)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}
