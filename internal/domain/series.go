package domain

import "time"

// SeriesPoint is one sample of window and market state, written by the
// series recorder and replayed by the backtester.
type SeriesPoint struct {
	ObservedAt    time.Time  `json:"observedAt"`
	WindowID      string     `json:"windowId"`
	ClosesAt      *time.Time `json:"closesAt,omitempty"`
	IndexPrice    *float64   `json:"indexPrice,omitempty"`
	IndexAt       *time.Time `json:"indexAt,omitempty"`
	StartPrice    *float64   `json:"startPrice,omitempty"`
	IndexDeltaPct *float64   `json:"indexDeltaPct,omitempty"`
	AskUp         *float64   `json:"askUp,omitempty"`
	AskDown       *float64   `json:"askDown,omitempty"`
	BidUp         *float64   `json:"bidUp,omitempty"`
	BidDown       *float64   `json:"bidDown,omitempty"`
	SumAsk        *float64   `json:"sumAsk,omitempty"`
	SumEdge       *float64   `json:"sumEdge,omitempty"`
}
