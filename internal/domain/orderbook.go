package domain

import (
	"math"
	"time"
)

// PriceLevel is a single price+size entry at the top of an orderbook side.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// TopOfBook is the best bid and best ask of one instrument as delivered by a
// venue, either from the push channel or a REST pull. A nil side means the
// venue reported no levels on that side.
type TopOfBook struct {
	InstrumentID string      `json:"instrumentId"`
	Bid          *PriceLevel `json:"bid,omitempty"`
	Ask          *PriceLevel `json:"ask,omitempty"`
}

// BestPrice is the cached top of book of one instrument together with the
// time it was observed locally.
type BestPrice struct {
	TopOfBook
	ObservedAt time.Time `json:"observedAt"`
}

// AskPrice returns the best ask price when present and finite.
func (b BestPrice) AskPrice() (float64, bool) {
	if b.Ask == nil || !finite(b.Ask.Price) {
		return 0, false
	}
	return b.Ask.Price, true
}

// BidPrice returns the best bid price when present and finite.
func (b BestPrice) BidPrice() (float64, bool) {
	if b.Bid == nil || !finite(b.Bid.Price) {
		return 0, false
	}
	return b.Bid.Price, true
}

// Age returns how long ago the entry was observed relative to now.
func (b BestPrice) Age(now time.Time) time.Duration {
	return now.Sub(b.ObservedAt)
}

// IndexTick is one observation of the external reference (index) price.
type IndexTick struct {
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"observedAt"`
	Source     string    `json:"source"`
}

// Valid reports whether the tick carries a usable positive price.
func (t IndexTick) Valid() bool {
	return finite(t.Price) && t.Price > 0
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
