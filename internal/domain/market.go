package domain

import "time"

// EventWindow is one time-bounded binary market: a pair of complementary
// instruments (UP/YES and DOWN/NO) that settle at ClosesAt.
type EventWindow struct {
	WindowID       string    `json:"windowId"`
	ConditionID    string    `json:"conditionId,omitempty"`
	InstrumentUp   string    `json:"instrumentIdUp"`
	InstrumentDown string    `json:"instrumentIdDown"`
	Question       string    `json:"question,omitempty"`
	OpensAt        time.Time `json:"opensAt"`
	ClosesAt       time.Time `json:"closesAt"`
}

// SamePair reports whether w and other reference the same instrument pair.
func (w EventWindow) SamePair(other EventWindow) bool {
	return w.InstrumentUp == other.InstrumentUp && w.InstrumentDown == other.InstrumentDown
}

// Open reports whether now lies before the window's close time.
func (w EventWindow) Open(now time.Time) bool {
	return now.Before(w.ClosesAt)
}

// InstrumentFor returns the instrument id backing the given outcome.
func (w EventWindow) InstrumentFor(o Outcome) string {
	if o == OutcomeDown {
		return w.InstrumentDown
	}
	return w.InstrumentUp
}

// Pair is a complementary instrument pair watched for sum-to-one edges.
type Pair struct {
	Key  string `json:"key"`
	Up   string `json:"up"`
	Down string `json:"down"`
}

// Pair returns the window's instrument pair keyed by its window id.
func (w EventWindow) Pair() Pair {
	return Pair{Key: w.WindowID, Up: w.InstrumentUp, Down: w.InstrumentDown}
}

// MarketLabel is the cached human-readable description of an instrument pair.
type MarketLabel struct {
	Key          string    `json:"key"`
	Question     string    `json:"question"`
	ConditionID  string    `json:"conditionId,omitempty"`
	InstrumentUp string    `json:"instrumentIdUp"`
	InstrumentDn string    `json:"instrumentIdDown"`
	ClosesAt     time.Time `json:"closesAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
