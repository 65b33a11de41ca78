package domain

import "time"

// Tier identifies one independent paper bankroll with its own bet size.
type Tier string

// Outcome is the side of a binary window a position backs.
type Outcome string

const (
	OutcomeUp   Outcome = "UP"
	OutcomeDown Outcome = "DOWN"
)

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// Result is the settlement outcome of a binary resolution.
type Result string

const (
	ResultWin  Result = "win"
	ResultLoss Result = "loss"
	ResultPush Result = "push"
)

// Position is a simulated holding in one instrument. It is created by a
// ledger open, mutated only by close or resolve, and immutable once closed.
type Position struct {
	ID             string         `json:"id"`
	Tier           Tier           `json:"tier"`
	ConditionKey   string         `json:"conditionKey"`
	InstrumentID   string         `json:"instrumentId"`
	Outcome        Outcome        `json:"outcomeLabel"`
	EntryPrice     float64        `json:"entryPrice"`
	SizeUSD        float64        `json:"sizeUsd"`
	OpenedAt       time.Time      `json:"openedAt"`
	Status         PositionStatus `json:"status"`
	Expiry         *time.Time     `json:"expiry,omitempty"`
	Question       string         `json:"question,omitempty"`
	Note           string         `json:"note,omitempty"`
	ClosedAt       *time.Time     `json:"closedAt,omitempty"`
	ExitPrice      *float64       `json:"exitPrice,omitempty"`
	RealizedPnlUSD *float64       `json:"realizedPnlUsd,omitempty"`
	Result         *Result        `json:"result,omitempty"`
	StartReference *float64       `json:"startReference,omitempty"`
	EndReference   *float64       `json:"endReference,omitempty"`
}

// IsOpen reports whether the position is still open.
func (p Position) IsOpen() bool {
	return p.Status == PositionStatusOpen
}

// Shares is the number of binary shares the position holds.
func (p Position) Shares() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return p.SizeUSD / p.EntryPrice
}

// Clone returns a deep copy so callers never alias ledger-owned pointers.
func (p Position) Clone() Position {
	out := p
	out.Expiry = cloneTime(p.Expiry)
	out.ClosedAt = cloneTime(p.ClosedAt)
	out.ExitPrice = cloneFloat(p.ExitPrice)
	out.RealizedPnlUSD = cloneFloat(p.RealizedPnlUSD)
	out.StartReference = cloneFloat(p.StartReference)
	out.EndReference = cloneFloat(p.EndReference)
	if p.Result != nil {
		r := *p.Result
		out.Result = &r
	}
	return out
}

// LedgerState is the durable record of one tier's bankroll and positions.
type LedgerState struct {
	Tier             Tier       `json:"tier"`
	BankrollStartUSD float64    `json:"bankrollStartUsd"`
	BankrollUSD      float64    `json:"bankrollUsd"`
	Positions        []Position `json:"positions"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Clone returns a deep copy of the state.
func (s LedgerState) Clone() LedgerState {
	out := s
	out.Positions = make([]Position, len(s.Positions))
	for i, p := range s.Positions {
		out.Positions[i] = p.Clone()
	}
	return out
}

// EquityPoint is one sample of a tier's equity curve.
type EquityPoint struct {
	ObservedAt       time.Time `json:"observedAt"`
	BankrollUSD      float64   `json:"bankrollUsd"`
	UnrealizedPnlUSD float64   `json:"unrealizedPnlUsd"`
	TotalPnlUSD      float64   `json:"totalPnlUsd"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Time returns a pointer to t.
func Time(t time.Time) *time.Time { return &t }
