package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// SignalKind tags the concrete variant carried by a Signal.
type SignalKind string

const (
	SignalSumToOne   SignalKind = "sum_to_one"
	SignalModelLag   SignalKind = "model_lag"
	SignalFill       SignalKind = "fill"
	SignalResolution SignalKind = "resolution"
	SignalRollover   SignalKind = "rollover"
	SignalBookTick   SignalKind = "book_tick"
)

// Signal is the closed set of events the engine emits. Every variant can be
// summarised as an Opportunity for the recent-opportunities view.
type Signal interface {
	Kind() SignalKind
	At() time.Time
	Opportunity() Opportunity
	isSignal()
}

// Opportunity is the flat, loggable summary of a signal.
type Opportunity struct {
	ObservedAt time.Time  `json:"observedAt"`
	Kind       SignalKind `json:"kind"`
	MarketID   string     `json:"marketId"`
	YesPrice   *float64   `json:"yesPrice,omitempty"`
	NoPrice    *float64   `json:"noPrice,omitempty"`
	SumPrice   *float64   `json:"sumPrice,omitempty"`
	EdgeUSD    *float64   `json:"edgeUsd,omitempty"`
	Note       string     `json:"note"`
}

// DedupKey identifies opportunities with identical content regardless of
// when they were observed.
func (o Opportunity) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", o.MarketID, fmtPtr(o.YesPrice), fmtPtr(o.NoPrice), fmtPtr(o.SumPrice), o.Note)
}

func fmtPtr(f *float64) string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%.4f", *f)
}

// SumToOneSignal fires when the asks of a complementary pair sum below one
// by at least the configured edge.
type SumToOneSignal struct {
	Pair       Pair      `json:"pair"`
	AskUp      float64   `json:"askUp"`
	AskDown    float64   `json:"askDown"`
	Sum        float64   `json:"sum"`
	Edge       float64   `json:"edge"`
	ObservedAt time.Time `json:"observedAt"`
}

func (s SumToOneSignal) Kind() SignalKind { return SignalSumToOne }
func (s SumToOneSignal) At() time.Time    { return s.ObservedAt }
func (SumToOneSignal) isSignal()          {}

func (s SumToOneSignal) Opportunity() Opportunity {
	return Opportunity{
		ObservedAt: s.ObservedAt,
		Kind:       SignalSumToOne,
		MarketID:   s.Pair.Key,
		YesPrice:   Float(s.AskUp),
		NoPrice:    Float(s.AskDown),
		SumPrice:   Float(s.Sum),
		EdgeUSD:    Float(s.Edge),
		Note:       "sum-to-one",
	}
}

// ModelLagSignal compares the index-implied UP probability with the live
// UP ask. Rejected candidates are still emitted with Accepted=false.
type ModelLagSignal struct {
	WindowID   string    `json:"windowId"`
	Side       Outcome   `json:"side"`
	IndexPrice float64   `json:"indexPrice"`
	StartPrice float64   `json:"startPrice"`
	Delta      float64   `json:"delta"`
	ModelUp    float64   `json:"modelUp"`
	AskUp      float64   `json:"askUp"`
	AskDown    *float64  `json:"askDown,omitempty"`
	Lag        float64   `json:"lag"`
	ModelPrice float64   `json:"modelPrice"`
	EntryAsk   float64   `json:"entryAsk"`
	ModelEdge  float64   `json:"modelEdge"`
	Accepted   bool      `json:"accepted"`
	Reason     string    `json:"reason,omitempty"`
	ObservedAt time.Time `json:"observedAt"`
}

func (s ModelLagSignal) Kind() SignalKind { return SignalModelLag }
func (s ModelLagSignal) At() time.Time    { return s.ObservedAt }
func (ModelLagSignal) isSignal()          {}

func (s ModelLagSignal) Opportunity() Opportunity {
	note := fmt.Sprintf("model-lag %s", s.Side)
	if !s.Accepted {
		note += " rejected: " + s.Reason
	}
	o := Opportunity{
		ObservedAt: s.ObservedAt,
		Kind:       SignalModelLag,
		MarketID:   s.WindowID,
		YesPrice:   Float(s.AskUp),
		NoPrice:    s.AskDown,
		EdgeUSD:    Float(s.ModelEdge),
		Note:       note,
	}
	if s.AskDown != nil {
		o.SumPrice = Float(s.AskUp + *s.AskDown)
	}
	return o
}

// FillSignal reports a pending order that was filled into a new position.
type FillSignal struct {
	Position Position `json:"position"`
}

func (s FillSignal) Kind() SignalKind { return SignalFill }
func (s FillSignal) At() time.Time    { return s.Position.OpenedAt }
func (FillSignal) isSignal()          {}

func (s FillSignal) Opportunity() Opportunity {
	return Opportunity{
		ObservedAt: s.Position.OpenedAt,
		Kind:       SignalFill,
		MarketID:   s.Position.ConditionKey,
		YesPrice:   Float(s.Position.EntryPrice),
		EdgeUSD:    Float(s.Position.SizeUSD),
		Note:       fmt.Sprintf("paper fill %s %s", s.Position.Tier, s.Position.Outcome),
	}
}

// ResolutionSignal reports a position settled by binary resolution.
type ResolutionSignal struct {
	Position Position `json:"position"`
}

func (s ResolutionSignal) Kind() SignalKind { return SignalResolution }
func (s ResolutionSignal) At() time.Time {
	if s.Position.ClosedAt != nil {
		return *s.Position.ClosedAt
	}
	return time.Time{}
}
func (ResolutionSignal) isSignal() {}

func (s ResolutionSignal) Opportunity() Opportunity {
	result := ""
	if s.Position.Result != nil {
		result = string(*s.Position.Result)
	}
	return Opportunity{
		ObservedAt: s.At(),
		Kind:       SignalResolution,
		MarketID:   s.Position.ConditionKey,
		YesPrice:   s.Position.ExitPrice,
		EdgeUSD:    s.Position.RealizedPnlUSD,
		Note:       fmt.Sprintf("resolved %s %s %s", s.Position.Tier, s.Position.Outcome, result),
	}
}

// RolloverSignal reports that the tracked series moved to a new window.
type RolloverSignal struct {
	Previous       *EventWindow `json:"previous,omitempty"`
	Current        EventWindow  `json:"current"`
	StartReference *float64     `json:"startReference,omitempty"`
	ObservedAt     time.Time    `json:"observedAt"`
}

func (s RolloverSignal) Kind() SignalKind { return SignalRollover }
func (s RolloverSignal) At() time.Time    { return s.ObservedAt }
func (RolloverSignal) isSignal()          {}

func (s RolloverSignal) Opportunity() Opportunity {
	return Opportunity{
		ObservedAt: s.ObservedAt,
		Kind:       SignalRollover,
		MarketID:   s.Current.WindowID,
		YesPrice:   s.StartReference,
		Note:       "window rollover",
	}
}

// BookTickSignal carries a raw best-price update. It is published to the
// bus but never shown as an opportunity.
type BookTickSignal struct {
	Price BestPrice `json:"price"`
}

func (s BookTickSignal) Kind() SignalKind { return SignalBookTick }
func (s BookTickSignal) At() time.Time    { return s.Price.ObservedAt }
func (BookTickSignal) isSignal()          {}

func (s BookTickSignal) Opportunity() Opportunity {
	o := Opportunity{
		ObservedAt: s.Price.ObservedAt,
		Kind:       SignalBookTick,
		MarketID:   s.Price.InstrumentID,
		Note:       "book tick",
	}
	if p, ok := s.Price.BidPrice(); ok {
		o.YesPrice = Float(p)
	}
	if p, ok := s.Price.AskPrice(); ok {
		o.NoPrice = Float(p)
	}
	return o
}

// SignalEnvelope is the wire form of a signal on the bus and in logs.
type SignalEnvelope struct {
	Kind SignalKind      `json:"kind"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// EncodeSignal marshals a signal into its tagged envelope.
func EncodeSignal(s Signal) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("domain: encode %s signal: %w", s.Kind(), err)
	}
	return json.Marshal(SignalEnvelope{Kind: s.Kind(), At: s.At(), Data: data})
}

// DecodeSignal parses a tagged envelope back into its concrete variant.
func DecodeSignal(raw []byte) (Signal, error) {
	var env SignalEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("domain: decode signal envelope: %w", err)
	}
	var (
		sig Signal
		err error
	)
	switch env.Kind {
	case SignalSumToOne:
		var v SumToOneSignal
		err = json.Unmarshal(env.Data, &v)
		sig = v
	case SignalModelLag:
		var v ModelLagSignal
		err = json.Unmarshal(env.Data, &v)
		sig = v
	case SignalFill:
		var v FillSignal
		err = json.Unmarshal(env.Data, &v)
		sig = v
	case SignalResolution:
		var v ResolutionSignal
		err = json.Unmarshal(env.Data, &v)
		sig = v
	case SignalRollover:
		var v RolloverSignal
		err = json.Unmarshal(env.Data, &v)
		sig = v
	case SignalBookTick:
		var v BookTickSignal
		err = json.Unmarshal(env.Data, &v)
		sig = v
	default:
		return nil, fmt.Errorf("domain: unknown signal kind %q", env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("domain: decode %s signal: %w", env.Kind, err)
	}
	return sig, nil
}
