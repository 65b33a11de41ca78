// Package arbitrage derives trading signals from the live book and the index
// price: the sum-to-one edge of a complementary pair and the model-lag
// signal of the current event window. Both are pure functions of their
// inputs.
package arbitrage

import (
	"math"
	"time"

	"github.com/alanyoungcy/polypaper/internal/domain"
)

const (
	maxBias  = 0.25
	minLimit = 0.01
)

// Rejection reasons reported on model-lag signals.
const (
	ReasonEntryTooHigh   = "entry above max price"
	ReasonModelEdgeSmall = "model edge below minimum"
)

// Config holds the detector thresholds.
type Config struct {
	MinEdge       float64
	BiasK         float64
	MinLag        float64
	MaxEntryPrice float64
	MinModelEdge  float64
}

// Detector evaluates signals against Config.
type Detector struct {
	cfg Config
}

// NewDetector creates a Detector.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Config returns the detector thresholds.
func (d *Detector) Config() Config { return d.cfg }

// SumToOne reports an edge when both asks are present and
// 1 - (askUp + askDown) >= MinEdge.
func (d *Detector) SumToOne(pair domain.Pair, askUp, askDown *float64, now time.Time) (domain.SumToOneSignal, bool) {
	if !usable(askUp) || !usable(askDown) {
		return domain.SumToOneSignal{}, false
	}
	sum := *askUp + *askDown
	edge := 1 - sum
	if edge < d.cfg.MinEdge {
		return domain.SumToOneSignal{}, false
	}
	return domain.SumToOneSignal{
		Pair:       pair,
		AskUp:      *askUp,
		AskDown:    *askDown,
		Sum:        sum,
		Edge:       edge,
		ObservedAt: now,
	}, true
}

// LagInput is the state a model-lag evaluation needs.
type LagInput struct {
	WindowID   string
	IndexPrice float64
	StartPrice float64
	AskUp      *float64
	AskDown    *float64
	Now        time.Time
}

// ModelUp maps the index move since the window start to an UP probability:
// 0.5 + clamp(delta*k, -0.25, 0.25).
func ModelUp(index, start, k float64) (delta, modelUp float64) {
	delta = (index - start) / start
	return delta, 0.5 + Clamp(delta*k, -maxBias, maxBias)
}

// ModelLag compares the model UP probability with the live asks. ok is false
// when inputs are missing or |lag| is below MinLag. A signal that fails a
// safety rail is returned with Accepted=false and a Reason.
func (d *Detector) ModelLag(in LagInput) (sig domain.ModelLagSignal, ok bool) {
	if !finitePositive(in.IndexPrice) || !finitePositive(in.StartPrice) {
		return sig, false
	}
	if !usable(in.AskUp) || !usable(in.AskDown) {
		return sig, false
	}

	delta, modelUp := ModelUp(in.IndexPrice, in.StartPrice, d.cfg.BiasK)
	lag := modelUp - *in.AskUp
	if math.Abs(lag) < d.cfg.MinLag {
		return sig, false
	}

	side := domain.OutcomeUp
	pSide, entry := modelUp, *in.AskUp
	if lag <= 0 {
		side = domain.OutcomeDown
		pSide, entry = 1-modelUp, *in.AskDown
	}

	sig = domain.ModelLagSignal{
		WindowID:   in.WindowID,
		Side:       side,
		IndexPrice: in.IndexPrice,
		StartPrice: in.StartPrice,
		Delta:      delta,
		ModelUp:    modelUp,
		AskUp:      *in.AskUp,
		AskDown:    domain.Float(*in.AskDown),
		Lag:        lag,
		ModelPrice: pSide,
		EntryAsk:   entry,
		ModelEdge:  pSide - entry,
		Accepted:   true,
		ObservedAt: in.Now,
	}
	switch {
	case entry > d.cfg.MaxEntryPrice:
		sig.Accepted, sig.Reason = false, ReasonEntryTooHigh
	case sig.ModelEdge < d.cfg.MinModelEdge:
		sig.Accepted, sig.Reason = false, ReasonModelEdgeSmall
	}
	return sig, true
}

// LimitPrice is the resting limit for an order on a side the model prices
// at modelPrice: modelPrice minus the edge cushion, kept within
// [0.01, MaxEntryPrice].
func (d *Detector) LimitPrice(modelPrice float64) float64 {
	return Clamp(modelPrice-d.cfg.MinModelEdge, minLimit, d.cfg.MaxEntryPrice)
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func usable(p *float64) bool {
	return p != nil && finitePositive(*p)
}

func finitePositive(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f > 0
}
