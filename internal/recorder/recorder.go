// Package recorder samples window and market state into the series log used
// for later analysis and backtesting.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/polypaper/internal/domain"
	"github.com/alanyoungcy/polypaper/internal/store/jsonl"
)

// DefaultCapacity is the number of recent points kept in memory.
const DefaultCapacity = 3000

// State is what the engine exposes to one sample.
type State struct {
	Window     *domain.EventWindow
	StartPrice *float64
	Index      *domain.IndexTick
	Up         *domain.BestPrice
	Down       *domain.BestPrice
}

// Point builds a sample. There is nothing to record without a window.
func Point(now time.Time, s State) (domain.SeriesPoint, bool) {
	if s.Window == nil {
		return domain.SeriesPoint{}, false
	}
	pt := domain.SeriesPoint{
		ObservedAt: now,
		WindowID:   s.Window.WindowID,
		StartPrice: s.StartPrice,
	}
	if !s.Window.ClosesAt.IsZero() {
		closes := s.Window.ClosesAt
		pt.ClosesAt = &closes
	}
	if s.Index != nil && s.Index.Valid() {
		at := s.Index.ObservedAt
		pt.IndexPrice, pt.IndexAt = domain.Float(s.Index.Price), &at
		if s.StartPrice != nil && *s.StartPrice > 0 {
			pt.IndexDeltaPct = domain.Float((s.Index.Price - *s.StartPrice) / *s.StartPrice * 100)
		}
	}
	pt.AskUp, pt.BidUp = prices(s.Up)
	pt.AskDown, pt.BidDown = prices(s.Down)
	if pt.AskUp != nil && pt.AskDown != nil {
		sum := *pt.AskUp + *pt.AskDown
		pt.SumAsk, pt.SumEdge = domain.Float(sum), domain.Float(1-sum)
	}
	return pt, true
}

func prices(bp *domain.BestPrice) (ask, bid *float64) {
	if bp == nil {
		return nil, nil
	}
	if a, ok := bp.AskPrice(); ok {
		ask = domain.Float(a)
	}
	if b, ok := bp.BidPrice(); ok {
		bid = domain.Float(b)
	}
	return ask, bid
}

// Recorder appends points to a JSONL log and keeps the newest ones in
// memory for snapshots and reference lookups.
type Recorder struct {
	log      *jsonl.Log
	capacity int
	logger   *slog.Logger

	mu     sync.RWMutex
	recent []domain.SeriesPoint
}

// New opens a recorder over log and preloads its tail.
func New(log *jsonl.Log, capacity int, logger *slog.Logger) (*Recorder, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	recent, err := jsonl.Tail[domain.SeriesPoint](log, capacity)
	if err != nil {
		return nil, fmt.Errorf("recorder: load tail: %w", err)
	}
	return &Recorder{
		log:      log,
		capacity: capacity,
		logger:   logger.With(slog.String("component", "recorder")),
		recent:   recent,
	}, nil
}

// Log returns the underlying series log.
func (r *Recorder) Log() *jsonl.Log { return r.log }

// Sample records the point built from s, if any.
func (r *Recorder) Sample(now time.Time, s State) (domain.SeriesPoint, bool) {
	pt, ok := Point(now, s)
	if !ok {
		return pt, false
	}
	if err := r.Record(pt); err != nil {
		r.logger.Warn("series append failed", slog.String("error", err.Error()))
	}
	return pt, true
}

// Record appends pt. The in-memory tail is updated even when the write
// fails.
func (r *Recorder) Record(pt domain.SeriesPoint) error {
	r.mu.Lock()
	r.recent = append(r.recent, pt)
	if over := len(r.recent) - r.capacity; over > 0 {
		r.recent = append(r.recent[:0], r.recent[over:]...)
	}
	r.mu.Unlock()

	return r.log.Append(pt)
}

// Tail returns the newest n points, oldest first.
func (r *Recorder) Tail(n int) []domain.SeriesPoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	start := 0
	if n > 0 && len(r.recent) > n {
		start = len(r.recent) - n
	}
	out := make([]domain.SeriesPoint, len(r.recent)-start)
	copy(out, r.recent[start:])
	return out
}

// FirstIndexAtOrAfter returns the first recorded index price observed at or
// after cutoff. Points whose index tick predates cutoff are skipped even
// when the sample itself was taken later.
func (r *Recorder) FirstIndexAtOrAfter(_ context.Context, cutoff time.Time) (domain.IndexTick, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, pt := range r.recent {
		if pt.IndexPrice == nil {
			continue
		}
		at := pt.ObservedAt
		if pt.IndexAt != nil {
			at = *pt.IndexAt
		}
		if at.Before(cutoff) {
			continue
		}
		tick := domain.IndexTick{Price: *pt.IndexPrice, ObservedAt: at, Source: "series"}
		if tick.Valid() {
			return tick, true
		}
	}
	return domain.IndexTick{}, false
}
