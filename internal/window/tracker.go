// Package window tracks which short-lived binary event is current and
// detects rollovers from one window to the next.
package window

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/polypaper/internal/domain"
)

// Transition describes the effect of applying a resolved window.
type Transition struct {
	Previous       *domain.EventWindow
	Current        domain.EventWindow
	StartReference *domain.IndexTick
	// Rolled is true when the instrument pair changed.
	Rolled bool
}

// Tracker holds the current window and its start reference.
type Tracker struct {
	resolver Resolver
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	current  *domain.EventWindow
	startRef *domain.IndexTick
	latest   *domain.IndexTick
}

// NewTracker creates a Tracker with no current window.
func NewTracker(resolver Resolver, logger *slog.Logger) *Tracker {
	return NewTrackerWithClock(resolver, logger, time.Now)
}

// NewTrackerWithClock is NewTracker with an injected clock.
func NewTrackerWithClock(resolver Resolver, logger *slog.Logger, now func() time.Time) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		resolver: resolver,
		logger:   logger.With(slog.String("component", "window_tracker")),
		now:      now,
	}
}

// Resolve asks the resolver for the current window. It performs network I/O
// and does not touch tracker state.
func (t *Tracker) Resolve(ctx context.Context) (domain.EventWindow, error) {
	return t.resolver.Resolve(ctx, t.now())
}

// Apply installs w as the current window. When the instrument pair differs
// from the previous window the latest index tick becomes the start
// reference.
func (t *Tracker) Apply(w domain.EventWindow) Transition {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr := Transition{Current: w}
	if t.current != nil {
		prev := *t.current
		tr.Previous = &prev
		if prev.SamePair(w) {
			t.current = &w
			tr.StartReference = cloneTick(t.startRef)
			return tr
		}
	}

	tr.Rolled = true
	t.current = &w
	t.startRef = cloneTick(t.latest)
	tr.StartReference = cloneTick(t.startRef)

	attrs := []any{
		slog.String("window", w.WindowID),
		slog.Time("closes_at", w.ClosesAt),
	}
	if t.startRef != nil {
		attrs = append(attrs, slog.Float64("start_reference", t.startRef.Price))
	}
	t.logger.Info("window rolled over", attrs...)
	return tr
}

// ObserveIndex records the latest index tick. If the current window has no
// start reference yet, the tick becomes it.
func (t *Tracker) ObserveIndex(tick domain.IndexTick) {
	if !tick.Valid() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latest = &tick
	if t.current != nil && t.startRef == nil {
		ref := tick
		t.startRef = &ref
	}
}

// Current returns the current window while it is still open.
func (t *Tracker) Current() (domain.EventWindow, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil || !t.current.Open(t.now()) {
		return domain.EventWindow{}, false
	}
	return *t.current, true
}

// Last returns the most recently applied window, open or not.
func (t *Tracker) Last() (domain.EventWindow, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return domain.EventWindow{}, false
	}
	return *t.current, true
}

// StartReference returns the index tick recorded when the current window
// was first seen.
func (t *Tracker) StartReference() (domain.IndexTick, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.startRef == nil {
		return domain.IndexTick{}, false
	}
	return *t.startRef, true
}

// NextWait returns how long to sleep before the next refresh: interval, or
// one second past the current close if that comes sooner.
func (t *Tracker) NextWait(interval time.Duration) time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return interval
	}
	untilClose := t.current.ClosesAt.Sub(t.now()) + time.Second
	if untilClose > 0 && untilClose < interval {
		return untilClose
	}
	return interval
}

// Reset forgets the current window and references.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.current, t.startRef, t.latest = nil, nil, nil
	t.mu.Unlock()
}

func cloneTick(p *domain.IndexTick) *domain.IndexTick {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
