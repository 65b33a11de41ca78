package engine

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/polypaper/internal/domain"
	"github.com/alanyoungcy/polypaper/internal/notify"
)

// emit routes a signal to the opportunity ring and log, the notifier and
// the bus. Book ticks only go to the bus.
func (e *Engine) emit(sig domain.Signal) {
	if sig.Kind() != domain.SignalBookTick {
		opp := sig.Opportunity()
		e.remember(opp)
		if e.deps.Opportunities != nil && !e.dedup.IsDuplicate(opp.DedupKey()) {
			if err := e.deps.Opportunities.Append(opp); err != nil {
				e.logger.Warn("opportunity log append failed", slog.String("error", err.Error()))
			}
		}
		if e.deps.Notifier != nil {
			if m, ok := notify.FromSignal(sig); ok {
				e.deps.Notifier.Enqueue(m)
			}
		}
	}
	e.publish(sig)
}

func (e *Engine) remember(opp domain.Opportunity) {
	e.ringMu.Lock()
	defer e.ringMu.Unlock()
	e.ring = append(e.ring, opp)
	if n := len(e.ring); n > ringSize {
		e.ring = slices.Delete(e.ring, 0, n-ringSize)
	}
}

// publish queues sig for the publisher without blocking; when the queue
// is full the signal is dropped.
func (e *Engine) publish(sig domain.Signal) {
	if e.deps.Bus == nil && e.deps.Mirror == nil {
		return
	}
	select {
	case e.pubCh <- sig:
	default:
		e.logger.Debug("publish queue full, dropping", slog.String("kind", string(sig.Kind())))
	}
}

func (e *Engine) drainPublishQueue() {
	for {
		select {
		case <-e.pubCh:
		default:
			return
		}
	}
}

func (e *Engine) publishLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-e.pubCh:
			e.deliver(ctx, sig)
		}
	}
}

func (e *Engine) deliver(ctx context.Context, sig domain.Signal) {
	if bt, ok := sig.(domain.BookTickSignal); ok && e.deps.Mirror != nil {
		if err := e.deps.Mirror.SetBestPrice(ctx, bt.Price); err != nil {
			e.logger.Debug("price mirror write failed", slog.String("error", err.Error()))
		}
	}
	if e.deps.Bus == nil {
		return
	}
	payload, err := domain.EncodeSignal(sig)
	if err != nil {
		e.logger.Warn("signal encode failed", slog.String("error", err.Error()))
		return
	}
	if err := e.deps.Bus.Publish(ctx, ChannelSignals, payload); err != nil {
		e.logger.Debug("signal publish failed", slog.String("error", err.Error()))
	}
	if sig.Kind() == domain.SignalBookTick {
		return
	}
	if err := e.deps.Bus.StreamAppend(ctx, StreamOpportunities, payload); err != nil {
		e.logger.Debug("opportunity stream append failed", slog.String("error", err.Error()))
	}
}

// tickHistory keeps the most recent index ticks in arrival order so a
// settlement can find the first tick at or after its cutoff.
type tickHistory struct {
	mu    sync.RWMutex
	size  int
	ticks []domain.IndexTick
}

func newTickHistory(size int) *tickHistory {
	return &tickHistory{size: size}
}

func (h *tickHistory) Add(t domain.IndexTick) {
	if !t.Valid() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ticks = append(h.ticks, t)
	if n := len(h.ticks); n > h.size {
		h.ticks = slices.Delete(h.ticks, 0, n-h.size)
	}
}

func (h *tickHistory) FirstAtOrAfter(_ context.Context, cutoff time.Time) (domain.IndexTick, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, t := range h.ticks {
		if !t.ObservedAt.Before(cutoff) {
			return t, true
		}
	}
	return domain.IndexTick{}, false
}

func (h *tickHistory) Reset() {
	h.mu.Lock()
	h.ticks = nil
	h.mu.Unlock()
}
