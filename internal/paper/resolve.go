package paper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polypaper/internal/domain"
)

// Decide applies the binary rule: no move is a push, otherwise the side
// must match the sign of end - start.
func Decide(side domain.Outcome, start, end float64) Resolution {
	r := Resolution{StartReference: domain.Float(start), EndReference: domain.Float(end)}
	delta := end - start
	switch {
	case delta == 0:
		r.Push = true
	case delta > 0:
		r.Won = side == domain.OutcomeUp
	default:
		r.Won = side == domain.OutcomeDown
	}
	return r
}

// ReferenceFunc returns the first reference tick observed at or after
// cutoff, if the source has one.
type ReferenceFunc func(ctx context.Context, cutoff time.Time) (domain.IndexTick, bool)

// Settler resolves expired binary positions once a post-expiry reference
// price is available.
type Settler struct {
	grace   time.Duration
	sources []ReferenceFunc
	logger  *slog.Logger
	now     func() time.Time
}

// NewSettler creates a Settler. Sources are tried in order.
func NewSettler(grace time.Duration, logger *slog.Logger, now func() time.Time, sources ...ReferenceFunc) *Settler {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Settler{
		grace:   grace,
		sources: sources,
		logger:  logger.With(slog.String("component", "settler")),
		now:     now,
	}
}

// Cutoff is the earliest time an end reference may be taken for p.
func (s *Settler) Cutoff(p domain.Position) (time.Time, bool) {
	if p.Expiry == nil {
		return time.Time{}, false
	}
	return p.Expiry.Add(s.grace), true
}

// Due reports whether p is open and past its expiry plus the grace period.
func (s *Settler) Due(p domain.Position) bool {
	cutoff, ok := s.Cutoff(p)
	return ok && p.IsOpen() && !s.now().Before(cutoff)
}

// EndReference walks the sources for the first tick at or after cutoff. It
// returns domain.ErrNoReference when no source has one yet.
func (s *Settler) EndReference(ctx context.Context, cutoff time.Time) (domain.IndexTick, error) {
	for _, src := range s.sources {
		tick, ok := src(ctx, cutoff)
		if ok && tick.Valid() && !tick.ObservedAt.Before(cutoff) {
			return tick, nil
		}
	}
	return domain.IndexTick{}, fmt.Errorf("paper: end reference at %s: %w", cutoff.Format(time.RFC3339), domain.ErrNoReference)
}

// Settle resolves every due position of l. Positions without a usable end
// reference are left open for a later tick. It returns the positions it
// closed.
func (s *Settler) Settle(ctx context.Context, l *Ledger) []domain.Position {
	var closed []domain.Position
	refs := make(map[time.Time]domain.IndexTick)

	for _, p := range l.OpenPositions() {
		if !s.Due(p) {
			continue
		}
		log := s.logger.With(slog.String("position_id", p.ID), slog.String("tier", string(p.Tier)))
		end, err := s.reference(ctx, p, refs)
		if err != nil {
			log.Debug("deferring settlement", slog.String("reason", err.Error()))
			continue
		}

		res := Decide(p.Outcome, *p.StartReference, end.Price)
		done, err := l.ResolveBinary(ctx, p.ID, res)
		if err != nil {
			log.Warn("resolve failed", slog.String("error", err.Error()))
			continue
		}
		closed = append(closed, done)
	}
	return closed
}

// reference returns the end reference for p, sharing lookups between
// positions with the same cutoff.
func (s *Settler) reference(ctx context.Context, p domain.Position, refs map[time.Time]domain.IndexTick) (domain.IndexTick, error) {
	if p.StartReference == nil {
		return domain.IndexTick{}, fmt.Errorf("paper: position %s has no start reference: %w", p.ID, domain.ErrNoReference)
	}
	cutoff, _ := s.Cutoff(p)
	if end, ok := refs[cutoff]; ok {
		return end, nil
	}
	end, err := s.EndReference(ctx, cutoff)
	if err != nil {
		return domain.IndexTick{}, err
	}
	refs[cutoff] = end
	return end, nil
}
