package window

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/polypaper/internal/domain"
)

// Lookup resolves an event slug to its window. GammaClient in production.
type Lookup interface {
	GetEventWindow(ctx context.Context, slug string) (domain.EventWindow, error)
}

// Resolver decides which window is current at now.
type Resolver interface {
	Resolve(ctx context.Context, now time.Time) (domain.EventWindow, error)
}

// FixedResolver always resolves one explicit event slug.
type FixedResolver struct {
	Slug   string
	Lookup Lookup
}

func (r FixedResolver) Resolve(ctx context.Context, _ time.Time) (domain.EventWindow, error) {
	w, err := r.Lookup.GetEventWindow(ctx, r.Slug)
	if err != nil {
		return domain.EventWindow{}, fmt.Errorf("window: resolve %s: %w", r.Slug, err)
	}
	return w, nil
}

// ScheduleResolver scans time-bucketed slugs of the form
// "<prefix>-<bucket start unix seconds>" around now.
type ScheduleResolver struct {
	Prefix string
	Bucket time.Duration
	// Search is how many buckets either side of the current one are tried.
	Search int
	Lookup Lookup
}

// Candidates returns the slugs to try at now, oldest bucket first.
func (r ScheduleResolver) Candidates(now time.Time) []string {
	step := int64(r.Bucket / time.Second)
	if step <= 0 {
		step = 1
	}
	base := now.Unix() / step * step
	out := make([]string, 0, 2*r.Search+1)
	for k := -r.Search; k <= r.Search; k++ {
		out = append(out, r.Prefix+"-"+strconv.FormatInt(base+int64(k)*step, 10))
	}
	return out
}

// Resolve returns the first candidate whose close time is after now.
// Candidates that cannot be fetched are skipped.
func (r ScheduleResolver) Resolve(ctx context.Context, now time.Time) (domain.EventWindow, error) {
	var lastErr error
	for _, slug := range r.Candidates(now) {
		w, err := r.Lookup.GetEventWindow(ctx, slug)
		if err != nil {
			if ctx.Err() != nil {
				return domain.EventWindow{}, ctx.Err()
			}
			lastErr = err
			continue
		}
		if w.Open(now) {
			return w, nil
		}
	}
	if lastErr != nil && !errors.Is(lastErr, domain.ErrNotFound) {
		return domain.EventWindow{}, fmt.Errorf("window: no open window for %s: %w (last error: %v)", r.Prefix, domain.ErrNoWindow, lastErr)
	}
	return domain.EventWindow{}, fmt.Errorf("window: no open window for %s: %w", r.Prefix, domain.ErrNoWindow)
}
