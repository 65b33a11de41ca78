// Package executor turns trade decisions into simulated resting limit
// orders and fills them against the live book.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/polypaper/internal/domain"
)

// Ledger is the slice of a paper ledger the matcher needs.
type Ledger interface {
	Tier() domain.Tier
	BetUSD() float64
	CanOpen(sizeUSD float64) bool
	HasOpen(conditionKey string) bool
	Open(ctx context.Context, p domain.Position) (domain.Position, error)
}

// Quotes returns a best price no older than maxAge.
type Quotes interface {
	GetFresh(instrumentID string, maxAge time.Duration) (domain.BestPrice, bool)
}

// Intent is a decision to back side of window at up to LimitPrice.
type Intent struct {
	Window         domain.EventWindow
	Side           domain.Outcome
	LimitPrice     float64
	ModelPrice     float64
	StartReference *float64
}

// Matcher holds the pending orders of every tier.
type Matcher struct {
	quotes      Quotes
	maxQuoteAge time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu      sync.Mutex
	pending map[string]pendingEntry
}

type pendingEntry struct {
	order    domain.PendingOrder
	question string
	startRef *float64
}

// NewMatcher creates a Matcher filling against quotes no older than
// maxQuoteAge.
func NewMatcher(quotes Quotes, maxQuoteAge time.Duration, logger *slog.Logger, now func() time.Time) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Matcher{
		quotes:      quotes,
		maxQuoteAge: maxQuoteAge,
		logger:      logger.With(slog.String("component", "matcher")),
		now:         now,
		pending:     make(map[string]pendingEntry),
	}
}

func pendingKey(tier domain.Tier, conditionKey string) string {
	return string(tier) + "|" + conditionKey
}

// Place rests an order for l unless l already holds a position or pending
// order for the window, or cannot cover its bet. The order expires when
// the window closes.
func (m *Matcher) Place(l Ledger, in Intent) (domain.PendingOrder, bool) {
	tier := l.Tier()
	condKey := domain.ConditionKey(in.Window.WindowID, tier)
	key := pendingKey(tier, condKey)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pending[key]; ok {
		return domain.PendingOrder{}, false
	}
	if l.HasOpen(condKey) {
		return domain.PendingOrder{}, false
	}
	if !l.CanOpen(l.BetUSD()) {
		m.logger.Debug("bankroll too low, not placing", slog.String("tier", string(tier)))
		return domain.PendingOrder{}, false
	}

	order := domain.PendingOrder{
		Tier:         tier,
		ConditionKey: condKey,
		WindowID:     in.Window.WindowID,
		InstrumentID: in.Window.InstrumentFor(in.Side),
		Outcome:      in.Side,
		LimitPrice:   in.LimitPrice,
		ModelPrice:   in.ModelPrice,
		SizeUSD:      l.BetUSD(),
		CreatedAt:    m.now(),
	}
	if !in.Window.ClosesAt.IsZero() {
		order.ExpiresAt = domain.Time(in.Window.ClosesAt)
	}
	var startRef *float64
	if in.StartReference != nil {
		startRef = domain.Float(*in.StartReference)
	}
	m.pending[key] = pendingEntry{order: order, question: in.Window.Question, startRef: startRef}

	m.logger.Debug("pending order placed",
		slog.String("tier", string(tier)),
		slog.String("condition_key", condKey),
		slog.String("outcome", string(in.Side)),
		slog.Float64("limit_price", in.LimitPrice),
	)
	return order, true
}

// Match tries to fill every pending order of the current window. An order
// fills only when the live ask is at or below its limit, and fills at that
// ask. Orders of other windows, expired orders and orders whose key
// already holds a position are dropped.
func (m *Matcher) Match(ctx context.Context, current domain.EventWindow, ledgers map[domain.Tier]Ledger) []domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	keys := make([]string, 0, len(m.pending))
	for k := range m.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var fills []domain.Position
	for _, key := range keys {
		entry := m.pending[key]
		o := entry.order
		l, ok := ledgers[o.Tier]
		switch {
		case !ok, o.WindowID != current.WindowID, o.Expired(now):
			delete(m.pending, key)
			continue
		case l.HasOpen(o.ConditionKey):
			delete(m.pending, key)
			continue
		}

		bp, fresh := m.quotes.GetFresh(o.InstrumentID, m.maxQuoteAge)
		if !fresh {
			continue
		}
		ask, hasAsk := bp.AskPrice()
		if !hasAsk || ask <= 0 || ask > o.LimitPrice {
			continue
		}
		if !l.CanOpen(o.SizeUSD) {
			delete(m.pending, key)
			continue
		}

		pos, err := l.Open(ctx, domain.Position{
			ID:             fmt.Sprintf("%s:%s:%d", o.Tier, o.WindowID, now.UnixMilli()),
			ConditionKey:   o.ConditionKey,
			InstrumentID:   o.InstrumentID,
			Outcome:        o.Outcome,
			EntryPrice:     ask,
			SizeUSD:        o.SizeUSD,
			OpenedAt:       now,
			Expiry:         o.ExpiresAt,
			Question:       fmt.Sprintf("%s (%s)", entry.question, o.Outcome),
			Note:           fmt.Sprintf("LIMIT fill ask=%.3f <= %.3f model=%.3f", ask, o.LimitPrice, o.ModelPrice),
			StartReference: entry.startRef,
		})
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientBankroll) || errors.Is(err, domain.ErrDuplicatePosition) || errors.Is(err, domain.ErrInvalidPosition) {
				delete(m.pending, key)
			}
			m.logger.Warn("fill rejected",
				slog.String("condition_key", o.ConditionKey),
				slog.String("error", err.Error()),
			)
			continue
		}
		delete(m.pending, key)
		fills = append(fills, pos)
	}
	return fills
}

// DiscardExcept drops every pending order not belonging to windowID and
// returns how many were dropped.
func (m *Matcher) DiscardExcept(windowID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.pending {
		if e.order.WindowID != windowID {
			delete(m.pending, k)
			n++
		}
	}
	if n > 0 {
		m.logger.Info("discarded pending orders of previous window", slog.Int("count", n))
	}
	return n
}

// Clear drops every pending order.
func (m *Matcher) Clear() {
	m.mu.Lock()
	clear(m.pending)
	m.mu.Unlock()
}

// Pending returns the resting orders sorted by tier and condition key.
func (m *Matcher) Pending() []domain.PendingOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PendingOrder, 0, len(m.pending))
	for _, e := range m.pending {
		out = append(out, e.order)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].ConditionKey < out[j].ConditionKey
	})
	return out
}
