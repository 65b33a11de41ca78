// Package paper holds the simulated bankrolls. A Ledger owns one tier's
// bankroll and positions; it is the only code that mutates either.
package paper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polypaper/internal/domain"
)

// Store is the durable backing of a Ledger.
type Store interface {
	domain.LedgerStore
	domain.EquityStore
}

// Config describes one tier.
type Config struct {
	Tier             domain.Tier
	BetUSD           float64
	BankrollStartUSD float64
}

// Ledger is one tier's bankroll and position book. Every mutation is
// persisted before it becomes visible; a failed save leaves the ledger
// unchanged.
type Ledger struct {
	cfg    Config
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	state domain.LedgerState
}

// Load restores the tier from store, creating a fresh bankroll when none is
// stored. A stored ledger with no positions whose starting bankroll differs
// from cfg is reset to cfg.
func Load(ctx context.Context, cfg Config, store Store, logger *slog.Logger) (*Ledger, error) {
	return LoadWithClock(ctx, cfg, store, logger, time.Now)
}

// LoadWithClock is Load with an injected clock.
func LoadWithClock(ctx context.Context, cfg Config, store Store, logger *slog.Logger, now func() time.Time) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		cfg:    cfg,
		store:  store,
		logger: logger.With(slog.String("component", "ledger"), slog.String("tier", string(cfg.Tier))),
		now:    now,
	}

	state, err := store.LoadLedger(ctx, cfg.Tier)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		state = l.fresh()
		if err := store.SaveLedger(ctx, state); err != nil {
			return nil, fmt.Errorf("paper: init %s: %w", cfg.Tier, err)
		}
	case err != nil:
		return nil, fmt.Errorf("paper: load %s: %w", cfg.Tier, err)
	case len(state.Positions) == 0 && state.BankrollStartUSD != cfg.BankrollStartUSD:
		l.logger.Info("bankroll start changed, resetting empty ledger",
			slog.Float64("stored", state.BankrollStartUSD),
			slog.Float64("configured", cfg.BankrollStartUSD),
		)
		state = l.fresh()
		if err := store.SaveLedger(ctx, state); err != nil {
			return nil, fmt.Errorf("paper: reset %s: %w", cfg.Tier, err)
		}
	}
	state.Tier = cfg.Tier
	l.state = state
	return l, nil
}

func (l *Ledger) fresh() domain.LedgerState {
	return domain.LedgerState{
		Tier:             l.cfg.Tier,
		BankrollStartUSD: l.cfg.BankrollStartUSD,
		BankrollUSD:      l.cfg.BankrollStartUSD,
		Positions:        []domain.Position{},
		UpdatedAt:        l.now(),
	}
}

func (l *Ledger) Tier() domain.Tier { return l.cfg.Tier }

func (l *Ledger) BetUSD() float64 { return l.cfg.BetUSD }

// CanOpen reports whether the bankroll covers sizeUSD.
func (l *Ledger) CanOpen(sizeUSD float64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.BankrollUSD >= sizeUSD
}

// HasOpen reports whether an open position exists for conditionKey.
func (l *Ledger) HasOpen(conditionKey string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hasOpenLocked(conditionKey)
}

func (l *Ledger) hasOpenLocked(conditionKey string) bool {
	for _, p := range l.state.Positions {
		if p.IsOpen() && p.ConditionKey == conditionKey {
			return true
		}
	}
	return false
}

// Open debits the bankroll by p.SizeUSD and records p as open. It refuses
// positions the bankroll cannot cover and a second open position for the
// same condition key.
func (l *Ledger) Open(ctx context.Context, p domain.Position) (domain.Position, error) {
	if !validPrice(p.EntryPrice) || p.EntryPrice > 1 || !(p.SizeUSD > 0) || math.IsInf(p.SizeUSD, 0) {
		return domain.Position{}, fmt.Errorf("paper: open entry=%v size=%v: %w", p.EntryPrice, p.SizeUSD, domain.ErrInvalidPosition)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.BankrollUSD < p.SizeUSD {
		return domain.Position{}, fmt.Errorf("paper: open %s: %w", p.ConditionKey, domain.ErrInsufficientBankroll)
	}
	if l.hasOpenLocked(p.ConditionKey) {
		return domain.Position{}, fmt.Errorf("paper: open %s: %w", p.ConditionKey, domain.ErrDuplicatePosition)
	}

	now := l.now()
	p = p.Clone()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Tier = l.cfg.Tier
	p.Status = domain.PositionStatusOpen
	if p.OpenedAt.IsZero() {
		p.OpenedAt = now
	}
	p.ClosedAt, p.ExitPrice, p.RealizedPnlUSD, p.Result = nil, nil, nil, nil

	next := l.state.Clone()
	next.BankrollUSD = sub(next.BankrollUSD, p.SizeUSD)
	next.Positions = append(next.Positions, p)
	next.UpdatedAt = now
	if err := l.commit(ctx, next); err != nil {
		return domain.Position{}, err
	}

	l.logger.Info("position opened",
		slog.String("position_id", p.ID),
		slog.String("condition_key", p.ConditionKey),
		slog.String("outcome", string(p.Outcome)),
		slog.Float64("entry_price", p.EntryPrice),
		slog.Float64("size_usd", p.SizeUSD),
		slog.Float64("bankroll_usd", next.BankrollUSD),
	)
	return p.Clone(), nil
}

// Close settles an open position at a mark-to-market price:
// value = size * exitPrice, realized = value - size.
func (l *Ledger) Close(ctx context.Context, id string, exitPrice float64) (domain.Position, error) {
	if math.IsNaN(exitPrice) || math.IsInf(exitPrice, 0) || exitPrice < 0 {
		return domain.Position{}, fmt.Errorf("paper: close %s at %v: %w", id, exitPrice, domain.ErrInvalidPosition)
	}
	return l.settle(ctx, id, func(p *domain.Position) decimal.Decimal {
		p.ExitPrice = domain.Float(exitPrice)
		return decimal.NewFromFloat(p.SizeUSD).Mul(decimal.NewFromFloat(exitPrice))
	})
}

// Resolution is the outcome of a binary window for one position.
type Resolution struct {
	Won            bool
	Push           bool
	StartReference *float64
	EndReference   *float64
}

// ResolveBinary settles an open position at payout-per-share: a win pays
// size/entry, a loss pays nothing and a push refunds size.
func (l *Ledger) ResolveBinary(ctx context.Context, id string, r Resolution) (domain.Position, error) {
	return l.settle(ctx, id, func(p *domain.Position) decimal.Decimal {
		size := decimal.NewFromFloat(p.SizeUSD)
		var value decimal.Decimal
		var result domain.Result
		switch {
		case r.Push:
			value, result = size, domain.ResultPush
			p.ExitPrice = domain.Float(p.EntryPrice)
		case r.Won:
			value, result = size.Div(decimal.NewFromFloat(p.EntryPrice)), domain.ResultWin
			p.ExitPrice = domain.Float(1)
		default:
			value, result = decimal.Zero, domain.ResultLoss
			p.ExitPrice = domain.Float(0)
		}
		p.Result = &result
		if r.StartReference != nil {
			p.StartReference = domain.Float(*r.StartReference)
		}
		if r.EndReference != nil {
			p.EndReference = domain.Float(*r.EndReference)
		}
		return value
	})
}

// settle closes position id. apply fills exit fields and returns the value
// credited back to the bankroll.
func (l *Ledger) settle(ctx context.Context, id string, apply func(*domain.Position) decimal.Decimal) (domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := slices.IndexFunc(l.state.Positions, func(p domain.Position) bool { return p.ID == id })
	if idx < 0 {
		return domain.Position{}, fmt.Errorf("paper: position %s: %w", id, domain.ErrNotFound)
	}
	if !l.state.Positions[idx].IsOpen() {
		return domain.Position{}, fmt.Errorf("paper: position %s: %w", id, domain.ErrPositionClosed)
	}

	now := l.now()
	next := l.state.Clone()
	p := &next.Positions[idx]
	value := apply(p)
	pnl := value.Sub(decimal.NewFromFloat(p.SizeUSD)).InexactFloat64()
	p.Status = domain.PositionStatusClosed
	p.ClosedAt = domain.Time(now)
	p.RealizedPnlUSD = domain.Float(pnl)

	next.BankrollUSD = decimal.NewFromFloat(next.BankrollUSD).Add(value).InexactFloat64()
	next.UpdatedAt = now
	if err := l.commit(ctx, next); err != nil {
		return domain.Position{}, err
	}

	attrs := []any{
		slog.String("position_id", p.ID),
		slog.Float64("realized_pnl_usd", pnl),
		slog.Float64("bankroll_usd", next.BankrollUSD),
	}
	if p.Result != nil {
		attrs = append(attrs, slog.String("result", string(*p.Result)))
	}
	l.logger.Info("position closed", attrs...)
	return p.Clone(), nil
}

func (l *Ledger) commit(ctx context.Context, next domain.LedgerState) error {
	if err := l.store.SaveLedger(ctx, next); err != nil {
		return fmt.Errorf("paper: save %s: %w", l.cfg.Tier, err)
	}
	l.state = next
	return nil
}

// State returns a deep copy of the ledger state.
func (l *Ledger) State() domain.LedgerState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Clone()
}

// Positions returns every position, newest first.
func (l *Ledger) Positions() []domain.Position {
	st := l.State()
	out := st.Positions
	slices.SortStableFunc(out, func(a, b domain.Position) int {
		return b.OpenedAt.Compare(a.OpenedAt)
	})
	return out
}

// OpenPositions returns the open positions in opening order.
func (l *Ledger) OpenPositions() []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.Position
	for _, p := range l.state.Positions {
		if p.IsOpen() {
			out = append(out, p.Clone())
		}
	}
	return out
}

// OpenCount is the number of open positions.
func (l *Ledger) OpenCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, p := range l.state.Positions {
		if p.IsOpen() {
			n++
		}
	}
	return n
}

// Reset discards every position and restores the starting bankroll.
func (l *Ledger) Reset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.ResetLedger(ctx, l.cfg.Tier); err != nil {
		return fmt.Errorf("paper: reset %s: %w", l.cfg.Tier, err)
	}
	if err := l.commit(ctx, l.fresh()); err != nil {
		return err
	}
	l.logger.Info("ledger reset", slog.Float64("bankroll_usd", l.cfg.BankrollStartUSD))
	return nil
}

// AppendEquity appends one point to the tier's equity series.
func (l *Ledger) AppendEquity(ctx context.Context, pt domain.EquityPoint) error {
	if err := l.store.AppendEquity(ctx, l.cfg.Tier, pt); err != nil {
		return fmt.Errorf("paper: append equity %s: %w", l.cfg.Tier, err)
	}
	return nil
}

// ReadEquity returns the most recent limit points, oldest first.
func (l *Ledger) ReadEquity(ctx context.Context, limit int) ([]domain.EquityPoint, error) {
	pts, err := l.store.ReadEquity(ctx, l.cfg.Tier, limit)
	if err != nil {
		return nil, fmt.Errorf("paper: read equity %s: %w", l.cfg.Tier, err)
	}
	return pts, nil
}

func sub(a, b float64) float64 {
	return decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).InexactFloat64()
}

func validPrice(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p > 0
}
