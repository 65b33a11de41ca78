package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
}

// LedgerStore persists one LedgerState record per tier. SaveLedger must
// replace the record atomically.
type LedgerStore interface {
	LoadLedger(ctx context.Context, tier Tier) (LedgerState, error)
	SaveLedger(ctx context.Context, state LedgerState) error
	ResetLedger(ctx context.Context, tier Tier) error
}

// EquityStore persists the append-only equity series of each tier.
// ReadEquity returns the most recent limit points in chronological order;
// limit <= 0 returns the whole series.
type EquityStore interface {
	AppendEquity(ctx context.Context, tier Tier, pt EquityPoint) error
	ReadEquity(ctx context.Context, tier Tier, limit int) ([]EquityPoint, error)
}

// LabelStore persists the instrument-pair label cache.
type LabelStore interface {
	UpsertLabel(ctx context.Context, label MarketLabel) error
	ListLabels(ctx context.Context, opts ListOpts) ([]MarketLabel, error)
}

// PaperStore bundles every durable store a backend provides.
type PaperStore interface {
	LedgerStore
	EquityStore
	LabelStore
	Close() error
}
