package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polypaper/internal/domain"
)

// LabelStore implements domain.LabelStore.
type LabelStore struct {
	pool *pgxpool.Pool
}

// NewLabelStore creates a new LabelStore backed by the given connection pool.
func NewLabelStore(pool *pgxpool.Pool) *LabelStore {
	return &LabelStore{pool: pool}
}

// UpsertLabel inserts or updates the label of one instrument pair.
func (s *LabelStore) UpsertLabel(ctx context.Context, l domain.MarketLabel) error {
	const query = `
		INSERT INTO market_labels (
			key, question, condition_id, instrument_up, instrument_down, closes_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO UPDATE SET
			question        = EXCLUDED.question,
			condition_id    = EXCLUDED.condition_id,
			instrument_up   = EXCLUDED.instrument_up,
			instrument_down = EXCLUDED.instrument_down,
			closes_at       = EXCLUDED.closes_at,
			updated_at      = EXCLUDED.updated_at`

	var closes *time.Time
	if !l.ClosesAt.IsZero() {
		closes = &l.ClosesAt
	}
	if _, err := s.pool.Exec(ctx, query,
		l.Key, l.Question, l.ConditionID, l.InstrumentUp, l.InstrumentDn, closes, l.UpdatedAt,
	); err != nil {
		return fmt.Errorf("postgres: upsert label %s: %w", l.Key, err)
	}
	return nil
}

// ListLabels returns labels, most recently updated first.
func (s *LabelStore) ListLabels(ctx context.Context, opts domain.ListOpts) ([]domain.MarketLabel, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT key, question, condition_id, instrument_up, instrument_down, closes_at, updated_at
		FROM market_labels`
	args := []any{limit, opts.Offset}
	if opts.Since != nil {
		query += ` WHERE updated_at >= $3`
		args = append(args, *opts.Since)
	}
	query += ` ORDER BY updated_at DESC, key LIMIT $1 OFFSET $2`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list labels: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketLabel
	for rows.Next() {
		var l domain.MarketLabel
		var closes *time.Time
		if err := rows.Scan(&l.Key, &l.Question, &l.ConditionID, &l.InstrumentUp, &l.InstrumentDn, &closes, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan label: %w", err)
		}
		if closes != nil {
			l.ClosesAt = *closes
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list labels: %w", err)
	}
	return out, nil
}
