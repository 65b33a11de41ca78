package postgres

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polypaper/internal/domain"
)

// EquityStore implements domain.EquityStore.
type EquityStore struct {
	pool *pgxpool.Pool
}

// NewEquityStore creates a new EquityStore backed by the given connection pool.
func NewEquityStore(pool *pgxpool.Pool) *EquityStore {
	return &EquityStore{pool: pool}
}

// AppendEquity inserts one point.
func (s *EquityStore) AppendEquity(ctx context.Context, tier domain.Tier, pt domain.EquityPoint) error {
	const query = `
		INSERT INTO paper_equity (tier, observed_at, bankroll_usd, unrealized_pnl_usd, total_pnl_usd)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := s.pool.Exec(ctx, query,
		string(tier), pt.ObservedAt, pt.BankrollUSD, pt.UnrealizedPnlUSD, pt.TotalPnlUSD,
	); err != nil {
		return fmt.Errorf("postgres: append equity %s: %w", tier, err)
	}
	return nil
}

// ReadEquity returns the newest limit points in insertion order.
func (s *EquityStore) ReadEquity(ctx context.Context, tier domain.Tier, limit int) ([]domain.EquityPoint, error) {
	query := `
		SELECT observed_at, bankroll_usd, unrealized_pnl_usd, total_pnl_usd
		FROM paper_equity WHERE tier = $1
		ORDER BY id DESC`
	args := []any{string(tier)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: read equity %s: %w", tier, err)
	}
	defer rows.Close()

	var out []domain.EquityPoint
	for rows.Next() {
		var pt domain.EquityPoint
		if err := rows.Scan(&pt.ObservedAt, &pt.BankrollUSD, &pt.UnrealizedPnlUSD, &pt.TotalPnlUSD); err != nil {
			return nil, fmt.Errorf("postgres: scan equity %s: %w", tier, err)
		}
		out = append(out, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: read equity %s: %w", tier, err)
	}
	slices.Reverse(out)
	return out, nil
}
