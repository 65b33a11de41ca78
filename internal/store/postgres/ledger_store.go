package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polypaper/internal/domain"
)

// LedgerStore implements domain.LedgerStore. Each tier is one row; the
// position list is stored as JSONB so a save replaces the whole record in
// one statement.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// LoadLedger returns the stored state of tier, or domain.ErrNotFound.
func (s *LedgerStore) LoadLedger(ctx context.Context, tier domain.Tier) (domain.LedgerState, error) {
	const query = `
		SELECT bankroll_start_usd, bankroll_usd, positions, updated_at
		FROM paper_ledgers WHERE tier = $1`

	st := domain.LedgerState{Tier: tier}
	var raw []byte
	err := s.pool.QueryRow(ctx, query, string(tier)).Scan(
		&st.BankrollStartUSD, &st.BankrollUSD, &raw, &st.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LedgerState{}, fmt.Errorf("postgres: ledger %s: %w", tier, domain.ErrNotFound)
	}
	if err != nil {
		return domain.LedgerState{}, fmt.Errorf("postgres: load ledger %s: %w", tier, err)
	}
	if err := json.Unmarshal(raw, &st.Positions); err != nil {
		return domain.LedgerState{}, fmt.Errorf("postgres: decode positions %s: %w", tier, err)
	}
	if st.Positions == nil {
		st.Positions = []domain.Position{}
	}
	return st, nil
}

// SaveLedger upserts the full state of a tier.
func (s *LedgerStore) SaveLedger(ctx context.Context, st domain.LedgerState) error {
	positions := st.Positions
	if positions == nil {
		positions = []domain.Position{}
	}
	raw, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("postgres: encode positions %s: %w", st.Tier, err)
	}

	const query = `
		INSERT INTO paper_ledgers (tier, bankroll_start_usd, bankroll_usd, positions, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tier) DO UPDATE SET
			bankroll_start_usd = EXCLUDED.bankroll_start_usd,
			bankroll_usd       = EXCLUDED.bankroll_usd,
			positions          = EXCLUDED.positions,
			updated_at         = EXCLUDED.updated_at`

	if _, err := s.pool.Exec(ctx, query,
		string(st.Tier), st.BankrollStartUSD, st.BankrollUSD, raw, st.UpdatedAt,
	); err != nil {
		return fmt.Errorf("postgres: save ledger %s: %w", st.Tier, err)
	}
	return nil
}

// ResetLedger deletes the tier's ledger row and equity series.
func (s *LedgerStore) ResetLedger(ctx context.Context, tier domain.Tier) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin reset %s: %w", tier, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM paper_ledgers WHERE tier = $1`, string(tier)); err != nil {
		return fmt.Errorf("postgres: reset ledger %s: %w", tier, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM paper_equity WHERE tier = $1`, string(tier)); err != nil {
		return fmt.Errorf("postgres: reset equity %s: %w", tier, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit reset %s: %w", tier, err)
	}
	return nil
}
