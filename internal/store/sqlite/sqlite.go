// Package sqlite implements the paper stores on an embedded SQLite database
// (pure Go driver), the default single-host backend.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/polypaper/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS paper_ledgers (
    tier               TEXT PRIMARY KEY,
    bankroll_start_usd REAL NOT NULL,
    bankroll_usd       REAL NOT NULL CHECK (bankroll_usd >= 0),
    positions          TEXT NOT NULL DEFAULT '[]',
    updated_at         INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS paper_equity (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    tier               TEXT NOT NULL,
    observed_at        INTEGER NOT NULL,
    bankroll_usd       REAL NOT NULL,
    unrealized_pnl_usd REAL NOT NULL,
    total_pnl_usd      REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS paper_equity_tier_id_idx ON paper_equity (tier, id);
CREATE TABLE IF NOT EXISTS market_labels (
    key             TEXT PRIMARY KEY,
    question        TEXT NOT NULL DEFAULT '',
    condition_id    TEXT NOT NULL DEFAULT '',
    instrument_up   TEXT NOT NULL,
    instrument_down TEXT NOT NULL,
    closes_at       INTEGER,
    updated_at      INTEGER NOT NULL
);`

// Store implements domain.PaperStore.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// One connection: SQLite serializes writers anyway and an in-memory
	// database exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadLedger returns the stored state of tier, or domain.ErrNotFound.
func (s *Store) LoadLedger(ctx context.Context, tier domain.Tier) (domain.LedgerState, error) {
	st := domain.LedgerState{Tier: tier}
	var raw string
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT bankroll_start_usd, bankroll_usd, positions, updated_at FROM paper_ledgers WHERE tier = ?`,
		string(tier),
	).Scan(&st.BankrollStartUSD, &st.BankrollUSD, &raw, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LedgerState{}, fmt.Errorf("sqlite: ledger %s: %w", tier, domain.ErrNotFound)
	}
	if err != nil {
		return domain.LedgerState{}, fmt.Errorf("sqlite: load ledger %s: %w", tier, err)
	}
	if err := json.Unmarshal([]byte(raw), &st.Positions); err != nil {
		return domain.LedgerState{}, fmt.Errorf("sqlite: decode positions %s: %w", tier, err)
	}
	if st.Positions == nil {
		st.Positions = []domain.Position{}
	}
	st.UpdatedAt = fromNanos(updated)
	return st, nil
}

// SaveLedger replaces the tier's record.
func (s *Store) SaveLedger(ctx context.Context, st domain.LedgerState) error {
	positions := st.Positions
	if positions == nil {
		positions = []domain.Position{}
	}
	raw, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("sqlite: encode positions %s: %w", st.Tier, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO paper_ledgers (tier, bankroll_start_usd, bankroll_usd, positions, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tier) DO UPDATE SET
			bankroll_start_usd = excluded.bankroll_start_usd,
			bankroll_usd       = excluded.bankroll_usd,
			positions          = excluded.positions,
			updated_at         = excluded.updated_at`,
		string(st.Tier), st.BankrollStartUSD, st.BankrollUSD, string(raw), st.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save ledger %s: %w", st.Tier, err)
	}
	return nil
}

// ResetLedger deletes the tier's record and equity series.
func (s *Store) ResetLedger(ctx context.Context, tier domain.Tier) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin reset %s: %w", tier, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM paper_ledgers WHERE tier = ?`,
		`DELETE FROM paper_equity WHERE tier = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, string(tier)); err != nil {
			return fmt.Errorf("sqlite: reset %s: %w", tier, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit reset %s: %w", tier, err)
	}
	return nil
}

// AppendEquity inserts one point.
func (s *Store) AppendEquity(ctx context.Context, tier domain.Tier, pt domain.EquityPoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO paper_equity (tier, observed_at, bankroll_usd, unrealized_pnl_usd, total_pnl_usd)
		VALUES (?, ?, ?, ?, ?)`,
		string(tier), pt.ObservedAt.UnixNano(), pt.BankrollUSD, pt.UnrealizedPnlUSD, pt.TotalPnlUSD,
	)
	if err != nil {
		return fmt.Errorf("sqlite: append equity %s: %w", tier, err)
	}
	return nil
}

// ReadEquity returns the newest limit points in insertion order.
func (s *Store) ReadEquity(ctx context.Context, tier domain.Tier, limit int) ([]domain.EquityPoint, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT observed_at, bankroll_usd, unrealized_pnl_usd, total_pnl_usd
		FROM paper_equity WHERE tier = ? ORDER BY id DESC LIMIT ?`,
		string(tier), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: read equity %s: %w", tier, err)
	}
	defer rows.Close()

	var out []domain.EquityPoint
	for rows.Next() {
		var pt domain.EquityPoint
		var at int64
		if err := rows.Scan(&at, &pt.BankrollUSD, &pt.UnrealizedPnlUSD, &pt.TotalPnlUSD); err != nil {
			return nil, fmt.Errorf("sqlite: scan equity %s: %w", tier, err)
		}
		pt.ObservedAt = fromNanos(at)
		out = append(out, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: read equity %s: %w", tier, err)
	}
	slices.Reverse(out)
	return out, nil
}

// UpsertLabel inserts or updates the label of one instrument pair.
func (s *Store) UpsertLabel(ctx context.Context, l domain.MarketLabel) error {
	var closes any
	if !l.ClosesAt.IsZero() {
		closes = l.ClosesAt.UnixNano()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO market_labels (key, question, condition_id, instrument_up, instrument_down, closes_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			question        = excluded.question,
			condition_id    = excluded.condition_id,
			instrument_up   = excluded.instrument_up,
			instrument_down = excluded.instrument_down,
			closes_at       = excluded.closes_at,
			updated_at      = excluded.updated_at`,
		l.Key, l.Question, l.ConditionID, l.InstrumentUp, l.InstrumentDn, closes, l.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert label %s: %w", l.Key, err)
	}
	return nil
}

// ListLabels returns labels, most recently updated first.
func (s *Store) ListLabels(ctx context.Context, opts domain.ListOpts) ([]domain.MarketLabel, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	var b strings.Builder
	b.WriteString(`SELECT key, question, condition_id, instrument_up, instrument_down, closes_at, updated_at FROM market_labels`)
	var args []any
	if opts.Since != nil {
		b.WriteString(` WHERE updated_at >= ?`)
		args = append(args, opts.Since.UnixNano())
	}
	b.WriteString(` ORDER BY updated_at DESC, key LIMIT ? OFFSET ?`)
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list labels: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketLabel
	for rows.Next() {
		var l domain.MarketLabel
		var closes sql.NullInt64
		var updated int64
		if err := rows.Scan(&l.Key, &l.Question, &l.ConditionID, &l.InstrumentUp, &l.InstrumentDn, &closes, &updated); err != nil {
			return nil, fmt.Errorf("sqlite: scan label: %w", err)
		}
		if closes.Valid {
			l.ClosesAt = fromNanos(closes.Int64)
		}
		l.UpdatedAt = fromNanos(updated)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list labels: %w", err)
	}
	return out, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
