package postgres

import (
	"context"
	"fmt"
)

// Store bundles the PostgreSQL stores into a domain.PaperStore.
type Store struct {
	*LedgerStore
	*EquityStore
	*LabelStore
	client *Client
}

// Open connects, optionally migrates, and returns the combined store.
func Open(ctx context.Context, cfg ClientConfig, migrate bool) (*Store, error) {
	client, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := client.RunMigrations(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	pool := client.Pool()
	return &Store{
		LedgerStore: NewLedgerStore(pool),
		EquityStore: NewEquityStore(pool),
		LabelStore:  NewLabelStore(pool),
		client:      client,
	}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}
