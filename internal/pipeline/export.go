package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alanyoungcy/polypaper/internal/domain"
)

// ExportStore is what ExportLedgers reads.
type ExportStore interface {
	domain.LedgerStore
	domain.EquityStore
}

// ExportLedgers writes each tier's ledger record as "ledger-<tier>.json" and
// its equity series as "equity-<tier>.jsonl" to sink. Tiers without a stored
// record are skipped. It returns the archive locations.
func ExportLedgers(ctx context.Context, store ExportStore, sink domain.ArchiveSink, tiers []domain.Tier) ([]string, error) {
	var locations []string
	for _, tier := range tiers {
		st, err := store.LoadLedger(ctx, tier)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return locations, fmt.Errorf("pipeline: export %s: %w", tier, err)
		}
		raw, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return locations, fmt.Errorf("pipeline: encode ledger %s: %w", tier, err)
		}
		loc, err := sink.Archive(ctx, "ledger-"+string(tier)+".json", bytes.NewReader(raw))
		if err != nil {
			return locations, fmt.Errorf("pipeline: archive ledger %s: %w", tier, err)
		}
		locations = append(locations, loc)

		points, err := store.ReadEquity(ctx, tier, 0)
		if err != nil {
			return locations, fmt.Errorf("pipeline: read equity %s: %w", tier, err)
		}
		if len(points) == 0 {
			continue
		}
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, pt := range points {
			if err := enc.Encode(pt); err != nil {
				return locations, fmt.Errorf("pipeline: encode equity %s: %w", tier, err)
			}
		}
		loc, err = sink.Archive(ctx, "equity-"+string(tier)+".jsonl", &buf)
		if err != nil {
			return locations, fmt.Errorf("pipeline: archive equity %s: %w", tier, err)
		}
		locations = append(locations, loc)
	}
	return locations, nil
}
