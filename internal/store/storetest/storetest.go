// Package storetest holds the behaviour every domain.PaperStore backend must
// share. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polypaper/internal/domain"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) domain.PaperStore

// Run exercises the ledger, equity and label contracts against newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("LedgerMissing", func(t *testing.T) { ledgerMissing(t, newStore(t)) })
	t.Run("LedgerRoundTrip", func(t *testing.T) { ledgerRoundTrip(t, newStore(t)) })
	t.Run("LedgerReset", func(t *testing.T) { ledgerReset(t, newStore(t)) })
	t.Run("EquityTail", func(t *testing.T) { equityTail(t, newStore(t)) })
	t.Run("Labels", func(t *testing.T) { labels(t, newStore(t)) })
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func ledgerMissing(t *testing.T, s domain.PaperStore) {
	_, err := s.LoadLedger(context.Background(), "t1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func ledgerRoundTrip(t *testing.T, s domain.PaperStore) {
	ctx := context.Background()
	closed := domain.ResultWin
	st := domain.LedgerState{
		Tier:             "t5",
		BankrollStartUSD: 85,
		BankrollUSD:      82.5,
		UpdatedAt:        base,
		Positions: []domain.Position{
			{
				ID:             "t5:btc-updown-5m-1:1",
				Tier:           "t5",
				ConditionKey:   "btc-updown-5m-1:t5",
				InstrumentID:   "tok-up",
				Outcome:        domain.OutcomeUp,
				EntryPrice:     0.4,
				SizeUSD:        5,
				OpenedAt:       base,
				Status:         domain.PositionStatusClosed,
				Expiry:         ptr(base.Add(5 * time.Minute)),
				ClosedAt:       ptr(base.Add(5 * time.Minute)),
				ExitPrice:      ptr(1.0),
				RealizedPnlUSD: ptr(7.5),
				Result:         &closed,
				StartReference: ptr(100.0),
				EndReference:   ptr(101.0),
			},
		},
	}
	require.NoError(t, s.SaveLedger(ctx, st))

	got, err := s.LoadLedger(ctx, "t5")
	require.NoError(t, err)
	assert.Equal(t, 82.5, got.BankrollUSD)
	assert.Equal(t, 85.0, got.BankrollStartUSD)
	assert.True(t, base.Equal(got.UpdatedAt))
	require.Len(t, got.Positions, 1)
	p := got.Positions[0]
	assert.Equal(t, "t5:btc-updown-5m-1:1", p.ID)
	assert.Equal(t, domain.ResultWin, *p.Result)
	assert.Equal(t, 101.0, *p.EndReference)
	assert.True(t, base.Add(5*time.Minute).Equal(*p.Expiry))

	st.BankrollUSD = 80
	st.Positions = nil
	require.NoError(t, s.SaveLedger(ctx, st))
	got, err = s.LoadLedger(ctx, "t5")
	require.NoError(t, err)
	assert.Equal(t, 80.0, got.BankrollUSD)
	assert.Empty(t, got.Positions)
}

func ledgerReset(t *testing.T, s domain.PaperStore) {
	ctx := context.Background()
	require.NoError(t, s.SaveLedger(ctx, domain.LedgerState{Tier: "t1", BankrollStartUSD: 10, BankrollUSD: 10, UpdatedAt: base}))
	require.NoError(t, s.SaveLedger(ctx, domain.LedgerState{Tier: "t2", BankrollStartUSD: 10, BankrollUSD: 9, UpdatedAt: base}))
	require.NoError(t, s.AppendEquity(ctx, "t1", domain.EquityPoint{ObservedAt: base, BankrollUSD: 10}))
	require.NoError(t, s.AppendEquity(ctx, "t2", domain.EquityPoint{ObservedAt: base, BankrollUSD: 9}))

	require.NoError(t, s.ResetLedger(ctx, "t1"))

	_, err := s.LoadLedger(ctx, "t1")
	require.ErrorIs(t, err, domain.ErrNotFound)
	pts, err := s.ReadEquity(ctx, "t1", 0)
	require.NoError(t, err)
	assert.Empty(t, pts)

	other, err := s.LoadLedger(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, 9.0, other.BankrollUSD)
	pts, err = s.ReadEquity(ctx, "t2", 0)
	require.NoError(t, err)
	assert.Len(t, pts, 1)
}

func equityTail(t *testing.T, s domain.PaperStore) {
	ctx := context.Background()
	for i := range 5 {
		require.NoError(t, s.AppendEquity(ctx, "t1", domain.EquityPoint{
			ObservedAt:  base.Add(time.Duration(i) * time.Second),
			BankrollUSD: float64(10 + i),
			TotalPnlUSD: float64(i),
		}))
	}
	require.NoError(t, s.AppendEquity(ctx, "t2", domain.EquityPoint{ObservedAt: base, BankrollUSD: 1}))

	pts, err := s.ReadEquity(ctx, "t1", 3)
	require.NoError(t, err)
	require.Len(t, pts, 3)
	assert.Equal(t, []float64{12, 13, 14}, []float64{pts[0].BankrollUSD, pts[1].BankrollUSD, pts[2].BankrollUSD})
	assert.True(t, base.Add(4*time.Second).Equal(pts[2].ObservedAt))

	all, err := s.ReadEquity(ctx, "t1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func labels(t *testing.T, s domain.PaperStore) {
	ctx := context.Background()
	require.NoError(t, s.UpsertLabel(ctx, domain.MarketLabel{
		Key: "up-a:down-a", Question: "old", InstrumentUp: "up-a", InstrumentDn: "down-a", UpdatedAt: base,
	}))
	require.NoError(t, s.UpsertLabel(ctx, domain.MarketLabel{
		Key: "up-b:down-b", Question: "B", InstrumentUp: "up-b", InstrumentDn: "down-b",
		ClosesAt: base.Add(time.Hour), UpdatedAt: base.Add(time.Minute),
	}))
	require.NoError(t, s.UpsertLabel(ctx, domain.MarketLabel{
		Key: "up-a:down-a", Question: "A", ConditionID: "0xabc", InstrumentUp: "up-a", InstrumentDn: "down-a",
		UpdatedAt: base.Add(2 * time.Minute),
	}))

	got, err := s.ListLabels(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].Question)
	assert.Equal(t, "0xabc", got[0].ConditionID)
	assert.True(t, got[0].ClosesAt.IsZero())
	assert.Equal(t, "B", got[1].Question)
	assert.True(t, base.Add(time.Hour).Equal(got[1].ClosesAt))

	since := base.Add(90 * time.Second)
	got, err = s.ListLabels(ctx, domain.ListOpts{Since: &since})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "up-a:down-a", got[0].Key)

	got, err = s.ListLabels(ctx, domain.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "B", got[0].Question)
}
