package paper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polypaper/internal/domain"
)

func bids(m map[string]float64) BidFunc {
	return func(id string) (float64, bool) {
		v, ok := m[id]
		return v, ok
	}
}

func TestUnrealizedPnL(t *testing.T) {
	positions := []domain.Position{
		{InstrumentID: "a", SizeUSD: 2, Status: domain.PositionStatusOpen},
		{InstrumentID: "b", SizeUSD: 4, Status: domain.PositionStatusOpen},
		{InstrumentID: "c", SizeUSD: 9, Status: domain.PositionStatusClosed},
	}
	got := UnrealizedPnL(positions, bids(map[string]float64{"a": 0.6, "c": 0.9}))
	assert.InDelta(t, -0.8, got, 1e-12, "b has no bid and c is closed")
}

func TestStatsAndTradeLog(t *testing.T) {
	ctx := context.Background()
	clock := t0
	l, err := LoadWithClock(ctx, Config{Tier: "t2", BetUSD: 2, BankrollStartUSD: 20}, newMemStore(), nil, func() time.Time { return clock })
	require.NoError(t, err)

	a, err := l.Open(ctx, pos("a", 0.40, 2))
	require.NoError(t, err)
	clock = clock.Add(time.Second)
	b, err := l.Open(ctx, pos("b", 0.50, 2))
	require.NoError(t, err)
	clock = clock.Add(time.Second)
	_, err = l.Open(ctx, pos("c", 0.50, 2))
	require.NoError(t, err)

	clock = clock.Add(time.Second)
	_, err = l.ResolveBinary(ctx, a.ID, Resolution{Won: true})
	require.NoError(t, err)
	clock = clock.Add(time.Second)
	_, err = l.ResolveBinary(ctx, b.ID, Resolution{Won: false})
	require.NoError(t, err)

	mark := bids(map[string]float64{"tok-c": 0.75})
	ov := Summarize(l, mark)
	assert.Equal(t, domain.Tier("t2"), ov.Tier)
	assert.Equal(t, 1, ov.OpenPositions)
	assert.InDelta(t, 1.0, ov.RealizedPnlUSD, 1e-9)
	assert.InDelta(t, -0.5, ov.UnrealizedPnlUSD, 1e-9)
	assert.InDelta(t, 0.5, ov.TotalPnlUSD, 1e-9)
	require.NotNil(t, ov.WinRatePct)
	assert.InDelta(t, 50.0, *ov.WinRatePct, 1e-9)

	st := ComputeStats(l, mark)
	assert.Equal(t, 3, st.TotalTrades)
	assert.Equal(t, 2, st.ClosedPositions)
	assert.Equal(t, 1, st.Wins)
	assert.Equal(t, 1, st.Losses)
	assert.InDelta(t, 3.0, st.LargestWin, 1e-9)
	assert.InDelta(t, -2.0, st.LargestLoss, 1e-9)
	assert.InDelta(t, 0.5, st.AvgPnlPerTrade, 1e-9)
	assert.InDelta(t, 2.5, st.ROIPct, 1e-9)
	assert.Len(t, st.PnlDistribution, 2)

	log := TradeLog(l.Positions(), 0)
	require.Len(t, log, 5)
	assert.Equal(t, domain.OrderSideSell, log[0].Side)
	assert.Equal(t, b.ID, log[0].PositionID)
	assert.Equal(t, domain.OrderSideBuy, log[len(log)-1].Side)
	assert.Len(t, TradeLog(l.Positions(), 2), 2)

	marked := Mark(l.Positions(), mark, clock)
	require.Len(t, marked, 3)
	assert.Equal(t, "tok-c", marked[0].InstrumentID, "newest first")
	require.NotNil(t, marked[0].UnrealizedPnlUSD)
	assert.InDelta(t, -0.5, *marked[0].UnrealizedPnlUSD, 1e-9)
}

func TestOverviewWithoutClosedPositions(t *testing.T) {
	l := newLedger(t, newMemStore(), 10, 1)
	ov := Summarize(l, bids(nil))
	assert.Nil(t, ov.WinRatePct)
	assert.Zero(t, ov.TotalPnlUSD)
}
