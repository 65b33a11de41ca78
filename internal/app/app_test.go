package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polypaper/internal/config"
	"github.com/alanyoungcy/polypaper/internal/domain"
	"github.com/alanyoungcy/polypaper/internal/store/jsonl"
	"github.com/alanyoungcy/polypaper/internal/store/sqlite"
)

func testConfig(t *testing.T, mode string) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Mode = mode
	cfg.Storage.Dir = t.TempDir()
	cfg.Server.Enabled = false
	require.NoError(t, cfg.Validate())
	return &cfg
}

func run(t *testing.T, cfg *config.Config) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.SetOutput(&out)
	err := a.Run(context.Background())
	a.Close()
	return out.String(), err
}

func appendLines[T any](t *testing.T, path string, records ...T) {
	t.Helper()
	l, err := jsonl.Open(path)
	require.NoError(t, err)
	for _, r := range records {
		require.NoError(t, l.Append(r))
	}
}

func TestBacktestMode(t *testing.T) {
	cfg := testConfig(t, "backtest")
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pt := func(sec int, index, up, down float64) domain.SeriesPoint {
		p := domain.SeriesPoint{
			ObservedAt: t0.Add(time.Duration(sec) * time.Second),
			WindowID:   "btc-updown-5m-1772366400",
			StartPrice: domain.Float(100),
			IndexPrice: domain.Float(index),
		}
		if up > 0 {
			p.AskUp, p.AskDown = domain.Float(up), domain.Float(down)
		}
		return p
	}
	appendLines(t, filepath.Join(cfg.Storage.Dir, SeriesLog),
		pt(0, 100.2, 0.40, 0.62),
		pt(5, 100.4, 0, 0),
	)

	out, err := run(t, cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "windows: 1  traded: 1  skipped: 0")
	assert.Contains(t, out, "btc-updown-5m-1772366400")

	// No ledger database is opened for a replay.
	_, statErr := os.Stat(cfg.SQLitePath())
	assert.True(t, os.IsNotExist(statErr))
}

func TestReportMode(t *testing.T) {
	cfg := testConfig(t, "report")

	out, err := run(t, cfg)
	require.NoError(t, err)
	for _, tier := range []string{"t1", "t2", "t5"} {
		assert.Contains(t, out, tier)
	}
	assert.Contains(t, out, "85.00")
}

func TestResetModeArchivesThenResets(t *testing.T) {
	cfg := testConfig(t, "reset")
	ctx := context.Background()

	store, err := sqlite.Open(ctx, cfg.SQLitePath())
	require.NoError(t, err)
	opened := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveLedger(ctx, domain.LedgerState{
		Tier:             "t1",
		BankrollStartUSD: 85,
		BankrollUSD:      84,
		Positions: []domain.Position{{
			ID:           "t1:w1:1",
			Tier:         "t1",
			ConditionKey: "w1:t1",
			InstrumentID: "up-token",
			Outcome:      domain.OutcomeUp,
			EntryPrice:   0.45,
			SizeUSD:      1,
			OpenedAt:     opened,
			Status:       domain.PositionStatusOpen,
		}},
		UpdatedAt: opened,
	}))
	require.NoError(t, store.AppendEquity(ctx, "t1", domain.EquityPoint{ObservedAt: opened, BankrollUSD: 84}))
	require.NoError(t, store.Close())

	out, err := run(t, cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "t1 reset to 85.00")

	archived, err := os.ReadDir(filepath.Join(cfg.Storage.Dir, "archive"))
	require.NoError(t, err)
	var names []string
	for _, e := range archived {
		names = append(names, e.Name())
	}
	assert.True(t, hasPrefix(names, "ledger-t1.json."), names)
	assert.True(t, hasPrefix(names, "equity-t1.jsonl."), names)

	store, err = sqlite.Open(ctx, cfg.SQLitePath())
	require.NoError(t, err)
	defer store.Close()
	st, err := store.LoadLedger(ctx, "t1")
	require.NoError(t, err)
	assert.InDelta(t, 85, st.BankrollUSD, 1e-9)
	assert.Empty(t, st.Positions)
}

func TestCompactMode(t *testing.T) {
	cfg := testConfig(t, "compact")
	cfg.Storage.OpportunityKeepLines = 2
	path := filepath.Join(cfg.Storage.Dir, OpportunityLog)
	for i := range 5 {
		appendLines(t, path, domain.Opportunity{Kind: domain.SignalSumToOne, MarketID: string(rune('a' + i))})
	}

	out, err := run(t, cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "opportunities.jsonl: 5 -> 2 lines")

	l, err := jsonl.Open(path)
	require.NoError(t, err)
	kept, err := jsonl.Tail[domain.Opportunity](l, 0)
	require.NoError(t, err)
	require.Len(t, kept, 2)
	assert.Equal(t, "e", kept[1].MarketID)
}

func TestUnsupportedMode(t *testing.T) {
	cfg := testConfig(t, "report")
	cfg.Mode = "trade"
	_, err := run(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported mode")
}

func TestLockKeyIsAbsolute(t *testing.T) {
	cfg := testConfig(t, "paper")
	cfg.Storage.Dir = "data"
	a := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	key := a.lockKey()
	assert.True(t, strings.HasPrefix(key, "engine:/"), key)
	assert.True(t, strings.HasSuffix(key, "/data"), key)
}

func TestHoldLockFailsWhenLost(t *testing.T) {
	calls := 0
	err := holdLock(context.Background(), func(context.Context) error {
		calls++
		if calls == 2 {
			return domain.ErrLockHeld
		}
		return nil
	}, time.Millisecond)
	require.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Equal(t, 2, calls)
}

func hasPrefix(names []string, prefix string) bool {
	for _, n := range names {
		if strings.HasPrefix(n, prefix) {
			return true
		}
	}
	return false
}
