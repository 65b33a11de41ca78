package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronNext(t *testing.T) {
	after := time.Date(2026, 3, 1, 10, 17, 30, 0, time.UTC) // Sunday
	cases := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2026, 3, 1, 10, 18, 0, 0, time.UTC)},
		{"0 * * * *", time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)},
		{"0 3 * * 1", time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)},
		{"0,45 10 1 3 *", time.Date(2026, 3, 1, 10, 45, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			sched, err := ParseSchedule(tc.expr)
			require.NoError(t, err)
			assert.Equal(t, tc.want, sched.Next(after))
		})
	}
}

func TestCronRejectsBadExpressions(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "60 * * * *", "*/0 * * * *", "a * * * *", "0 0 0 * *"} {
		_, err := ParseSchedule(expr)
		assert.Error(t, err, expr)
	}
}

func TestRunCronStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	// The clock sits just before a minute boundary so the first trigger is
	// almost immediate.
	now := func() time.Time { return time.Now().Truncate(time.Minute).Add(time.Minute - 10*time.Millisecond) }

	done := make(chan error, 1)
	go func() {
		done <- runCron(ctx, "* * * * *", slog.Default(), now, func(context.Context) error {
			if calls.Add(1) == 2 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("cron did not stop")
	}
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestRunCronInvalidExpression(t *testing.T) {
	err := RunCron(context.Background(), "bad", slog.Default(), func(context.Context) error { return nil })
	require.Error(t, err)
}
