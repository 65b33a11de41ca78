package feed

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polypaper/internal/domain"
	"github.com/alanyoungcy/polypaper/internal/platform/wsconn"
)

type fakeIndex struct {
	price float64
	calls atomic.Int32
	gate  chan struct{}
}

func (s *fakeIndex) Name() string { return "fake" }

func (s *fakeIndex) Session(timeout time.Duration, onConnected func(), onTick func(domain.IndexTick)) wsconn.Session {
	return wsconn.Session{
		URL:         "wss://fake",
		OnConnected: onConnected,
		OnMessage: func(raw []byte) {
			onTick(domain.IndexTick{Price: float64(len(raw)), ObservedAt: time.Now(), Source: "fake"})
		},
	}
}

func (s *fakeIndex) Fetch(ctx context.Context) (domain.IndexTick, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	return domain.IndexTick{Price: s.price, ObservedAt: time.Now(), Source: "fake"}, nil
}

func TestIndexFeedPushPublishes(t *testing.T) {
	stream := newFakeStream()
	f := NewIndexPriceFeed(&fakeIndex{}, testOptions(), stream.run, nil)

	var hooked []float64
	f.OnTick(func(t domain.IndexTick) { hooked = append(hooked, t.Price) })

	_, ok := f.Latest()
	assert.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	sess := <-stream.live
	sess.OnMessage([]byte("12345"))
	sess.OnMessage([]byte("")) // zero price is dropped

	latest, ok := f.Latest()
	require.True(t, ok)
	assert.Equal(t, 5.0, latest.Price)
	assert.Equal(t, []float64{5}, hooked)
	require.Eventually(t, f.Connected, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestIndexFeedFetchCoalesces(t *testing.T) {
	src := &fakeIndex{price: 100, gate: make(chan struct{})}
	f := NewIndexPriceFeed(src, testOptions(), newFakeStream().run, nil)

	const n = 5
	res := make(chan float64, n)
	for i := 0; i < n; i++ {
		go func() {
			tick, err := f.Fetch(context.Background())
			if err != nil {
				res <- -1
				return
			}
			res <- tick.Price
		}()
	}
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(src.gate)

	for i := 0; i < n; i++ {
		assert.Equal(t, 100.0, <-res)
	}
	assert.Equal(t, int32(1), src.calls.Load())
	latest, ok := f.Latest()
	require.True(t, ok)
	assert.Equal(t, 100.0, latest.Price)
}

func TestIndexFeedPollsWhenQuiet(t *testing.T) {
	src := &fakeIndex{price: 250}
	opts := testOptions()
	opts.PollInterval = 5 * time.Millisecond
	opts.StaleAfter = time.Hour

	runner := func(ctx context.Context, s wsconn.Session) error {
		<-ctx.Done()
		return ctx.Err()
	}
	f := NewIndexPriceFeed(src, opts, runner, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := f.Latest()
		return ok
	}, time.Second, 5*time.Millisecond)

	// Fresh value: no further pulls while within StaleAfter.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestIndexFeedResetForgetsLatest(t *testing.T) {
	f := NewIndexPriceFeed(&fakeIndex{price: 101}, testOptions(), newFakeStream().run, nil)
	var hooked int
	f.OnTick(func(domain.IndexTick) { hooked++ })

	_, err := f.Fetch(context.Background())
	require.NoError(t, err)
	_, ok := f.Latest()
	require.True(t, ok)

	f.Reset()
	_, ok = f.Latest()
	assert.False(t, ok)

	_, err = f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, hooked, "hooks survive a reset")
}
