package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polypaper/internal/domain"
)

type recordingSender struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (r *recordingSender) Send(_ context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, m.Title)
	return r.err
}

func (r *recordingSender) Name() string { return "rec" }

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.titles)
}

func TestNotifyFilters(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, []string{EventPositionOpened, " "}, nil)

	require.NoError(t, n.Notify(context.Background(), Message{Event: EventWindowRolled, Title: "x"}))
	require.NoError(t, n.Notify(context.Background(), Message{Event: EventPositionOpened, Title: "fill"}))
	assert.Equal(t, []string{"fill"}, rec.titles)
}

func TestDispatchCombinesFailures(t *testing.T) {
	bad := &recordingSender{err: errors.New("boom")}
	good := &recordingSender{}
	n := NewNotifier([]Sender{bad, good}, nil, nil)

	err := n.Notify(context.Background(), Message{Event: "any", Title: "t"})
	require.ErrorContains(t, err, "1 sender(s) failed")
	assert.Equal(t, 1, good.count())
}

func TestEnqueueNeverBlocks(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, nil, nil)

	accepted := 0
	for range queueSize + 10 {
		if n.Enqueue(Message{Event: EventWindowRolled, Title: "w"}) {
			accepted++
		}
	}
	assert.Equal(t, queueSize, accepted)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = n.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return rec.count() == queueSize }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestEnqueueWithoutSenders(t *testing.T) {
	n := NewNotifier(nil, nil, nil)
	assert.False(t, n.Enabled())
	assert.False(t, n.Enqueue(Message{Event: EventWindowRolled}))
}

func TestFromSignal(t *testing.T) {
	closed := time.Date(2026, 3, 1, 12, 5, 1, 0, time.UTC)
	win := domain.ResultWin
	res := domain.ResolutionSignal{Position: domain.Position{
		Tier: "t5", Outcome: domain.OutcomeDown, Question: "BTC up or down? (DOWN)",
		ClosedAt: &closed, Result: &win, RealizedPnlUSD: domain.Float(7.5),
		StartReference: domain.Float(100), EndReference: domain.Float(99),
	}}
	m, ok := FromSignal(res)
	require.True(t, ok)
	assert.Equal(t, EventPositionResolved, m.Event)
	assert.Equal(t, "WIN t5 DOWN", m.Title)
	assert.Equal(t, TonePositive, m.Tone)
	assert.Equal(t, closed, m.At)
	assert.Contains(t, m.Text(), "pnl: +7.50 USD")
	assert.Contains(t, m.Text(), "reference: 100.00 -> 99.00")

	m, ok = FromSignal(domain.FillSignal{Position: domain.Position{Tier: "t1", Outcome: domain.OutcomeUp, EntryPrice: 0.4, SizeUSD: 1}})
	require.True(t, ok)
	assert.Equal(t, EventPositionOpened, m.Event)
	assert.Equal(t, ToneNeutral, m.Tone)
	assert.Equal(t, "Paper fill t1 UP\nentry: 0.400\nsize: $1.00", m.Text())

	m, ok = FromSignal(domain.RolloverSignal{Current: domain.EventWindow{WindowID: "btc-updown-5m-2", ClosesAt: closed}})
	require.True(t, ok)
	assert.Equal(t, EventWindowRolled, m.Event)
	assert.Contains(t, m.Text(), "start reference: n/a")

	_, ok = FromSignal(domain.SumToOneSignal{})
	assert.False(t, ok)
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL+"/", "tok", "42")
	require.NoError(t, s.Send(context.Background(), Message{Title: "Title", Body: "body", Fields: []Field{{"pnl", "+1.00 USD"}}}))
	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "Title\nbody\npnl: +1.00 USD", got["text"])
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad webhook", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), Message{Title: "t"})
	require.ErrorContains(t, err, "unexpected status 400")
}

func TestDiscordSenderEmbedColoursByTone(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	at := time.Date(2026, 3, 1, 12, 5, 1, 0, time.UTC)
	err := NewDiscordSender(srv.URL).Send(context.Background(), Message{
		Event:  EventPositionResolved,
		Title:  "LOSS t1 UP",
		Tone:   ToneNegative,
		Fields: []Field{{"pnl", "-1.00 USD"}, {"reference", ""}},
		At:     at,
	})
	require.NoError(t, err)
	require.Len(t, got.Embeds, 1)
	e := got.Embeds[0]
	assert.Equal(t, discordNegative, e.Color)
	assert.Equal(t, []discordField{{Name: "pnl", Value: "-1.00 USD", Inline: true}}, e.Fields)
	assert.Equal(t, "2026-03-01T12:05:01Z", e.Timestamp)
	require.NotNil(t, e.Footer)
	assert.Equal(t, EventPositionResolved, e.Footer.Text)
}

func TestDiscordSenderRetriesOnceAfterRateLimit(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"retry_after": 0.25}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	var slept time.Duration
	d.sleep = func(_ context.Context, wait time.Duration) error {
		slept = wait
		return nil
	}
	require.NoError(t, d.Send(context.Background(), Message{Title: "t"}))
	assert.Equal(t, 2, calls)
	assert.Equal(t, 250*time.Millisecond, slept)
}
