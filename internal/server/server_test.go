package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polypaper/internal/domain"
	"github.com/alanyoungcy/polypaper/internal/engine"
	"github.com/alanyoungcy/polypaper/internal/feed"
	"github.com/alanyoungcy/polypaper/internal/paper"
	"github.com/alanyoungcy/polypaper/internal/server"
	"github.com/alanyoungcy/polypaper/internal/server/handler"
)

type fakeEngine struct {
	mu        sync.Mutex
	running   bool
	indexDown bool
	resets    []domain.Tier
}

func (f *fakeEngine) Start(context.Context) error {
	f.mu.Lock()
	f.running = true
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) Stop() error {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) Status() engine.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	started := time.Now().Add(-time.Minute)
	return engine.Status{
		Running:        f.running,
		FeedConnected:  true,
		IndexConnected: !f.indexDown,
		StartedAt:      &started,
		Feeds: []feed.Status{
			{Name: "book", State: feed.StateConnected},
			{Name: "index:coinbase", State: feed.StateBackingOff, Attempt: 3},
		},
		Limits: engine.Limits{MinEdge: 0.03},
	}
}

func (f *fakeEngine) Window() engine.WindowView {
	return engine.WindowView{Window: &domain.EventWindow{WindowID: "w1"}, Open: true}
}

func (f *fakeEngine) RecentOpportunities(limit int) []domain.Opportunity {
	out := make([]domain.Opportunity, 0, limit)
	for i := range min(limit, 3) {
		out = append(out, domain.Opportunity{Kind: domain.SignalSumToOne, MarketID: fmt.Sprint(i)})
	}
	return out
}

func (f *fakeEngine) Series(int) []domain.SeriesPoint { return []domain.SeriesPoint{} }

func (f *fakeEngine) Labels(context.Context, int) ([]domain.MarketLabel, error) {
	return nil, fmt.Errorf("labels: %w", context.DeadlineExceeded)
}

func (f *fakeEngine) Overview() []paper.Overview {
	return []paper.Overview{{Tier: "t1", BetUSD: 1, BankrollUSD: 85}}
}

func (f *fakeEngine) check(tier domain.Tier) error {
	if tier != "t1" {
		return fmt.Errorf("engine: %q: %w", tier, domain.ErrUnknownTier)
	}
	return nil
}

func (f *fakeEngine) TierStats(tier domain.Tier) (paper.Stats, error) {
	return paper.Stats{Overview: paper.Overview{Tier: tier}}, f.check(tier)
}

func (f *fakeEngine) Positions(tier domain.Tier) ([]paper.MarkedPosition, error) {
	if err := f.check(tier); err != nil {
		return nil, err
	}
	return []paper.MarkedPosition{{Position: domain.Position{ID: "t1:w1:1", Tier: tier}}}, nil
}

func (f *fakeEngine) TradeLog(tier domain.Tier, _ int) ([]domain.TradeLogEntry, error) {
	return []domain.TradeLogEntry{}, f.check(tier)
}

func (f *fakeEngine) Equity(_ context.Context, tier domain.Tier, _ int) ([]domain.EquityPoint, error) {
	return nil, f.check(tier)
}

func (f *fakeEngine) ResetTier(_ context.Context, tier domain.Tier) error {
	if err := f.check(tier); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return fmt.Errorf("engine: reset: %w", domain.ErrEngineRunning)
	}
	f.resets = append(f.resets, tier)
	return nil
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }

type recordingLimiter struct {
	mu     sync.Mutex
	keys   []string
	limits []int
	err    error
}

func (l *recordingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	l.limits = append(l.limits, limit)
	return true, l.err
}

func newAPI(t *testing.T, cfg server.Config, limiter domain.RateLimiter) (*fakeEngine, http.Handler) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := &fakeEngine{}
	h := server.Routes(cfg, server.Handlers{
		Health: handler.NewHealthHandler("paper", eng, logger),
		Engine: handler.NewEngineHandler(eng, logger),
		Paper:  handler.NewPaperHandler(eng, logger),
	}, limiter, logger)
	return eng, h
}

func do(h http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthAndStatus(t *testing.T) {
	_, h := newAPI(t, server.Config{}, nil)

	rec := do(h, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode(t, rec)
	assert.Equal(t, "paper", health["mode"])
	assert.Equal(t, handler.HealthIdle, health["status"])
	assert.Len(t, health["feeds"], 2)

	rec = do(h, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["running"])
	assert.Equal(t, 0.03, body["limits"].(map[string]any)["minEdge"])
}

func TestStartStopAndReset(t *testing.T) {
	eng, h := newAPI(t, server.Config{}, nil)

	rec := do(h, http.MethodPost, "/api/engine/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["running"])

	rec = do(h, http.MethodPost, "/api/paper/t1/reset", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/engine/stop", nil).Code)
	rec = do(h, http.MethodPost, "/api/paper/t1/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []domain.Tier{"t1"}, eng.resets)

	assert.Equal(t, http.StatusMethodNotAllowed, do(h, http.MethodGet, "/api/engine/start", nil).Code)
}

func TestPaperRoutes(t *testing.T) {
	_, h := newAPI(t, server.Config{}, nil)

	rec := do(h, http.MethodGet, "/api/paper/overview", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["tiers"], 1)

	rec = do(h, http.MethodGet, "/api/paper/t1/positions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["positions"], 1)

	rec = do(h, http.MethodGet, "/api/paper/t1/equity", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decode(t, rec)["points"])

	for _, path := range []string{"/api/paper/t9/positions", "/api/paper/t9/stats", "/api/paper/t9/trades"} {
		assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, path, nil).Code, path)
	}
}

func TestOpportunitiesLimit(t *testing.T) {
	_, h := newAPI(t, server.Config{}, nil)
	rec := do(h, http.MethodGet, "/api/opportunities?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["opportunities"], 2)
}

func TestStoreErrorsAreInternal(t *testing.T) {
	_, h := newAPI(t, server.Config{}, nil)
	rec := do(h, http.MethodGet, "/api/labels", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "deadline")
}

func TestAPIKey(t *testing.T) {
	_, h := newAPI(t, server.Config{APIKey: "secret"}, nil)

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/health", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/status", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/status", map[string]string{"X-API-Key": "nope"}).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/status", map[string]string{"X-API-Key": "secret"}).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/status", map[string]string{"Authorization": "Bearer secret"}).Code)
}

func TestHealthDegradedWhileFeedDown(t *testing.T) {
	eng, h := newAPI(t, server.Config{}, nil)
	require.NoError(t, eng.Start(context.Background()))

	rec := do(h, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, handler.HealthOK, body["status"])
	assert.InDelta(t, 60, body["uptimeSeconds"], 5)

	eng.mu.Lock()
	eng.indexDown = true
	eng.mu.Unlock()
	rec = do(h, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, handler.HealthDegraded, body["status"])
	feeds := body["feeds"].([]any)
	assert.Equal(t, "backing_off", feeds[1].(map[string]any)["state"])
}

func TestPublicReadsStillGuardControl(t *testing.T) {
	_, h := newAPI(t, server.Config{APIKey: "secret", PublicReads: true}, nil)

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/paper/overview", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodPost, "/api/engine/start", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/status", map[string]string{"X-API-Key": "nope"}).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/engine/start", map[string]string{"X-API-Key": "secret"}).Code)
}

func TestCORS(t *testing.T) {
	_, h := newAPI(t, server.Config{CORSOrigins: []string{"http://localhost:5173/"}, APIKey: "secret"}, nil)
	preflight := func(origin, method string) *httptest.ResponseRecorder {
		return do(h, http.MethodOptions, "/api/engine/start", map[string]string{
			"Origin":                        origin,
			"Access-Control-Request-Method": method,
		})
	}

	rec := preflight("http://localhost:5173", http.MethodPost)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))

	assert.Equal(t, http.StatusMethodNotAllowed, preflight("http://localhost:5173", http.MethodDelete).Code)
	assert.Equal(t, http.StatusForbidden, preflight("http://evil.example", http.MethodGet).Code)

	rec = do(h, http.MethodGet, "/api/health", map[string]string{"Origin": "http://evil.example"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(h, http.MethodGet, "/api/health", map[string]string{"Origin": "http://localhost:5173"})
	assert.Equal(t, "Retry-After", rec.Header().Get("Access-Control-Expose-Headers"))
}

func TestCORSWithoutOriginsAllowsNone(t *testing.T) {
	_, h := newAPI(t, server.Config{}, nil)
	rec := do(h, http.MethodGet, "/api/health", map[string]string{"Origin": "http://localhost:5173"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	_, h := newAPI(t, server.Config{RateLimitPerMin: 10}, denyAll{})
	rec := do(h, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.True(t, strings.Contains(rec.Body.String(), "rate limit"))
}

func TestRateLimitBucketsByClientAndClass(t *testing.T) {
	lim := &recordingLimiter{}
	_, h := newAPI(t, server.Config{RateLimitPerMin: 600, APIKey: "secret"}, lim)

	do(h, http.MethodGet, "/api/health", map[string]string{"X-Forwarded-For": "10.0.0.7, 10.0.0.1"})
	do(h, http.MethodGet, "/api/status", map[string]string{"X-API-Key": "secret"})
	do(h, http.MethodPost, "/api/engine/stop", map[string]string{"Authorization": "Bearer secret"})

	require.Len(t, lim.keys, 3)
	assert.Equal(t, "ratelimit:api:read:ip:10.0.0.7", lim.keys[0])
	assert.True(t, strings.HasPrefix(lim.keys[1], "ratelimit:api:read:key:"), lim.keys[1])
	assert.NotContains(t, lim.keys[1], "secret")
	assert.Equal(t, strings.Replace(lim.keys[1], ":read:", ":control:", 1), lim.keys[2])
	assert.Equal(t, []int{600, 600, 60}, lim.limits)
}

func TestRateLimiterFailureLetsRequestsThrough(t *testing.T) {
	lim := &recordingLimiter{err: errors.New("redis down")}
	_, h := newAPI(t, server.Config{RateLimitPerMin: 10}, lim)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/status", nil).Code)
}
