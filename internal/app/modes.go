package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polypaper/internal/backtest"
	"github.com/alanyoungcy/polypaper/internal/domain"
	"github.com/alanyoungcy/polypaper/internal/engine"
	"github.com/alanyoungcy/polypaper/internal/paper"
	"github.com/alanyoungcy/polypaper/internal/pipeline"
	"github.com/alanyoungcy/polypaper/internal/report"
	"github.com/alanyoungcy/polypaper/internal/server"
	"github.com/alanyoungcy/polypaper/internal/server/handler"
	"github.com/alanyoungcy/polypaper/internal/store/jsonl"
)

const (
	shutdownTimeout = 5 * time.Second
	mirrorTimeout   = 2 * time.Second
)

// PaperMode runs the engine, the dashboard API, the notifier and the
// scheduled compaction until ctx ends.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")

	extend, release, err := a.acquireEngineLock(ctx, deps)
	if err != nil {
		return err
	}
	defer release()

	eng, err := a.buildEngine(ctx, deps)
	if err != nil {
		return fmt.Errorf("app: paper: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })

	if deps.Notifier.Enabled() {
		g.Go(func() error { return deps.Notifier.Run(ctx) })
	}
	if cron := a.cfg.Storage.CompactCron; cron != "" {
		compactor := a.compactor(deps)
		g.Go(func() error { return compactor.RunCron(ctx, cron) })
	}
	if extend != nil {
		g.Go(func() error { return holdLock(ctx, extend, a.cfg.Redis.LockTTL.Duration/3) })
	}
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, eng, deps.Limiter)
	}

	return g.Wait()
}

// ReportMode prints the per-tier overview from the durable stores. Open
// positions are marked against the redis price mirror when it is enabled.
func (a *App) ReportMode(ctx context.Context, deps *Dependencies) error {
	ledgers, err := a.loadLedgers(ctx, deps.Store)
	if err != nil {
		return fmt.Errorf("app: report: %w", err)
	}
	bid := mirrorBid(ctx, deps.Mirror)
	rows := make([]paper.Overview, 0, len(ledgers))
	for _, l := range ledgers {
		rows = append(rows, paper.Summarize(l, bid))
	}
	return report.Overview(a.out, rows)
}

// BacktestMode replays the recorded series and prints the per-tier result.
func (a *App) BacktestMode(ctx context.Context, deps *Dependencies) error {
	var points []domain.SeriesPoint
	err := jsonl.Each(deps.Series, func(pt domain.SeriesPoint) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		points = append(points, pt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("app: backtest: read series: %w", err)
	}

	res := backtest.Run(points, a.detector(), a.tierConfigs())
	a.logger.InfoContext(ctx, "backtest finished",
		slog.Int("samples", len(points)),
		slog.Int("windows", res.Windows),
		slog.Int("trades", len(res.Trades)),
	)
	return report.Backtest(a.out, res)
}

// CompactMode rotates the series and opportunity logs once.
func (a *App) CompactMode(ctx context.Context, deps *Dependencies) error {
	rots, err := a.compactor(deps).Run(ctx)
	for _, r := range rots {
		fmt.Fprintf(a.out, "%s: %d -> %d lines %s\n", r.Name, r.Before, r.After, r.Location)
	}
	if err != nil {
		return fmt.Errorf("app: compact: %w", err)
	}
	return nil
}

// ResetMode archives every tier's ledger and equity series, then restores
// each tier to the configured bankroll.
func (a *App) ResetMode(ctx context.Context, deps *Dependencies) error {
	_, release, err := a.acquireEngineLock(ctx, deps)
	if err != nil {
		return err
	}
	defer release()

	locations, err := pipeline.ExportLedgers(ctx, deps.Store, deps.Archive, a.tiers())
	if err != nil {
		return fmt.Errorf("app: reset: export: %w", err)
	}
	for _, loc := range locations {
		a.logger.InfoContext(ctx, "ledger exported", slog.String("location", loc))
	}

	ledgers, err := a.loadLedgers(ctx, deps.Store)
	if err != nil {
		return fmt.Errorf("app: reset: %w", err)
	}
	for _, l := range ledgers {
		if err := l.Reset(ctx); err != nil {
			return fmt.Errorf("app: reset: %w", err)
		}
		fmt.Fprintf(a.out, "%s reset to %.2f\n", l.Tier(), a.cfg.Paper.BankrollUSD)
	}
	return nil
}

func (a *App) compactor(deps *Dependencies) *pipeline.Compactor {
	return pipeline.NewCompactor(deps.Archive, a.base,
		pipeline.Target{Log: deps.Opportunities, Keep: a.cfg.Storage.OpportunityKeepLines},
		pipeline.Target{Log: deps.Series, Keep: a.cfg.Storage.SeriesKeepLines},
	)
}

// acquireEngineLock takes the single-engine lock on the storage directory
// when redis is enabled. A second holder gets domain.ErrLockHeld.
func (a *App) acquireEngineLock(ctx context.Context, deps *Dependencies) (func(context.Context) error, func(), error) {
	if deps.Locks == nil {
		return nil, func() {}, nil
	}
	key := a.lockKey()
	unlock, extend, err := deps.Locks.Acquire(ctx, key, a.cfg.Redis.LockTTL.Duration)
	if err != nil {
		return nil, nil, fmt.Errorf("app: engine lock %s: %w", key, err)
	}
	a.logger.InfoContext(ctx, "engine lock acquired", slog.String("key", key))
	return extend, unlock, nil
}

func (a *App) lockKey() string {
	dir := a.cfg.Storage.Dir
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return "engine:" + dir
}

// holdLock extends the lock every interval and fails once it is lost.
func holdLock(ctx context.Context, extend func(context.Context) error, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := extend(ctx); err != nil {
				return fmt.Errorf("app: extend engine lock: %w", err)
			}
		}
	}
}

// mirrorBid marks positions against the redis mirror; without one nothing
// is marked.
func mirrorBid(ctx context.Context, m domain.PriceMirror) paper.BidFunc {
	return func(id string) (float64, bool) {
		if m == nil {
			return 0, false
		}
		ctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
		defer cancel()
		bp, err := m.GetBestPrice(ctx, id)
		if err != nil {
			return 0, false
		}
		return bp.BidPrice()
	}
}

// startHTTPServer adds the dashboard API and its shutdown watcher to g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, eng *engine.Engine, limiter domain.RateLimiter) {
	sc := a.cfg.Server
	srv := server.NewServer(server.Config{
		Bind:            sc.Bind,
		Port:            sc.Port,
		CORSOrigins:     sc.CORSOrigins,
		APIKey:          sc.APIKey,
		PublicReads:     sc.PublicReads,
		RateLimitPerMin: sc.RateLimitPerMin,
	}, server.Handlers{
		Health: handler.NewHealthHandler(a.cfg.Mode, eng, a.base),
		Engine: handler.NewEngineHandler(eng, a.base),
		Paper:  handler.NewPaperHandler(eng, a.base),
	}, limiter, a.base)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.String("addr", srv.Addr()),
			slog.String("url", fmt.Sprintf("http://localhost:%d", sc.Port)))
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
