package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ParseSchedule parses a standard 5-field expression
// "minute hour day-of-month month day-of-week", e.g. "0 * * * *" hourly.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("pipeline: cron %q: %w", expr, err)
	}
	return sched, nil
}

// RunCron calls job at every time matching cronExpr until ctx ends. Job
// failures are logged and do not stop the schedule.
func RunCron(ctx context.Context, cronExpr string, logger *slog.Logger, job func(context.Context) error) error {
	return runCron(ctx, cronExpr, logger, time.Now, job)
}

func runCron(ctx context.Context, cronExpr string, logger *slog.Logger, now func() time.Time, job func(context.Context) error) error {
	sched, err := ParseSchedule(cronExpr)
	if err != nil {
		return err
	}
	logger.Info("cron started", slog.String("cron", cronExpr))

	for {
		next := sched.Next(now().UTC())
		if next.IsZero() {
			return fmt.Errorf("pipeline: cron %q: no upcoming run", cronExpr)
		}
		wait := next.Sub(now())
		logger.Debug("waiting for next cron trigger", slog.Time("next_run", next), slog.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			if err := job(ctx); err != nil {
				logger.Error("cron job failed", slog.String("error", err.Error()))
			}
		}
	}
}
