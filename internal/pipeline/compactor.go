// Package pipeline holds the offline maintenance jobs: log compaction and
// ledger export, plus the cron loop that schedules them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/polypaper/internal/domain"
	"github.com/alanyoungcy/polypaper/internal/store/jsonl"
)

// Target is one log and the number of newest lines it keeps.
type Target struct {
	Log  *jsonl.Log
	Keep int
}

// Compactor rotates the engine's JSONL logs into an archive sink.
type Compactor struct {
	targets []Target
	sink    domain.ArchiveSink
	logger  *slog.Logger
}

// NewCompactor creates a Compactor over targets.
func NewCompactor(sink domain.ArchiveSink, logger *slog.Logger, targets ...Target) *Compactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{
		targets: targets,
		sink:    sink,
		logger:  logger.With(slog.String("component", "compactor")),
	}
}

// Run rotates every target once. A failing target does not stop the others;
// their errors are joined.
func (c *Compactor) Run(ctx context.Context) ([]jsonl.Rotation, error) {
	var (
		out  []jsonl.Rotation
		errs []error
	)
	for _, t := range c.targets {
		rot, err := t.Log.Rotate(ctx, t.Keep, c.sink)
		if err != nil {
			errs = append(errs, fmt.Errorf("pipeline: compact %s: %w", t.Log.Name(), err))
			continue
		}
		out = append(out, rot)
		if rot.Rotated() {
			c.logger.Info("log rotated",
				slog.String("log", rot.Name),
				slog.Int("before", rot.Before),
				slog.Int("after", rot.After),
				slog.String("archive", rot.Location),
			)
		} else {
			c.logger.Debug("log under threshold", slog.String("log", rot.Name), slog.Int("lines", rot.Before))
		}
	}
	return out, errors.Join(errs...)
}

// RunCron compacts on the given schedule until ctx ends.
func (c *Compactor) RunCron(ctx context.Context, cronExpr string) error {
	return RunCron(ctx, cronExpr, c.logger, func(ctx context.Context) error {
		_, err := c.Run(ctx)
		return err
	})
}
