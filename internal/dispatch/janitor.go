package dispatch

import (
	"context"
	"log/slog"
	"time"

	"registrar/internal/logging"
)

// JobRemover removes finished top-level jobs.
type JobRemover interface {
	RemoveParentlessJobs(ctx context.Context, lifetimeDays int) (int, error)
}

// Janitor periodically removes terminated parentless jobs older than the
// configured lifetime.
type Janitor struct {
	remover      JobRemover
	logger       *slog.Logger
	interval     time.Duration
	lifetimeDays int
}

// NewJanitor builds a janitor. A non-positive lifetime disables sweeping.
func NewJanitor(remover JobRemover, interval time.Duration, lifetimeDays int, logger *slog.Logger) *Janitor {
	return &Janitor{
		remover:      remover,
		logger:       logging.NewComponentLogger(logger, "janitor"),
		interval:     interval,
		lifetimeDays: lifetimeDays,
	}
}

func (j *Janitor) String() string { return "janitor" }

// Serve sweeps until ctx is cancelled.
func (j *Janitor) Serve(ctx context.Context) error {
	return runEvery(ctx, j.interval, func(ctx context.Context) {
		if _, err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
			j.logger.Warn("job cleanup failed", logging.Error(err))
		}
	})
}

// Sweep removes expired parentless jobs once and returns how many were removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	if j.lifetimeDays <= 0 {
		return 0, nil
	}
	removed, err := j.remover.RemoveParentlessJobs(ctx, j.lifetimeDays)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		j.logger.Info("removed parentless jobs",
			logging.Int("count", removed),
			logging.Int("lifetime_days", j.lifetimeDays),
		)
	}
	return removed, nil
}
