// Package retention prunes old reading history on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const runTimeout = 2 * time.Minute

// Pruner deletes history received before a cutoff. store.Store satisfies it.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}

// Job removes history entries older than Retention.
type Job struct {
	store     Pruner
	retention time.Duration
	now       func() time.Time
}

// New creates a Job. A retention <= 0 makes RunOnce a no-op.
func New(store Pruner, retention time.Duration) *Job {
	return &Job{store: store, retention: retention, now: time.Now}
}

// RunOnce prunes everything received before now - retention and returns the
// number of entries removed.
func (j *Job) RunOnce(ctx context.Context) (int, error) {
	if j.retention <= 0 {
		return 0, nil
	}
	cutoff := j.now().Add(-j.retention)
	n, err := j.store.Prune(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention: prune before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	slog.Info("retention: pruned history", "removed", n, "cutoff", cutoff.Format(time.RFC3339))
	return n, nil
}

// Start schedules RunOnce on spec (standard five-field cron or a descriptor
// such as "@hourly") and returns the running scheduler. The scheduler stops
// when ctx is cancelled; callers may also Stop it directly.
func (j *Job) Start(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()
		if _, err := j.RunOnce(runCtx); err != nil {
			slog.Error("retention: scheduled run failed", "err", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("retention: schedule %q: %w", spec, err)
	}
	c.Start()
	slog.Info("retention: scheduled", "schedule", spec, "retention", j.retention)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return c, nil
}
