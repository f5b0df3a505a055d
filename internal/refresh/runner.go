// Package refresh periodically reloads the rule cache and the advertisement
// lines.
package refresh

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task is one refreshable source.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Runner executes every task concurrently once at start and then on each
// tick. A failing task is logged; the others are unaffected.
type Runner struct {
	tasks    []Task
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a runner. timeout bounds a whole cycle.
func New(interval, timeout time.Duration, logger *slog.Logger, tasks ...Task) *Runner {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{tasks: tasks, interval: interval, timeout: timeout, logger: logger}
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.Cycle(ctx)
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			r.Cycle(ctx)
		}
	}
}

// Cycle runs every task once and waits for all of them.
func (r *Runner) Cycle(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var g errgroup.Group
	for _, task := range r.tasks {
		g.Go(func() error {
			start := time.Now()
			if err := task.Run(ctx); err != nil {
				r.logger.Warn("refresh: task failed",
					slog.String("task", task.Name),
					slog.String("error", err.Error()))
				return nil
			}
			r.logger.Debug("refresh: task done",
				slog.String("task", task.Name),
				slog.Duration("took", time.Since(start)))
			return nil
		})
	}
	_ = g.Wait()
}
