package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"golang.org/x/sync/errgroup"

	"ridedispatch/internal/observability"
)

const defaultBackgroundTimeout = 30 * time.Second

// BackgroundRunner runs fire-and-forget work with a bounded number of
// goroutines. When every slot is busy new work is dropped and logged, so a
// caller on a hot path never waits for a slot.
type BackgroundRunner struct {
	group   *errgroup.Group
	logger  *slog.Logger
	timeout time.Duration
}

// NewBackgroundRunner creates a runner allowing at most limit concurrent
// tasks. A timeout of zero uses the default per-task deadline.
func NewBackgroundRunner(limit int, timeout time.Duration, logger *slog.Logger) *BackgroundRunner {
	if limit <= 0 {
		limit = 64
	}
	if timeout <= 0 {
		timeout = defaultBackgroundTimeout
	}
	g := new(errgroup.Group)
	g.SetLimit(limit)
	return &BackgroundRunner{group: g, logger: logger, timeout: timeout}
}

// Go schedules fn without blocking. The task gets a context detached from
// ctx's cancellation but carrying its values (including a New Relic
// transaction, re-bound for the new goroutine). It reports whether the task
// was accepted.
func (r *BackgroundRunner) Go(ctx context.Context, name string, fn func(ctx context.Context) error) bool {
	taskCtx := detach(ctx)

	accepted := r.group.TryGo(func() error {
		ctx, cancel := context.WithTimeout(taskCtx, r.timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			observability.BackgroundTasksTotal.WithLabelValues(name, "error").Inc()
			r.logger.ErrorContext(ctx, "background task failed", "task", name, "error", err)
			return nil
		}
		observability.BackgroundTasksTotal.WithLabelValues(name, "ok").Inc()
		return nil
	})
	if !accepted {
		observability.BackgroundTasksTotal.WithLabelValues(name, "dropped").Inc()
		r.logger.WarnContext(ctx, "background task dropped, runner saturated", "task", name)
	}
	return accepted
}

// Wait blocks until every accepted task has finished.
func (r *BackgroundRunner) Wait() {
	_ = r.group.Wait()
}

func detach(ctx context.Context) context.Context {
	bg := context.WithoutCancel(ctx)
	if txn := newrelic.FromContext(ctx); txn != nil {
		bg = newrelic.NewContext(bg, txn.NewGoroutine())
	}
	return bg
}
