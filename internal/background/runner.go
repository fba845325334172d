// Package background runs detached work that must outlive the request
// that started it, with a bound on how much runs at once.
package background

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// QueueFactor sets how many jobs may wait for a slot per concurrent
// slot. Submissions beyond maxConcurrent*(1+QueueFactor) are dropped.
const QueueFactor = 16

// Runner executes submitted jobs on its own root context. The root
// keeps the parent's values but not its cancellation, so a shutdown
// signal does not cut consolidation short; only [Runner.Drain] giving
// up cancels running jobs.
type Runner struct {
	root    context.Context
	cancel  context.CancelFunc
	sem     *semaphore.Weighted
	limit   int64 // admitted jobs, running or waiting
	timeout time.Duration
	logger  *slog.Logger

	wg       sync.WaitGroup
	inflight atomic.Int64
	failed   atomic.Int64
	done     atomic.Int64
	dropped  atomic.Int64
}

// New creates a runner. At most maxConcurrent jobs execute at once;
// each job's context is cancelled after timeout (0 means no limit).
func New(parent context.Context, maxConcurrent int, timeout time.Duration, logger *slog.Logger) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	root, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &Runner{
		root:    root,
		cancel:  cancel,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		limit:   int64(maxConcurrent) * (1 + QueueFactor),
		timeout: timeout,
		logger:  logger.With("component", "background"),
	}
}

// Submit schedules fn and returns immediately. When the backlog is
// full the job is dropped and logged. Errors and panics are logged.
func (r *Runner) Submit(name string, fn func(ctx context.Context) error) {
	if r.inflight.Add(1) > r.limit {
		r.inflight.Add(-1)
		r.dropped.Add(1)
		r.logger.Warn("job dropped, backlog full", "job", name, "limit", r.limit)
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.inflight.Add(-1)

		if err := r.sem.Acquire(r.root, 1); err != nil {
			r.logger.Warn("job abandoned", "job", name, "error", err)
			r.failed.Add(1)
			return
		}
		defer r.sem.Release(1)

		ctx := r.root
		if r.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}

		start := time.Now()
		if err := r.run(ctx, fn); err != nil {
			r.failed.Add(1)
			r.logger.Warn("job failed", "job", name, "error", err, "elapsed", time.Since(start))
			return
		}
		r.done.Add(1)
		r.logger.Debug("job finished", "job", name, "elapsed", time.Since(start))
	}()
}

func (r *Runner) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}

// Wait blocks until every submitted job has finished or been abandoned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// WaitContext is Wait bounded by ctx. It reports whether all jobs
// finished.
func (r *Runner) WaitContext(ctx context.Context) bool {
	ch := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}

// Drain waits for submitted jobs until ctx ends. If they have not all
// finished by then, running and queued jobs are cancelled and Drain
// waits for them to return. It reports whether everything finished
// before ctx ended.
func (r *Runner) Drain(ctx context.Context) bool {
	if r.WaitContext(ctx) {
		r.cancel()
		return true
	}
	r.logger.Warn("cancelling background jobs", "in_flight", r.inflight.Load())
	r.cancel()
	r.wg.Wait()
	return false
}

// Stats reports job counters.
type Stats struct {
	InFlight  int64 `json:"in_flight"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// Stats returns current counters.
func (r *Runner) Stats() Stats {
	return Stats{
		InFlight:  r.inflight.Load(),
		Completed: r.done.Load(),
		Failed:    r.failed.Load(),
		Dropped:   r.dropped.Load(),
	}
}
