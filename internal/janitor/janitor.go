// Package janitor schedules periodic housekeeping: cache sweeps,
// rate-limiter bucket collection and idempotency key purges.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nugget/coachd/internal/events"
)

// JobFunc performs one pass and returns how many entries it removed.
type JobFunc func(ctx context.Context) (int, error)

// Janitor runs named jobs on cron schedules.
type Janitor struct {
	cron   *cron.Cron
	bus    *events.Bus
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[string]JobFunc
}

// New creates a janitor. bus may be nil.
func New(bus *events.Bus, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		cron:   cron.New(),
		bus:    bus,
		logger: logger.With("component", "janitor"),
		jobs:   make(map[string]JobFunc),
	}
}

// Every schedules fn to run every interval.
func (j *Janitor) Every(name string, interval time.Duration, fn JobFunc) error {
	return j.Add(name, "@every "+interval.String(), fn)
}

// Add schedules fn on a cron spec.
func (j *Janitor) Add(name, spec string, fn JobFunc) error {
	j.mu.Lock()
	if _, dup := j.jobs[name]; dup {
		j.mu.Unlock()
		return fmt.Errorf("janitor job %q already registered", name)
	}
	j.jobs[name] = fn
	j.mu.Unlock()

	if _, err := j.cron.AddFunc(spec, func() { j.RunNow(context.Background(), name) }); err != nil {
		j.mu.Lock()
		delete(j.jobs, name)
		j.mu.Unlock()
		return fmt.Errorf("schedule %q (%s): %w", name, spec, err)
	}
	return nil
}

// RunNow runs the named job once and returns what it removed.
func (j *Janitor) RunNow(ctx context.Context, name string) (int, error) {
	j.mu.Lock()
	fn, ok := j.jobs[name]
	j.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("unknown janitor job %q", name)
	}

	removed, err := fn(ctx)
	if err != nil {
		j.logger.Warn("janitor job failed", "job", name, "error", err)
		return removed, err
	}
	if removed > 0 {
		j.logger.Debug("janitor job removed entries", "job", name, "removed", removed)
	}
	j.bus.Publish(events.Event{
		Source: events.SourceJanitor,
		Kind:   events.KindSweep,
		Data:   map[string]any{"job": name, "removed": removed},
	})
	return removed, nil
}

// Start begins the schedule.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for running jobs.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweeper is anything with an expiry sweep, such as a cache.
type Sweeper interface {
	Sweep() int
}

// SweepJob adapts a Sweeper.
func SweepJob(s Sweeper) JobFunc {
	return func(context.Context) (int, error) { return s.Sweep(), nil }
}

// Collector is anything with idle-entry collection, such as a limiter.
type Collector interface {
	GC() int
}

// GCJob adapts a Collector.
func GCJob(c Collector) JobFunc {
	return func(context.Context) (int, error) { return c.GC(), nil }
}

// Purger deletes records older than a cutoff.
type Purger interface {
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// PurgeJob purges records older than maxAge.
func PurgeJob(p Purger, maxAge time.Duration) JobFunc {
	return func(ctx context.Context) (int, error) {
		n, err := p.Purge(ctx, time.Now().Add(-maxAge))
		return int(n), err
	}
}
