// Package connwatch tracks the reachability of model providers and
// supplies the exponential backoff schedule shared by provider retries.
//
// A Watcher checks one provider in two phases. At startup it retries
// with backoff until the provider answers or the attempts run out.
// After that it polls on a fixed interval and reports up/down
// transitions through callbacks.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc reports whether a provider is reachable. Return nil if healthy.
type CheckFunc func(ctx context.Context) error

// BackoffConfig controls exponential backoff.
type BackoffConfig struct {
	// InitialDelay is the wait before the first retry (default: 2s).
	InitialDelay time.Duration

	// MaxDelay caps delay growth (default: 60s).
	MaxDelay time.Duration

	// Multiplier scales the delay after each retry (default: 2.0).
	Multiplier float64

	// MaxRetries bounds startup checks for a Watcher and total attempts
	// for a retried call (default: 10).
	MaxRetries int

	// PollInterval is the steady-state check interval once startup
	// retries succeed or run out (default: 60s).
	PollInterval time.Duration

	// CheckTimeout bounds a single check (default: 10s).
	CheckTimeout time.Duration
}

// DefaultBackoffConfig returns 2s, 4s, 8s ... capped at 60s, with ten
// startup checks and a 60 second poll.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   10,
		PollInterval: 60 * time.Second,
		CheckTimeout: 10 * time.Second,
	}
}

// Delay returns the wait before retry number attempt (1-based).
func (b BackoffConfig) Delay(attempt int) time.Duration {
	d := b.InitialDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * b.Multiplier)
		if d >= b.MaxDelay {
			return b.MaxDelay
		}
	}
	if b.MaxDelay > 0 && d > b.MaxDelay {
		return b.MaxDelay
	}
	return d
}

// withDefaults fills zero fields from [DefaultBackoffConfig].
func (b BackoffConfig) withDefaults() BackoffConfig {
	d := DefaultBackoffConfig()
	if b.InitialDelay <= 0 {
		b.InitialDelay = d.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.Multiplier <= 0 {
		b.Multiplier = d.Multiplier
	}
	if b.MaxRetries <= 0 {
		b.MaxRetries = d.MaxRetries
	}
	if b.PollInterval <= 0 {
		b.PollInterval = d.PollInterval
	}
	if b.CheckTimeout <= 0 {
		b.CheckTimeout = d.CheckTimeout
	}
	return b
}

// Sleep waits for d or until ctx ends. It returns false if ctx ended.
func Sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// WatcherConfig configures a single watcher.
type WatcherConfig struct {
	// Name identifies the provider in logs and status (e.g. "anthropic").
	Name string

	// Check tests provider health. It must be safe for concurrent use.
	Check CheckFunc

	// Backoff controls retry timing. Zero fields take defaults.
	Backoff BackoffConfig

	// OnReady runs in its own goroutine when the provider comes up.
	// Optional; it must not block indefinitely.
	OnReady func()

	// OnDown runs in its own goroutine when the provider goes down.
	// Optional; it must not block indefinitely.
	OnDown func(err error)

	// Logger receives transition and retry logs. Nil uses the manager's.
	Logger *slog.Logger
}

// ServiceStatus is the JSON shape reported on the health endpoint.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`           // zero until the first check
	LastError string    `json:"last_error,omitempty"` // from the most recent check
}

// Watcher monitors one provider.
type Watcher struct {
	config WatcherConfig
	ready  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{} // closed when run returns

	// mu guards the last check result.
	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
}

// IsReady reports whether the last check succeeded.
func (w *Watcher) IsReady() bool {
	return w.ready.Load()
}

// Status returns the current health status.
func (w *Watcher) Status() ServiceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := ServiceStatus{
		Name:      w.config.Name,
		Ready:     w.ready.Load(),
		LastCheck: w.lastCheck,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Stop cancels the watcher and waits for it to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

// run checks with backoff until the provider answers or retries run
// out, then polls until ctx ends.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	cfg := w.config.Backoff
	logger := w.config.Logger

	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		err := w.check(ctx)
		if err == nil {
			logger.Info("provider reachable", "provider", w.config.Name, "after_attempts", attempt)
			break
		}
		if attempt == cfg.MaxRetries {
			logger.Warn("provider unreachable at startup, polling", "provider", w.config.Name, "attempts", attempt, "error", err)
			break
		}
		delay := cfg.Delay(attempt)
		logger.Debug("provider check failed, retrying",
			"provider", w.config.Name,
			"attempt", attempt,
			"next_delay", delay.String(),
			"error", err,
		)
		if !Sleep(ctx, delay) {
			return
		}
	}

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.check(ctx); err != nil {
				logger.Debug("provider check failed", "provider", w.config.Name, "error", err)
			}
		}
	}
}

// check runs the CheckFunc with a timeout and records any transition.
func (w *Watcher) check(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, w.config.Backoff.CheckTimeout)
	defer cancel()

	err := w.config.Check(checkCtx)

	w.mu.Lock()
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()

	wasReady := w.ready.Load()
	switch {
	case err == nil && !wasReady:
		w.ready.Store(true)
		if w.config.OnReady != nil {
			go w.config.OnReady()
		}
	case err != nil && wasReady:
		w.ready.Store(false)
		w.config.Logger.Warn("provider became unreachable", "provider", w.config.Name, "error", err)
		if w.config.OnDown != nil {
			go w.config.OnDown(err)
		}
	}
	return err
}

// Manager owns the watchers for every configured provider.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher // keyed by WatcherConfig.Name
	logger   *slog.Logger        // default for watchers without one
}

// NewManager creates a manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		watchers: make(map[string]*Watcher),
		logger:   logger,
	}
}

// Watch starts a watcher that runs until ctx ends or Stop is called.
// It panics on an empty name or nil check. Zero backoff fields take
// defaults.
func (m *Manager) Watch(ctx context.Context, cfg WatcherConfig) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: WatcherConfig.Name must not be empty")
	}
	if cfg.Check == nil {
		panic("connwatch: WatcherConfig.Check must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = m.logger
	}
	cfg.Backoff = cfg.Backoff.withDefaults()

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		config: cfg,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.run(watchCtx)

	m.mu.Lock()
	m.watchers[cfg.Name] = w
	m.mu.Unlock()
	return w
}

// Status returns the status of every watched provider.
func (m *Manager) Status() map[string]ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]ServiceStatus, len(m.watchers))
	for name, w := range m.watchers {
		status[name] = w.Status()
	}
	return status
}

// Stop shuts down all watchers.
func (m *Manager) Stop() {
	m.mu.RLock()
	watchers := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.RUnlock()

	for _, w := range watchers {
		w.Stop()
	}
}
