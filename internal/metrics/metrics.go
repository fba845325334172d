// Package metrics turns operational events into Prometheus series and
// an in-process latency digest for the stats endpoint.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nugget/coachd/internal/events"
)

// Collector consumes events and exposes metrics. Each Collector owns
// its own Prometheus registry.
type Collector struct {
	reg    *prometheus.Registry
	logger *slog.Logger

	turns         *prometheus.CounterVec
	turnDuration  prometheus.Histogram
	stageDuration *prometheus.HistogramVec
	notices       *prometheus.CounterVec
	toolRuns      *prometheus.CounterVec
	memoryUpdates *prometheus.CounterVec
	swept         *prometheus.CounterVec

	windowSize int
	mu         sync.Mutex
	turnWindow *Window
	stages     map[string]*Window
	byStatus   map[string]int
	byRoute    map[string]int
}

// New creates a collector whose latency windows keep windowSize
// samples.
func New(windowSize int, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collector{
		reg:    prometheus.NewRegistry(),
		logger: logger.With("component", "metrics"),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coachd_turns_total",
			Help: "Completed turns by route and terminal status.",
		}, []string{"route", "status"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coachd_turn_duration_seconds",
			Help:    "Wall time from turn start to terminal event.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coachd_stage_duration_seconds",
			Help:    "Pipeline stage duration.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"stage"}),
		notices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coachd_policy_notices_total",
			Help: "Policy notices sent, by kind.",
		}, []string{"kind"}),
		toolRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coachd_tool_executions_total",
			Help: "Server tool executions by tool and status.",
		}, []string{"tool", "status"}),
		memoryUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coachd_memory_updates_total",
			Help: "Memory consolidations by outcome.",
		}, []string{"ok"}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coachd_janitor_removed_total",
			Help: "Entries removed by janitor jobs.",
		}, []string{"job"}),
		windowSize: windowSize,
		turnWindow: NewWindow(windowSize),
		stages:     make(map[string]*Window),
		byStatus:   make(map[string]int),
		byRoute:    make(map[string]int),
	}
	c.reg.MustRegister(
		c.turns, c.turnDuration, c.stageDuration,
		c.notices, c.toolRuns, c.memoryUpdates, c.swept,
	)
	return c
}

// Registry returns the collector's registry so other components can
// register their own series.
func (c *Collector) Registry() *prometheus.Registry {
	return c.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Run consumes bus events until ctx ends.
func (c *Collector) Run(ctx context.Context, bus *events.Bus) {
	ch := bus.Subscribe(256)
	defer bus.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			c.Observe(e)
		}
	}
}

// Observe folds one event into the metrics.
func (c *Collector) Observe(e events.Event) {
	switch e.Kind {
	case events.KindStageDone:
		stage, _ := e.Data["stage"].(string)
		ms := number(e.Data["duration_ms"])
		c.stageDuration.WithLabelValues(stage).Observe(ms / 1000)
		c.mu.Lock()
		w, ok := c.stages[stage]
		if !ok {
			w = NewWindow(c.windowSize)
			c.stages[stage] = w
		}
		c.mu.Unlock()
		w.Add(ms)

	case events.KindTurnComplete:
		route, _ := e.Data["route"].(string)
		status, _ := e.Data["status"].(string)
		ms := number(e.Data["elapsed_ms"])
		c.turns.WithLabelValues(route, status).Inc()
		c.turnDuration.Observe(ms / 1000)
		c.turnWindow.Add(ms)
		c.mu.Lock()
		c.byStatus[status]++
		if route != "" {
			c.byRoute[route]++
		}
		c.mu.Unlock()

	case events.KindPolicyNotice:
		kind, _ := e.Data["kind"].(string)
		c.notices.WithLabelValues(kind).Inc()

	case events.KindToolExecuted:
		tool, _ := e.Data["tool"].(string)
		status, _ := e.Data["status"].(string)
		c.toolRuns.WithLabelValues(tool, status).Inc()

	case events.KindMemoryUpdated:
		ok, _ := e.Data["ok"].(bool)
		label := "false"
		if ok {
			label = "true"
		}
		c.memoryUpdates.WithLabelValues(label).Inc()

	case events.KindSweep:
		job, _ := e.Data["job"].(string)
		c.swept.WithLabelValues(job).Add(number(e.Data["removed"]))

	default:
		c.logger.Log(context.Background(), slog.Level(-8), "event ignored", "source", e.Source, "kind", e.Kind)
	}
}

// Snapshot is the stats endpoint payload.
type Snapshot struct {
	Turns    int                       `json:"turns"`
	ByStatus map[string]int            `json:"by_status"`
	ByRoute  map[string]int            `json:"by_route"`
	Latency  LatencySummary            `json:"latency"`
	Stages   map[string]LatencySummary `json:"stages"`
}

// Snapshot returns current counts and latency percentiles.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{
		ByStatus: make(map[string]int, len(c.byStatus)),
		ByRoute:  make(map[string]int, len(c.byRoute)),
		Stages:   make(map[string]LatencySummary, len(c.stages)),
	}
	for k, v := range c.byStatus {
		s.ByStatus[k] = v
		s.Turns += v
	}
	for k, v := range c.byRoute {
		s.ByRoute[k] = v
	}
	stages := make(map[string]*Window, len(c.stages))
	for k, w := range c.stages {
		stages[k] = w
	}
	c.mu.Unlock()

	s.Latency = c.turnWindow.Summary()
	for k, w := range stages {
		s.Stages[k] = w.Summary()
	}
	return s
}

func number(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}
