package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/coachd/internal/background"
	"github.com/nugget/coachd/internal/buildinfo"
	"github.com/nugget/coachd/internal/cache"
	"github.com/nugget/coachd/internal/coach"
	"github.com/nugget/coachd/internal/config"
	"github.com/nugget/coachd/internal/connwatch"
	"github.com/nugget/coachd/internal/contextbuilder"
	"github.com/nugget/coachd/internal/docstore"
	"github.com/nugget/coachd/internal/events"
	"github.com/nugget/coachd/internal/generator"
	"github.com/nugget/coachd/internal/idempotency"
	"github.com/nugget/coachd/internal/janitor"
	"github.com/nugget/coachd/internal/llm"
	"github.com/nugget/coachd/internal/memory"
	"github.com/nugget/coachd/internal/metrics"
	"github.com/nugget/coachd/internal/mqtt"
	"github.com/nugget/coachd/internal/pipeline"
	"github.com/nugget/coachd/internal/planner"
	"github.com/nugget/coachd/internal/ratelimit"
	"github.com/nugget/coachd/internal/router"
	"github.com/nugget/coachd/internal/safety"
	"github.com/nugget/coachd/internal/tools"
	"github.com/nugget/coachd/internal/usage"
)

// idempotencyRetention is how long completed tool keys are remembered.
const idempotencyRetention = 7 * 24 * time.Hour

// app holds every long-lived component. Nothing is a package-level
// singleton; the graph is built once here and passed by parameter.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db       *sql.DB
	docs     *docstore.Store
	keys     *idempotency.Store
	usage    *usage.Store
	bus      *events.Bus
	metrics  *metrics.Collector
	health   *connwatch.Manager
	runner   *background.Runner
	janitor  *janitor.Janitor
	limiter  *ratelimit.Limiter
	registry *tools.Registry
	router   *router.Classifier
	context  *contextbuilder.Builder
	executor *tools.Executor
	pipeline *pipeline.Pipeline
}

// newApp wires the turn pipeline and its supporting services. Provider
// watchers and the metrics collector run until ctx ends.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	db, err := openDB(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	a.db = db

	if a.docs, err = docstore.NewStore(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open document store: %w", err)
	}
	if a.keys, err = idempotency.NewStore(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open idempotency store: %w", err)
	}
	if a.usage, err = usage.NewStore(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open usage store: %w", err)
	}

	a.bus = events.New()
	a.metrics = metrics.New(512, logger)
	go a.metrics.Run(ctx, a.bus)

	a.health = connwatch.NewManager(logger.With("component", "connwatch"))
	client := a.llmClient(ctx)

	// The runner ignores ctx's cancellation; close drains it.
	a.runner = background.New(ctx, cfg.Background.MaxConcurrent, cfg.Background.Timeout, logger)
	a.limiter = ratelimit.New(cfg.RateLimit.Rate, cfg.RateLimit.Window)
	a.registry = tools.Default()
	a.executor = tools.NewExecutor(a.registry, a.docs, a.keys, logger)

	specs := cache.New[string, *coach.Spec]()
	plans := cache.New[string, []docstore.PlanRecord]()
	a.context = contextbuilder.New(a.docs, specs, plans, contextbuilder.Config{
		SpecTTL: cfg.Cache.CoachTTL,
		PlanTTL: cfg.Cache.PlanTTL,
	}, logger)

	a.router = router.New(client, router.Config{Model: cfg.Models.Router}, logger)
	a.pipeline = pipeline.New(pipeline.Deps{
		Router:    a.router,
		Context:   a.context,
		Generator: generator.New(client, cfg.Models.Default, a.registry, generator.NewKeywordDetector(), logger),
		Planner:   planner.New(client, cfg.Models.Planner, logger),
		Safety:    safety.Default(a.registry),
		Registry:  a.registry,
		Tools:     a.executor,
		Memory:    memory.New(client, cfg.Models.Memory, a.docs, a.bus, logger),
		Runner:    a.runner,
		Sessions:  a.docs,
		Bus:       a.bus,
	}, pipeline.Config{
		EventBuffer: cfg.Pipeline.EventBuffer,
		TurnTimeout: cfg.Pipeline.TurnTimeout,
	}, logger)

	a.janitor = janitor.New(a.bus, logger)
	jobs := []struct {
		name     string
		interval time.Duration
		fn       janitor.JobFunc
	}{
		{"coach_cache_sweep", cfg.Cache.SweepInterval, janitor.SweepJob(specs)},
		{"plan_cache_sweep", cfg.Cache.SweepInterval, janitor.SweepJob(plans)},
		{"rate_limit_gc", cfg.RateLimit.Window, janitor.GCJob(a.limiter)},
		{"idempotency_purge", time.Hour, janitor.PurgeJob(a.keys, idempotencyRetention)},
	}
	for _, j := range jobs {
		if err := a.janitor.Every(j.name, j.interval, j.fn); err != nil {
			db.Close()
			return nil, err
		}
	}

	return a, nil
}

// llmClient builds the provider chain: multi-provider routing, retry of
// transient completion failures, then usage metering outermost so each
// recorded call carries the caller's stage.
func (a *app) llmClient(ctx context.Context) llm.Client {
	cfg := a.cfg
	ollama := llm.NewOllamaClient(cfg.Models.OllamaURL, a.logger)
	multi := llm.NewMultiClient(ollama)
	multi.AddProvider("ollama", ollama)
	a.watch(ctx, "ollama", ollama.Ping)

	if cfg.Anthropic.Configured() {
		anthropic := llm.NewAnthropicClient(cfg.Anthropic.APIKey, a.logger)
		multi.AddProvider("anthropic", anthropic)
		a.watch(ctx, "anthropic", anthropic.Ping)
		a.logger.Info("Anthropic provider configured")
	}

	for _, m := range cfg.Models.Available {
		multi.AddModel(m.Name, m.Provider)
	}
	a.logger.Info("LLM client initialized",
		"default_model", cfg.Models.Default,
		"default_provider", multi.ProviderName(cfg.Models.Default),
	)

	retrying := llm.NewRetrying(multi, connwatch.BackoffConfig{
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Multiplier:   cfg.Retry.Multiplier,
		MaxRetries:   cfg.Retry.MaxAttempts,
	}, a.logger)
	return usage.NewMetered(retrying, a.usage, multi.ProviderName, a.logger)
}

func (a *app) watch(ctx context.Context, name string, check connwatch.CheckFunc) {
	logger := a.logger.With("provider", name)
	a.health.Watch(ctx, connwatch.WatcherConfig{
		Name:    name,
		Check:   check,
		Backoff: connwatch.DefaultBackoffConfig(),
		OnReady: func() { logger.Info("provider ready") },
		OnDown:  func(err error) { logger.Warn("provider down", "error", err) },
		Logger:  logger,
	})
}

// stats assembles the telemetry snapshot published over MQTT.
func (a *app) stats() mqtt.Stats {
	snap := a.metrics.Snapshot()
	bg := a.runner.Stats()

	s := mqtt.Stats{
		Version:       buildinfo.Version,
		UptimeSeconds: int64(buildinfo.Uptime().Seconds()),
		Turns:         snap.Turns,
		TurnsByStatus: snap.ByStatus,
		TurnsByRoute:  snap.ByRoute,
		LatencyP50Ms:  snap.Latency.P50,
		LatencyP95Ms:  snap.Latency.P95,
		Background: mqtt.BackgroundStats{
			InFlight:  bg.InFlight,
			Completed: bg.Completed,
			Failed:    bg.Failed,
			Dropped:   bg.Dropped,
		},
		Providers: make(map[string]bool),
	}
	for name, st := range a.health.Status() {
		s.Providers[name] = st.Ready
	}

	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if sum, err := a.usage.Summary(ctx, midnight, now); err == nil {
		s.TokensToday = sum.TotalInputTokens + sum.TotalOutputTokens
	} else {
		a.logger.Warn("usage summary for telemetry failed", "error", err)
	}
	return s
}

// close stops housekeeping, lets detached memory work finish until ctx
// ends (cancelling whatever is left after that) and closes the
// database.
func (a *app) close(ctx context.Context) {
	a.janitor.Stop()
	if !a.runner.Drain(ctx) {
		a.logger.Warn("background work cancelled at shutdown", "stats", a.runner.Stats())
	}
	a.health.Stop()
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close database", "error", err)
	}
}
