// Package api serves the coachd HTTP API: streamed turns over
// Server-Sent Events, server tool execution, and read-only
// introspection endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nugget/coachd/internal/background"
	"github.com/nugget/coachd/internal/connwatch"
	"github.com/nugget/coachd/internal/events"
	"github.com/nugget/coachd/internal/metrics"
	"github.com/nugget/coachd/internal/pipeline"
	"github.com/nugget/coachd/internal/protocol"
	"github.com/nugget/coachd/internal/router"
	"github.com/nugget/coachd/internal/tools"
	"github.com/nugget/coachd/internal/usage"
)

// writeJSON encodes v as JSON to w. Encode errors usually mean the
// client went away and are only logged at debug level.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Turner runs turns.
type Turner interface {
	Stream(ctx context.Context, t pipeline.Turn) <-chan protocol.Event
}

// ToolRunner executes server-owned tools.
type ToolRunner interface {
	Execute(ctx context.Context, uid string, req protocol.ToolRequest, granted []string) (protocol.ToolStatus, error)
}

// RouterIntrospector exposes the classifier's audit trail.
type RouterIntrospector interface {
	AuditLog(limit int) []router.Decision
	Stats() router.Stats
	Explain(requestID string) *router.Decision
}

// Limiter admits requests per user.
type Limiter interface {
	Allow(uid string) bool
	RetryAfter(uid string) time.Duration
}

// PlanCache is told when a user's plans change.
type PlanCache interface {
	InvalidatePlans(uid string)
}

// UsageReporter summarizes metered provider calls.
type UsageReporter interface {
	Summary(ctx context.Context, start, end time.Time) (*usage.Summary, error)
	SummaryByStage(ctx context.Context, start, end time.Time) (map[string]*usage.Summary, error)
}

// BackgroundStats reports detached work.
type BackgroundStats interface {
	Stats() background.Stats
}

// Config holds server settings.
type Config struct {
	Address string
	Port    int

	// Tokens maps bearer tokens to user ids.
	Tokens map[string]string

	// DefaultCoachID is used when a turn names no coach.
	DefaultCoachID string
}

// Deps are the server's collaborators. Only Pipeline is required;
// endpoints whose collaborator is nil answer 503.
type Deps struct {
	Pipeline   Turner
	Tools      ToolRunner
	Registry   *tools.Registry
	Router     RouterIntrospector
	Limiter    Limiter
	Plans      PlanCache
	Metrics    *metrics.Collector
	Usage      UsageReporter
	Background BackgroundStats
	Health     *connwatch.Manager
	Bus        *events.Bus
}

// Server is the HTTP API server.
type Server struct {
	config Config
	deps   Deps
	logger *slog.Logger
	server *http.Server
}

// New creates a server.
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if deps.Registry == nil {
		deps.Registry = tools.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config: config,
		deps:   deps,
		logger: logger.With("component", "api"),
	}
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /v1/turns", s.requireAuth(s.handleTurn))
	mux.Handle("POST /v1/tools/execute", s.requireAuth(s.handleToolExecute))
	mux.Handle("GET /v1/tools", s.requireAuth(s.handleToolList))

	mux.Handle("GET /v1/router/stats", s.requireAuth(s.handleRouterStats))
	mux.Handle("GET /v1/router/audit", s.requireAuth(s.handleRouterAudit))
	mux.Handle("GET /v1/router/explain/{requestId}", s.requireAuth(s.handleRouterExplain))
	mux.Handle("GET /v1/stats", s.requireAuth(s.handleStats))

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	return s.withLogging(mux)
}

// Start serves until Shutdown. Write timeouts are extended per event on
// streamed turns.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.config.Address, s.config.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.config.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.config.Port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// statusRecorder captures the response status for logging. Unwrap lets
// http.ResponseController reach the underlying writer's Flush.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	s.errorResponseWith(w, code, message, nil)
}

func (s *Server) errorResponseWith(w http.ResponseWriter, code int, message string, extra map[string]any) {
	body := map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}
	for k, v := range extra {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, body, s.logger)
}
