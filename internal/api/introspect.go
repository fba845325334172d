package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nugget/coachd/internal/buildinfo"
	"github.com/nugget/coachd/internal/connwatch"
)

func (s *Server) handleRouterStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Router == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "router not configured")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.deps.Router.Stats(), s.logger)
}

func (s *Server) handleRouterAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Router == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "router not configured")
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	decisions := s.deps.Router.AuditLog(limit)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"count":     len(decisions),
		"decisions": decisions,
	}, s.logger)
}

func (s *Server) handleRouterExplain(w http.ResponseWriter, r *http.Request) {
	if s.deps.Router == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "router not configured")
		return
	}
	d := s.deps.Router.Explain(r.PathValue("requestId"))
	if d == nil {
		s.errorResponse(w, http.StatusNotFound, "decision not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, d, s.logger)
}

// handleStats reports turn counts and latency, provider token usage
// over the last 24 hours and background job counters.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}

	if s.deps.Metrics != nil {
		out["turns"] = s.deps.Metrics.Snapshot()
	}
	if s.deps.Usage != nil {
		end := time.Now()
		start := end.Add(-24 * time.Hour)
		total, err := s.deps.Usage.Summary(r.Context(), start, end)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, "usage summary failed")
			return
		}
		byStage, err := s.deps.Usage.SummaryByStage(r.Context(), start, end)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, "usage summary failed")
			return
		}
		out["usage_24h"] = map[string]any{"total": total, "by_stage": byStage}
	}
	if s.deps.Background != nil {
		out["background"] = s.deps.Background.Stats()
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, out, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

// handleHealth reports "healthy" when every watched provider is ready
// and "degraded" with 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	var services map[string]connwatch.ServiceStatus
	if s.deps.Health != nil {
		services = s.deps.Health.Status()
		for _, svc := range services {
			if !svc.Ready {
				status = "degraded"
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	writeJSON(w, map[string]any{
		"status":   status,
		"services": services,
	}, s.logger)
}
