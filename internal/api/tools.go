package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nugget/coachd/internal/events"
	"github.com/nugget/coachd/internal/protocol"
	"github.com/nugget/coachd/internal/tools"
)

// ToolExecuteRequest is the body of POST /v1/tools/execute.
type ToolExecuteRequest struct {
	RequestID      string               `json:"request_id"`
	Tool           string               `json:"tool"`
	IdempotencyKey string               `json:"idempotency_key"`
	Payload        protocol.ToolPayload `json:"payload"`
	Permissions    []string             `json:"permissions,omitempty"`
}

func (s *Server) handleToolList(w http.ResponseWriter, r *http.Request) {
	var list []tools.Tool
	if category := r.URL.Query().Get("category"); category != "" {
		list = s.deps.Registry.ListBy(category)
	} else {
		list = s.deps.Registry.List()
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"count": len(list),
		"tools": list,
	}, s.logger)
}

func (s *Server) handleToolExecute(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tools == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "tool execution not configured")
		return
	}
	uid := userFrom(r.Context())

	var req ToolExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RequestID == "" || req.Tool == "" {
		s.errorResponse(w, http.StatusBadRequest, "request_id and tool are required")
		return
	}
	if req.IdempotencyKey != "" {
		req.Payload.IdempotencyKey = req.IdempotencyKey
	}

	status, err := s.deps.Tools.Execute(r.Context(), uid, protocol.ToolRequest{
		RequestID: req.RequestID,
		Tool:      req.Tool,
		Payload:   req.Payload,
	}, req.Permissions)
	if err != nil {
		s.errorResponse(w, toolErrorStatus(err), err.Error())
		return
	}

	if status.Status == tools.StatusExecuted && s.deps.Plans != nil {
		if t, err := s.deps.Registry.Get(req.Tool); err == nil && t.Category == "plan" {
			s.deps.Plans.InvalidatePlans(uid)
		}
	}
	s.deps.Bus.Publish(events.Event{
		Source: events.SourceTools,
		Kind:   events.KindToolExecuted,
		Data:   map[string]any{"tool": status.Tool, "status": status.Status},
	})

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, status, s.logger)
}

// toolErrorStatus maps admission errors to HTTP status codes.
func toolErrorStatus(err error) int {
	var (
		unknown   *tools.ErrUnknownTool
		client    *tools.NotServerToolError
		invalid   *tools.InvalidInputError
		forbidden *tools.PermissionError
	)
	switch {
	case errors.As(err, &unknown):
		return http.StatusNotFound
	case errors.As(err, &client), errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &forbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
