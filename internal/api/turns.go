package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/coachd/internal/pipeline"
	"github.com/nugget/coachd/internal/protocol"
)

// TurnRequest is the body of POST /v1/turns.
type TurnRequest struct {
	Message     string   `json:"message"`
	SessionID   string   `json:"session_id,omitempty"`
	CoachID     string   `json:"coach_id,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// streamWriteWindow is how long one event may take to write.
const streamWriteWindow = 60 * time.Second

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	uid := userFrom(r.Context())

	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	if s.deps.Limiter != nil && !s.deps.Limiter.Allow(uid) {
		secs := int(math.Ceil(s.deps.Limiter.RetryAfter(uid).Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		s.errorResponseWith(w, http.StatusTooManyRequests, "rate limit exceeded", map[string]any{
			"retry_after_seconds": secs,
		})
		return
	}

	coachID := req.CoachID
	if coachID == "" {
		coachID = s.config.DefaultCoachID
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	events := s.deps.Pipeline.Stream(r.Context(), pipeline.Turn{
		UserID:      uid,
		SessionID:   req.SessionID,
		CoachID:     coachID,
		Message:     req.Message,
		Permissions: req.Permissions,
	})

	// The pipeline blocks on a full channel, so the stream is always
	// drained even after the client has gone.
	var writeErr error
	for e := range events {
		if writeErr != nil {
			continue
		}
		if err := rc.SetWriteDeadline(time.Now().Add(streamWriteWindow)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			s.logger.Debug("failed to extend write deadline", "error", err)
		}
		if writeErr = protocol.WriteSSE(w, e); writeErr == nil {
			writeErr = rc.Flush()
		}
		if writeErr != nil {
			s.logger.Debug("client stream write failed", "uid", uid, "error", writeErr)
		}
	}
}
