// Package router classifies each user message into one of five coaching
// intents and maps the intent to a fixed route: which context to load,
// whether to extract structured artifacts and which tools may be
// proposed. Every decision is kept in a bounded audit log.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/coachd/internal/llm"
	"github.com/nugget/coachd/internal/prompts"
)

// ClassificationError means the provider call itself failed. It is
// fatal to the turn.
type ClassificationError struct {
	Err error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classify intent: %v", e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// Decision records one classification.
type Decision struct {
	RequestID     string    `json:"request_id"`
	Timestamp     time.Time `json:"timestamp"`
	UserID        string    `json:"uid"`
	MessageLength int       `json:"message_length"`
	Model         string    `json:"model"`

	Route    Route  `json:"route"`
	Fallback bool   `json:"fallback"`
	Reason   string `json:"reason,omitempty"`
	Error    string `json:"error,omitempty"`

	LatencyMs int64 `json:"latency_ms"`
}

// Stats summarizes classifications since start.
type Stats struct {
	TotalRequests int64            `json:"total_requests"`
	IntentCounts  map[string]int64 `json:"intent_counts"`
	Fallbacks     int64            `json:"fallbacks"`
	Errors        int64            `json:"errors"`
	AvgLatencyMs  int64            `json:"avg_latency_ms"`
}

// Config holds classifier settings.
type Config struct {
	Model       string // model used for classification
	MaxAuditLog int    // decisions kept in memory
}

// Classifier turns messages into routes.
type Classifier struct {
	client llm.Client
	config Config
	logger *slog.Logger
	now    func() time.Time

	mu         sync.RWMutex
	auditLog   []Decision
	stats      Stats
	latencySum int64
}

// New creates a classifier.
func New(client llm.Client, config Config, logger *slog.Logger) *Classifier {
	if config.MaxAuditLog <= 0 {
		config.MaxAuditLog = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		client:   client,
		config:   config,
		logger:   logger.With("component", "router"),
		now:      time.Now,
		auditLog: make([]Decision, 0, config.MaxAuditLog),
		stats:    Stats{IntentCounts: make(map[string]int64)},
	}
}

// Classify makes one completion call and maps the answer to a route.
// A failed call returns a *ClassificationError. An answer that is not
// valid JSON or names an unknown intent yields [Fallback].
func (c *Classifier) Classify(ctx context.Context, message, uid string) (Route, error) {
	start := c.now()
	d := Decision{
		RequestID:     newRequestID(),
		Timestamp:     start,
		UserID:        uid,
		MessageLength: len(message),
		Model:         c.config.Model,
	}

	ctx = llm.WithStage(ctx, llm.StageRouter)
	resp, err := c.client.Complete(ctx, c.config.Model, []llm.Message{
		{Role: "user", Content: prompts.ClassifyPrompt(message)},
	})
	d.LatencyMs = c.now().Sub(start).Milliseconds()
	if err != nil {
		d.Error = err.Error()
		c.record(d)
		return Route{}, &ClassificationError{Err: err}
	}

	route, reason := parseRoute(resp.Text)
	d.Route = route
	if reason != "" {
		d.Fallback = true
		d.Reason = reason
		c.logger.Warn("classifier answer unusable, using fallback route",
			"reason", reason,
			"request_id", d.RequestID,
		)
		c.logger.Log(ctx, levelTrace, "classifier answer", "text", resp.Text)
	}
	c.record(d)

	c.logger.Debug("message classified",
		"request_id", d.RequestID,
		"uid", uid,
		"intent", route.Name,
		"confidence", route.Confidence,
		"latency_ms", d.LatencyMs,
	)
	return route, nil
}

const levelTrace = slog.Level(-8)

// parseRoute maps a classifier answer to a route. A non-empty reason
// means the fallback route was used.
func parseRoute(text string) (Route, string) {
	var answer struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(stripFences(text)), &answer); err != nil {
		return Fallback(), "unparseable answer"
	}
	route, ok := ForIntent(strings.TrimSpace(answer.Intent), answer.Confidence)
	if !ok {
		return Fallback(), fmt.Sprintf("unknown intent %q", answer.Intent)
	}
	return route, ""
}

// stripFences removes a surrounding markdown code fence, with or
// without a language tag.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func (c *Classifier) record(d Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.auditLog) >= c.config.MaxAuditLog {
		c.auditLog = c.auditLog[1:]
	}
	c.auditLog = append(c.auditLog, d)

	c.stats.TotalRequests++
	c.latencySum += d.LatencyMs
	c.stats.AvgLatencyMs = c.latencySum / c.stats.TotalRequests
	switch {
	case d.Error != "":
		c.stats.Errors++
		return
	case d.Fallback:
		c.stats.Fallbacks++
	}
	c.stats.IntentCounts[d.Route.Name]++
}

// AuditLog returns up to limit of the most recent decisions, oldest
// first. A non-positive limit returns all of them.
func (c *Classifier) AuditLog(limit int) []Decision {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if limit <= 0 || limit > len(c.auditLog) {
		limit = len(c.auditLog)
	}
	out := make([]Decision, limit)
	copy(out, c.auditLog[len(c.auditLog)-limit:])
	return out
}

// Stats returns a copy of the classification statistics.
func (c *Classifier) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.stats
	s.IntentCounts = make(map[string]int64, len(c.stats.IntentCounts))
	for k, v := range c.stats.IntentCounts {
		s.IntentCounts[k] = v
	}
	return s
}

// Explain returns the decision with the given request id, or nil.
func (c *Classifier) Explain(requestID string) *Decision {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := len(c.auditLog) - 1; i >= 0; i-- {
		if c.auditLog[i].RequestID == requestID {
			d := c.auditLog[i]
			return &d
		}
	}
	return nil
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
