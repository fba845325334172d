package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nugget/coachd/internal/docstore"
	"github.com/nugget/coachd/internal/idempotency"
	"github.com/nugget/coachd/internal/protocol"
)

// Tool status values reported in tool.status events.
const (
	StatusExecuted  = "executed"
	StatusDuplicate = "duplicate"
	StatusFailed    = "failed"
)

// Documents is the slice of the document store server tools act on.
type Documents interface {
	RecentCommitments(ctx context.Context, uid string, limit int) ([]string, error)
	AppendCommitments(ctx context.Context, uid string, commitments []string) (int, error)
	PutPlan(ctx context.Context, p *docstore.PlanRecord) error
	GetPlan(ctx context.Context, id string) (*docstore.PlanRecord, error)
	PutReview(ctx context.Context, r *docstore.Review) error
	AddCheckin(ctx context.Context, c *docstore.Checkin) error
}

// Keys is the idempotency ledger.
type Keys interface {
	Claim(ctx context.Context, scope, key string) (*idempotency.Record, error)
	Complete(ctx context.Context, scope, key, result string) error
	Release(ctx context.Context, scope, key string) error
}

// Executor runs server-owned tools. Each execution is keyed by the
// payload's idempotency key (or the request id when absent), so a
// repeat returns the first result without acting again.
type Executor struct {
	registry *Registry
	docs     Documents
	keys     Keys
	logger   *slog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(registry *Registry, docs Documents, keys Keys, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		docs:     docs,
		keys:     keys,
		logger:   logger.With("component", "tools"),
	}
}

// Execute runs req for uid. Admission failures (unknown tool, client
// tool, bad input, missing permission) are returned as errors before
// anything is claimed. Execution failures are reported in the status.
func (e *Executor) Execute(ctx context.Context, uid string, req protocol.ToolRequest, granted []string) (protocol.ToolStatus, error) {
	status := protocol.ToolStatus{RequestID: req.RequestID, Tool: req.Tool}

	t, err := e.registry.Get(req.Tool)
	if err != nil {
		return status, err
	}
	if t.Owner != OwnerServer {
		return status, &NotServerToolError{ID: t.ID}
	}
	if err := e.registry.ValidateInput(t.ID, req.Payload); err != nil {
		return status, err
	}
	if err := e.registry.CheckPermissions(t.ID, granted); err != nil {
		return status, err
	}

	key := req.Payload.IdempotencyKey
	if key == "" {
		key = req.RequestID
	}
	scope := uid + ":" + t.ID

	prior, err := e.keys.Claim(ctx, scope, key)
	switch {
	case errors.Is(err, idempotency.ErrInProgress):
		status.Status = StatusDuplicate
		status.Detail = "execution in progress"
		return status, nil
	case err != nil:
		return status, fmt.Errorf("claim idempotency key: %w", err)
	case prior != nil:
		status.Status = StatusDuplicate
		status.Detail = prior.Result
		return status, nil
	}

	detail, runErr := e.run(ctx, uid, t.ID, req.Payload)
	if runErr != nil {
		if err := e.keys.Release(ctx, scope, key); err != nil {
			e.logger.Warn("failed to release idempotency key", "tool", t.ID, "error", err)
		}
		e.logger.Warn("tool execution failed", "tool", t.ID, "uid", uid, "error", runErr)
		status.Status = StatusFailed
		status.Detail = runErr.Error()
		return status, nil
	}

	if err := e.keys.Complete(ctx, scope, key, detail); err != nil {
		e.logger.Warn("failed to record idempotency key", "tool", t.ID, "error", err)
	}
	e.logger.Info("tool executed", "tool", t.ID, "uid", uid, "request_id", req.RequestID)
	status.Status = StatusExecuted
	status.Detail = detail
	return status, nil
}

// run performs the tool's side effect and returns a JSON detail.
func (e *Executor) run(ctx context.Context, uid, id string, p protocol.ToolPayload) (string, error) {
	var out any
	switch id {
	case "memory_read":
		commitments, err := e.docs.RecentCommitments(ctx, uid, 5)
		if err != nil {
			return "", err
		}
		out = map[string][]string{"commitments": commitments}

	case "memory_write":
		added, err := e.docs.AppendCommitments(ctx, uid, p.Commitments)
		if err != nil {
			return "", err
		}
		out = map[string]int{"added": added}

	case "plan_create":
		rec := &docstore.PlanRecord{UserID: uid, Plan: protocol.Plan{Title: p.Title}}
		if err := e.docs.PutPlan(ctx, rec); err != nil {
			return "", err
		}
		out = map[string]string{"plan_id": rec.ID}

	case "plan_update":
		rec, err := e.docs.GetPlan(ctx, p.PlanID)
		if err != nil {
			return "", err
		}
		if rec.UserID != uid {
			return "", fmt.Errorf("plan %s: %w", p.PlanID, docstore.ErrNotFound)
		}
		if p.Title != "" {
			rec.Plan.Title = p.Title
		}
		if p.Status != "" {
			rec.Status = p.Status
		}
		if err := e.docs.PutPlan(ctx, rec); err != nil {
			return "", err
		}
		out = map[string]string{"plan_id": rec.ID, "status": rec.Status}

	case "weekly_review_create":
		rec := &docstore.Review{UserID: uid, WeekOfISO: p.WeekOfISO, Note: p.Note}
		if err := e.docs.PutReview(ctx, rec); err != nil {
			return "", err
		}
		out = map[string]string{"review_id": rec.ID}

	case "checkin_log":
		rec := &docstore.Checkin{UserID: uid, Note: p.Note}
		if err := e.docs.AddCheckin(ctx, rec); err != nil {
			return "", err
		}
		out = map[string]string{"checkin_id": rec.ID}

	default:
		return "", fmt.Errorf("no server handler for tool %q", id)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
