package tools

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/nugget/coachd/internal/docstore"
	"github.com/nugget/coachd/internal/idempotency"
	"github.com/nugget/coachd/internal/protocol"
)

func setupExecutor(t *testing.T) (*Executor, *docstore.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	docs, err := docstore.NewStore(db)
	if err != nil {
		t.Fatalf("docstore: %v", err)
	}
	keys, err := idempotency.NewStore(db)
	if err != nil {
		t.Fatalf("idempotency: %v", err)
	}
	if err := docs.PutUser(context.Background(), &docstore.User{ID: "u1"}); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	return NewExecutor(Default(), docs, keys, nil), docs
}

func TestExecutor_MemoryWriteIdempotent(t *testing.T) {
	e, docs := setupExecutor(t)
	ctx := context.Background()

	req := protocol.ToolRequest{
		RequestID: "r1",
		Tool:      "memory_write",
		Payload:   protocol.ToolPayload{Commitments: []string{"walk daily"}, IdempotencyKey: "k1"},
	}

	first, err := e.Execute(ctx, "u1", req, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if first.Status != StatusExecuted || first.Detail != `{"added":1}` {
		t.Errorf("first = %+v", first)
	}

	req.RequestID = "r2"
	req.Payload.Commitments = []string{"walk daily", "read"}
	second, err := e.Execute(ctx, "u1", req, nil)
	if err != nil {
		t.Fatalf("Execute repeat: %v", err)
	}
	if second.Status != StatusDuplicate || second.Detail != first.Detail {
		t.Errorf("second = %+v, want duplicate of first", second)
	}

	u, _ := docs.GetUser(ctx, "u1")
	if !slices.Equal(u.Commitments, []string{"walk daily"}) {
		t.Errorf("commitments = %v, repeat must not write", u.Commitments)
	}
}

func TestExecutor_PlanCreateAndUpdate(t *testing.T) {
	e, docs := setupExecutor(t)
	ctx := context.Background()

	st, err := e.Execute(ctx, "u1", protocol.ToolRequest{
		RequestID: "r1",
		Tool:      "plan_create",
		Payload:   protocol.ToolPayload{Title: "Morning routine", IdempotencyKey: "k1"},
	}, nil)
	if err != nil || st.Status != StatusExecuted {
		t.Fatalf("plan_create = %+v, %v", st, err)
	}

	plans, _ := docs.ActivePlans(ctx, "u1")
	if len(plans) != 1 || plans[0].Plan.Title != "Morning routine" {
		t.Fatalf("active plans = %+v", plans)
	}
	planID := plans[0].ID
	if !strings.Contains(st.Detail, planID) {
		t.Errorf("detail %q does not name plan %s", st.Detail, planID)
	}

	// Another user cannot touch it.
	st, _ = e.Execute(ctx, "u2", protocol.ToolRequest{
		RequestID: "r2",
		Tool:      "plan_update",
		Payload:   protocol.ToolPayload{PlanID: planID, Title: "hijack", IdempotencyKey: "k2"},
	}, nil)
	if st.Status != StatusFailed {
		t.Errorf("cross-user update status = %q, want failed", st.Status)
	}

	st, err = e.Execute(ctx, "u1", protocol.ToolRequest{
		RequestID: "r3",
		Tool:      "plan_update",
		Payload:   protocol.ToolPayload{PlanID: planID, Status: docstore.StatusDone, IdempotencyKey: "k3"},
	}, nil)
	if err != nil || st.Status != StatusExecuted {
		t.Fatalf("plan_update = %+v, %v", st, err)
	}
	if plans, _ := docs.ActivePlans(ctx, "u1"); len(plans) != 0 {
		t.Errorf("plan still active after update: %+v", plans)
	}
	rec, err := docs.GetPlan(ctx, planID)
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if rec.Plan.Title != "Morning routine" {
		t.Errorf("title = %q, failed update must not write", rec.Plan.Title)
	}
}

func TestExecutor_FailureReleasesKey(t *testing.T) {
	e, _ := setupExecutor(t)
	ctx := context.Background()

	req := protocol.ToolRequest{
		RequestID: "r1",
		Tool:      "plan_update",
		Payload:   protocol.ToolPayload{PlanID: "missing", Title: "x", IdempotencyKey: "k1"},
	}
	for i := range 2 {
		st, err := e.Execute(ctx, "u1", req, nil)
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if st.Status != StatusFailed {
			t.Errorf("attempt %d status = %q, want failed (not duplicate)", i, st.Status)
		}
	}
}

func TestExecutor_CheckinAndReview(t *testing.T) {
	e, docs := setupExecutor(t)
	ctx := context.Background()

	st, err := e.Execute(ctx, "u1", protocol.ToolRequest{
		RequestID: "r1",
		Tool:      "checkin_log",
		Payload:   protocol.ToolPayload{Note: "walked 20 minutes"},
	}, nil)
	if err != nil || st.Status != StatusExecuted {
		t.Fatalf("checkin_log = %+v, %v", st, err)
	}
	checkins, _ := docs.RecentCheckins(ctx, "u1", 10)
	if len(checkins) != 1 || checkins[0].Note != "walked 20 minutes" {
		t.Errorf("checkins = %+v", checkins)
	}

	st, err = e.Execute(ctx, "u1", protocol.ToolRequest{
		RequestID: "r2",
		Tool:      "weekly_review_create",
		Payload:   protocol.ToolPayload{WeekOfISO: "2026-W02", IdempotencyKey: "k2"},
	}, nil)
	if err != nil || st.Status != StatusExecuted {
		t.Fatalf("weekly_review_create = %+v, %v", st, err)
	}
	reviews, _ := docs.Reviews(ctx, "u1", 10)
	if len(reviews) != 1 || reviews[0].WeekOfISO != "2026-W02" {
		t.Errorf("reviews = %+v", reviews)
	}
}

func TestExecutor_MemoryRead(t *testing.T) {
	e, docs := setupExecutor(t)
	ctx := context.Background()
	docs.AppendCommitments(ctx, "u1", []string{"a", "b"})

	st, err := e.Execute(ctx, "u1", protocol.ToolRequest{RequestID: "r1", Tool: "memory_read"}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if st.Status != StatusExecuted || !strings.Contains(st.Detail, `"a"`) || !strings.Contains(st.Detail, `"b"`) {
		t.Errorf("status = %+v", st)
	}
}

func TestExecutor_Admission(t *testing.T) {
	e, _ := setupExecutor(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   protocol.ToolRequest
		check func(error) bool
	}{
		{
			name:  "unknown tool",
			req:   protocol.ToolRequest{RequestID: "r", Tool: "teleport"},
			check: func(err error) bool { var e *ErrUnknownTool; return errors.As(err, &e) },
		},
		{
			name: "client tool",
			req: protocol.ToolRequest{RequestID: "r", Tool: "reminder_create", Payload: protocol.ToolPayload{
				Title: "x", DueISO: "2026-01-01T00:00:00Z", IdempotencyKey: "k",
			}},
			check: func(err error) bool { var e *NotServerToolError; return errors.As(err, &e) },
		},
		{
			name:  "missing input",
			req:   protocol.ToolRequest{RequestID: "r", Tool: "plan_create", Payload: protocol.ToolPayload{Title: "x"}},
			check: func(err error) bool { var e *InvalidInputError; return errors.As(err, &e) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Execute(ctx, "u1", tt.req, nil)
			if !tt.check(err) {
				t.Errorf("err = %v", err)
			}
		})
	}
}
