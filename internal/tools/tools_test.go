package tools

import (
	"errors"
	"slices"
	"testing"

	"github.com/nugget/coachd/internal/protocol"
)

func TestDefaultCatalog(t *testing.T) {
	r := Default()

	tests := []struct {
		id       string
		owner    Owner
		category string
		confirm  bool
		perms    []string
		required []string
	}{
		{"calendar_event_create", OwnerClient, "calendar", true, []string{"calendar"}, []string{"title", "start_iso", "duration_min", "idempotency_key"}},
		{"reminder_create", OwnerClient, "reminder", true, []string{"notifications"}, []string{"title", "due_iso", "idempotency_key"}},
		{"focus_timer_start", OwnerClient, "focus", false, nil, []string{"duration_min"}},
		{"memory_read", OwnerServer, "memory", false, nil, nil},
		{"memory_write", OwnerServer, "memory", true, nil, []string{"commitments", "idempotency_key"}},
		{"plan_create", OwnerServer, "plan", true, nil, []string{"title", "idempotency_key"}},
		{"plan_update", OwnerServer, "plan", true, nil, []string{"plan_id", "idempotency_key"}},
		{"weekly_review_create", OwnerServer, "review", true, nil, []string{"week_of_iso", "idempotency_key"}},
		{"checkin_log", OwnerServer, "checkin", false, nil, []string{"note"}},
	}

	if got := len(r.List()); got != len(tests) {
		t.Errorf("catalog has %d tools, want %d", got, len(tests))
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			tool, err := r.Get(tt.id)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if tool.Owner != tt.owner || tool.Category != tt.category || tool.RequiresConfirmation != tt.confirm {
				t.Errorf("tool = %+v", tool)
			}
			if !slices.Equal(tool.PermissionDeps, tt.perms) {
				t.Errorf("permissions = %v, want %v", tool.PermissionDeps, tt.perms)
			}
			if !slices.Equal(tool.InputSchema.Required, tt.required) {
				t.Errorf("required = %v, want %v", tool.InputSchema.Required, tt.required)
			}
		})
	}
}

func TestRegistry_UnknownTool(t *testing.T) {
	r := Default()
	var unknown *ErrUnknownTool

	if _, err := r.Get("nope"); !errors.As(err, &unknown) || unknown.ID != "nope" {
		t.Errorf("Get err = %v", err)
	}
	if err := r.ValidateInput("nope", protocol.ToolPayload{}); !errors.As(err, &unknown) {
		t.Errorf("ValidateInput err = %v", err)
	}
	if err := r.CheckPermissions("nope", nil); !errors.As(err, &unknown) {
		t.Errorf("CheckPermissions err = %v", err)
	}
}

func TestRegistry_ListBy(t *testing.T) {
	r := Default()
	var ids []string
	for _, tool := range r.ListBy("plan") {
		ids = append(ids, tool.ID)
	}
	if !slices.Equal(ids, []string{"plan_create", "plan_update"}) {
		t.Errorf("ListBy(plan) = %v", ids)
	}
	if got := r.ListBy("teleport"); len(got) != 0 {
		t.Errorf("ListBy(unknown) = %v", got)
	}
}

func TestRegistry_ValidateInput(t *testing.T) {
	r := Default()

	err := r.ValidateInput("reminder_create", protocol.ToolPayload{Title: "Stretch"})
	var invalid *InvalidInputError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidInputError", err)
	}
	if !slices.Equal(invalid.Missing, []string{"due_iso", "idempotency_key"}) {
		t.Errorf("missing = %v", invalid.Missing)
	}

	ok := protocol.ToolPayload{Title: "Stretch", DueISO: "2026-01-05T10:00:00Z", IdempotencyKey: "k"}
	if err := r.ValidateInput("reminder_create", ok); err != nil {
		t.Errorf("valid input rejected: %v", err)
	}
	if err := r.ValidateInput("memory_read", protocol.ToolPayload{}); err != nil {
		t.Errorf("memory_read needs no input: %v", err)
	}
}

func TestRegistry_CheckPermissions(t *testing.T) {
	r := Default()

	var perr *PermissionError
	if err := r.CheckPermissions("calendar_event_create", []string{"notifications"}); !errors.As(err, &perr) {
		t.Errorf("err = %v, want PermissionError", err)
	}
	if err := r.CheckPermissions("calendar_event_create", []string{"calendar", "notifications"}); err != nil {
		t.Errorf("granted permissions rejected: %v", err)
	}
	if err := r.CheckPermissions("focus_timer_start", nil); err != nil {
		t.Errorf("tool without deps rejected: %v", err)
	}
}
