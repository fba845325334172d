package tools

// DefaultCatalog returns the built-in tools.
func DefaultCatalog() []Tool {
	str := func(desc string) Property { return Property{Type: "string", Description: desc} }
	num := func(desc string) Property { return Property{Type: "integer", Description: desc} }
	idem := str("Caller-generated key that makes repeated execution a no-op")

	return []Tool{
		{
			ID:                   "calendar_event_create",
			Owner:                OwnerClient,
			Category:             "calendar",
			Description:          "Create an event on the device calendar.",
			RequiresConfirmation: true,
			PermissionDeps:       []string{"calendar"},
			InputSchema: Schema{
				Required: []string{"title", "start_iso", "duration_min", "idempotency_key"},
				Properties: map[string]Property{
					"title":           str("Event title"),
					"start_iso":       str("Start time, RFC 3339"),
					"duration_min":    num("Length in minutes"),
					"idempotency_key": idem,
				},
			},
			OutputSchema: Schema{Properties: map[string]Property{"event_id": str("Device event id")}},
		},
		{
			ID:                   "reminder_create",
			Owner:                OwnerClient,
			Category:             "reminder",
			Description:          "Schedule a device reminder.",
			RequiresConfirmation: true,
			PermissionDeps:       []string{"notifications"},
			InputSchema: Schema{
				Required: []string{"title", "due_iso", "idempotency_key"},
				Properties: map[string]Property{
					"title":           str("Reminder text"),
					"due_iso":         str("When to fire, RFC 3339"),
					"idempotency_key": idem,
				},
			},
			OutputSchema: Schema{Properties: map[string]Property{"reminder_id": str("Device reminder id")}},
		},
		{
			ID:          "focus_timer_start",
			Owner:       OwnerClient,
			Category:    "focus",
			Description: "Start a focus timer on the device.",
			InputSchema: Schema{
				Required:   []string{"duration_min"},
				Properties: map[string]Property{"duration_min": num("Timer length in minutes")},
			},
		},
		{
			ID:          "memory_read",
			Owner:       OwnerServer,
			Category:    "memory",
			Description: "Read the user's recorded commitments.",
			OutputSchema: Schema{
				Properties: map[string]Property{"commitments": {Type: "array", Description: "Commitment strings"}},
			},
		},
		{
			ID:                   "memory_write",
			Owner:                OwnerServer,
			Category:             "memory",
			Description:          "Record commitments the user made.",
			RequiresConfirmation: true,
			InputSchema: Schema{
				Required: []string{"commitments", "idempotency_key"},
				Properties: map[string]Property{
					"commitments":     {Type: "array", Description: "Commitment strings"},
					"idempotency_key": idem,
				},
			},
		},
		{
			ID:                   "plan_create",
			Owner:                OwnerServer,
			Category:             "plan",
			Description:          "Save a new active plan.",
			RequiresConfirmation: true,
			InputSchema: Schema{
				Required: []string{"title", "idempotency_key"},
				Properties: map[string]Property{
					"title":           str("Plan title"),
					"idempotency_key": idem,
				},
			},
			OutputSchema: Schema{Properties: map[string]Property{"plan_id": str("Stored plan id")}},
		},
		{
			ID:                   "plan_update",
			Owner:                OwnerServer,
			Category:             "plan",
			Description:          "Rename or change the status of a plan.",
			RequiresConfirmation: true,
			InputSchema: Schema{
				Required: []string{"plan_id", "idempotency_key"},
				Properties: map[string]Property{
					"plan_id":         str("Plan to update"),
					"title":           str("New title"),
					"status":          str("active, done or archived"),
					"idempotency_key": idem,
				},
			},
		},
		{
			ID:                   "weekly_review_create",
			Owner:                OwnerServer,
			Category:             "review",
			Description:          "Save a weekly review.",
			RequiresConfirmation: true,
			InputSchema: Schema{
				Required: []string{"week_of_iso", "idempotency_key"},
				Properties: map[string]Property{
					"week_of_iso":     str("Monday of the reviewed week"),
					"note":            str("Free-form review notes"),
					"idempotency_key": idem,
				},
			},
			OutputSchema: Schema{Properties: map[string]Property{"review_id": str("Stored review id")}},
		},
		{
			ID:          "checkin_log",
			Owner:       OwnerServer,
			Category:    "checkin",
			Description: "Log a short progress check-in.",
			InputSchema: Schema{
				Required:   []string{"note"},
				Properties: map[string]Property{"note": str("Check-in text")},
			},
		},
	}
}
