package protocol

// Plan is a structured plan extracted from a coaching reply.
type Plan struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Goal        string       `json:"goal"`
	Milestones  []Milestone  `json:"milestones"`
	NextActions []NextAction `json:"next_actions"`
}

// Milestone is a dated checkpoint within a plan.
type Milestone struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	DueISO string `json:"due_iso,omitempty"`
}

// Energy levels for a next action.
const (
	EnergyLow    = "low"
	EnergyMedium = "medium"
	EnergyHigh   = "high"
)

// When kinds for a next action.
const (
	WhenNow      = "now"
	WhenToday    = "today"
	WhenThisWeek = "this_week"
	WhenAt       = "at" // DueISO carries the time
	WhenSomeday  = "someday"
)

// NextAction is a small concrete step.
type NextAction struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	DurationMin int    `json:"duration_min"`
	Energy      string `json:"energy"`
	When        When   `json:"when"`
}

// When says when a next action should happen.
type When struct {
	Kind   string `json:"kind"`
	DueISO string `json:"due_iso,omitempty"`
}

// WeeklyReview is a structured retrospective.
type WeeklyReview struct {
	ID            string   `json:"id"`
	WeekOfISO     string   `json:"week_of_iso"`
	Wins          []string `json:"wins"`
	Challenges    []string `json:"challenges"`
	Lessons       []string `json:"lessons"`
	NextWeekFocus []string `json:"next_week_focus"`
}

// Extraction is the structured data pulled from a coaching reply. Any
// part may be absent.
type Extraction struct {
	Plan         *Plan         `json:"plan,omitempty"`
	NextActions  []NextAction  `json:"next_actions"`
	WeeklyReview *WeeklyReview `json:"weekly_review,omitempty"`
}

// Empty reports whether nothing was extracted.
func (e *Extraction) Empty() bool {
	return e == nil || (e.Plan == nil && len(e.NextActions) == 0 && e.WeeklyReview == nil)
}

// ToolRequest proposes a tool invocation to the client. When
// RequiresConfirmation is set the client must get explicit approval
// before executing it.
type ToolRequest struct {
	RequestID            string      `json:"request_id"`
	Tool                 string      `json:"tool"`
	RequiresConfirmation bool        `json:"requires_confirmation"`
	Reason               string      `json:"reason"`
	Payload              ToolPayload `json:"payload"`
}

// ToolPayload carries tool input. Each tool reads the subset of fields
// its input schema names.
type ToolPayload struct {
	Title          string   `json:"title,omitempty"`
	StartISO       string   `json:"start_iso,omitempty"`
	DueISO         string   `json:"due_iso,omitempty"`
	DurationMin    int      `json:"duration_min,omitempty"`
	IdempotencyKey string   `json:"idempotency_key,omitempty"`
	Commitments    []string `json:"commitments,omitempty"`
	PlanID         string   `json:"plan_id,omitempty"`
	Status         string   `json:"status,omitempty"`
	WeekOfISO      string   `json:"week_of_iso,omitempty"`
	Note           string   `json:"note,omitempty"`
}

// Has reports whether the named input field is present (non-zero).
// Unknown field names are never present.
func (p ToolPayload) Has(field string) bool {
	switch field {
	case "title":
		return p.Title != ""
	case "start_iso":
		return p.StartISO != ""
	case "due_iso":
		return p.DueISO != ""
	case "duration_min":
		return p.DurationMin > 0
	case "idempotency_key":
		return p.IdempotencyKey != ""
	case "commitments":
		return len(p.Commitments) > 0
	case "plan_id":
		return p.PlanID != ""
	case "status":
		return p.Status != ""
	case "week_of_iso":
		return p.WeekOfISO != ""
	case "note":
		return p.Note != ""
	}
	return false
}
