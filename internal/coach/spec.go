// Package coach defines the declarative behavior contract for a coach.
package coach

import (
	"encoding/json"
	"slices"
)

// Spec is a coach's behavior contract. It is read-only to the turn
// pipeline.
type Spec struct {
	Identity         Identity    `json:"identity"`
	Style            Style       `json:"style"`
	InteractionRules []string    `json:"interaction_rules"`
	Frameworks       []Framework `json:"frameworks"`
	Policies         Policies    `json:"policies"`
	Tools            ToolPolicy  `json:"tools"`
	Output           Output      `json:"output"`
}

// Identity names the coach and its niche.
type Identity struct {
	Name    string `json:"name"`
	Niche   string `json:"niche"`
	Tagline string `json:"tagline"`
}

// Style describes how the coach writes.
type Style struct {
	Tone            string   `json:"tone"`
	Verbosity       string   `json:"verbosity"` // brief, balanced, detailed
	FormattingRules []string `json:"formatting_rules"`
}

// Framework is a named coaching method the coach may draw on.
type Framework struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Policies hold refusal, privacy and safety settings.
type Policies struct {
	Refusals         Refusals `json:"refusals"`
	Privacy          Privacy  `json:"privacy"`
	SafetyStatements []string `json:"safety_statements"`
}

// Refusals flags topics the coach must not advise on.
type Refusals struct {
	Medical   bool `json:"medical"`
	Legal     bool `json:"legal"`
	Financial bool `json:"financial"`
	SelfHarm  bool `json:"self_harm"`
}

// Privacy controls what may be remembered.
type Privacy struct {
	StoreSensitiveMemory bool     `json:"store_sensitive_memory"`
	RedactPatterns       []string `json:"redact_patterns"`
}

// ToolPolicy lists the tools a coach may request.
type ToolPolicy struct {
	Client              []string `json:"client"`
	Server              []string `json:"server"`
	RequireConfirmation []string `json:"require_confirmation"`
}

// Allowed reports whether id is in the client or server list.
func (p ToolPolicy) Allowed(id string) bool {
	return slices.Contains(p.Client, id) || slices.Contains(p.Server, id)
}

// NeedsConfirmation reports whether id is in the confirmation list.
func (p ToolPolicy) NeedsConfirmation(id string) bool {
	return slices.Contains(p.RequireConfirmation, id)
}

// Output configures structured output and rendering.
type Output struct {
	Cards       []string    `json:"cards"`
	RenderHints RenderHints `json:"render_hints"`

	// Schemas holds user-authored output schema extensions by name.
	// They are passed through to the extraction prompt verbatim.
	Schemas map[string]json.RawMessage `json:"schemas,omitempty"`
}

// RenderHints are defaults for message.final render hints.
type RenderHints struct {
	Format string `json:"format"` // markdown, plain, html
}

// Default returns the fallback spec used when a coach has none.
func Default() *Spec {
	return &Spec{
		Identity: Identity{
			Name:    "Coach",
			Niche:   "personal productivity and follow-through",
			Tagline: "Small steps, kept promises.",
		},
		Style: Style{
			Tone:      "warm, direct",
			Verbosity: "balanced",
			FormattingRules: []string{
				"Use short paragraphs.",
				"Use bullet lists for steps.",
			},
		},
		InteractionRules: []string{
			"Ask at most one clarifying question per reply.",
			"End with one concrete next step.",
		},
		Frameworks: []Framework{
			{Name: "Implementation intentions", Description: "Tie each action to a when and where."},
			{Name: "Weekly review", Description: "Wins, challenges, lessons, next focus."},
		},
		Policies: Policies{
			Refusals: Refusals{Medical: true, Legal: true, Financial: true, SelfHarm: true},
			Privacy:  Privacy{StoreSensitiveMemory: false},
			SafetyStatements: []string{
				"You are not a therapist, doctor, lawyer or financial advisor.",
				"If the user may be in danger, direct them to local emergency services.",
			},
		},
		Tools: ToolPolicy{
			Client: []string{"calendar_event_create", "reminder_create", "focus_timer_start"},
			Server: []string{
				"memory_read", "memory_write", "plan_create", "plan_update",
				"weekly_review_create", "checkin_log",
			},
			RequireConfirmation: []string{
				"calendar_event_create", "reminder_create", "memory_write",
				"plan_create", "plan_update", "weekly_review_create",
			},
		},
		Output: Output{
			Cards:       []string{"plan", "next_actions", "weekly_review"},
			RenderHints: RenderHints{Format: "markdown"},
		},
	}
}
