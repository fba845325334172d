package router

import (
	"encoding/json"
	"slices"
)

// Intent names.
const (
	IntentQuickNudge  = "quick_nudge"
	IntentDeepSession = "deep_session"
	IntentMakeASystem = "make_a_system"
	IntentReviewRetro = "review_retro"
	IntentScheduling  = "scheduling"
)

// Context keys a route may request from the context builder.
const (
	KeyValues             = "values"
	KeyActivePlans        = "active_plans"
	KeyLastSessionSummary = "last_session_summary"
)

type routeDef struct {
	contextKeys     []string
	needsExtraction bool
	toolIDs         []string
}

var routeTable = map[string]routeDef{
	IntentQuickNudge: {
		contextKeys: []string{KeyValues},
	},
	IntentDeepSession: {
		contextKeys:     []string{KeyValues, KeyActivePlans, KeyLastSessionSummary},
		needsExtraction: true,
		toolIDs:         []string{"memory_read", "memory_write", "plan_create"},
	},
	IntentMakeASystem: {
		contextKeys:     []string{KeyValues, KeyActivePlans},
		needsExtraction: true,
		toolIDs:         []string{"plan_create", "plan_update", "calendar_event_create", "reminder_create"},
	},
	IntentReviewRetro: {
		contextKeys:     []string{KeyValues, KeyActivePlans, KeyLastSessionSummary},
		needsExtraction: true,
		toolIDs:         []string{"weekly_review_create", "memory_read", "checkin_log"},
	},
	IntentScheduling: {
		contextKeys: []string{KeyValues, KeyActivePlans},
		toolIDs:     []string{"calendar_event_create", "reminder_create"},
	},
}

// Intents returns every intent name, sorted.
func Intents() []string {
	names := make([]string, 0, len(routeTable))
	for name := range routeTable {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Route is the outcome of classification. It is immutable: the key and
// tool sets are only reachable through copies.
type Route struct {
	Name            string
	Confidence      float64
	NeedsExtraction bool

	contextKeys []string
	toolIDs     []string
}

// ForIntent builds the route for a known intent with confidence
// clamped to [0, 1].
func ForIntent(name string, confidence float64) (Route, bool) {
	def, ok := routeTable[name]
	if !ok {
		return Route{}, false
	}
	return Route{
		Name:            name,
		Confidence:      min(max(confidence, 0), 1),
		NeedsExtraction: def.needsExtraction,
		contextKeys:     sortedCopy(def.contextKeys),
		toolIDs:         sortedCopy(def.toolIDs),
	}, true
}

// Fallback is the route used when the classifier's answer is unusable.
func Fallback() Route {
	r, _ := ForIntent(IntentQuickNudge, 0.5)
	return r
}

// ContextKeys returns the sorted context keys.
func (r Route) ContextKeys() []string { return slices.Clone(r.contextKeys) }

// ToolIDs returns the sorted tool ids the route grants.
func (r Route) ToolIDs() []string { return slices.Clone(r.toolIDs) }

// HasContextKey reports whether the route requests key.
func (r Route) HasContextKey(key string) bool {
	_, found := slices.BinarySearch(r.contextKeys, key)
	return found
}

// AllowsTool reports whether the route grants tool id.
func (r Route) AllowsTool(id string) bool {
	_, found := slices.BinarySearch(r.toolIDs, id)
	return found
}

// MarshalJSON exposes the route's sets.
func (r Route) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name            string   `json:"name"`
		Confidence      float64  `json:"confidence"`
		NeedsExtraction bool     `json:"needs_extraction"`
		ContextKeys     []string `json:"context_keys"`
		ToolIDs         []string `json:"tool_ids"`
	}{r.Name, r.Confidence, r.NeedsExtraction, r.ContextKeys(), r.ToolIDs()})
}

func sortedCopy(s []string) []string {
	out := slices.Clone(s)
	if out == nil {
		out = []string{}
	}
	slices.Sort(out)
	return out
}
