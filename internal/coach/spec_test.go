package coach

import (
	"encoding/json"
	"slices"
	"testing"
)

func TestDefault_ToolPolicy(t *testing.T) {
	s := Default()

	if !s.Tools.Allowed("calendar_event_create") || !s.Tools.Allowed("checkin_log") {
		t.Error("default spec should allow client and server tools")
	}
	if s.Tools.Allowed("launch_rockets") {
		t.Error("unknown tool should not be allowed")
	}
	if !s.Tools.NeedsConfirmation("calendar_event_create") {
		t.Error("calendar_event_create should require confirmation")
	}
	if s.Tools.NeedsConfirmation("focus_timer_start") {
		t.Error("focus_timer_start should not require confirmation")
	}
}

func TestDefault_IndependentCopies(t *testing.T) {
	a := Default()
	a.Tools.Client[0] = "mutated"
	if Default().Tools.Client[0] == "mutated" {
		t.Error("Default() must return a fresh spec each call")
	}
}

func TestFromLegacy(t *testing.T) {
	def := LegacyDefinition{
		Name:        "Sam",
		Description: "career transitions",
		Personality: "blunt",
		Rules:       []string{"No jargon."},
		AvoidTopics: []string{"Investment advice", "legal questions"},
		Tools:       []string{"reminder_create", "plan_create", "unknown_tool"},
	}

	s := FromLegacy(def)

	if s.Identity.Name != "Sam" || s.Identity.Niche != "career transitions" {
		t.Errorf("identity = %+v", s.Identity)
	}
	if s.Style.Tone != "blunt" {
		t.Errorf("tone = %q", s.Style.Tone)
	}
	if !slices.Equal(s.InteractionRules, []string{"No jargon."}) {
		t.Errorf("rules = %v", s.InteractionRules)
	}
	if !s.Policies.Refusals.Financial || !s.Policies.Refusals.Legal {
		t.Errorf("refusals = %+v", s.Policies.Refusals)
	}
	if !slices.Equal(s.Tools.Client, []string{"reminder_create"}) {
		t.Errorf("client tools = %v", s.Tools.Client)
	}
	if !slices.Equal(s.Tools.Server, []string{"plan_create"}) {
		t.Errorf("server tools = %v", s.Tools.Server)
	}
}

func TestFromLegacy_Empty(t *testing.T) {
	s := FromLegacy(LegacyDefinition{})
	d := Default()
	if s.Identity != d.Identity || len(s.Tools.Client) != len(d.Tools.Client) {
		t.Error("empty legacy definition should keep default identity and tools")
	}
	want := Refusals{Medical: true, SelfHarm: true}
	if s.Policies.Refusals != want {
		t.Errorf("refusals = %+v, want %+v", s.Policies.Refusals, want)
	}
}

func TestSpec_JSONSchemasPassThrough(t *testing.T) {
	raw := `{"output":{"schemas":{"habit":{"type":"object","required":["name"]}}}}`
	var s Spec
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if string(s.Output.Schemas["habit"]) != `{"type":"object","required":["name"]}` {
		t.Errorf("schema = %s", s.Output.Schemas["habit"])
	}
}
