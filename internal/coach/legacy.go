package coach

import (
	"slices"
	"strings"
)

// LegacyDefinition is the free-form coach record that predates Spec.
type LegacyDefinition struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tagline     string   `json:"tagline,omitempty"`
	Personality string   `json:"personality,omitempty"`
	Rules       []string `json:"rules,omitempty"`
	AvoidTopics []string `json:"avoid_topics,omitempty"`
	Tools       []string `json:"tools,omitempty"`
}

// FromLegacy translates a legacy definition into a Spec, starting from
// [Default] and overriding whatever the legacy record states. Unknown
// tools are dropped. Medical and self-harm refusals are always on;
// legal and financial refusals are on only when an avoid-topic names them.
func FromLegacy(def LegacyDefinition) *Spec {
	s := Default()

	if def.Name != "" {
		s.Identity.Name = def.Name
	}
	if def.Description != "" {
		s.Identity.Niche = def.Description
	}
	if def.Tagline != "" {
		s.Identity.Tagline = def.Tagline
	}
	if def.Personality != "" {
		s.Style.Tone = def.Personality
	}
	if len(def.Rules) > 0 {
		s.InteractionRules = slices.Clone(def.Rules)
	}

	s.Policies.Refusals = Refusals{Medical: true, SelfHarm: true}
	for _, topic := range def.AvoidTopics {
		t := strings.ToLower(topic)
		switch {
		case strings.Contains(t, "medic") || strings.Contains(t, "health"):
			s.Policies.Refusals.Medical = true
		case strings.Contains(t, "legal") || strings.Contains(t, "law"):
			s.Policies.Refusals.Legal = true
		case strings.Contains(t, "financ") || strings.Contains(t, "invest") || strings.Contains(t, "money"):
			s.Policies.Refusals.Financial = true
		case strings.Contains(t, "self-harm") || strings.Contains(t, "self harm") || strings.Contains(t, "suicid"):
			s.Policies.Refusals.SelfHarm = true
		}
	}

	if len(def.Tools) > 0 {
		keep := func(ids []string) []string {
			var out []string
			for _, id := range ids {
				if slices.Contains(def.Tools, id) {
					out = append(out, id)
				}
			}
			return out
		}
		s.Tools.Client = keep(s.Tools.Client)
		s.Tools.Server = keep(s.Tools.Server)
	}
	return s
}
