package generator

import (
	"fmt"
	"strings"

	"github.com/nugget/coachd/internal/contextbuilder"
	"github.com/nugget/coachd/internal/router"
)

// SystemPrompt renders the coach's system prompt. Sections always
// appear in the same order and empty sections are omitted, so equal
// inputs give byte-identical prompts.
func SystemPrompt(p *contextbuilder.Packet, route router.Route) string {
	spec := p.Spec
	var sb strings.Builder

	section := func(title string) {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("## " + title + "\n\n")
	}
	bullets := func(items []string) {
		for _, it := range items {
			sb.WriteString("- " + it + "\n")
		}
	}

	section("Identity")
	fmt.Fprintf(&sb, "You are %s, a coach for %s.\n", spec.Identity.Name, spec.Identity.Niche)
	if spec.Identity.Tagline != "" {
		fmt.Fprintf(&sb, "Tagline: %s\n", spec.Identity.Tagline)
	}

	section("Style")
	if spec.Style.Tone != "" {
		fmt.Fprintf(&sb, "Tone: %s\n", spec.Style.Tone)
	}
	if spec.Style.Verbosity != "" {
		fmt.Fprintf(&sb, "Verbosity: %s\n", spec.Style.Verbosity)
	}
	bullets(spec.Style.FormattingRules)

	if len(spec.InteractionRules) > 0 {
		section("Interaction Rules")
		bullets(spec.InteractionRules)
	}

	section("User")
	if u := p.User; u != nil {
		if u.Name != "" {
			fmt.Fprintf(&sb, "Name: %s\n", u.Name)
		}
		if route.HasContextKey(router.KeyValues) && len(u.Values) > 0 {
			fmt.Fprintf(&sb, "Values: %s\n", strings.Join(u.Values, ", "))
		}
		if len(u.Goals) > 0 {
			fmt.Fprintf(&sb, "Goals: %s\n", strings.Join(u.Goals, ", "))
		}
	}
	if route.HasContextKey(router.KeyActivePlans) {
		fmt.Fprintf(&sb, "Active plans: %d\n", len(p.ActivePlans))
		for _, plan := range p.ActivePlans {
			fmt.Fprintf(&sb, "- %s\n", plan.Plan.Title)
		}
	}
	if p.RecentSummary != "" {
		fmt.Fprintf(&sb, "Last session: %s\n", p.RecentSummary)
	}
	if len(p.MemoryHits) > 0 {
		sb.WriteString("Commitments they made:\n")
		bullets(p.MemoryHits)
	}

	if len(spec.Frameworks) > 0 {
		section("Frameworks")
		for _, f := range spec.Frameworks {
			fmt.Fprintf(&sb, "- %s: %s\n", f.Name, f.Description)
		}
	}

	if tools := availableTools(p, route); len(tools) > 0 {
		section("Available Tools")
		sb.WriteString("You may suggest these actions; the app asks the user before acting:\n")
		bullets(tools)
	}

	if len(spec.Policies.SafetyStatements) > 0 {
		section("Safety")
		bullets(spec.Policies.SafetyStatements)
	}

	return sb.String()
}

// availableTools lists the route's tools the coach also allows, in the
// route's sorted order.
func availableTools(p *contextbuilder.Packet, route router.Route) []string {
	var out []string
	for _, id := range route.ToolIDs() {
		if p.Spec.Tools.Allowed(id) {
			out = append(out, id)
		}
	}
	return out
}
