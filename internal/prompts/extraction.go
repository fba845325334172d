package prompts

import (
	"fmt"
	"sort"
	"strings"
)

// extractionTemplate asks for plan, next actions and a weekly review
// found in a coach reply. The first verb is the reply text, the second
// any custom schema section.
const extractionTemplate = `Extract structured data from this coaching reply. Only include what the
reply actually proposes; use null or an empty list for anything absent.

Return JSON only with exactly these fields:

{
  "plan": null or {
    "title": "short plan title",
    "goal": "the outcome the plan serves",
    "milestones": [{"title": "...", "due_iso": "YYYY-MM-DD or empty"}],
    "next_actions": [<next action>]
  },
  "next_actions": [<next action>],
  "weekly_review": null or {
    "week_of_iso": "YYYY-MM-DD of the week's Monday",
    "wins": ["..."],
    "challenges": ["..."],
    "lessons": ["..."],
    "next_week_focus": ["..."]
  }
}

A next action is:
{"title": "...", "duration_min": <minutes, 0-480>, "energy": "low|medium|high",
 "when": {"kind": "now|today|this_week|at|someday", "due_iso": "RFC 3339 when kind is at"}}

At most 8 milestones, 12 plan next actions and 7 standalone next actions.
%s
Reply:
%s

JSON:`

// ExtractionPrompt returns the extraction prompt for reply. schemas
// holds user-authored output schema extensions by name; each is
// appended verbatim in name order.
func ExtractionPrompt(reply string, schemas map[string]string) string {
	var extra strings.Builder
	if len(schemas) > 0 {
		names := make([]string, 0, len(schemas))
		for name := range schemas {
			names = append(names, name)
		}
		sort.Strings(names)

		extra.WriteString("\nAlso include these additional top-level fields when the reply supports them:\n")
		for _, name := range names {
			fmt.Fprintf(&extra, "- %q matching schema: %s\n", name, schemas[name])
		}
	}
	return fmt.Sprintf(extractionTemplate, extra.String(), reply)
}
