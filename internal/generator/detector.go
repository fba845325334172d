package generator

import (
	"strings"
	"unicode/utf8"

	"github.com/nugget/coachd/internal/protocol"
)

// Detection is a tool the reply appears to propose.
type Detection struct {
	Tool    string
	Reason  string
	Payload protocol.ToolPayload
}

// Detector finds tool intents in a finished reply.
type Detector interface {
	Detect(text string) []Detection
}

// phraseRule maps trigger phrases to one tool.
type phraseRule struct {
	tool    string
	reason  string
	phrases []string
}

// KeywordDetector matches fixed phrases, case-insensitively. Each tool
// is detected at most once per reply.
type KeywordDetector struct {
	rules []phraseRule
}

// NewKeywordDetector returns the default phrase matcher covering the
// calendar, reminder, focus, plan and check-in categories.
func NewKeywordDetector() *KeywordDetector {
	return &KeywordDetector{rules: []phraseRule{
		{
			tool:    "calendar_event_create",
			reason:  "The reply suggests blocking time on the calendar.",
			phrases: []string{"add it to your calendar", "add this to your calendar", "block time", "block out", "put it on your calendar", "schedule it"},
		},
		{
			tool:    "reminder_create",
			reason:  "The reply suggests a reminder.",
			phrases: []string{"set a reminder", "remind you", "reminder for"},
		},
		{
			tool:    "focus_timer_start",
			reason:  "The reply suggests a focused work block.",
			phrases: []string{"focus timer", "pomodoro", "focus session", "start a timer"},
		},
		{
			tool:    "plan_create",
			reason:  "The reply lays out a plan worth saving.",
			phrases: []string{"here's a plan", "here is a plan", "your plan", "save this plan"},
		},
		{
			tool:    "checkin_log",
			reason:  "The reply acknowledges progress worth logging.",
			phrases: []string{"log this check-in", "check-in logged", "log your progress", "nice progress"},
		},
	}}
}

// Detect returns one detection per matching rule, in rule order.
func (d *KeywordDetector) Detect(text string) []Detection {
	lower := strings.ToLower(text)
	var out []Detection
	for _, r := range d.rules {
		for _, p := range r.phrases {
			if strings.Contains(lower, p) {
				out = append(out, Detection{Tool: r.tool, Reason: r.reason, Payload: payloadFor(r.tool, text)})
				break
			}
		}
	}
	return out
}

// defaultFocusMinutes is proposed when a reply does not name a length.
const defaultFocusMinutes = 25

// payloadFor fills what can be inferred from the reply. Fields only the
// client can know (times) are left for the client to complete.
func payloadFor(tool, text string) protocol.ToolPayload {
	title := headline(text, 80)
	switch tool {
	case "calendar_event_create", "reminder_create", "plan_create":
		return protocol.ToolPayload{Title: title}
	case "focus_timer_start":
		return protocol.ToolPayload{DurationMin: defaultFocusMinutes}
	case "checkin_log":
		return protocol.ToolPayload{Note: headline(text, 280)}
	}
	return protocol.ToolPayload{}
}

// headline returns the first non-empty line of text without markdown
// markers, cut to at most n runes.
func headline(text string, n int) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "#*->0123456789. "))
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > n {
			line = string([]rune(line)[:n])
		}
		return line
	}
	return ""
}
