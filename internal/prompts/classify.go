package prompts

import "fmt"

// classifyTemplate asks for a single intent label. The format verb is
// the user's message.
const classifyTemplate = `Classify the user's message to a personal coach into exactly one intent.

Intents:
- quick_nudge: a short check-in, motivation request or small question
- deep_session: wants to talk something through at length
- make_a_system: wants a plan, routine or system built
- review_retro: wants to review how a period went
- scheduling: wants something put on a calendar or reminded

Return JSON only, no prose:
{"intent": "<one of the intents above>", "confidence": <number between 0 and 1>}

Message:
%s

JSON:`

// ClassifyPrompt returns the intent classification prompt for message.
func ClassifyPrompt(message string) string {
	return fmt.Sprintf(classifyTemplate, message)
}
