package prompts

import "fmt"

// summaryTemplate asks for a short session summary. The verbs are the
// prior summary (or "none") and the coach's latest reply.
const summaryTemplate = `Update the running summary of a coaching session.

Write 2 to 5 short lines, plain text, no bullets or headings. Keep what
still matters from the previous summary and add what this reply changed:
decisions, commitments, obstacles, mood.

Previous summary:
%s

Latest coach reply:
%s

Summary:`

// SessionSummaryPrompt returns the summary prompt. An empty previous
// summary is rendered as "none".
func SessionSummaryPrompt(previous, reply string) string {
	if previous == "" {
		previous = "none"
	}
	return fmt.Sprintf(summaryTemplate, previous, reply)
}

// commitmentsTemplate asks for commitments the user made. The verb is
// the coach's reply.
const commitmentsTemplate = `List the concrete commitments the user agreed to in this coaching exchange.
A commitment is a specific action the user said they will do, phrased as
a short imperative ("Walk 20 minutes after lunch"). Ignore suggestions the
user did not accept.

Return a JSON array of strings only. Return [] if there are none.

Coach reply:
%s

JSON:`

// CommitmentsPrompt returns the commitment extraction prompt.
func CommitmentsPrompt(reply string) string {
	return fmt.Sprintf(commitmentsTemplate, reply)
}
