// Package prompts holds the fixed instructions coachd sends to models
// for its internal calls: intent classification, structured extraction
// and memory consolidation, plus the canned replies used when the
// generator cannot reach a provider.
//
// Prompt text lives in Go rather than config because it is program
// logic: each prompt is a template with an exported builder that takes
// the dynamic parts and returns the interpolated string.
package prompts
