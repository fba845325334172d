package prompts

// fallbackReplies are sent when the generator cannot open a provider
// stream. Keys are route names.
var fallbackReplies = map[string]string{
	"quick_nudge":   "I'm having trouble thinking this through right now. Pick the smallest next step you can do in the next ten minutes, and do just that.",
	"deep_session":  "I want to give this the attention it deserves, but I can't reach my full reasoning right now. Jot down what feels most stuck, and let's pick it up again in a few minutes.",
	"make_a_system": "I can't build the full system right now. To start: name the outcome you want, the one habit that moves it, and when in your day that habit fits.",
	"review_retro":  "I can't run the full review right now. Write down one win, one challenge and one lesson from this period, and we'll build on them next time.",
	"scheduling":    "I can't set that up right now. Note the time you have in mind and try again in a moment.",
}

const defaultFallback = "I'm having trouble responding right now. Please try again in a moment."

// FallbackReply returns the canned reply for route.
func FallbackReply(route string) string {
	if r, ok := fallbackReplies[route]; ok {
		return r
	}
	return defaultFallback
}
