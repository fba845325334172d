package llm

import "context"

type contextKey string

const (
	stageKey   contextKey = "stage"
	sessionKey contextKey = "session_id"
)

// Pipeline stage names attached to provider calls.
const (
	StageRouter    = "router"
	StageGenerator = "generator"
	StagePlanner   = "planner"
	StageMemory    = "memory"
)

// WithStage tags ctx with the pipeline stage making the call.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey, stage)
}

// StageFrom returns the stage tag, or "unknown".
func StageFrom(ctx context.Context) string {
	if s, ok := ctx.Value(stageKey).(string); ok && s != "" {
		return s
	}
	return "unknown"
}

// WithSessionID tags ctx with the chat session the call belongs to.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey, id)
}

// SessionIDFrom returns the session tag, or "".
func SessionIDFrom(ctx context.Context) string {
	s, _ := ctx.Value(sessionKey).(string)
	return s
}
