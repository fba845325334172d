// Package protocol defines the event stream a turn produces and its
// Server-Sent Events framing.
//
// Every turn yields an ordered sequence of events ending in exactly one
// terminal event, either [TypeStreamDone] or [TypeError]. [Guard]
// enforces that nothing follows the terminal event.
package protocol

import (
	"sync"
	"time"
)

// Type discriminates events on the wire.
type Type string

// Event types.
const (
	TypeStreamOpen       Type = "stream.open"
	TypeMessageDelta     Type = "message.delta"
	TypeMessageFinal     Type = "message.final"
	TypeCardPlan         Type = "card.plan"
	TypeCardNextActions  Type = "card.next_actions"
	TypeCardWeeklyReview Type = "card.weekly_review"
	TypeToolRequest      Type = "tool.request"
	TypeToolStatus       Type = "tool.status"
	TypePolicyNotice     Type = "policy.notice"
	TypeError            Type = "error"
	TypeStreamDone       Type = "stream.done"
)

// Terminal reports whether t ends a turn.
func (t Type) Terminal() bool {
	return t == TypeStreamDone || t == TypeError
}

// Error codes carried by [TypeError] events.
const (
	CodeRouter     = "ROUTER_ERROR"
	CodeContext    = "CONTEXT_ERROR"
	CodeGeneration = "GENERATION_ERROR"
	CodeCancelled  = "CANCELLED"
)

// Policy notice kinds that are not safety violations.
const NoticeExtractionDegraded = "extraction_degraded"

// Event is one protocol message. Data holds the typed payload matching
// Type (for example *MessageDelta for [TypeMessageDelta]).
type Event struct {
	Type Type
	Data any
}

// StreamOpen is the payload of [TypeStreamOpen].
type StreamOpen struct {
	SessionID     string `json:"session_id"`
	ServerTimeISO string `json:"server_time_iso"`
}

// MessageDelta is the payload of [TypeMessageDelta].
type MessageDelta struct {
	Role  string `json:"role"`
	Delta string `json:"delta"`
}

// RenderHints tell the client how to present a final message.
type RenderHints struct {
	Format string   `json:"format"`
	Cards  []string `json:"cards"`
	HTML   string   `json:"html,omitempty"`
}

// MessageFinal is the payload of [TypeMessageFinal].
type MessageFinal struct {
	MessageID   string      `json:"message_id"`
	Role        string      `json:"role"`
	Text        string      `json:"text"`
	RenderHints RenderHints `json:"render_hints"`
}

// PlanCard is the payload of [TypeCardPlan].
type PlanCard struct {
	Plan Plan `json:"plan"`
}

// NextActionsCard is the payload of [TypeCardNextActions].
type NextActionsCard struct {
	Actions []NextAction `json:"actions"`
}

// WeeklyReviewCard is the payload of [TypeCardWeeklyReview].
type WeeklyReviewCard struct {
	Review WeeklyReview `json:"review"`
}

// ToolStatus is the payload of [TypeToolStatus].
type ToolStatus struct {
	RequestID string `json:"request_id"`
	Tool      string `json:"tool"`
	Status    string `json:"status"` // executed, duplicate, failed
	Detail    string `json:"detail,omitempty"`
}

// PolicyNotice is the payload of [TypePolicyNotice].
type PolicyNotice struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorPayload is the payload of [TypeError].
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// StreamDone is the payload of [TypeStreamDone].
type StreamDone struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

// NewStreamOpen builds a stream.open event stamped with now in UTC.
func NewStreamOpen(sessionID string, now time.Time) Event {
	return Event{Type: TypeStreamOpen, Data: &StreamOpen{
		SessionID:     sessionID,
		ServerTimeISO: now.UTC().Format(time.RFC3339),
	}}
}

// NewDelta builds an assistant message.delta event.
func NewDelta(text string) Event {
	return Event{Type: TypeMessageDelta, Data: &MessageDelta{Role: "assistant", Delta: text}}
}

// NewFinal builds an assistant message.final event.
func NewFinal(messageID, text string, hints RenderHints) Event {
	if hints.Cards == nil {
		hints.Cards = []string{}
	}
	return Event{Type: TypeMessageFinal, Data: &MessageFinal{
		MessageID:   messageID,
		Role:        "assistant",
		Text:        text,
		RenderHints: hints,
	}}
}

// NewPlanCard builds a card.plan event.
func NewPlanCard(p Plan) Event {
	return Event{Type: TypeCardPlan, Data: &PlanCard{Plan: p}}
}

// NewNextActionsCard builds a card.next_actions event.
func NewNextActionsCard(actions []NextAction) Event {
	return Event{Type: TypeCardNextActions, Data: &NextActionsCard{Actions: actions}}
}

// NewWeeklyReviewCard builds a card.weekly_review event.
func NewWeeklyReviewCard(r WeeklyReview) Event {
	return Event{Type: TypeCardWeeklyReview, Data: &WeeklyReviewCard{Review: r}}
}

// NewToolRequest builds a tool.request event.
func NewToolRequest(r ToolRequest) Event {
	return Event{Type: TypeToolRequest, Data: &r}
}

// NewToolStatus builds a tool.status event.
func NewToolStatus(s ToolStatus) Event {
	return Event{Type: TypeToolStatus, Data: &s}
}

// NewNotice builds a policy.notice event.
func NewNotice(kind, message string) Event {
	return Event{Type: TypePolicyNotice, Data: &PolicyNotice{Kind: kind, Message: message}}
}

// NewError builds a terminal error event.
func NewError(code, message string, retryable bool) Event {
	return Event{Type: TypeError, Data: &ErrorPayload{Code: code, Message: message, Retryable: retryable}}
}

// NewDone builds the terminal stream.done event.
func NewDone(sessionID string) Event {
	return Event{Type: TypeStreamDone, Data: &StreamDone{Status: "ok", SessionID: sessionID}}
}

// Guard forwards events to a send function until a terminal event has
// passed through, then drops everything else.
type Guard struct {
	mu         sync.Mutex
	send       func(Event)
	terminated bool
	dropped    int
}

// NewGuard wraps send.
func NewGuard(send func(Event)) *Guard {
	return &Guard{send: send}
}

// Emit forwards e unless the stream already terminated. It reports
// whether e was forwarded.
func (g *Guard) Emit(e Event) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.terminated {
		g.dropped++
		return false
	}
	if e.Type.Terminal() {
		g.terminated = true
	}
	g.send(e)
	return true
}

// Terminated reports whether a terminal event has been emitted.
func (g *Guard) Terminated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.terminated
}

// Dropped returns how many events arrived after the terminal event.
func (g *Guard) Dropped() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dropped
}
