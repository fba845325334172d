// Package generator produces the coach's reply for a turn, streaming
// it to the client token by token, and proposes device or data actions
// the reply implies.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/coachd/internal/contextbuilder"
	"github.com/nugget/coachd/internal/llm"
	"github.com/nugget/coachd/internal/prompts"
	"github.com/nugget/coachd/internal/protocol"
	"github.com/nugget/coachd/internal/render"
	"github.com/nugget/coachd/internal/router"
	"github.com/nugget/coachd/internal/tools"
)

// CoachOutput is everything a turn produced. StructuredData is filled
// in by extraction after generation.
type CoachOutput struct {
	MessageID      string
	MessageText    string
	ToolRequests   []protocol.ToolRequest
	StructuredData *protocol.Extraction

	// Fallback is set when the reply is canned because the provider
	// stream could not be opened.
	Fallback bool
}

// GenerationError means the provider stream failed after it opened. It
// is fatal to the turn; partial output is discarded.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate reply: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Emit delivers one event to the client stream. It reports whether the
// event was accepted.
type Emit func(protocol.Event) bool

// Generator streams coach replies.
type Generator struct {
	client   llm.Client
	model    string
	registry *tools.Registry
	detector Detector
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a generator. A nil registry uses [tools.Default] and a
// nil detector uses [NewKeywordDetector].
func New(client llm.Client, model string, registry *tools.Registry, detector Detector, logger *slog.Logger) *Generator {
	if registry == nil {
		registry = tools.Default()
	}
	if detector == nil {
		detector = NewKeywordDetector()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		client:   client,
		model:    model,
		registry: registry,
		detector: detector,
		logger:   logger.With("component", "generator"),
		now:      time.Now,
	}
}

// Generate streams the reply to message. It emits stream.open, one
// message.delta per token and message.final, then returns the output
// with any proposed tool requests. Tool requests are not emitted.
//
// If the provider stream cannot be opened, a canned reply for the route
// is streamed instead. A failure after the stream opened returns a
// *GenerationError. Cancellation returns ctx.Err() without
// message.final.
func (g *Generator) Generate(ctx context.Context, message, sessionID string, route router.Route, p *contextbuilder.Packet, emit Emit) (*CoachOutput, error) {
	ctx = llm.WithSessionID(llm.WithStage(ctx, llm.StageGenerator), sessionID)

	messages := []llm.Message{
		{Role: "system", Content: SystemPrompt(p, route)},
		{Role: "user", Content: message},
	}

	emit(protocol.NewStreamOpen(sessionID, g.now()))

	out := &CoachOutput{MessageID: newID()}

	stream, err := g.client.Stream(ctx, g.model, messages)
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		g.logger.Warn("provider stream unavailable, sending canned reply",
			"session_id", sessionID,
			"route", route.Name,
			"error", err,
		)
		out.Fallback = true
		out.MessageText = prompts.FallbackReply(route.Name)
		emit(protocol.NewDelta(out.MessageText))
	default:
		text, err := g.consume(ctx, stream, emit)
		if err != nil {
			return nil, err
		}
		out.MessageText = text
	}

	emit(protocol.NewFinal(out.MessageID, out.MessageText, g.renderHints(p, out.MessageText)))

	if !out.Fallback {
		out.ToolRequests = g.toolRequests(p, route, out.MessageText)
	}

	g.logger.Debug("reply generated",
		"session_id", sessionID,
		"message_id", out.MessageID,
		"chars", len(out.MessageText),
		"tool_requests", len(out.ToolRequests),
		"fallback", out.Fallback,
	)
	return out, nil
}

// consume forwards tokens until the stream ends, fails or ctx ends.
func (g *Generator) consume(ctx context.Context, s *llm.TokenStream, emit Emit) (string, error) {
	var sb strings.Builder
	errc := s.Err
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()

		case err, ok := <-errc:
			if ok && err != nil {
				return "", g.failed(ctx, err)
			}
			errc = nil

		case tok, ok := <-s.Tokens:
			if !ok {
				select {
				case err := <-errc:
					if err != nil {
						return "", g.failed(ctx, err)
					}
				default:
				}
				return sb.String(), nil
			}
			sb.WriteString(tok)
			emit(protocol.NewDelta(tok))
		}
	}
}

// failed classifies a stream error. Errors caused by our own
// cancellation surface as ctx.Err().
func (g *Generator) failed(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &GenerationError{Err: err}
}

func (g *Generator) renderHints(p *contextbuilder.Packet, text string) protocol.RenderHints {
	hints := protocol.RenderHints{
		Format: p.Spec.Output.RenderHints.Format,
		Cards:  append([]string(nil), p.Spec.Output.Cards...),
	}
	if hints.Format == "" {
		hints.Format = "markdown"
	}
	if hints.Format == "html" {
		html, err := render.HTML(text)
		if err != nil {
			g.logger.Warn("html render failed", "error", err)
		}
		hints.HTML = html
	}
	return hints
}

// toolRequests turns detections into requests. A tool is proposed only
// when the route grants it or the coach allows it. Confirmation is
// required when either the catalog or the coach demands it.
func (g *Generator) toolRequests(p *contextbuilder.Packet, route router.Route, text string) []protocol.ToolRequest {
	var out []protocol.ToolRequest
	for _, d := range g.detector.Detect(text) {
		if !route.AllowsTool(d.Tool) && !p.Spec.Tools.Allowed(d.Tool) {
			g.logger.Debug("detected tool not permitted", "tool", d.Tool, "route", route.Name)
			continue
		}
		t, err := g.registry.Get(d.Tool)
		if err != nil {
			g.logger.Debug("detected tool not in catalog", "tool", d.Tool)
			continue
		}
		id := newID()
		payload := d.Payload
		if payload.IdempotencyKey == "" {
			payload.IdempotencyKey = id
		}
		out = append(out, protocol.ToolRequest{
			RequestID:            id,
			Tool:                 d.Tool,
			RequiresConfirmation: t.RequiresConfirmation || p.Spec.Tools.NeedsConfirmation(d.Tool),
			Reason:               d.Reason,
			Payload:              payload,
		})
	}
	return out
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
