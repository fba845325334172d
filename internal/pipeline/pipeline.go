// Package pipeline runs one coaching turn end to end: classify the
// message, build context, stream the reply, extract structured data,
// screen the result, act on safe tool requests and schedule memory
// consolidation. Progress is reported as an ordered event stream.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/coachd/internal/coach"
	"github.com/nugget/coachd/internal/contextbuilder"
	"github.com/nugget/coachd/internal/docstore"
	"github.com/nugget/coachd/internal/events"
	"github.com/nugget/coachd/internal/generator"
	"github.com/nugget/coachd/internal/protocol"
	"github.com/nugget/coachd/internal/router"
	"github.com/nugget/coachd/internal/safety"
	"github.com/nugget/coachd/internal/tools"
)

// Stage names reported in stage_done events.
const (
	StageClassify = "classify"
	StageContext  = "context"
	StageGenerate = "generate"
	StageExtract  = "extract"
	StageSafety   = "safety"
	StageTools    = "tools"
)

// Turn is one user message.
type Turn struct {
	UserID    string
	SessionID string // generated when empty
	CoachID   string // empty uses the default spec
	Message   string

	// Permissions are the device permissions the client has granted.
	Permissions []string
}

// Classifier picks the route for a message.
type Classifier interface {
	Classify(ctx context.Context, message, uid string) (router.Route, error)
}

// ContextBuilder assembles what the coach knows for a turn.
type ContextBuilder interface {
	Build(ctx context.Context, uid, coachID string, route router.Route) (*contextbuilder.Packet, error)
}

// Generator streams the reply.
type Generator interface {
	Generate(ctx context.Context, message, sessionID string, route router.Route, p *contextbuilder.Packet, emit generator.Emit) (*generator.CoachOutput, error)
}

// Extractor pulls structured data from a reply.
type Extractor interface {
	Extract(ctx context.Context, out *generator.CoachOutput, spec *coach.Spec) (*protocol.Extraction, error)
}

// Validator screens a reply against the coach's policies.
type Validator interface {
	Validate(out *generator.CoachOutput, spec *coach.Spec) error
}

// ToolExecutor runs server-owned tools.
type ToolExecutor interface {
	Execute(ctx context.Context, uid string, req protocol.ToolRequest, granted []string) (protocol.ToolStatus, error)
}

// MemoryUpdater consolidates memory after a turn.
type MemoryUpdater interface {
	Update(ctx context.Context, sessionID, uid string, out *generator.CoachOutput) error
}

// Sessions records turn activity on a session.
type Sessions interface {
	TouchSession(ctx context.Context, id, uid, coachID string) error
}

// Submitter runs detached work.
type Submitter interface {
	Submit(name string, fn func(ctx context.Context) error)
}

// Deps are the stages and collaborators of a pipeline. Planner, Tools,
// Memory, Runner, Sessions and Bus are optional.
type Deps struct {
	Router    Classifier
	Context   ContextBuilder
	Generator Generator
	Planner   Extractor
	Safety    Validator
	Registry  *tools.Registry
	Tools     ToolExecutor
	Memory    MemoryUpdater
	Runner    Submitter
	Sessions  Sessions
	Bus       *events.Bus
}

// Config tunes a pipeline.
type Config struct {
	EventBuffer int
	TurnTimeout time.Duration // 0 means no limit
}

// Pipeline processes turns. It is safe for concurrent use.
type Pipeline struct {
	deps   Deps
	config Config
	logger *slog.Logger
}

// New creates a pipeline.
func New(deps Deps, config Config, logger *slog.Logger) *Pipeline {
	if config.EventBuffer <= 0 {
		config.EventBuffer = 64
	}
	if deps.Registry == nil {
		deps.Registry = tools.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		deps:   deps,
		config: config,
		logger: logger.With("component", "pipeline"),
	}
}

// Stream starts the turn and returns its events. The channel is closed
// after exactly one terminal event (stream.done or error). The caller
// must drain it.
func (p *Pipeline) Stream(ctx context.Context, t Turn) <-chan protocol.Event {
	out := make(chan protocol.Event, p.config.EventBuffer)
	if t.SessionID == "" {
		t.SessionID = newID()
	}

	go func() {
		defer close(out)
		if p.config.TurnTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.config.TurnTimeout)
			defer cancel()
		}

		g := protocol.NewGuard(func(e protocol.Event) { out <- e })
		r := &turnRun{Pipeline: p, turn: t, guard: g, start: time.Now()}
		r.run(ctx)

		if !g.Terminated() {
			p.logger.Error("turn ended without a terminal event", "session_id", t.SessionID)
			g.Emit(protocol.NewError(protocol.CodeGeneration, "turn ended unexpectedly", true))
		}
	}()
	return out
}

// turnRun is the state of one turn.
type turnRun struct {
	*Pipeline
	turn  Turn
	guard *protocol.Guard
	route router.Route
	start time.Time
}

func (r *turnRun) run(ctx context.Context) {
	t := r.turn
	log := r.logger.With("session_id", t.SessionID, "uid", t.UserID)
	r.publish(events.KindTurnStart, map[string]any{"uid": t.UserID})

	var err error
	if !r.stage(StageClassify, func() error {
		r.route, err = r.deps.Router.Classify(ctx, t.Message, t.UserID)
		return err
	}) {
		r.fail(ctx, protocol.CodeRouter, "could not classify the message", true, err)
		return
	}
	log = log.With("route", r.route.Name)

	var packet *contextbuilder.Packet
	if !r.stage(StageContext, func() error {
		packet, err = r.deps.Context.Build(ctx, t.UserID, t.CoachID, r.route)
		return err
	}) {
		r.fail(ctx, protocol.CodeContext, "could not load coaching context", !errors.Is(err, docstore.ErrNotFound), err)
		return
	}
	spec := packet.Spec

	if r.deps.Sessions != nil {
		if err := r.deps.Sessions.TouchSession(ctx, t.SessionID, t.UserID, t.CoachID); err != nil {
			log.Warn("session touch failed", "error", err)
		}
	}

	var reply *generator.CoachOutput
	if !r.stage(StageGenerate, func() error {
		reply, err = r.deps.Generator.Generate(ctx, t.Message, t.SessionID, r.route, packet, r.guard.Emit)
		return err
	}) {
		r.fail(ctx, protocol.CodeGeneration, "the coach could not finish a reply", true, err)
		return
	}

	if r.route.NeedsExtraction && r.deps.Planner != nil {
		r.extract(ctx, reply, spec)
		if ctx.Err() != nil {
			r.fail(ctx, protocol.CodeCancelled, "", false, ctx.Err())
			return
		}
	}

	r.screen(ctx, reply, spec)

	if r.deps.Memory != nil && r.deps.Runner != nil && !reply.Fallback {
		sid, uid := t.SessionID, t.UserID
		r.deps.Runner.Submit("memory:"+sid, func(ctx context.Context) error {
			return r.deps.Memory.Update(ctx, sid, uid, reply)
		})
	}

	r.guard.Emit(protocol.NewDone(t.SessionID))
	r.complete("ok")
	log.Info("turn complete",
		"elapsed", time.Since(r.start).Round(time.Millisecond),
		"fallback", reply.Fallback,
		"tool_requests", len(reply.ToolRequests),
	)
}

// extract runs the planner and emits cards. Failures degrade to a
// notice.
func (r *turnRun) extract(ctx context.Context, reply *generator.CoachOutput, spec *coach.Spec) {
	var ext *protocol.Extraction
	var err error
	r.stage(StageExtract, func() error {
		ext, err = r.deps.Planner.Extract(ctx, reply, spec)
		return err
	})
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		r.logger.Warn("extraction degraded", "session_id", r.turn.SessionID, "error", err)
		r.notice(protocol.NoticeExtractionDegraded, "Structured plan data is unavailable for this reply.")
	}
	reply.StructuredData = ext
	if ext.Empty() {
		return
	}

	cards := spec.Output.Cards
	if ext.Plan != nil && slices.Contains(cards, "plan") {
		r.guard.Emit(protocol.NewPlanCard(*ext.Plan))
	}
	if len(ext.NextActions) > 0 && slices.Contains(cards, "next_actions") {
		r.guard.Emit(protocol.NewNextActionsCard(ext.NextActions))
	}
	if ext.WeeklyReview != nil && slices.Contains(cards, "weekly_review") {
		r.guard.Emit(protocol.NewWeeklyReviewCard(*ext.WeeklyReview))
	}
}

// screen validates the reply. A violation withholds every tool request;
// otherwise each request is sent and server tools that need no
// confirmation run immediately.
func (r *turnRun) screen(ctx context.Context, reply *generator.CoachOutput, spec *coach.Spec) {
	var verr error
	r.stage(StageSafety, func() error {
		verr = r.deps.Safety.Validate(reply, spec)
		return verr
	})
	if verr != nil {
		kind := safety.KindSafetyBoundary
		msg := verr.Error()
		var v *safety.Violation
		if errors.As(verr, &v) {
			kind, msg = v.Kind, v.Message
		}
		r.logger.Info("reply screened",
			"session_id", r.turn.SessionID,
			"kind", kind,
			"withheld_tools", len(reply.ToolRequests),
		)
		r.notice(kind, msg)
		return
	}

	for _, req := range reply.ToolRequests {
		r.guard.Emit(protocol.NewToolRequest(req))
	}

	if r.deps.Tools == nil {
		return
	}
	for _, req := range reply.ToolRequests {
		t, err := r.deps.Registry.Get(req.Tool)
		if err != nil || t.Owner != tools.OwnerServer || req.RequiresConfirmation {
			continue
		}
		req.Payload.IdempotencyKey = req.RequestID

		var status protocol.ToolStatus
		r.stage(StageTools, func() error {
			status, err = r.deps.Tools.Execute(ctx, r.turn.UserID, req, r.turn.Permissions)
			return err
		})
		if err != nil {
			status = protocol.ToolStatus{RequestID: req.RequestID, Tool: req.Tool, Status: tools.StatusFailed, Detail: err.Error()}
		}
		r.guard.Emit(protocol.NewToolStatus(status))
		r.deps.Bus.Publish(events.Event{
			Source: events.SourceTools,
			Kind:   events.KindToolExecuted,
			Data:   map[string]any{"tool": status.Tool, "status": status.Status},
		})
	}
}

// stage times fn and reports it. It returns whether fn succeeded.
func (r *turnRun) stage(name string, fn func() error) bool {
	start := time.Now()
	err := fn()
	r.publish(events.KindStageDone, map[string]any{
		"stage":       name,
		"ok":          err == nil,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return err == nil
}

// fail ends the turn with an error event. Cancellation overrides code.
func (r *turnRun) fail(ctx context.Context, code, message string, retryable bool, err error) {
	if ctx.Err() != nil {
		code, retryable = protocol.CodeCancelled, false
		message = "turn cancelled"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			message, retryable = "turn timed out", true
		}
	}
	r.logger.Warn("turn failed",
		"session_id", r.turn.SessionID,
		"code", code,
		"route", r.route.Name,
		"error", err,
	)
	r.guard.Emit(protocol.NewError(code, message, retryable))
	r.complete(code)
}

func (r *turnRun) notice(kind, message string) {
	r.guard.Emit(protocol.NewNotice(kind, message))
	r.publish(events.KindPolicyNotice, map[string]any{"kind": kind})
}

func (r *turnRun) complete(status string) {
	r.publish(events.KindTurnComplete, map[string]any{
		"route":      r.route.Name,
		"status":     status,
		"elapsed_ms": time.Since(r.start).Milliseconds(),
	})
}

func (r *turnRun) publish(kind string, data map[string]any) {
	data["session_id"] = r.turn.SessionID
	r.deps.Bus.Publish(events.Event{Source: events.SourcePipeline, Kind: kind, Data: data})
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
