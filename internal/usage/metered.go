package usage

import (
	"context"
	"log/slog"

	"github.com/nugget/coachd/internal/llm"
)

// Recorder persists usage records.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Metered is an [llm.Client] that records token usage for every call,
// tagged with the stage and session found on the context.
type Metered struct {
	next       llm.Client
	rec        Recorder
	providerOf func(model string) string
	logger     *slog.Logger
}

// NewMetered wraps next. providerOf names the provider serving a model
// and may be nil.
func NewMetered(next llm.Client, rec Recorder, providerOf func(model string) string, logger *slog.Logger) *Metered {
	if providerOf == nil {
		providerOf = func(string) string { return "" }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Metered{next: next, rec: rec, providerOf: providerOf, logger: logger.With("component", "usage")}
}

// Complete forwards and records the completion's token counts.
func (m *Metered) Complete(ctx context.Context, model string, messages []llm.Message) (*llm.Completion, error) {
	c, err := m.next.Complete(ctx, model, messages)
	if err != nil {
		return nil, err
	}
	if c.Model != "" {
		model = c.Model
	}
	m.record(ctx, model, false, c.InputTokens, c.OutputTokens)
	return c, nil
}

// Stream forwards tokens through a new stream and records usage once
// the upstream stream closes successfully.
func (m *Metered) Stream(ctx context.Context, model string, messages []llm.Message) (*llm.TokenStream, error) {
	up, err := m.next.Stream(ctx, model, messages)
	if err != nil {
		return nil, err
	}

	out, w := llm.NewStream(cap(up.Tokens))
	go func() {
		for tok := range up.Tokens {
			if !w.Send(ctx, tok) {
				w.Fail(ctx.Err())
				return
			}
		}
		if err, ok := <-up.Err; ok && err != nil {
			w.Fail(err)
			return
		}
		u := up.Usage()
		if u.Model == "" {
			u.Model = model
		}
		m.record(ctx, u.Model, true, u.InputTokens, u.OutputTokens)
		w.Close(u)
	}()
	return out, nil
}

// Ping forwards.
func (m *Metered) Ping(ctx context.Context) error {
	return m.next.Ping(ctx)
}

func (m *Metered) record(ctx context.Context, model string, streamed bool, in, out int) {
	rec := Record{
		SessionID:    llm.SessionIDFrom(ctx),
		Stage:        llm.StageFrom(ctx),
		Model:        model,
		Provider:     m.providerOf(model),
		Streamed:     streamed,
		InputTokens:  in,
		OutputTokens: out,
	}
	// Usage is written even when the caller's context has just ended.
	if err := m.rec.Record(context.WithoutCancel(ctx), rec); err != nil {
		m.logger.Warn("failed to record usage", "stage", rec.Stage, "model", model, "error", err)
		return
	}
	m.logger.Debug("usage recorded",
		"stage", rec.Stage,
		"session_id", rec.SessionID,
		"model", model,
		"input_tokens", in,
		"output_tokens", out,
	)
}
