package llm

import (
	"context"
	"log/slog"

	"github.com/nugget/coachd/internal/connwatch"
)

// Retrying wraps a Client and retries transient Complete failures with
// exponential backoff. Stream is passed through untouched: once tokens
// have been delivered a retry would duplicate them.
type Retrying struct {
	next    Client
	backoff connwatch.BackoffConfig
	logger  *slog.Logger
}

// NewRetrying returns a retrying client. backoff.MaxRetries is the total
// number of attempts.
func NewRetrying(next Client, backoff connwatch.BackoffConfig, logger *slog.Logger) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}
	if backoff.MaxRetries < 1 {
		backoff.MaxRetries = 1
	}
	return &Retrying{next: next, backoff: backoff, logger: logger}
}

// Complete calls the wrapped client until it succeeds, fails with a
// non-transient error, or runs out of attempts.
func (r *Retrying) Complete(ctx context.Context, model string, messages []Message) (*Completion, error) {
	var lastErr error
	for attempt := 1; attempt <= r.backoff.MaxRetries; attempt++ {
		resp, err := r.next.Complete(ctx, model, messages)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == r.backoff.MaxRetries {
			break
		}

		delay := r.backoff.Delay(attempt)
		r.logger.Warn("transient completion failure, retrying",
			"model", model,
			"stage", StageFrom(ctx),
			"attempt", attempt,
			"next_delay", delay.String(),
			"error", err,
		)
		if !connwatch.Sleep(ctx, delay) {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// Stream delegates without retry.
func (r *Retrying) Stream(ctx context.Context, model string, messages []Message) (*TokenStream, error) {
	return r.next.Stream(ctx, model, messages)
}

// Ping delegates without retry.
func (r *Retrying) Ping(ctx context.Context) error {
	return r.next.Ping(ctx)
}
