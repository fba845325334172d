// Package memory consolidates what a turn taught the coach: a rolling
// session summary and the commitments the user made. It runs after the
// turn has been answered and never affects the reply.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/coachd/internal/docstore"
	"github.com/nugget/coachd/internal/events"
	"github.com/nugget/coachd/internal/generator"
	"github.com/nugget/coachd/internal/llm"
	"github.com/nugget/coachd/internal/prompts"
)

// MaxSummaryLines bounds a stored session summary.
const MaxSummaryLines = 5

// Store is the slice of the document store consolidation writes to.
type Store interface {
	GetSession(ctx context.Context, id string) (*docstore.Session, error)
	UpsertSessionSummary(ctx context.Context, id, uid, summary string) error
	AppendCommitments(ctx context.Context, uid string, commitments []string) (int, error)
}

// Consolidator updates long-term memory after a turn.
type Consolidator struct {
	client llm.Client
	model  string
	store  Store
	bus    *events.Bus
	logger *slog.Logger
}

// New creates a consolidator. bus may be nil.
func New(client llm.Client, model string, store Store, bus *events.Bus, logger *slog.Logger) *Consolidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consolidator{
		client: client,
		model:  model,
		store:  store,
		bus:    bus,
		logger: logger.With("component", "memory"),
	}
}

// Update refreshes the session summary and appends new commitments.
// The two halves are independent; a failure in one does not skip the
// other. Errors are logged and returned joined.
func (c *Consolidator) Update(ctx context.Context, sessionID, uid string, out *generator.CoachOutput) error {
	ctx = llm.WithSessionID(llm.WithStage(ctx, llm.StageMemory), sessionID)
	start := time.Now()

	sumErr := c.updateSummary(ctx, sessionID, uid, out.MessageText)
	if sumErr != nil {
		c.logger.Warn("session summary update failed", "session_id", sessionID, "error", sumErr)
	}

	added, comErr := c.updateCommitments(ctx, uid, out.MessageText)
	if comErr != nil {
		c.logger.Warn("commitment update failed", "session_id", sessionID, "error", comErr)
	}

	err := errors.Join(sumErr, comErr)
	c.bus.Publish(events.Event{
		Source: events.SourceMemory,
		Kind:   events.KindMemoryUpdated,
		Data: map[string]any{
			"session_id":        sessionID,
			"ok":                err == nil,
			"commitments_added": added,
		},
	})
	c.logger.Debug("memory consolidated",
		"session_id", sessionID,
		"commitments_added", added,
		"elapsed", time.Since(start),
		"ok", err == nil,
	)
	return err
}

func (c *Consolidator) updateSummary(ctx context.Context, sessionID, uid, reply string) error {
	var previous string
	sess, err := c.store.GetSession(ctx, sessionID)
	switch {
	case err == nil:
		previous = sess.Summary
	case !errors.Is(err, docstore.ErrNotFound):
		return fmt.Errorf("load session: %w", err)
	}

	resp, err := c.client.Complete(ctx, c.model, []llm.Message{
		{Role: "user", Content: prompts.SessionSummaryPrompt(previous, reply)},
	})
	if err != nil {
		return fmt.Errorf("summary call: %w", err)
	}

	summary := TrimSummary(resp.Text)
	if summary == "" {
		return nil
	}
	if err := c.store.UpsertSessionSummary(ctx, sessionID, uid, summary); err != nil {
		return fmt.Errorf("store summary: %w", err)
	}
	return nil
}

func (c *Consolidator) updateCommitments(ctx context.Context, uid, reply string) (int, error) {
	resp, err := c.client.Complete(ctx, c.model, []llm.Message{
		{Role: "user", Content: prompts.CommitmentsPrompt(reply)},
	})
	if err != nil {
		return 0, fmt.Errorf("commitments call: %w", err)
	}

	commitments, err := ParseCommitments(resp.Text)
	if err != nil {
		return 0, err
	}
	if len(commitments) == 0 {
		return 0, nil
	}
	added, err := c.store.AppendCommitments(ctx, uid, commitments)
	if err != nil {
		return 0, fmt.Errorf("store commitments: %w", err)
	}
	return added, nil
}

// TrimSummary drops blank lines and keeps at most [MaxSummaryLines].
func TrimSummary(text string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == MaxSummaryLines {
			break
		}
	}
	return strings.Join(lines, "\n")
}

// ParseCommitments decodes a JSON string array, tolerating a markdown
// fence. Blank entries are dropped.
func ParseCommitments(text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[i+1:]
		}
		text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))
	}

	var raw []string
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("parse commitments: %w", err)
	}
	out := raw[:0]
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
