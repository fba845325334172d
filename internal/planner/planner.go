// Package planner extracts structured plans, next actions and weekly
// reviews from a finished coach reply.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/coachd/internal/coach"
	"github.com/nugget/coachd/internal/generator"
	"github.com/nugget/coachd/internal/llm"
	"github.com/nugget/coachd/internal/prompts"
	"github.com/nugget/coachd/internal/protocol"
)

// ErrUnparseable is returned when the model's answer is not the
// requested JSON. The turn continues without cards.
var ErrUnparseable = errors.New("extraction response is not valid JSON")

// Extraction limits. Longer lists are truncated.
const (
	MaxMilestones      = 8
	MaxPlanActions     = 12
	MaxStandaloneSteps = 7
	MaxDurationMin     = 480
)

// Planner turns replies into structured data with one completion call.
type Planner struct {
	client llm.Client
	model  string
	logger *slog.Logger
}

// New creates a planner.
func New(client llm.Client, model string, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		client: client,
		model:  model,
		logger: logger.With("component", "planner"),
	}
}

// Extract asks the model for the structured content of output's reply.
// It always returns a non-nil extraction; on error the extraction is
// empty and the error is [ErrUnparseable] or a wrapped provider error.
func (p *Planner) Extract(ctx context.Context, output *generator.CoachOutput, spec *coach.Spec) (*protocol.Extraction, error) {
	ctx = llm.WithStage(ctx, llm.StagePlanner)

	prompt := prompts.ExtractionPrompt(output.MessageText, customSchemas(spec))
	resp, err := p.client.Complete(ctx, p.model, []llm.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return &protocol.Extraction{}, fmt.Errorf("extraction call: %w", err)
	}

	ext, err := Parse(resp.Text)
	if err != nil {
		p.logger.Warn("extraction response unparseable",
			"message_id", output.MessageID,
			"chars", len(resp.Text),
		)
		p.logger.Log(ctx, levelTrace, "extraction raw response", "text", resp.Text)
		return &protocol.Extraction{}, err
	}

	p.logger.Debug("extracted structured data",
		"message_id", output.MessageID,
		"plan", ext.Plan != nil,
		"next_actions", len(ext.NextActions),
		"weekly_review", ext.WeeklyReview != nil,
	)
	return ext, nil
}

const levelTrace = slog.Level(-8)

// Parse decodes and normalizes a model answer. Markdown code fences
// around the JSON are ignored.
func Parse(text string) (*protocol.Extraction, error) {
	var ext protocol.Extraction
	if err := json.Unmarshal([]byte(stripFences(text)), &ext); err != nil {
		return &protocol.Extraction{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	Normalize(&ext)
	return &ext, nil
}

// Normalize applies the extraction limits, replaces invalid enum values
// with defaults and assigns positional ids where missing.
func Normalize(ext *protocol.Extraction) {
	if pl := ext.Plan; pl != nil {
		if pl.ID == "" {
			pl.ID = "plan_1"
		}
		pl.Milestones = truncate(pl.Milestones, MaxMilestones)
		for i := range pl.Milestones {
			if pl.Milestones[i].ID == "" {
				pl.Milestones[i].ID = fmt.Sprintf("milestone_%d", i+1)
			}
		}
		pl.NextActions = normalizeActions(pl.NextActions, MaxPlanActions, "plan_action_")
	}

	ext.NextActions = normalizeActions(ext.NextActions, MaxStandaloneSteps, "action_")

	if r := ext.WeeklyReview; r != nil && r.ID == "" {
		r.ID = "review_1"
	}
}

func normalizeActions(actions []protocol.NextAction, limit int, prefix string) []protocol.NextAction {
	actions = truncate(actions, limit)
	for i := range actions {
		a := &actions[i]
		if a.ID == "" {
			a.ID = fmt.Sprintf("%s%d", prefix, i+1)
		}
		switch a.Energy {
		case protocol.EnergyLow, protocol.EnergyMedium, protocol.EnergyHigh:
		default:
			a.Energy = protocol.EnergyMedium
		}
		switch a.When.Kind {
		case protocol.WhenNow, protocol.WhenToday, protocol.WhenThisWeek, protocol.WhenAt, protocol.WhenSomeday:
		default:
			a.When.Kind = protocol.WhenNow
		}
		a.DurationMin = min(max(a.DurationMin, 0), MaxDurationMin)
	}
	return actions
}

func truncate[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// customSchemas renders the coach's extra output schemas for the prompt.
func customSchemas(spec *coach.Spec) map[string]string {
	if spec == nil || len(spec.Output.Schemas) == 0 {
		return nil
	}
	out := make(map[string]string, len(spec.Output.Schemas))
	for name, raw := range spec.Output.Schemas {
		out[name] = string(raw)
	}
	return out
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
