// Package contextbuilder assembles the per-turn context packet: who the
// user is, which coach spec applies and whatever the route asked for.
// Packets are built fresh for every turn and never stored.
package contextbuilder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/coachd/internal/cache"
	"github.com/nugget/coachd/internal/coach"
	"github.com/nugget/coachd/internal/docstore"
	"github.com/nugget/coachd/internal/router"
)

// maxMemoryHits bounds the commitments recalled into a packet.
const maxMemoryHits = 5

// Packet is the context a turn is generated against.
type Packet struct {
	User          *docstore.User
	Spec          *coach.Spec
	ActivePlans   []docstore.PlanRecord
	RecentSummary string
	MemoryHits    []string
}

// FetchError means a required document could not be loaded. It is fatal
// to the turn.
type FetchError struct {
	Kind string // user or coach
	ID   string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s %s: %v", e.Kind, e.ID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Store is the document access the builder needs.
type Store interface {
	GetUser(ctx context.Context, id string) (*docstore.User, error)
	GetCoach(ctx context.Context, id string) (*docstore.Coach, error)
	ActivePlans(ctx context.Context, uid string) ([]docstore.PlanRecord, error)
	LatestSessionSummary(ctx context.Context, uid string) (string, error)
	RecentCommitments(ctx context.Context, uid string, limit int) ([]string, error)
}

// Config holds cache lifetimes.
type Config struct {
	SpecTTL time.Duration
	PlanTTL time.Duration
}

// Builder builds packets. Coach specs and active plans are read through
// caches owned by the caller so the janitor can sweep them.
type Builder struct {
	store  Store
	specs  *cache.Cache[string, *coach.Spec]
	plans  *cache.Cache[string, []docstore.PlanRecord]
	config Config
	logger *slog.Logger
}

// New creates a builder.
func New(store Store, specs *cache.Cache[string, *coach.Spec], plans *cache.Cache[string, []docstore.PlanRecord], config Config, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		store:  store,
		specs:  specs,
		plans:  plans,
		config: config,
		logger: logger.With("component", "contextbuilder"),
	}
}

// Build assembles the packet for uid talking to coachID under route. An
// empty coachID uses the default spec. Failure to load the user or the
// coach returns a *FetchError; every other fetch is best effort.
func (b *Builder) Build(ctx context.Context, uid, coachID string, route router.Route) (*Packet, error) {
	user, err := b.store.GetUser(ctx, uid)
	if err != nil {
		return nil, &FetchError{Kind: "user", ID: uid, Err: err}
	}

	spec, err := b.spec(ctx, coachID)
	if err != nil {
		return nil, &FetchError{Kind: "coach", ID: coachID, Err: err}
	}

	p := &Packet{User: user, Spec: spec}

	if route.HasContextKey(router.KeyActivePlans) {
		plans, err := b.plans.GetOrSet(uid, b.config.PlanTTL, func() ([]docstore.PlanRecord, error) {
			return b.store.ActivePlans(ctx, uid)
		})
		if err != nil {
			b.logger.Warn("active plans unavailable", "uid", uid, "error", err)
		}
		p.ActivePlans = plans
	}

	if route.HasContextKey(router.KeyLastSessionSummary) {
		summary, err := b.store.LatestSessionSummary(ctx, uid)
		if err != nil {
			b.logger.Warn("session summary unavailable", "uid", uid, "error", err)
		}
		p.RecentSummary = summary
	}

	if route.AllowsTool("memory_read") {
		hits, err := b.store.RecentCommitments(ctx, uid, maxMemoryHits)
		if err != nil {
			b.logger.Warn("memory recall unavailable", "uid", uid, "error", err)
		}
		p.MemoryHits = hits
	}

	b.logger.Debug("context built",
		"uid", uid,
		"coach_id", coachID,
		"route", route.Name,
		"active_plans", len(p.ActivePlans),
		"has_summary", p.RecentSummary != "",
		"memory_hits", len(p.MemoryHits),
	)
	return p, nil
}

// spec resolves a coach's spec: its own, else a translation of its
// legacy definition, else the default.
func (b *Builder) spec(ctx context.Context, coachID string) (*coach.Spec, error) {
	if coachID == "" {
		return coach.Default(), nil
	}
	return b.specs.GetOrSet(coachID, b.config.SpecTTL, func() (*coach.Spec, error) {
		c, err := b.store.GetCoach(ctx, coachID)
		if err != nil {
			return nil, err
		}
		switch {
		case c.Spec != nil:
			return c.Spec, nil
		case c.Legacy != nil:
			b.logger.Debug("translating legacy coach definition", "coach_id", coachID)
			return coach.FromLegacy(*c.Legacy), nil
		default:
			return coach.Default(), nil
		}
	})
}

// InvalidatePlans drops the cached active plans for uid after a plan
// changes.
func (b *Builder) InvalidatePlans(uid string) {
	b.plans.Delete(uid)
}

// InvalidateCoach drops the cached spec for coachID.
func (b *Builder) InvalidateCoach(coachID string) {
	b.specs.Delete(coachID)
}
