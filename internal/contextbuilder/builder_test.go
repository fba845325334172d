package contextbuilder

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nugget/coachd/internal/cache"
	"github.com/nugget/coachd/internal/coach"
	"github.com/nugget/coachd/internal/docstore"
	"github.com/nugget/coachd/internal/protocol"
	"github.com/nugget/coachd/internal/router"
)

type fakeStore struct {
	users   map[string]*docstore.User
	coaches map[string]*docstore.Coach
	plans   []docstore.PlanRecord
	summary string
	commits []string

	plansErr   error
	summaryErr error

	coachCalls atomic.Int32
	planCalls  atomic.Int32
}

func (f *fakeStore) GetUser(_ context.Context, id string) (*docstore.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, docstore.ErrNotFound
}

func (f *fakeStore) GetCoach(_ context.Context, id string) (*docstore.Coach, error) {
	f.coachCalls.Add(1)
	if c, ok := f.coaches[id]; ok {
		return c, nil
	}
	return nil, docstore.ErrNotFound
}

func (f *fakeStore) ActivePlans(context.Context, string) ([]docstore.PlanRecord, error) {
	f.planCalls.Add(1)
	return f.plans, f.plansErr
}

func (f *fakeStore) LatestSessionSummary(context.Context, string) (string, error) {
	return f.summary, f.summaryErr
}

func (f *fakeStore) RecentCommitments(_ context.Context, _ string, limit int) ([]string, error) {
	if len(f.commits) > limit {
		return f.commits[:limit], nil
	}
	return f.commits, nil
}

func newFixture() (*Builder, *fakeStore) {
	store := &fakeStore{
		users: map[string]*docstore.User{"u1": {ID: "u1", Values: []string{"health"}}},
		coaches: map[string]*docstore.Coach{
			"spec":   {ID: "spec", Spec: &coach.Spec{Identity: coach.Identity{Name: "Sage"}}},
			"legacy": {ID: "legacy", Legacy: &coach.LegacyDefinition{Name: "Old Coach", AvoidTopics: []string{"legal"}}},
			"bare":   {ID: "bare"},
		},
		plans:   []docstore.PlanRecord{{ID: "p1", Plan: protocol.Plan{Title: "Run"}}},
		summary: "talked about running",
		commits: []string{"a", "b", "c", "d", "e", "f"},
	}
	b := New(store,
		cache.New[string, *coach.Spec](),
		cache.New[string, []docstore.PlanRecord](),
		Config{SpecTTL: time.Minute, PlanTTL: time.Minute},
		nil,
	)
	return b, store
}

func route(t *testing.T, name string) router.Route {
	t.Helper()
	r, ok := router.ForIntent(name, 1)
	if !ok {
		t.Fatalf("unknown intent %q", name)
	}
	return r
}

func TestBuild_RouteKeys(t *testing.T) {
	tests := []struct {
		intent      string
		wantPlans   bool
		wantSummary bool
		wantHits    bool
	}{
		{router.IntentQuickNudge, false, false, false},
		{router.IntentDeepSession, true, true, true},
		{router.IntentMakeASystem, true, false, false},
		{router.IntentReviewRetro, true, true, true},
		{router.IntentScheduling, true, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.intent, func(t *testing.T) {
			b, _ := newFixture()
			p, err := b.Build(context.Background(), "u1", "", route(t, tt.intent))
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if (len(p.ActivePlans) > 0) != tt.wantPlans {
				t.Errorf("plans = %v", p.ActivePlans)
			}
			if (p.RecentSummary != "") != tt.wantSummary {
				t.Errorf("summary = %q", p.RecentSummary)
			}
			if (len(p.MemoryHits) > 0) != tt.wantHits {
				t.Errorf("memory hits = %v", p.MemoryHits)
			}
			if tt.wantHits && len(p.MemoryHits) != maxMemoryHits {
				t.Errorf("memory hits = %d, want %d", len(p.MemoryHits), maxMemoryHits)
			}
		})
	}
}

func TestBuild_SpecResolution(t *testing.T) {
	tests := []struct {
		coachID string
		name    string
	}{
		{"", coach.Default().Identity.Name},
		{"spec", "Sage"},
		{"legacy", "Old Coach"},
		{"bare", coach.Default().Identity.Name},
	}
	for _, tt := range tests {
		b, _ := newFixture()
		p, err := b.Build(context.Background(), "u1", tt.coachID, router.Fallback())
		if err != nil {
			t.Fatalf("Build(%q): %v", tt.coachID, err)
		}
		if p.Spec.Identity.Name != tt.name {
			t.Errorf("coach %q: spec name = %q, want %q", tt.coachID, p.Spec.Identity.Name, tt.name)
		}
	}

	b, _ := newFixture()
	p, _ := b.Build(context.Background(), "u1", "legacy", router.Fallback())
	if !p.Spec.Policies.Refusals.Legal || p.Spec.Policies.Refusals.Financial {
		t.Errorf("legacy refusals = %+v", p.Spec.Policies.Refusals)
	}
}

func TestBuild_FetchErrors(t *testing.T) {
	tests := []struct {
		name    string
		uid     string
		coachID string
		kind    string
	}{
		{"missing user", "ghost", "", "user"},
		{"missing coach", "u1", "ghost", "coach"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newFixture()
			_, err := b.Build(context.Background(), tt.uid, tt.coachID, router.Fallback())
			var fe *FetchError
			if !errors.As(err, &fe) || fe.Kind != tt.kind {
				t.Fatalf("err = %v, want FetchError(%s)", err, tt.kind)
			}
			if !errors.Is(err, docstore.ErrNotFound) {
				t.Error("FetchError does not unwrap to ErrNotFound")
			}
		})
	}
}

func TestBuild_OptionalFailuresSwallowed(t *testing.T) {
	b, store := newFixture()
	store.plansErr = errors.New("disk")
	store.summaryErr = errors.New("disk")

	p, err := b.Build(context.Background(), "u1", "", route(t, router.IntentDeepSession))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(p.ActivePlans) != 0 || p.RecentSummary != "" {
		t.Errorf("packet = %+v", p)
	}
	if !slices.Equal(p.MemoryHits, []string{"a", "b", "c", "d", "e"}) {
		t.Errorf("memory hits = %v", p.MemoryHits)
	}
}

func TestBuild_Caches(t *testing.T) {
	b, store := newFixture()
	ctx := context.Background()
	r := route(t, router.IntentMakeASystem)

	for range 3 {
		if _, err := b.Build(ctx, "u1", "spec", r); err != nil {
			t.Fatalf("Build: %v", err)
		}
	}
	if n := store.coachCalls.Load(); n != 1 {
		t.Errorf("coach fetched %d times, want 1", n)
	}
	if n := store.planCalls.Load(); n != 1 {
		t.Errorf("plans fetched %d times, want 1", n)
	}

	b.InvalidatePlans("u1")
	b.InvalidateCoach("spec")
	b.Build(ctx, "u1", "spec", r)
	if store.planCalls.Load() != 2 || store.coachCalls.Load() != 2 {
		t.Errorf("invalidation ignored: plans=%d coach=%d", store.planCalls.Load(), store.coachCalls.Load())
	}
}
