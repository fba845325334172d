package usage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestRecord_And_Summary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	recs := []Record{
		{Timestamp: now, SessionID: "sess-1", Stage: "router", Model: "claude-3-5-haiku-latest", Provider: "anthropic", InputTokens: 300, OutputTokens: 20},
		{Timestamp: now, SessionID: "sess-1", Stage: "generator", Model: "claude-sonnet-4-20250514", Provider: "anthropic", Streamed: true, InputTokens: 1200, OutputTokens: 400},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.Summary(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 2 {
		t.Errorf("TotalRecords = %d, want 2", sum.TotalRecords)
	}
	if sum.TotalInputTokens != 1500 {
		t.Errorf("TotalInputTokens = %d, want 1500", sum.TotalInputTokens)
	}
	if sum.TotalOutputTokens != 420 {
		t.Errorf("TotalOutputTokens = %d, want 420", sum.TotalOutputTokens)
	}
}

func TestSummaryByStage(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	recs := []Record{
		{Timestamp: now, Stage: "router", Model: "m", InputTokens: 100, OutputTokens: 10},
		{Timestamp: now, Stage: "router", Model: "m", InputTokens: 100, OutputTokens: 10},
		{Timestamp: now, Stage: "memory", Model: "m", InputTokens: 50, OutputTokens: 5},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := s.SummaryByStage(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("SummaryByStage: %v", err)
	}
	tests := []struct {
		stage   string
		records int
		input   int64
	}{
		{"router", 2, 200},
		{"memory", 1, 50},
	}
	if len(got) != len(tests) {
		t.Fatalf("got %d groups, want %d", len(got), len(tests))
	}
	for _, tt := range tests {
		g := got[tt.stage]
		if g == nil {
			t.Errorf("missing %q group", tt.stage)
			continue
		}
		if g.TotalRecords != tt.records || g.TotalInputTokens != tt.input {
			t.Errorf("%s = %+v", tt.stage, g)
		}
	}
}

func TestSummaryByModel(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	s.Record(ctx, Record{Timestamp: now, Stage: "router", Model: "a", InputTokens: 1})
	s.Record(ctx, Record{Timestamp: now, Stage: "router", Model: "b", InputTokens: 2})

	got, err := s.SummaryByModel(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("SummaryByModel: %v", err)
	}
	if len(got) != 2 || got["b"].TotalInputTokens != 2 {
		t.Errorf("SummaryByModel = %v", got)
	}
}

func TestSummary_PeriodFilter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	s.Record(ctx, Record{Timestamp: now.Add(-48 * time.Hour), Stage: "router", Model: "m", InputTokens: 999})
	s.Record(ctx, Record{Timestamp: now, Stage: "router", Model: "m", InputTokens: 1})

	sum, err := s.Summary(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 1 || sum.TotalInputTokens != 1 {
		t.Errorf("Summary = %+v, old record leaked into window", sum)
	}
}

func TestSummary_Empty(t *testing.T) {
	s := testStore(t)
	now := time.Now()
	sum, err := s.Summary(context.Background(), now.Add(-time.Hour), now)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 0 || sum.TotalInputTokens != 0 {
		t.Errorf("Summary = %+v, want zeros", sum)
	}
}

func TestSessionSummary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.Record(ctx, Record{SessionID: "a", Stage: "router", Model: "m", InputTokens: 10, OutputTokens: 1})
	s.Record(ctx, Record{SessionID: "a", Stage: "generator", Model: "m", InputTokens: 20, OutputTokens: 2})
	s.Record(ctx, Record{SessionID: "b", Stage: "router", Model: "m", InputTokens: 40, OutputTokens: 4})

	sum, err := s.SessionSummary(ctx, "a")
	if err != nil {
		t.Fatalf("SessionSummary: %v", err)
	}
	if sum.TotalRecords != 2 || sum.TotalInputTokens != 30 || sum.TotalOutputTokens != 3 {
		t.Errorf("SessionSummary = %+v", sum)
	}
}

func TestRecord_AutoID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for range 2 {
		if err := s.Record(ctx, Record{Stage: "router", Model: "m"}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(DISTINCT id) FROM usage_records`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("distinct ids = %d, want 2", n)
	}
}
