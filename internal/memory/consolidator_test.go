package memory

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/nugget/coachd/internal/docstore"
	"github.com/nugget/coachd/internal/events"
	"github.com/nugget/coachd/internal/generator"
	"github.com/nugget/coachd/internal/llm"
)

// promptClient answers by prompt type.
type promptClient struct {
	summary     string
	commitments string
	summaryErr  error

	mu      sync.Mutex
	prompts []string
	stages  []string
}

func (c *promptClient) Complete(ctx context.Context, model string, messages []llm.Message) (*llm.Completion, error) {
	p := messages[0].Content
	c.mu.Lock()
	c.prompts = append(c.prompts, p)
	c.stages = append(c.stages, llm.StageFrom(ctx))
	c.mu.Unlock()

	if strings.HasPrefix(p, "Update the running summary") {
		if c.summaryErr != nil {
			return nil, c.summaryErr
		}
		return &llm.Completion{Text: c.summary}, nil
	}
	return &llm.Completion{Text: c.commitments}, nil
}

func (c *promptClient) Stream(context.Context, string, []llm.Message) (*llm.TokenStream, error) {
	return nil, errors.New("not used")
}

func (c *promptClient) Ping(context.Context) error { return nil }

func setup(t *testing.T) *docstore.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	docs, err := docstore.NewStore(db)
	if err != nil {
		t.Fatalf("docstore: %v", err)
	}
	if err := docs.PutUser(context.Background(), &docstore.User{ID: "u1", Commitments: []string{"Walk after lunch"}}); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	return docs
}

func TestUpdate(t *testing.T) {
	docs := setup(t)
	bus := events.New()
	sub := bus.Subscribe(4)
	client := &promptClient{
		summary:     "Sam wants to run a 10k.\n\nAgreed to three runs a week.",
		commitments: "```json\n[\"Walk after lunch\", \"Run Tuesday\", \"  \"]\n```",
	}
	c := New(client, "m", docs, bus, nil)
	ctx := context.Background()

	out := &generator.CoachOutput{MessageText: "Great, three runs a week it is."}
	if err := c.Update(ctx, "s1", "u1", out); err != nil {
		t.Fatalf("Update: %v", err)
	}

	sess, err := docs.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Summary != "Sam wants to run a 10k.\nAgreed to three runs a week." || sess.UserID != "u1" {
		t.Errorf("session = %+v", sess)
	}

	u, _ := docs.GetUser(ctx, "u1")
	if !slices.Equal(u.Commitments, []string{"Walk after lunch", "Run Tuesday"}) {
		t.Errorf("commitments = %v", u.Commitments)
	}

	e := <-sub
	if e.Kind != events.KindMemoryUpdated || e.Data["ok"] != true || e.Data["commitments_added"] != 1 {
		t.Errorf("event = %+v", e)
	}
	for _, s := range client.stages {
		if s != llm.StageMemory {
			t.Errorf("stage = %q", s)
		}
	}

	// The next summary call sees the stored summary.
	if err := c.Update(ctx, "s1", "u1", out); err != nil {
		t.Fatalf("second Update: %v", err)
	}
	if !strings.Contains(client.prompts[2], "Agreed to three runs a week.") {
		t.Errorf("previous summary not passed on:\n%s", client.prompts[2])
	}
}

func TestUpdate_PartialFailure(t *testing.T) {
	docs := setup(t)
	boom := errors.New("timeout")
	c := New(&promptClient{summaryErr: boom, commitments: `["Stretch daily"]`}, "m", docs, nil, nil)
	ctx := context.Background()

	err := c.Update(ctx, "s1", "u1", &generator.CoachOutput{MessageText: "x"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if _, err := docs.GetSession(ctx, "s1"); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("session written despite summary failure: %v", err)
	}
	u, _ := docs.GetUser(ctx, "u1")
	if !slices.Contains(u.Commitments, "Stretch daily") {
		t.Errorf("commitments = %v, summary failure must not skip them", u.Commitments)
	}
}

func TestUpdate_BadCommitmentsJSON(t *testing.T) {
	docs := setup(t)
	c := New(&promptClient{summary: "ok", commitments: "none today"}, "m", docs, nil, nil)

	if err := c.Update(context.Background(), "s1", "u1", &generator.CoachOutput{MessageText: "x"}); err == nil {
		t.Fatal("expected parse error")
	}
	sess, err := docs.GetSession(context.Background(), "s1")
	if err != nil || sess.Summary != "ok" {
		t.Errorf("summary = %+v, %v", sess, err)
	}
}

func TestTrimSummary(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"one\ntwo", "one\ntwo"},
		{"  one  \n\n\ntwo\n", "one\ntwo"},
		{"1\n2\n3\n4\n5\n6\n7", "1\n2\n3\n4\n5"},
		{"\n \n", ""},
	}
	for _, tt := range tests {
		if got := TrimSummary(tt.in); got != tt.want {
			t.Errorf("TrimSummary(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseCommitments(t *testing.T) {
	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{`[]`, []string{}, false},
		{`["a", " b "]`, []string{"a", "b"}, false},
		{"```\n[\"a\"]\n```", []string{"a"}, false},
		{`{"a": 1}`, nil, true},
		{`nothing`, nil, true},
	}
	for _, tt := range tests {
		got, err := ParseCommitments(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCommitments(%q) err = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && !slices.Equal(got, tt.want) {
			t.Errorf("ParseCommitments(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
