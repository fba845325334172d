package usage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nugget/coachd/internal/llm"
)

type fakeRecorder struct {
	mu   sync.Mutex
	recs []Record
}

func (f *fakeRecorder) Record(_ context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return nil
}

func (f *fakeRecorder) all() []Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Record(nil), f.recs...)
}

type fakeClient struct {
	tokens    []string
	streamErr error
}

func (f *fakeClient) Complete(_ context.Context, model string, _ []llm.Message) (*llm.Completion, error) {
	return &llm.Completion{Model: model, Text: "ok", InputTokens: 11, OutputTokens: 3}, nil
}

func (f *fakeClient) Stream(ctx context.Context, model string, _ []llm.Message) (*llm.TokenStream, error) {
	s, w := llm.NewStream(len(f.tokens))
	go func() {
		for _, tok := range f.tokens {
			if !w.Send(ctx, tok) {
				w.Fail(ctx.Err())
				return
			}
		}
		if f.streamErr != nil {
			w.Fail(f.streamErr)
			return
		}
		w.Close(llm.Usage{Model: model, InputTokens: 50, OutputTokens: len(f.tokens)})
	}()
	return s, nil
}

func (f *fakeClient) Ping(context.Context) error { return nil }

func TestMetered_CompleteRecordsStage(t *testing.T) {
	rec := &fakeRecorder{}
	m := NewMetered(&fakeClient{}, rec, func(string) string { return "anthropic" }, nil)

	ctx := llm.WithSessionID(llm.WithStage(context.Background(), llm.StageRouter), "sess-1")
	if _, err := m.Complete(ctx, "claude-x", nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("records = %d, want 1", len(got))
	}
	r := got[0]
	if r.Stage != llm.StageRouter || r.SessionID != "sess-1" || r.Provider != "anthropic" || r.InputTokens != 11 || r.Streamed {
		t.Errorf("record = %+v", r)
	}
}

func TestMetered_StreamRecordsOnClose(t *testing.T) {
	rec := &fakeRecorder{}
	m := NewMetered(&fakeClient{tokens: []string{"a", "b", "c"}}, rec, nil, nil)

	ctx := llm.WithStage(context.Background(), llm.StageGenerator)
	s, err := m.Stream(ctx, "model", nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	text, err := llm.Collect(ctx, s)
	if err != nil || text != "abc" {
		t.Fatalf("Collect = %q, %v", text, err)
	}
	if u := s.Usage(); u.OutputTokens != 3 || u.InputTokens != 50 {
		t.Errorf("usage = %+v", u)
	}

	got := rec.all()
	if len(got) != 1 || got[0].Stage != llm.StageGenerator || !got[0].Streamed {
		t.Errorf("records = %+v", got)
	}
}

func TestMetered_StreamFailureNotRecorded(t *testing.T) {
	rec := &fakeRecorder{}
	boom := errors.New("overloaded")
	m := NewMetered(&fakeClient{tokens: []string{"a"}, streamErr: boom}, rec, nil, nil)

	s, err := m.Stream(context.Background(), "model", nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if _, err := llm.Collect(context.Background(), s); !errors.Is(err, boom) {
		t.Errorf("Collect err = %v, want %v", err, boom)
	}
	if n := len(rec.all()); n != 0 {
		t.Errorf("records = %d, want 0", n)
	}
}
