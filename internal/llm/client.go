// Package llm talks to language-model providers. A provider offers a
// single-shot completion and a token-stream completion; everything
// above this package is provider-agnostic.
package llm

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// levelTrace matches config.LevelTrace and is used for full request and
// response payloads.
const levelTrace = slog.Level(-8)

// Message is one entry in a prompt.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Completion is the result of a single-shot call.
type Completion struct {
	Model        string
	Text         string
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

// Usage reports token counts for a finished stream.
type Usage struct {
	Model        string
	InputTokens  int
	OutputTokens int
}

// Client is the provider contract.
type Client interface {
	// Complete sends messages and waits for the full response text.
	Complete(ctx context.Context, model string, messages []Message) (*Completion, error)

	// Stream opens a streamed completion. An error return means the
	// stream never opened; failures after that arrive on [TokenStream.Err].
	Stream(ctx context.Context, model string, messages []Message) (*TokenStream, error)

	// Ping checks that the provider is reachable.
	Ping(ctx context.Context) error
}

// TokenStream delivers text fragments in order. Tokens is closed when
// the stream ends. If the stream failed, exactly one error is buffered
// on Err before Tokens closes, so a reader that sees Tokens closed can
// check Err without blocking.
type TokenStream struct {
	Tokens <-chan string
	Err    <-chan error

	mu    sync.Mutex
	usage Usage
}

// Usage returns the token counts reported by the provider. It is only
// meaningful after Tokens has closed.
func (s *TokenStream) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// StreamWriter is the producing side of a [TokenStream]. Exactly one of
// Close or Fail must be called.
type StreamWriter struct {
	tokens chan string
	errs   chan error
	stream *TokenStream
}

// NewStream returns a connected stream and writer. buf sizes the token
// channel.
func NewStream(buf int) (*TokenStream, *StreamWriter) {
	tokens := make(chan string, buf)
	errs := make(chan error, 1)
	s := &TokenStream{Tokens: tokens, Err: errs}
	return s, &StreamWriter{tokens: tokens, errs: errs, stream: s}
}

// Send delivers one fragment. It returns false if ctx ended first.
func (w *StreamWriter) Send(ctx context.Context, token string) bool {
	select {
	case w.tokens <- token:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close ends the stream successfully.
func (w *StreamWriter) Close(u Usage) {
	w.stream.mu.Lock()
	w.stream.usage = u
	w.stream.mu.Unlock()
	close(w.errs)
	close(w.tokens)
}

// Fail ends the stream with err.
func (w *StreamWriter) Fail(err error) {
	w.errs <- err
	close(w.errs)
	close(w.tokens)
}

// Collect drains s and returns the joined text. It is a convenience
// for callers that want streaming transport but not incremental output.
func Collect(ctx context.Context, s *TokenStream) (string, error) {
	var out []byte
	errc := s.Err
	for {
		select {
		case <-ctx.Done():
			return string(out), ctx.Err()
		case err, ok := <-errc:
			if ok && err != nil {
				return string(out), err
			}
			errc = nil
		case tok, ok := <-s.Tokens:
			if !ok {
				select {
				case err := <-errc:
					if err != nil {
						return string(out), err
					}
				default:
				}
				return string(out), nil
			}
			out = append(out, tok...)
		}
	}
}
