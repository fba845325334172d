package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nugget/coachd/internal/httpkit"
)

// OllamaClient is a client for the Ollama chat API.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a client for the server at baseURL.
func NewOllamaClient(baseURL string, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 5 * time.Minute // cold model loads
	return &OllamaClient{
		baseURL: baseURL,
		logger:  logger.With("provider", "ollama"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
			httpkit.WithDialRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		),
	}
}

type ollamaRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaChunk struct {
	Model   string `json:"model"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	Error           string `json:"error,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
}

// Complete sends a non-streaming chat request.
func (c *OllamaClient) Complete(ctx context.Context, model string, messages []Message) (*Completion, error) {
	start := time.Now()
	resp, err := c.post(ctx, model, messages, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var chunk ollamaChunk
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if chunk.Error != "" {
		return nil, fmt.Errorf("ollama: %s", chunk.Error)
	}

	out := &Completion{
		Model:        chunk.Model,
		Text:         chunk.Message.Content,
		InputTokens:  chunk.PromptEvalCount,
		OutputTokens: chunk.EvalCount,
		Duration:     time.Since(start),
	}
	c.logger.Debug("completion received",
		"model", out.Model,
		"stage", StageFrom(ctx),
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
	)
	return out, nil
}

// Stream opens a streaming chat request. Ollama streams one JSON
// object per line.
func (c *OllamaClient) Stream(ctx context.Context, model string, messages []Message) (*TokenStream, error) {
	resp, err := c.post(ctx, model, messages, true)
	if err != nil {
		return nil, err
	}

	stream, w := NewStream(32)
	go func() {
		defer resp.Body.Close()

		dec := json.NewDecoder(resp.Body)
		for {
			var chunk ollamaChunk
			if err := dec.Decode(&chunk); err != nil {
				if ctx.Err() != nil {
					err = ctx.Err()
				}
				w.Fail(fmt.Errorf("decode stream: %w", err))
				return
			}
			if chunk.Error != "" {
				w.Fail(fmt.Errorf("ollama: %s", chunk.Error))
				return
			}
			if chunk.Message.Content != "" && !w.Send(ctx, chunk.Message.Content) {
				w.Fail(ctx.Err())
				return
			}
			if chunk.Done {
				w.Close(Usage{Model: chunk.Model, InputTokens: chunk.PromptEvalCount, OutputTokens: chunk.EvalCount})
				return
			}
		}
	}()
	return stream, nil
}

// Ping checks that the Ollama server answers.
func (c *OllamaClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer httpkit.DrainAndClose(resp.Body, 64*1024)

	if resp.StatusCode != http.StatusOK {
		return &APIError{Provider: "ollama", StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *OllamaClient) post(ctx context.Context, model string, messages []Message, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(ollamaRequest{Model: model, Messages: messages, Stream: stream})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, levelTrace, "request payload", "json", string(payload))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", body)
		return nil, &APIError{Provider: "ollama", StatusCode: resp.StatusCode, Body: body}
	}
	return resp, nil
}
