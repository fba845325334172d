package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/coachd/internal/httpkit"
)

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
	anthropicMaxTokens  = 2048
)

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	apiKey     string
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicClient creates a client. Requests have no global timeout;
// callers bound them with ctx.
func NewAnthropicClient(apiKey string, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &AnthropicClient{
		apiKey: apiKey,
		url:    anthropicAPIURL,
		logger: logger.With("provider", "anthropic"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
			httpkit.WithDialRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		),
	}
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage anthropicUsage `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicStreamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Model string         `json:"model"`
		Usage anthropicUsage `json:"usage"`
	} `json:"message,omitempty"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta,omitempty"`
	Usage *anthropicUsage `json:"usage,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends a non-streaming request.
func (c *AnthropicClient) Complete(ctx context.Context, model string, messages []Message) (*Completion, error) {
	start := time.Now()
	resp, err := c.post(ctx, model, messages, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ar anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var text strings.Builder
	for _, block := range ar.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	out := &Completion{
		Model:        ar.Model,
		Text:         text.String(),
		InputTokens:  ar.Usage.InputTokens,
		OutputTokens: ar.Usage.OutputTokens,
		Duration:     time.Since(start),
	}
	c.logger.Debug("completion received",
		"model", out.Model,
		"stage", StageFrom(ctx),
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
	)
	c.logger.Log(ctx, levelTrace, "completion content", "content", out.Text)
	return out, nil
}

// Stream opens a streaming request and parses server-sent events in
// the background.
func (c *AnthropicClient) Stream(ctx context.Context, model string, messages []Message) (*TokenStream, error) {
	resp, err := c.post(ctx, model, messages, true)
	if err != nil {
		return nil, err
	}

	stream, w := NewStream(32)
	go func() {
		defer resp.Body.Close()
		c.readStream(ctx, resp.Body, w)
	}()
	return stream, nil
}

func (c *AnthropicClient) readStream(ctx context.Context, body io.Reader, w *StreamWriter) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		usage Usage
		n     int
	)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))

		var ev anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				usage.Model = ev.Message.Model
				usage.InputTokens = ev.Message.Usage.InputTokens
			}
		case "content_block_delta":
			if ev.Delta != nil && ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				if !w.Send(ctx, ev.Delta.Text) {
					w.Fail(ctx.Err())
					return
				}
				n++
			}
		case "message_delta":
			if ev.Usage != nil {
				usage.OutputTokens = ev.Usage.OutputTokens
			}
		case "error":
			msg := "unknown stream error"
			if ev.Error != nil {
				msg = ev.Error.Type + ": " + ev.Error.Message
			}
			w.Fail(fmt.Errorf("anthropic stream: %s", msg))
			return
		case "message_stop":
			c.logger.Debug("stream complete",
				"model", usage.Model,
				"stage", StageFrom(ctx),
				"fragments", n,
				"output_tokens", usage.OutputTokens,
			)
			w.Close(usage)
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		w.Fail(fmt.Errorf("read stream: %w", err))
		return
	}
	w.Fail(fmt.Errorf("anthropic stream: ended without message_stop"))
}

// Ping sends a one-token request to verify the key and endpoint.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	resp, err := c.post(ctx, "claude-3-5-haiku-latest", []Message{{Role: "user", Content: "ping"}}, false)
	if err != nil {
		return err
	}
	httpkit.DrainAndClose(resp.Body, 4096)
	return nil
}

// post sends the request and returns the response only on 200.
func (c *AnthropicClient) post(ctx context.Context, model string, messages []Message, stream bool) (*http.Response, error) {
	msgs, system := convertToAnthropic(messages)
	req := anthropicRequest{
		Model:     model,
		Messages:  msgs,
		System:    system,
		MaxTokens: anthropicMaxTokens,
		Stream:    stream,
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, levelTrace, "request payload", "json", string(payload))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", body)
		return nil, &APIError{Provider: "anthropic", StatusCode: resp.StatusCode, Body: body}
	}
	return resp, nil
}

// convertToAnthropic lifts system messages into the separate system
// field and merges consecutive messages with the same role.
func convertToAnthropic(messages []Message) ([]anthropicMessage, string) {
	var (
		system []string
		out    []anthropicMessage
	)
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	return out, strings.Join(system, "\n\n")
}
