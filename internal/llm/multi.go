package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNoProvider is returned when no client can serve a model.
var ErrNoProvider = errors.New("no provider configured")

// MultiClient routes each call to a provider by model name. Explicit
// model mappings win; otherwise "claude-" models go to the anthropic
// provider and everything else to the fallback.
type MultiClient struct {
	clients  map[string]Client // provider name → client
	models   map[string]string // model name → provider name
	fallback Client
}

// NewMultiClient creates a router with the given fallback, which may
// be nil.
func NewMultiClient(fallback Client) *MultiClient {
	return &MultiClient{
		clients:  make(map[string]Client),
		models:   make(map[string]string),
		fallback: fallback,
	}
}

// AddProvider registers a client under a provider name.
func (m *MultiClient) AddProvider(name string, client Client) {
	m.clients[name] = client
}

// AddModel maps a model name to a provider.
func (m *MultiClient) AddModel(model, provider string) {
	m.models[model] = provider
}

// Providers returns the registered provider names, sorted.
func (m *MultiClient) Providers() []string {
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Provider returns the client registered under name.
func (m *MultiClient) Provider(name string) (Client, bool) {
	c, ok := m.clients[name]
	return c, ok
}

// ProviderName returns the name of the provider that serves model, or
// "fallback" when no named provider claims it.
func (m *MultiClient) ProviderName(model string) string {
	if provider, ok := m.models[model]; ok {
		if _, ok := m.clients[provider]; ok {
			return provider
		}
	}
	if strings.HasPrefix(model, "claude-") {
		if _, ok := m.clients["anthropic"]; ok {
			return "anthropic"
		}
	}
	return "fallback"
}

func (m *MultiClient) clientFor(model string) (Client, error) {
	if c, ok := m.clients[m.ProviderName(model)]; ok {
		return c, nil
	}
	if m.fallback == nil {
		return nil, fmt.Errorf("model %q: %w", model, ErrNoProvider)
	}
	return m.fallback, nil
}

// Complete forwards to the provider serving model.
func (m *MultiClient) Complete(ctx context.Context, model string, messages []Message) (*Completion, error) {
	c, err := m.clientFor(model)
	if err != nil {
		return nil, err
	}
	return c.Complete(ctx, model, messages)
}

// Stream forwards to the provider serving model.
func (m *MultiClient) Stream(ctx context.Context, model string, messages []Message) (*TokenStream, error) {
	c, err := m.clientFor(model)
	if err != nil {
		return nil, err
	}
	return c.Stream(ctx, model, messages)
}

// Ping checks the fallback provider.
func (m *MultiClient) Ping(ctx context.Context) error {
	if m.fallback == nil {
		return ErrNoProvider
	}
	return m.fallback.Ping(ctx)
}
