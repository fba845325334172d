// Package tools holds the catalog of capabilities a coach may request:
// client-owned device actions and server-owned data mutations.
package tools

import (
	"sort"

	"github.com/nugget/coachd/internal/protocol"
)

// Owner says where a tool executes.
type Owner string

// Tool owners.
const (
	OwnerClient Owner = "client"
	OwnerServer Owner = "server"
)

// Property describes one input or output field.
type Property struct {
	Type        string `json:"type"` // string, integer, array
	Description string `json:"description,omitempty"`
}

// Schema describes a tool's input or output shape.
type Schema struct {
	Required   []string            `json:"required"`
	Properties map[string]Property `json:"properties"`
}

// Tool is one catalog entry.
type Tool struct {
	ID                   string   `json:"id"`
	Owner                Owner    `json:"owner"`
	Category             string   `json:"category"`
	Description          string   `json:"description"`
	RequiresConfirmation bool     `json:"requires_confirmation"`
	PermissionDeps       []string `json:"permission_deps"`
	InputSchema          Schema   `json:"input_schema"`
	OutputSchema         Schema   `json:"output_schema"`
}

// Registry is the read-only tool catalog. It is safe for concurrent
// use because nothing mutates it after construction.
type Registry struct {
	tools map[string]*Tool
}

// NewRegistry builds a registry from tools. Later entries replace
// earlier ones with the same id.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]*Tool, len(tools))}
	for i := range tools {
		t := tools[i]
		r.tools[t.ID] = &t
	}
	return r
}

// Default returns a registry holding [DefaultCatalog].
func Default() *Registry {
	return NewRegistry(DefaultCatalog()...)
}

// Get returns the tool with the given id.
func (r *Registry) Get(id string) (Tool, error) {
	t, ok := r.tools[id]
	if !ok {
		return Tool{}, &ErrUnknownTool{ID: id}
	}
	return *t, nil
}

// List returns every tool sorted by id.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListBy returns the tools in category, sorted by id.
func (r *Registry) ListBy(category string) []Tool {
	var out []Tool
	for _, t := range r.List() {
		if t.Category == category {
			out = append(out, t)
		}
	}
	return out
}

// ValidateInput checks that every required input field is present.
func (r *Registry) ValidateInput(id string, input protocol.ToolPayload) error {
	t, err := r.Get(id)
	if err != nil {
		return err
	}
	var missing []string
	for _, field := range t.InputSchema.Required {
		if !input.Has(field) {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return &InvalidInputError{ID: id, Missing: missing}
	}
	return nil
}

// CheckPermissions checks that every permission the tool depends on is
// in granted.
func (r *Registry) CheckPermissions(id string, granted []string) error {
	t, err := r.Get(id)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(granted))
	for _, g := range granted {
		have[g] = true
	}
	var missing []string
	for _, dep := range t.PermissionDeps {
		if !have[dep] {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return &PermissionError{ID: id, Missing: missing}
	}
	return nil
}
