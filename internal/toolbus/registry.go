package toolbus

import (
	"context"
	"encoding/json"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/tributary-ai/local-gateway/internal/gatewayerror"
)

// Handler executes one tool invocation against already-validated,
// canonical arguments.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool is one entry in the bus: its argument schema (for both the
// `GET /v1/tools` listing and invocation-time validation) and its
// handler.
type Tool struct {
	Name        string
	Description string
	Schema      *openapi3.Schema
	Denied      bool // policy gate; set true to reject every call with `denied`
	Handler     Handler
}

// Registry holds the set of invocable tools, keyed by name.
type Registry struct {
	tools map[string]*Tool
	order []string
}

// NewRegistry builds an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool, overwriting any prior registration under the
// same name (last registration wins).
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Lookup returns the tool registered under name, or (nil, false).
func (r *Registry) Lookup(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns tools in registration order, for `GET /v1/tools`.
func (r *Registry) List() []*Tool {
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// ToolListing is the `GET /v1/tools` wire shape: name, description,
// and the argument schema a client must satisfy.
type ToolListing struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      *openapi3.Schema `json:"schema"`
}

// Listings renders the registry for the list endpoint.
func (r *Registry) Listings() []ToolListing {
	tools := r.List()
	out := make([]ToolListing, 0, len(tools))
	for _, t := range tools {
		out = append(out, ToolListing{Name: t.Name, Description: t.Description, Schema: t.Schema})
	}
	return out
}

// validateArguments checks rawArgs against the tool's schema, failing
// with an invalid_arguments gateway error (spec §4.8, §7) on mismatch.
func validateArguments(t *Tool, rawArgs map[string]any) error {
	if t.Schema == nil {
		return nil
	}
	// VisitJSON wants a generic decoded value, not map[string]any
	// directly, so any array/object nesting validates against the
	// schema the same way a client-supplied document would.
	b, err := json.Marshal(rawArgs)
	if err != nil {
		return gatewayerror.InvalidArguments(err.Error())
	}
	var decoded any
	if err := json.Unmarshal(b, &decoded); err != nil {
		return gatewayerror.InvalidArguments(err.Error())
	}
	if err := t.Schema.VisitJSON(decoded); err != nil {
		return gatewayerror.InvalidArguments(err.Error())
	}
	return nil
}
