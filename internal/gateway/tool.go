package gateway

import (
	"context"
	"encoding/json"
)

// Tool is one external capability the pipeline can invoke: a lookup (CRM,
// transcript, policy, orders, inventory) or a side-effecting action
// (payment, shipping, customer notification).
type Tool interface {
	Name() string
	Description() string
	// SideEffecting reports whether invoking the tool changes external
	// state. Side-effecting tools require an idempotency key.
	SideEffecting() bool
	Invoke(ctx context.Context, req json.RawMessage) (json.RawMessage, error)
}

// Registry holds the tools available to the pipeline, keyed by name.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry, keyed by its Name.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names lists registered tool names. Order is not defined.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}
