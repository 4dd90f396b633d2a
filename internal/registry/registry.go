/*
Package registry implements the catalog of callable tools.

Each tool is described once at registration time by a ToolDescriptor.
Descriptors are immutable after registration except for the Enabled flag,
which toggles the tool in and out of routing without losing its history.

Training examples and routing decisions reference tools by name only, never
by pointer, so a deregistered or disabled tool never dangles.
*/
package registry

import (
	"fmt"
	"sort"
	"sync"
)

// ArgumentSpec describes a single argument slot in a tool's schema.
type ArgumentSpec struct {
	// Type is the JSON type of the argument ("string", "number", "boolean").
	Type string `json:"type"`

	// Description is a human-readable explanation of the argument.
	Description string `json:"description,omitempty"`

	// Required marks arguments that must be extracted for a valid invocation.
	Required bool `json:"required,omitempty"`

	// Examples are sample values used for synthetic slot substitution.
	Examples []string `json:"examples,omitempty"`
}

// ToolDescriptor describes a callable tool.
type ToolDescriptor struct {
	// Name uniquely identifies the tool.
	Name string `json:"name"`

	// Category groups related tools (e.g. "search", "files", "social").
	Category string `json:"category,omitempty"`

	// ArgumentSchema maps argument names to their specs. Example utterances
	// reference slots as {argName}.
	ArgumentSchema map[string]ArgumentSpec `json:"argumentSchema,omitempty"`

	// ExampleUtterances are representative phrasings that should route to
	// this tool. Slots appear in braces: "find information about {query}".
	ExampleUtterances []string `json:"exampleUtterances,omitempty"`

	// Enabled controls whether the tool participates in routing.
	Enabled bool `json:"enabled"`
}

// clone returns a deep copy so callers cannot mutate registered state.
func (d ToolDescriptor) clone() ToolDescriptor {
	out := d
	if d.ArgumentSchema != nil {
		out.ArgumentSchema = make(map[string]ArgumentSpec, len(d.ArgumentSchema))
		for k, v := range d.ArgumentSchema {
			spec := v
			spec.Examples = append([]string(nil), v.Examples...)
			out.ArgumentSchema[k] = spec
		}
	}
	out.ExampleUtterances = append([]string(nil), d.ExampleUtterances...)
	return out
}

// Registry is the in-process tool catalog. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*entry
	next  int // registration order counter
}

type entry struct {
	desc  ToolDescriptor
	order int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*entry)}
}

// Register adds a tool. The descriptor is validated and stored by value;
// duplicate names are rejected.
func (r *Registry) Register(desc ToolDescriptor) error {
	if desc.Name == "" {
		return fmt.Errorf("tool name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[desc.Name]; exists {
		return fmt.Errorf("tool %q already registered", desc.Name)
	}

	r.tools[desc.Name] = &entry{desc: desc.clone(), order: r.next}
	r.next++
	return nil
}

// Deregister removes a tool by name.
func (r *Registry) Deregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return fmt.Errorf("tool %q not registered", name)
	}
	delete(r.tools, name)
	return nil
}

// SetEnabled toggles the only mutable field of a descriptor.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.tools[name]
	if !exists {
		return fmt.Errorf("tool %q not registered", name)
	}
	e.desc.Enabled = enabled
	return nil
}

// Get returns a copy of the descriptor for name, including disabled tools.
func (r *Registry) Get(name string) (ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.tools[name]
	if !exists {
		return ToolDescriptor{}, false
	}
	return e.desc.clone(), true
}

// List returns all descriptors in registration order.
func (r *Registry) List() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*entry, 0, len(r.tools))
	for _, e := range r.tools {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].order < entries[j].order })

	out := make([]ToolDescriptor, len(entries))
	for i, e := range entries {
		out[i] = e.desc.clone()
	}
	return out
}

// ListEnabled returns only enabled descriptors, in registration order.
func (r *Registry) ListEnabled() []ToolDescriptor {
	all := r.List()
	out := all[:0]
	for _, d := range all {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

// Order returns the registration order index for name, used as the final
// tie-breaker between equally confident candidates. Unknown names sort last.
func (r *Registry) Order(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, exists := r.tools[name]; exists {
		return e.order
	}
	return int(^uint(0) >> 1)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
