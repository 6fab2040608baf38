package dsl

import (
	"encoding/json"
	"fmt"

	"github.com/aretw0/marionette/pkg/script"
)

// Builder manages the script construction.
type Builder struct {
	id       string
	deps     []map[string]any
	contexts []*ContextBuilder
	byID     map[string]*ContextBuilder
}

// New creates a new script builder.
func New(id string) *Builder {
	return &Builder{
		id:   id,
		byID: make(map[string]*ContextBuilder),
	}
}

// Require declares an extension dependency with a semver range.
func (b *Builder) Require(name, version string) *Builder {
	b.deps = append(b.deps, map[string]any{"name": name, "version": version})
	return b
}

// Context adds a context to the script.
// If the context already exists, it returns the existing builder.
func (b *Builder) Context(id string) *ContextBuilder {
	if cb, ok := b.byID[id]; ok {
		return cb
	}
	cb := &ContextBuilder{raw: map[string]any{"id": id}, builder: b}
	b.contexts = append(b.contexts, cb)
	b.byID[id] = cb
	return cb
}

// Map returns the script in its serialized object form.
func (b *Builder) Map() map[string]any {
	raw := map[string]any{}
	if b.id != "" {
		raw["id"] = b.id
	}
	if len(b.deps) > 0 {
		deps := make([]any, len(b.deps))
		for i, d := range b.deps {
			deps[i] = d
		}
		raw["dependencies"] = deps
	}
	contexts := make([]any, len(b.contexts))
	for i, cb := range b.contexts {
		contexts[i] = cb.build()
	}
	raw["contexts"] = contexts
	return raw
}

// JSON returns the script as a JSON document.
func (b *Builder) JSON() ([]byte, error) {
	return json.MarshalIndent(b.Map(), "", "  ")
}

// Build compiles the script against catalog, which validates types and ids
// the same way loading a file does.
func (b *Builder) Build(catalog script.Catalog) (*script.Script, error) {
	data, err := json.Marshal(b.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to encode script: %w", err)
	}
	s, err := script.Decode(data, catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to build script: %w", err)
	}
	return s, nil
}

// ContextBuilder provides a fluent API for configuring a context.
type ContextBuilder struct {
	raw      map[string]any
	matchers []any
	actions  []*ActionBuilder
	builder  *Builder
}

// Name sets the display name.
func (c *ContextBuilder) Name(name string) *ContextBuilder {
	c.raw["name"] = name
	return c
}

// Limit caps how many times the context may be entered; -1 is unlimited.
func (c *ContextBuilder) Limit(n int) *ContextBuilder {
	c.raw["limit"] = n
	return c
}

// Match adds a matcher. The context matches when every matcher produces output.
func (c *ContextBuilder) Match(pipes ...*PipeBuilder) *ContextBuilder {
	c.matchers = append(c.matchers, map[string]any{script.MainPipeline: pipeline(pipes)})
	return c
}

// Do appends root actions.
func (c *ContextBuilder) Do(actions ...*ActionBuilder) *ContextBuilder {
	c.actions = append(c.actions, actions...)
	return c
}

// Action appends a root action and returns its builder.
func (c *ContextBuilder) Action(id, typ string) *ActionBuilder {
	a := Action(id, typ)
	c.actions = append(c.actions, a)
	return a
}

func (c *ContextBuilder) build() map[string]any {
	out := make(map[string]any, len(c.raw)+2)
	for k, v := range c.raw {
		out[k] = v
	}
	if len(c.matchers) > 0 {
		out["matchers"] = c.matchers
	}
	actions := make([]any, len(c.actions))
	for i, a := range c.actions {
		actions[i] = a.Build()
	}
	out["actions"] = actions
	return out
}
