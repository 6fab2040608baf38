package dsl

import "github.com/aretw0/marionette/pkg/script"

// ActionBuilder provides a fluent API for configuring an action.
type ActionBuilder struct {
	raw      map[string]any
	children []*ActionBuilder
}

// Action creates a detached action, to be added with Do or Child.
// An empty id is replaced by a generated one when the script is built.
func Action(id, typ string) *ActionBuilder {
	raw := map[string]any{"type": typ}
	if id != "" {
		raw["id"] = id
	}
	return &ActionBuilder{raw: raw}
}

// Label sets the display label.
func (a *ActionBuilder) Label(label string) *ActionBuilder {
	a.raw["label"] = label
	return a
}

// Set sets a plain parameter.
func (a *ActionBuilder) Set(name string, value any) *ActionBuilder {
	a.raw[name] = value
	return a
}

// Pipeline sets a pipeline parameter, "pipeline" being the main one.
func (a *ActionBuilder) Pipeline(name string, pipes ...*PipeBuilder) *ActionBuilder {
	a.raw[name] = pipeline(pipes)
	return a
}

// From sets the main pipeline.
func (a *ActionBuilder) From(pipes ...*PipeBuilder) *ActionBuilder {
	return a.Pipeline(script.MainPipeline, pipes...)
}

// Child appends child actions, run in order for container types.
func (a *ActionBuilder) Child(children ...*ActionBuilder) *ActionBuilder {
	a.children = append(a.children, children...)
	return a
}

// Build returns the action in its serialized object form.
func (a *ActionBuilder) Build() map[string]any {
	out := make(map[string]any, len(a.raw)+1)
	for k, v := range a.raw {
		out[k] = v
	}
	if len(a.children) > 0 {
		children := make([]any, len(a.children))
		for i, c := range a.children {
			children[i] = c.Build()
		}
		out["children"] = children
	}
	return out
}

// PipeBuilder provides a fluent API for configuring a pipe.
type PipeBuilder struct {
	raw map[string]any
}

// Pipe creates a pipe of the given type.
func Pipe(typ string) *PipeBuilder {
	return &PipeBuilder{raw: map[string]any{"type": typ}}
}

// With sets a plain parameter.
func (p *PipeBuilder) With(name string, value any) *PipeBuilder {
	p.raw[name] = value
	return p
}

// Sub sets a nested pipeline parameter, as used by List.filter or Boolean.and.
func (p *PipeBuilder) Sub(name string, pipes ...*PipeBuilder) *PipeBuilder {
	p.raw[name] = pipeline(pipes)
	return p
}

// Build returns the pipe in its serialized object form.
func (p *PipeBuilder) Build() map[string]any {
	out := make(map[string]any, len(p.raw))
	for k, v := range p.raw {
		out[k] = v
	}
	return out
}

func pipeline(pipes []*PipeBuilder) []any {
	out := make([]any, len(pipes))
	for i, p := range pipes {
		out[i] = p.Build()
	}
	return out
}
