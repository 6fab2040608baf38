// Package inspect analyses decoded scripts without running them.
//
// Inspect walks every Context, Action and Pipe and reports type usage,
// parameter violations and data-flow keys. Search finds actions and pipes by
// glob queries.
package inspect

import (
	"context"
	"fmt"
	"sort"

	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/ports"
	"github.com/aretw0/marionette/pkg/schema"
	"github.com/aretw0/marionette/pkg/script"
)

// Catalog resolves type descriptors. runtime.Catalog satisfies it.
type Catalog interface {
	script.Catalog
	IsContainer(typ string) bool
}

// Violation is a parameter problem found on an action or pipe.
type Violation struct {
	Path   string `json:"path"`
	Type   string `json:"type"`
	Param  string `json:"param"`
	Reason string `json:"reason"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s (%s): param %q: %s", v.Path, v.Type, v.Param, v.Reason)
}

// Report is the static analysis of one script.
type Report struct {
	Script   string         `json:"script"`
	Contexts int            `json:"contexts"`
	Actions  map[string]int `json:"actions"`
	Pipes    map[string]int `json:"pipes"`
	MaxDepth int            `json:"maxDepth"`

	UnknownTypes     []string    `json:"unknownTypes,omitempty"`
	Violations       []Violation `json:"violations,omitempty"`
	LeafWithChildren []string    `json:"leafWithChildren,omitempty"`
	// UnsetGlobals lists globals read by Data.getGlobal but never written by Data.setGlobal.
	UnsetGlobals []string `json:"unsetGlobals,omitempty"`
	Inputs       []string `json:"inputs,omitempty"`
	Outputs      []string `json:"outputs,omitempty"`

	Migrations []script.Migration       `json:"migrations,omitempty"`
	Unmet      []domain.UnmetDependency `json:"unmet,omitempty"`
}

// Valid reports whether the script can be played as is.
func (r *Report) Valid() bool {
	return len(r.UnknownTypes) == 0 &&
		len(r.Violations) == 0 &&
		len(r.LeafWithChildren) == 0 &&
		len(r.Unmet) == 0
}

// Problems flattens every blocking finding into messages.
func (r *Report) Problems() []string {
	var out []string
	for _, t := range r.UnknownTypes {
		out = append(out, fmt.Sprintf("unknown type %q", t))
	}
	for _, v := range r.Violations {
		out = append(out, v.String())
	}
	for _, id := range r.LeafWithChildren {
		out = append(out, fmt.Sprintf("action %q cannot hold children", id))
	}
	for _, u := range r.Unmet {
		if u.ExistingVersion == nil {
			out = append(out, fmt.Sprintf("extension %s %s is not installed", u.Name, u.Version))
			continue
		}
		out = append(out, fmt.Sprintf("extension %s %s does not satisfy %s", u.Name, *u.ExistingVersion, u.Version))
	}
	return out
}

// CheckDependencies fills Unmet using resolver.
func (r *Report) CheckDependencies(ctx context.Context, resolver ports.ExtensionResolver, deps []domain.Dependency) error {
	if resolver == nil || len(deps) == 0 {
		return nil
	}
	unmet, err := resolver.Unmet(ctx, deps)
	if err != nil {
		return fmt.Errorf("resolve dependencies: %w", err)
	}
	r.Unmet = unmet
	return nil
}

type keySet map[string]struct{}

func (k keySet) add(v any) {
	if s, ok := v.(string); ok && s != "" {
		k[s] = struct{}{}
	}
}

func (k keySet) sorted() []string {
	if len(k) == 0 {
		return nil
	}
	out := make([]string, 0, len(k))
	for s := range k {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

type inspector struct {
	catalog Catalog
	report  *Report
	unknown keySet
	reads   keySet
	writes  keySet
	inputs  keySet
	outputs keySet
}

// Inspect analyses s against catalog.
func Inspect(s *script.Script, catalog Catalog) *Report {
	in := &inspector{
		catalog: catalog,
		report: &Report{
			Script:     s.ID,
			Contexts:   len(s.Contexts),
			Actions:    make(map[string]int),
			Pipes:      make(map[string]int),
			Migrations: s.Migrations,
		},
		unknown: keySet{},
		reads:   keySet{},
		writes:  keySet{},
		inputs:  keySet{},
		outputs: keySet{},
	}

	for _, c := range s.Contexts {
		for i, m := range c.Matchers {
			if m == nil {
				continue
			}
			in.pipeline(m.Pipeline, fmt.Sprintf("contexts/%s/matchers/%d", c.ID, i))
		}
	}

	s.Walk(func(a *script.Action, depth int) bool {
		in.action(a, depth)
		return true
	})

	for k := range in.writes {
		delete(in.reads, k)
	}
	in.report.UnknownTypes = in.unknown.sorted()
	in.report.UnsetGlobals = in.reads.sorted()
	in.report.Inputs = in.inputs.sorted()
	in.report.Outputs = in.outputs.sorted()
	return in.report
}

func (in *inspector) action(a *script.Action, depth int) {
	r := in.report
	r.Actions[a.Type]++
	if depth+1 > r.MaxDepth {
		r.MaxDepth = depth + 1
	}
	path := "actions/" + a.ID

	params, ok := in.catalog.ActionParams(a.Type)
	if !ok {
		in.unknown.add(a.Type)
	} else {
		in.validate(path, a.Type, params, a.Params, a.Pipelines)
		if a.HasChildren() && !in.catalog.IsContainer(a.Type) {
			r.LeafWithChildren = append(r.LeafWithChildren, a.ID)
		}
	}

	switch a.Type {
	case "Data.setGlobal":
		in.writes.add(a.Params["key"])
	case "Data.sendOutput":
		in.outputs.add(a.Params["key"])
	case "Data.resetInput":
		in.inputs.add(a.Params["key"])
	}

	for _, name := range sortedKeys(a.Pipelines) {
		in.pipeline(a.Pipelines[name], path+"/"+name)
	}
}

func (in *inspector) pipeline(p *script.Pipeline, path string) {
	if p == nil {
		return
	}
	for i, pipe := range p.Pipes {
		in.pipe(pipe, fmt.Sprintf("%s/%d", path, i))
	}
}

func (in *inspector) pipe(p *script.Pipe, fallback string) {
	path := p.Path
	if path == "" {
		path = fallback
	}
	in.report.Pipes[p.Type]++

	params, ok := in.catalog.PipeParams(p.Type)
	if !ok {
		in.unknown.add(p.Type)
	} else {
		in.validate(path, p.Type, params, p.Params, p.Pipelines)
	}

	switch p.Type {
	case "Data.getGlobal":
		in.reads.add(p.Params["key"])
	case "Data.getInput", "Data.peekInput":
		in.inputs.add(p.Params["key"])
	}

	for _, name := range sortedKeys(p.Pipelines) {
		in.pipeline(p.Pipelines[name], path+"/"+name)
	}
}

func (in *inspector) validate(path, typ string, params schema.Params, raw map[string]any, pipelines map[string]*script.Pipeline) {
	data := make(map[string]any, len(raw)+len(pipelines))
	for k, v := range raw {
		data[k] = v
	}
	// Pipelines were decoded already; an empty list stands in for them.
	for name := range pipelines {
		data[name] = []any{}
	}
	for _, v := range schema.Violations(params.Validate(data)) {
		in.report.Violations = append(in.report.Violations, Violation{
			Path:   path,
			Type:   typ,
			Param:  v.Param,
			Reason: v.Reason,
		})
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
