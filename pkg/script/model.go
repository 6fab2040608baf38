package script

import (
	"github.com/aretw0/marionette/pkg/domain"
)

// MainPipeline is the parameter name of an Action's or Pipe's primary Pipeline.
const MainPipeline = "pipeline"

// Script is an ordered set of Contexts plus declared extension dependencies.
// Actions live in an arena addressed by id; the tree is expressed through ids.
type Script struct {
	ID           string
	Contexts     []*Context
	Dependencies []domain.Dependency
	// Migrations lists the legacy type renames applied while decoding.
	Migrations []Migration
	Runtime    *Runtime

	actions map[string]*Action
}

// New creates an empty script ready for building.
func New(id string) *Script {
	return &Script{
		ID:      id,
		Runtime: NewRuntime(),
		actions: make(map[string]*Action),
	}
}

// Context is a named group of Actions guarded by matchers.
type Context struct {
	ID       string
	Name     string
	Matchers []*Matcher
	// Actions holds the ids of the root actions, in order.
	Actions []string
	// Limit is the maximum number of entries per run; -1 means unlimited.
	Limit int
}

// DefaultContextLimit is the number of times a Context may be entered when no limit is declared.
const DefaultContextLimit = 1

// Matcher is a predicate Pipeline; it matches when it yields exactly one truthy value.
type Matcher struct {
	Pipeline *Pipeline
}

// Action is a node of the script tree.
type Action struct {
	ID    string
	Type  string
	Label string
	// Params holds non-pipeline parameters as raw JSON values.
	Params map[string]any
	// Pipelines holds pipeline-kind parameters, including the main one.
	Pipelines map[string]*Pipeline
	Children  []string
	ParentID  string
	ContextID string
}

// Pipeline returns the named pipeline parameter, or an empty Pipeline.
func (a *Action) Pipeline(name string) *Pipeline {
	if p, ok := a.Pipelines[name]; ok && p != nil {
		return p
	}
	return &Pipeline{OwnerID: a.ID}
}

// HasChildren reports whether the action has at least one child.
func (a *Action) HasChildren() bool { return len(a.Children) > 0 }

// Pipe is one transform step of a Pipeline.
type Pipe struct {
	Type      string
	Params    map[string]any
	Pipelines map[string]*Pipeline
	// Path locates the pipe inside the script, e.g. "actions/a1/pipeline/0".
	Path string
}

// Pipeline returns the named nested pipeline, or an empty Pipeline.
func (p *Pipe) Pipeline(name string) *Pipeline {
	if pl, ok := p.Pipelines[name]; ok && pl != nil {
		return pl
	}
	return &Pipeline{Path: p.Path + "/" + name}
}

// Pipeline is an ordered chain of Pipes.
type Pipeline struct {
	Pipes []*Pipe
	// OwnerID is the id of the owning action, or "context:<id>" for matchers.
	OwnerID string
	// Path locates the pipeline, e.g. "actions/a1/pipeline".
	Path string
}

// Len returns the number of pipes, tolerating nil.
func (p *Pipeline) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Pipes)
}

// Action returns the action with the given id.
func (s *Script) Action(id string) (*Action, bool) {
	a, ok := s.actions[id]
	return a, ok
}

// Context returns the context with the given id.
func (s *Script) Context(id string) (*Context, bool) {
	for _, c := range s.Contexts {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// ActionCount returns the number of actions in the arena.
func (s *Script) ActionCount() int { return len(s.actions) }

// Walk visits every action depth-first in declaration order.
// Returning false from fn stops descending into that action's children.
func (s *Script) Walk(fn func(a *Action, depth int) bool) {
	var visit func(ids []string, depth int)
	visit = func(ids []string, depth int) {
		for _, id := range ids {
			a := s.actions[id]
			if a == nil {
				continue
			}
			if fn(a, depth) {
				visit(a.Children, depth+1)
			}
		}
	}
	for _, c := range s.Contexts {
		visit(c.Actions, 0)
	}
}

// Siblings returns the ordered ids of the action's siblings, itself included.
func (s *Script) Siblings(a *Action) []string {
	if a.ParentID != "" {
		if parent, ok := s.actions[a.ParentID]; ok {
			return parent.Children
		}
		return nil
	}
	if c, ok := s.Context(a.ContextID); ok {
		return c.Actions
	}
	return nil
}

// NextSibling returns the action following a under the same parent.
func (s *Script) NextSibling(a *Action) (*Action, bool) {
	siblings := s.Siblings(a)
	for i, id := range siblings {
		if id == a.ID && i+1 < len(siblings) {
			next, ok := s.actions[siblings[i+1]]
			return next, ok
		}
	}
	return nil, false
}

// Parent returns the parent action, if any.
func (s *Script) Parent(a *Action) (*Action, bool) {
	if a.ParentID == "" {
		return nil, false
	}
	p, ok := s.actions[a.ParentID]
	return p, ok
}

// Ancestors returns the chain from the root action down to a's parent.
func (s *Script) Ancestors(a *Action) []*Action {
	var chain []*Action
	for p, ok := s.Parent(a); ok; p, ok = s.Parent(p) {
		chain = append([]*Action{p}, chain...)
	}
	return chain
}

// AddAction places an action in the arena. Callers wire ParentID/Children themselves.
func (s *Script) AddAction(a *Action) {
	if s.actions == nil {
		s.actions = make(map[string]*Action)
	}
	s.actions[a.ID] = a
}
