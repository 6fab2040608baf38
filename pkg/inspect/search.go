package inspect

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/script"
)

// Hit kinds.
const (
	KindAction = "action"
	KindPipe   = "pipe"
)

// Hit is one action or pipe matching a search query.
type Hit struct {
	Kind     string `json:"kind"`
	ActionID string `json:"actionId,omitempty"`
	Path     string `json:"path"`
	Type     string `json:"type"`
}

// subject is the searchable view of an action or pipe.
type subject struct {
	hit    Hit
	label  string
	params map[string]any
}

type term func(subject) bool

// searchKeys are the scoped term prefixes. Any other colon, as in a URL,
// belongs to a bare glob.
var searchKeys = map[string]bool{"type": true, "id": true, "param": true}

// Query is a compiled search query. Terms are whitespace separated and all must match:
//
//	type:<glob>          action or pipe type
//	id:<glob>            action id (pipes match through their owning action)
//	param:<name>=<glob>  parameter value
//	<glob>               type, id, label or any string parameter
type Query struct {
	raw   string
	terms []term
}

// Compile parses a search query.
func Compile(query string) (*Query, error) {
	q := &Query{raw: query}
	for _, field := range strings.Fields(query) {
		t, err := compileTerm(field)
		if err != nil {
			return nil, domain.InvalidScript("search %q: %v", field, err)
		}
		q.terms = append(q.terms, t)
	}
	return q, nil
}

func (q *Query) String() string { return q.raw }

func compileTerm(field string) (term, error) {
	key, pattern, scoped := strings.Cut(field, ":")
	if !scoped || !searchKeys[key] {
		g, err := glob.Compile(field)
		if err != nil {
			return nil, err
		}
		return func(s subject) bool {
			if g.Match(s.hit.Type) || g.Match(s.hit.ActionID) || (s.label != "" && g.Match(s.label)) {
				return true
			}
			for _, v := range s.params {
				if str, ok := v.(string); ok && g.Match(str) {
					return true
				}
			}
			return false
		}, nil
	}

	switch key {
	case "type":
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, err
		}
		return func(s subject) bool { return g.Match(s.hit.Type) }, nil
	case "id":
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, err
		}
		return func(s subject) bool { return s.hit.ActionID != "" && g.Match(s.hit.ActionID) }, nil
	case "param":
		name, valuePattern, ok := strings.Cut(pattern, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected param:<name>=<glob>")
		}
		g, err := glob.Compile(valuePattern)
		if err != nil {
			return nil, err
		}
		return func(s subject) bool {
			v, ok := s.params[name]
			if !ok || v == nil {
				return false
			}
			return g.Match(fmt.Sprint(v))
		}, nil
	}
	return nil, fmt.Errorf("unknown search key %q", key)
}

// match reports whether the subject satisfies every term.
func (q *Query) match(s subject) bool {
	for _, t := range q.terms {
		if !t(s) {
			return false
		}
	}
	return true
}

// Search runs query over s. Context matchers come first, then actions in
// depth-first order, each followed by its pipes.
func Search(s *script.Script, query string) ([]Hit, error) {
	q, err := Compile(query)
	if err != nil {
		return nil, err
	}
	return q.Run(s), nil
}

// Run evaluates the compiled query over s.
func (q *Query) Run(s *script.Script) []Hit {
	var hits []Hit
	visit := func(sub subject) {
		if q.match(sub) {
			hits = append(hits, sub.hit)
		}
	}

	var pipeline func(p *script.Pipeline, actionID, path string)
	pipeline = func(p *script.Pipeline, actionID, path string) {
		if p == nil {
			return
		}
		for i, pipe := range p.Pipes {
			pipePath := pipe.Path
			if pipePath == "" {
				pipePath = fmt.Sprintf("%s/%d", path, i)
			}
			visit(subject{
				hit:    Hit{Kind: KindPipe, ActionID: actionID, Path: pipePath, Type: pipe.Type},
				params: pipe.Params,
			})
			for _, name := range sortedKeys(pipe.Pipelines) {
				pipeline(pipe.Pipelines[name], actionID, pipePath+"/"+name)
			}
		}
	}

	for _, c := range s.Contexts {
		for i, m := range c.Matchers {
			if m != nil {
				pipeline(m.Pipeline, "", fmt.Sprintf("contexts/%s/matchers/%d", c.ID, i))
			}
		}
	}

	s.Walk(func(a *script.Action, _ int) bool {
		path := "actions/" + a.ID
		visit(subject{
			hit:    Hit{Kind: KindAction, ActionID: a.ID, Path: path, Type: a.Type},
			label:  a.Label,
			params: a.Params,
		})
		for _, name := range sortedKeys(a.Pipelines) {
			pipeline(a.Pipelines[name], a.ID, path+"/"+name)
		}
		return true
	})
	return hits
}
