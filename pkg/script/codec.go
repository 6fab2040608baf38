package script

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/schema"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Catalog resolves the parameter descriptors of Action and Pipe types.
// The codec uses it to tell pipeline-kind parameters from plain values.
type Catalog interface {
	ActionParams(typ string) (schema.Params, bool)
	PipeParams(typ string) (schema.Params, bool)
}

var reservedActionKeys = map[string]bool{"id": true, "type": true, "label": true, "children": true}

// idNamespace scopes the ids generated for contexts and actions that omit one.
var idNamespace = uuid.MustParse("5b0f3c4e-8a51-4c1e-9d0a-6f3e2b7c1a90")

// positionID derives a stable id from the script id and a tree position, so
// that decoding the same script twice yields the same ids.
func positionID(scriptID, position string) string {
	return uuid.NewSHA1(idNamespace, []byte(scriptID+"#"+position)).String()
}

// Decode parses a JSON script.
func Decode(data []byte, catalog Catalog) (*Script, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, domain.Wrap(err, domain.CodeInvalidScript, false, "malformed script JSON")
	}
	return DecodeMap(raw, catalog)
}

// DecodeYAML parses a YAML script. Values are normalised through JSON so that
// numbers and maps have the same shapes as in Decode.
func DecodeYAML(data []byte, catalog Catalog) (*Script, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, domain.Wrap(err, domain.CodeInvalidScript, false, "malformed script YAML")
	}
	normalized, err := json.Marshal(raw)
	if err != nil {
		return nil, domain.Wrap(err, domain.CodeInvalidScript, false, "script YAML is not JSON compatible")
	}
	return Decode(normalized, catalog)
}

// DecodeMap builds a Script from an already parsed JSON object.
func DecodeMap(raw map[string]any, catalog Catalog) (*Script, error) {
	d := &decoder{catalog: catalog, script: New(stringOf(raw["id"]))}

	if deps, ok := raw["dependencies"]; ok {
		if err := d.decodeDependencies(deps); err != nil {
			return nil, err
		}
	}

	contexts, _ := raw["contexts"].([]any)
	if rc, ok := raw["contexts"]; ok && rc != nil && contexts == nil {
		return nil, domain.InvalidScript("contexts: expected list, got %T", rc)
	}
	for i, rc := range contexts {
		m, ok := rc.(map[string]any)
		if !ok {
			return nil, domain.InvalidScript("contexts/%d: expected object, got %T", i, rc)
		}
		if err := d.decodeContext(m, i); err != nil {
			return nil, err
		}
	}
	return d.script, nil
}

type decoder struct {
	catalog Catalog
	script  *Script
}

func (d *decoder) decodeDependencies(v any) error {
	list, ok := v.([]any)
	if !ok {
		return domain.InvalidScript("dependencies: expected list, got %T", v)
	}
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return domain.InvalidScript("dependencies/%d: expected object", i)
		}
		name, version := stringOf(m["name"]), stringOf(m["version"])
		if name == "" {
			return domain.InvalidScript("dependencies/%d: missing name", i)
		}
		d.script.Dependencies = append(d.script.Dependencies, domain.Dependency{Name: name, Version: version})
	}
	return nil
}

func (d *decoder) decodeContext(raw map[string]any, index int) error {
	c := &Context{
		ID:    stringOf(raw["id"]),
		Name:  stringOf(raw["name"]),
		Limit: DefaultContextLimit,
	}
	if c.ID == "" {
		c.ID = positionID(d.script.ID, fmt.Sprintf("contexts/%d", index))
	}
	if _, dup := d.script.Context(c.ID); dup {
		return domain.InvalidScript("contexts/%d: duplicate context id %q", index, c.ID)
	}
	if v, ok := raw["limit"]; ok && v != nil {
		n, ok := v.(float64)
		if !ok || n != float64(int(n)) || n < -1 {
			return domain.InvalidScript("contexts/%s/limit: expected integer >= -1, got %v", c.ID, v)
		}
		c.Limit = int(n)
	}

	matchers, err := d.decodeMatchers(raw["matchers"], c.ID)
	if err != nil {
		return err
	}
	c.Matchers = matchers
	d.script.Contexts = append(d.script.Contexts, c)

	actions, _ := raw["actions"].([]any)
	for i, ra := range actions {
		m, ok := ra.(map[string]any)
		if !ok {
			return domain.InvalidScript("contexts/%s/actions/%d: expected object", c.ID, i)
		}
		a, err := d.decodeAction(m, "", c.ID, fmt.Sprintf("contexts/%d/actions/%d", index, i))
		if err != nil {
			return err
		}
		c.Actions = append(c.Actions, a.ID)
	}
	return nil
}

// decodeMatchers accepts a list of {pipeline: [...]} objects or a bare pipeline.
func (d *decoder) decodeMatchers(v any, contextID string) ([]*Matcher, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, domain.InvalidScript("contexts/%s/matchers: expected list, got %T", contextID, v)
	}
	owner := "context:" + contextID
	base := "contexts/" + contextID + "/matchers"

	bare := len(list) > 0
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, domain.InvalidScript("%s: expected object, got %T", base, item)
		}
		if _, isPipe := m["type"]; !isPipe {
			bare = false
		}
	}
	if bare {
		p, err := d.decodePipeline(list, owner, base+"/0")
		if err != nil {
			return nil, err
		}
		return []*Matcher{{Pipeline: p}}, nil
	}

	matchers := make([]*Matcher, 0, len(list))
	for i, item := range list {
		m := item.(map[string]any)
		p, err := d.decodePipeline(m[MainPipeline], owner, fmt.Sprintf("%s/%d", base, i))
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, &Matcher{Pipeline: p})
	}
	return matchers, nil
}

// decodeAction decodes an action and its children. position is the action's
// index path in the document and seeds its id when none is given.
func (d *decoder) decodeAction(raw map[string]any, parentID, contextID, position string) (*Action, error) {
	legacy := stringOf(raw["type"])
	if legacy == "" {
		return nil, domain.InvalidScript("action %v: missing type", raw["id"])
	}
	a := &Action{
		ID:        stringOf(raw["id"]),
		Type:      Migrate(legacy),
		Label:     stringOf(raw["label"]),
		Params:    make(map[string]any),
		Pipelines: make(map[string]*Pipeline),
		ParentID:  parentID,
		ContextID: contextID,
	}
	if a.ID == "" {
		a.ID = positionID(d.script.ID, position)
	}
	if _, dup := d.script.actions[a.ID]; dup {
		return nil, domain.InvalidScript("duplicate action id %q", a.ID)
	}
	path := "actions/" + a.ID
	if a.Type != legacy {
		d.script.Migrations = append(d.script.Migrations, Migration{Path: path, From: legacy, To: a.Type})
	}

	params, ok := d.catalog.ActionParams(a.Type)
	if !ok {
		return nil, domain.InvalidScript("%s: unknown action type %q", path, a.Type)
	}
	d.script.AddAction(a)

	for key, value := range raw {
		if reservedActionKeys[key] || strings.HasPrefix(key, "$") {
			continue
		}
		if param, ok := params.Lookup(key); ok && schema.IsPipeline(param.Type) {
			p, err := d.decodePipeline(value, a.ID, path+"/"+key)
			if err != nil {
				return nil, err
			}
			a.Pipelines[key] = p
			continue
		}
		a.Params[key] = value
	}

	if rc, ok := raw["children"]; ok && rc != nil {
		children, ok := rc.([]any)
		if !ok {
			return nil, domain.InvalidScript("%s/children: expected list, got %T", path, rc)
		}
		for i, item := range children {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, domain.InvalidScript("%s/children/%d: expected object", path, i)
			}
			child, err := d.decodeAction(m, a.ID, contextID, fmt.Sprintf("%s/children/%d", position, i))
			if err != nil {
				return nil, err
			}
			a.Children = append(a.Children, child.ID)
		}
	}
	return a, nil
}

func (d *decoder) decodePipeline(v any, ownerID, path string) (*Pipeline, error) {
	p := &Pipeline{OwnerID: ownerID, Path: path}
	if v == nil {
		return p, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, domain.InvalidScript("%s: expected pipeline (list of pipes), got %T", path, v)
	}
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, domain.InvalidScript("%s/%d: expected object, got %T", path, i, item)
		}
		pipe, err := d.decodePipe(m, ownerID, fmt.Sprintf("%s/%d", path, i))
		if err != nil {
			return nil, err
		}
		p.Pipes = append(p.Pipes, pipe)
	}
	return p, nil
}

func (d *decoder) decodePipe(raw map[string]any, ownerID, path string) (*Pipe, error) {
	legacy := stringOf(raw["type"])
	if legacy == "" {
		return nil, domain.InvalidScript("%s: missing pipe type", path)
	}
	pipe := &Pipe{
		Type:      Migrate(legacy),
		Params:    make(map[string]any),
		Pipelines: make(map[string]*Pipeline),
		Path:      path,
	}
	if pipe.Type != legacy {
		d.script.Migrations = append(d.script.Migrations, Migration{Path: path, From: legacy, To: pipe.Type})
	}
	params, ok := d.catalog.PipeParams(pipe.Type)
	if !ok {
		return nil, domain.InvalidScript("%s: unknown pipe type %q", path, pipe.Type)
	}
	for key, value := range raw {
		if key == "type" || strings.HasPrefix(key, "$") {
			continue
		}
		if param, ok := params.Lookup(key); ok && schema.IsPipeline(param.Type) {
			nested, err := d.decodePipeline(value, ownerID, path+"/"+key)
			if err != nil {
				return nil, err
			}
			pipe.Pipelines[key] = nested
			continue
		}
		pipe.Params[key] = value
	}
	return pipe, nil
}

// Encode serializes the script back to its JSON form. Runtime state is never included.
func Encode(s *Script) ([]byte, error) {
	return json.Marshal(EncodeMap(s))
}

// EncodeMap converts the script into its JSON object form.
func EncodeMap(s *Script) map[string]any {
	out := map[string]any{}
	if s.ID != "" {
		out["id"] = s.ID
	}
	contexts := make([]any, 0, len(s.Contexts))
	for _, c := range s.Contexts {
		rc := map[string]any{"id": c.ID, "limit": c.Limit}
		if c.Name != "" {
			rc["name"] = c.Name
		}
		matchers := make([]any, 0, len(c.Matchers))
		for _, m := range c.Matchers {
			matchers = append(matchers, map[string]any{MainPipeline: encodePipeline(m.Pipeline)})
		}
		rc["matchers"] = matchers
		actions := make([]any, 0, len(c.Actions))
		for _, id := range c.Actions {
			if a, ok := s.actions[id]; ok {
				actions = append(actions, encodeAction(s, a))
			}
		}
		rc["actions"] = actions
		contexts = append(contexts, rc)
	}
	out["contexts"] = contexts
	if len(s.Dependencies) > 0 {
		deps := make([]any, 0, len(s.Dependencies))
		for _, dep := range s.Dependencies {
			deps = append(deps, map[string]any{"name": dep.Name, "version": dep.Version})
		}
		out["dependencies"] = deps
	}
	return out
}

func encodeAction(s *Script, a *Action) map[string]any {
	out := make(map[string]any, len(a.Params)+4)
	for k, v := range a.Params {
		if !strings.HasPrefix(k, "$") {
			out[k] = v
		}
	}
	for k, p := range a.Pipelines {
		out[k] = encodePipeline(p)
	}
	out["id"] = a.ID
	out["type"] = a.Type
	if a.Label != "" {
		out["label"] = a.Label
	}
	if len(a.Children) > 0 {
		children := make([]any, 0, len(a.Children))
		for _, id := range a.Children {
			if child, ok := s.actions[id]; ok {
				children = append(children, encodeAction(s, child))
			}
		}
		out["children"] = children
	}
	return out
}

func encodePipeline(p *Pipeline) []any {
	out := make([]any, 0, p.Len())
	if p == nil {
		return out
	}
	for _, pipe := range p.Pipes {
		m := make(map[string]any, len(pipe.Params)+1)
		for k, v := range pipe.Params {
			if !strings.HasPrefix(k, "$") {
				m[k] = v
			}
		}
		for k, nested := range pipe.Pipelines {
			m[k] = encodePipeline(nested)
		}
		m["type"] = pipe.Type
		out = append(out, m)
	}
	return out
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

// DecodePipeline decodes a standalone JSON pipeline, e.g. for ad-hoc evaluation.
func DecodePipeline(data []byte, catalog Catalog) (*Pipeline, error) {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, domain.Wrap(err, domain.CodeInvalidScript, false, "malformed pipeline JSON")
	}
	d := &decoder{catalog: catalog, script: New("")}
	return d.decodePipeline(raw, "", "pipeline")
}
