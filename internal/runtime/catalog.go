package runtime

import (
	"context"

	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/registry"
	"github.com/aretw0/marionette/pkg/schema"
)

// PipeDef describes a Pipe type.
type PipeDef struct {
	Type        string
	Description string
	Params      schema.Params
	Apply       func(ctx context.Context, call *PipeCall, in []domain.Element) ([]domain.Element, error)
}

// ActionDef describes an Action type.
type ActionDef struct {
	Type        string
	Description string
	Params      schema.Params
	// Container types may hold children; inspection flags children on leaf types.
	Container bool
	// Retriable wraps Exec in the retry engine.
	Retriable bool
	// Loop makes leave() re-target the action itself instead of moving on.
	Loop bool
	Exec func(ctx context.Context, call *ActionCall) error
	// ResolveChildrenScope computes the input scope of the children.
	// Nil means children inherit the action's own scope.
	ResolveChildrenScope func(ctx context.Context, call *ActionCall) ([]domain.Element, error)
}

// Catalog is the registry of Pipe and Action definitions.
// It implements script.Catalog.
type Catalog struct {
	pipes   *registry.Registry[*PipeDef]
	actions *registry.Registry[*ActionDef]
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		pipes:   registry.New[*PipeDef](),
		actions: registry.New[*ActionDef](),
	}
}

// RegisterPipe adds or replaces a Pipe definition.
func (c *Catalog) RegisterPipe(def *PipeDef) {
	c.pipes.Register(def.Type, def)
}

// RegisterAction adds or replaces an Action definition.
func (c *Catalog) RegisterAction(def *ActionDef) {
	c.actions.Register(def.Type, def)
}

// Pipe returns a Pipe definition.
func (c *Catalog) Pipe(typ string) (*PipeDef, bool) { return c.pipes.Lookup(typ) }

// Action returns an Action definition.
func (c *Catalog) Action(typ string) (*ActionDef, bool) { return c.actions.Lookup(typ) }

// PipeTypes lists registered Pipe types, sorted.
func (c *Catalog) PipeTypes() []string { return c.pipes.Names() }

// ActionTypes lists registered Action types, sorted.
func (c *Catalog) ActionTypes() []string { return c.actions.Names() }

// ActionParams implements script.Catalog.
func (c *Catalog) ActionParams(typ string) (schema.Params, bool) {
	def, ok := c.actions.Lookup(typ)
	if !ok {
		return nil, false
	}
	return def.Params, true
}

// PipeParams implements script.Catalog.
func (c *Catalog) PipeParams(typ string) (schema.Params, bool) {
	def, ok := c.pipes.Lookup(typ)
	if !ok {
		return nil, false
	}
	return def.Params, true
}

// IsContainer reports whether the action type may hold children.
func (c *Catalog) IsContainer(typ string) bool {
	def, ok := c.actions.Lookup(typ)
	return ok && def.Container
}

// TypeInfo is the public description of a registered type.
type TypeInfo struct {
	Kind        string         `json:"kind"`
	Type        string         `json:"type"`
	Description string         `json:"description,omitempty"`
	Container   bool           `json:"container,omitempty"`
	Params      map[string]any `json:"params"`
}

// Describe lists every registered action then every pipe, sorted by type.
func (c *Catalog) Describe() []TypeInfo {
	var out []TypeInfo
	for _, typ := range c.ActionTypes() {
		def, _ := c.actions.Lookup(typ)
		out = append(out, TypeInfo{
			Kind:        "action",
			Type:        typ,
			Description: def.Description,
			Container:   def.Container,
			Params:      def.Params.JSONSchema(),
		})
	}
	for _, typ := range c.PipeTypes() {
		def, _ := c.pipes.Lookup(typ)
		out = append(out, TypeInfo{
			Kind:        "pipe",
			Type:        typ,
			Description: def.Description,
			Params:      def.Params.JSONSchema(),
		})
	}
	return out
}
