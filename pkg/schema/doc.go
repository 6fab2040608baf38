// Package schema describes the parameters of Action and Pipe types.
//
// A Params list is the single source of truth for a type's parameters: the
// script codec asks it which parameters hold nested Pipelines, the inspector
// validates decoded scripts against it and the CLI renders it as JSON Schema.
//
//	params := schema.Params{
//	    {Name: "pipeline", Type: schema.Pipeline()},
//	    {Name: "limit", Type: schema.Int(), Default: 10},
//	    {Name: "timeout", Type: schema.Duration(), Required: true},
//	}
//
//	if err := params.Validate(raw); err != nil {
//	    for _, v := range schema.Violations(err) { ... }
//	}
package schema
