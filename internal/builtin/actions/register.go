// Package actions provides the built-in Action catalogue: control flow,
// page interaction and job data.
package actions

import (
	"github.com/aretw0/marionette/internal/runtime"
)

// Register adds every built-in Action to the catalog.
func Register(c *runtime.Catalog) {
	for _, def := range all() {
		c.RegisterAction(def)
	}
}

func all() []*runtime.ActionDef {
	var defs []*runtime.ActionDef
	defs = append(defs, flowActions()...)
	defs = append(defs, pageActions()...)
	defs = append(defs, dataActions()...)
	return defs
}

func decode[T any](call *runtime.ActionCall) (T, error) {
	var params T
	err := call.Decode(&params)
	return params, err
}
