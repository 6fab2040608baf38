// Package pipes provides the built-in Pipe catalogue.
package pipes

import (
	"github.com/aretw0/marionette/internal/runtime"
)

// Register adds every built-in Pipe to the catalog.
func Register(c *runtime.Catalog) {
	for _, def := range all() {
		c.RegisterPipe(def)
	}
}

func all() []*runtime.PipeDef {
	var defs []*runtime.PipeDef
	defs = append(defs, domPipes()...)
	defs = append(defs, valuePipes()...)
	defs = append(defs, logicPipes()...)
	defs = append(defs, listPipes()...)
	defs = append(defs, dataPipes()...)
	return defs
}

func decode[T any](call *runtime.PipeCall) (T, error) {
	var params T
	err := call.Decode(&params)
	return params, err
}
