/*
Package dsl provides a fluent Go builder for marionette scripts.

It produces the same object form that JSON and YAML scripts use and compiles
it through the regular decoder, so type names, parameters and ids are checked
exactly as for files. Useful for generated scripts and tests.

Example usage:

	b := dsl.New("fruits")
	b.Context("list").
		Match(dsl.Pipe("DOM.queryAll").With("selector", "li")).
		Action("each", "Flow.each").
		From(dsl.Pipe("DOM.queryAll").With("selector", "li")).
		Child(
			dsl.Action("name", "Data.sendOutput").
				Set("key", "fruit").
				From(dsl.Pipe("DOM.getText")),
		)

	s, err := b.Build(marionette.NewCatalog())
*/
package dsl
