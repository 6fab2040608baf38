/*
Package marionette is a scripting engine for browser automation.

Scripts are declarative trees: Contexts guarded by matcher Pipelines hold
Actions, and Actions evaluate Pipelines of Pipes over ordered sets of page
Elements. The engine re-evaluates matchers against a page that keeps loading,
retries transient failures without repeating side effects and exposes a
serializable playhead, so long scripts can be checkpointed and resumed by
another process.

# Usage

	catalog := marionette.NewCatalog()
	s, err := marionette.LoadFile("checkout.yaml", catalog)
	if err != nil {
		log.Fatal(err)
	}

	page, _ := static.New("<html></html>")
	eng, err := marionette.New(s,
		marionette.WithCatalog(catalog),
		marionette.WithPage(page),
		marionette.WithFlow(memory.NewFlow()),
		marionette.WithCheckpointStore(file.New(file.DefaultDir)),
	)
	if err != nil {
		log.Fatal(err)
	}

	status, err := eng.Run(ctx)

Live browsers are driven through the rod and playwright adapters; the static
adapter plays scripts over fetched HTML without a browser.
*/
package marionette
