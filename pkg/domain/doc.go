/*
Package domain contains the core value types of the marionette engine.

It is kept free of I/O so that every other package (runtime, adapters, stores)
can share the same vocabulary.

# Key Entities

  - Element: a page node reference plus a JSON value, the unit flowing through Pipelines.
  - Error: the engine error model (code, message, retriable, script error, details).
  - Checkpoint: a resumable snapshot (URL, cookies, globals, playhead, counters).
  - LifecycleHooks: observability callbacks for playback turns, context matches and retries.
*/
package domain
