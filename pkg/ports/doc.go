/*
Package ports defines the driven ports (interfaces) of the marionette engine.

These interfaces decouple the playback core from browsers, job transports and
storage backends.

# Key Interfaces

  - Page: the rendered page (DOM queries, input, navigation, cookies, network activity).
  - Flow: job I/O (inputs, outputs, cooperative tick, metadata).
  - CheckpointStore: persistence of resumable checkpoints.
  - ExtensionResolver: checks declared Script dependencies against installed extensions.

The tests subpackage holds the contract suite every CheckpointStore must pass.
*/
package ports
