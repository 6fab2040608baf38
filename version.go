package marionette

// Version is the release version, set at build time with
// -ldflags "-X github.com/aretw0/marionette.Version=v1.2.3".
var Version = "dev"
