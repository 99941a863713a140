// ABOUTME: Build-time version identifiers for the player daemon
// ABOUTME: Overridable via -ldflags "-X .../version.Version=..." at build time
package version

var (
	// Version is the daemon's release version, set via -ldflags at build
	// time; "dev" when built without that flag.
	Version = "dev"
	// Product identifies the daemon in logs and any reported client metadata.
	Product = "playcore"
	// Manufacturer identifies the organization producing this build.
	Manufacturer = "nimbusaudio"
)
