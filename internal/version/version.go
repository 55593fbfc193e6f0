// Package version provides build and version information for HomeLink.
package version

// Version is the current release version of HomeLink.
// This can be overridden at build time using:
//
//	go build -ldflags "-X github.com/mfeltner/homelink/internal/version.Version=x.y.z"
var Version = "1.0.0"
