// Package version provides build and version information for ScratchDesk.
package version

// Version is the current release version of ScratchDesk.
// This can be overridden at build time using:
//
//	go build -ldflags "-X github.com/AaronLay10/ScratchDesk/internal/version.Version=x.y.z"
var Version = "1.0.0"
