// Package version provides build information for propmodel.
package version

import "runtime/debug"

// Version is the release version. Override at build time with:
//
//	go build -ldflags "-X github.com/AaronLay10/propmodel/internal/version.Version=x.y.z"
var Version = "0.1.0"

// Commit returns the VCS revision embedded by the toolchain, or "unknown".
func Commit() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return "unknown"
}

// String formats the version line printed by the CLI.
func String() string {
	return "propmodel " + Version + " (" + Commit() + ")"
}
