// Package version carries build information injected via ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Program is the binary name used in version strings.
const Program = "amanrag"

// Set with -X github.com/Aman-CERP/amanrag/pkg/version.<Name>=<value>.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"

	// GoVersion is the toolchain that built the binary.
	GoVersion = runtime.Version()
)

// BuildInfo is version information for JSON output.
type BuildInfo struct {
	Program   string `json:"program"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// String returns a one-line version string.
func String() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s, go: %s)", Program, Version, Commit, Date, GoVersion)
}

// Short returns the bare version.
func Short() string {
	return Version
}

// GetInfo returns structured version information.
func GetInfo() BuildInfo {
	return BuildInfo{
		Program:   Program,
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// IsDev reports whether this is an unreleased build.
func IsDev() bool {
	return Version == "dev"
}
