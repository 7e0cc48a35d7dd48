// Package version exposes build-time version information, injected via
// -ldflags at release build time.
package version

import (
	"fmt"
	"runtime"
)

// Set by the build pipeline:
//
//	go build -ldflags "-X .../internal/version.VersionTag=v1.2.3 ..."
var (
	VersionTag = "v0.1.0-dev"
	Commit     = "unknown"
	BuildTime  = "unknown"
)

// Info is a snapshot of version and platform details
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	Platform  string `json:"platform"`
	GoVersion string `json:"go_version"`
}

// Get returns the current build's version info
func Get() Info {
	return Info{
		Version:   VersionTag,
		Commit:    Commit,
		BuildTime: BuildTime,
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		GoVersion: runtime.Version(),
	}
}

// String returns the one-line version summary
func (i Info) String() string {
	return fmt.Sprintf("sheetflow %s (%s, built %s)", i.Version, i.Commit, i.BuildTime)
}
