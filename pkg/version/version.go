package version

import (
	"fmt"
	"runtime/debug"
)

// Build variables injected with ldflags:
// -X 'github.com/compozy/pagerag/pkg/version.Version=v0.1.0'
// -X 'github.com/compozy/pagerag/pkg/version.CommitHash=abc123'
// -X 'github.com/compozy/pagerag/pkg/version.BuildDate=2026-01-01T00:00:00Z'
var (
	Version    = "unknown"
	CommitHash = "unknown"
	BuildDate  = "unknown"
)

// Info describes the running binary.
type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit_hash"`
	BuildDate  string `json:"build_date"`
	GoVersion  string `json:"go_version"`
}

// String renders the info on a single line.
func (i Info) String() string {
	return fmt.Sprintf("pagerag %s (commit %s, built %s, %s)", i.Version, i.CommitHash, i.BuildDate, i.GoVersion)
}

// Get returns the build information. Values not injected at link time are
// filled from the module build info when available.
func Get() Info {
	info := Info{Version: Version, CommitHash: CommitHash, BuildDate: BuildDate, GoVersion: "unknown"}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	info.GoVersion = bi.GoVersion
	if info.Version == "unknown" && bi.Main.Version != "" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.CommitHash == "unknown" {
				info.CommitHash = s.Value
			}
		case "vcs.time":
			if info.BuildDate == "unknown" {
				info.BuildDate = s.Value
			}
		}
	}
	return info
}
