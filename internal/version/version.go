package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set with -ldflags "-X github.com/banshee-data/facecap/internal/version.Version=..." at release.
var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	GitSHA    string `json:"git_sha"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// Get returns the build information, filling the commit and time from the
// module's VCS stamp when they were not set at link time.
func Get() Info {
	info := Info{Version: Version, GitSHA: GitSHA, BuildTime: BuildTime, GoVersion: runtime.Version()}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitSHA == "unknown" {
				info.GitSHA = s.Value
			}
		case "vcs.time":
			if info.BuildTime == "unknown" {
				info.BuildTime = s.Value
			}
		}
	}
	return info
}

func (i Info) String() string {
	sha := i.GitSHA
	if len(sha) > 12 {
		sha = sha[:12]
	}
	return fmt.Sprintf("facecap %s (%s, built %s, %s)", i.Version, sha, i.BuildTime, i.GoVersion)
}
