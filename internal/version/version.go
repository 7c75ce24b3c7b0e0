// Package version reports the build. Release builds set the variables with
// -ldflags "-X github.com/banshee-data/safepi/internal/version.Version=...".
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String is the one-line form printed by --version and stored with each
// journal session. Without ldflags the VCS revision embedded by the Go
// toolchain is used when available.
func String() string {
	sha := GitSHA
	if sha == "unknown" {
		sha = vcsRevision(debug.ReadBuildInfo())
	}
	return fmt.Sprintf("%s (%s, built %s)", Version, sha, BuildTime)
}

func vcsRevision(info *debug.BuildInfo, ok bool) string {
	if !ok || info == nil {
		return "unknown"
	}
	rev, dirty := "", false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" {
		return "unknown"
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if dirty {
		rev += "-dirty"
	}
	return rev
}
