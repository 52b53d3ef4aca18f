// Package version reports the postgate build.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set at build time with -ldflags "-X github.com/MEKXH/postgate/internal/version.Version=...".
var (
	Version = "dev"
	Commit  = ""
)

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}
	if Commit == "" {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 7 {
				Commit = s.Value[:7]
			}
		}
	}
}

// String renders the version line printed by the CLI.
func String() string {
	if Commit == "" {
		return fmt.Sprintf("postgate %s (%s)", Version, runtime.Version())
	}
	return fmt.Sprintf("postgate %s+%s (%s)", Version, Commit, runtime.Version())
}
