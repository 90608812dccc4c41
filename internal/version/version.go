// Package version reports the leadfill release.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Current is the release version, without a "v" prefix.
const Current = "0.4.0"

// String returns the version with the VCS revision and Go version when the
// binary carries build info.
func String() string {
	rev := "unknown"
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				rev = s.Value
				if len(rev) > 12 {
					rev = rev[:12]
				}
			}
		}
	}
	return fmt.Sprintf("leadfill %s (rev %s, %s)", Current, rev, runtime.Version())
}
