// Package buildinfo reports the asw version. Release builds set Version via
// -ldflags "-X github.com/YoshitsuguKoike/asw/internal/buildinfo.Version=v1.0.0";
// `go install` builds fall back to the module version the toolchain records.
package buildinfo

import "runtime/debug"

// Version is set at build time via ldflags
var Version = "dev"

// GetVersion returns Version, else the module version, else "dev"
func GetVersion() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	return "dev"
}

// Revision returns the short VCS revision stamped by the toolchain, with a
// "-dirty" suffix for modified trees. Empty when unknown.
func Revision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var rev, dirty string
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			if s.Value == "true" {
				dirty = "-dirty"
			}
		}
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if rev == "" {
		return ""
	}
	return rev + dirty
}
