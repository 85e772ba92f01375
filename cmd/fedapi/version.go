package main

import (
	"runtime/debug"
)

const baseVersion = "0.1.0"

// Version returns the version string.
//
// Binaries installed with `go install ...@version` report the module
// version. Development builds report "devel-<base>+<revision>".
func Version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return baseVersion
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}

	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return "devel-" + baseVersion + "+" + s.Value[:7]
		}
	}
	return "devel-" + baseVersion
}

func userAgent() string {
	return "fedapi/" + Version()
}
