package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

var (
	// Name of the application
	AppName = "driftsync"

	// Version of the application, overridden by release builds via ldflags
	Version = "0.3.0-dev"

	// Revision is the git commit the binary was built from
	Revision = "HEAD"

	// BuildDate of the application
	BuildDate = ""
)

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	// Prefer the module version when stamped by a release build.
	if Version == "0.3.0-dev" || Version == "" {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			Version = strings.TrimPrefix(v, "v")
		}
	}

	// Prefer the VCS revision for local/dev builds.
	if Revision == "HEAD" || Revision == "" {
		var revision, modified string
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				revision = s.Value
			case "vcs.modified":
				modified = s.Value
			}
		}
		if revision != "" {
			if modified == "true" {
				revision += "-dirty"
			}
			Revision = revision
		}
	}
}

// Detailed returns a multi-line version string for --version output.
func Detailed() string {
	var sb strings.Builder
	sb.WriteString(Version)
	sb.WriteString(fmt.Sprintf("\nRevision: %s", Revision))
	if BuildDate != "" {
		sb.WriteString(fmt.Sprintf("\nBuild Date: %s", BuildDate))
	}
	sb.WriteString(fmt.Sprintf("\nPlatform: %s/%s", runtime.GOOS, runtime.GOARCH))
	sb.WriteString(fmt.Sprintf("\nGo: %s", runtime.Version()))
	return sb.String()
}
