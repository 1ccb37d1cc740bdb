package app

import (
	"runtime/debug"
	"strings"
	"time"
)

var (
	// Version is filled by ldflags in release builds.
	Version = "dev"
	// BuildDate is filled by ldflags in release builds.
	BuildDate = ""
)

const (
	dateLayout        = "2006-01-02"
	shortRevisionSize = 12
)

// BuildInfo describes the running binary. Values missing from ldflags are taken
// from the module and VCS stamps the go tool embeds.
type BuildInfo struct {
	Version  string
	Date     string
	Revision string
}

func CurrentBuild() BuildInfo {
	info, _ := debug.ReadBuildInfo()

	return resolveBuild(Version, BuildDate, info)
}

func resolveBuild(version, date string, info *debug.BuildInfo) BuildInfo {
	b := BuildInfo{
		Version: strings.TrimSpace(version),
		Date:    dateYMD(date),
	}
	if info != nil {
		if (b.Version == "" || b.Version == "dev") && info.Main.Version != "" && info.Main.Version != "(devel)" {
			b.Version = info.Main.Version
		}
		var modified bool
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				b.Revision = s.Value
				if len(b.Revision) > shortRevisionSize {
					b.Revision = b.Revision[:shortRevisionSize]
				}
			case "vcs.modified":
				modified = s.Value == "true"
			case "vcs.time":
				if b.Date == "" {
					b.Date = dateYMD(s.Value)
				}
			}
		}
		if modified && b.Revision != "" {
			b.Revision += "-dirty"
		}
	}
	if b.Version == "" {
		b.Version = "dev"
	}

	return b
}

func (b BuildInfo) String() string {
	var extra []string
	if b.Date != "" {
		extra = append(extra, b.Date)
	}
	if b.Revision != "" {
		extra = append(extra, b.Revision)
	}
	if len(extra) == 0 {
		return b.Version
	}

	return b.Version + " (" + strings.Join(extra, ", ") + ")"
}

// VersionLine is what the CLI prints for -version.
func VersionLine() string {
	return Name + " " + CurrentBuild().String()
}

func dateYMD(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.UTC().Format(dateLayout)
	}
	if len(raw) >= len(dateLayout) {
		if _, err := time.Parse(dateLayout, raw[:len(dateLayout)]); err == nil {
			return raw[:len(dateLayout)]
		}
	}

	return raw
}
