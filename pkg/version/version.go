// Package version reports what build of poolproxy is running.
//
// Release builds stamp the values with ldflags:
//
//	go build -ldflags "-X github.com/NicolasHaas/poolproxy/pkg/version.tag=v1.0.0
//	  -X github.com/NicolasHaas/poolproxy/pkg/version.commit=abc1234
//	  -X github.com/NicolasHaas/poolproxy/pkg/version.date=2026-01-01"
//
// Unstamped builds fall back to the VCS data the Go toolchain embeds.
package version

import (
	"runtime"
	"runtime/debug"
	"sync"
)

// Populated by -ldflags "-X ...".
var (
	tag    = ""        // release tag, e.g. "v0.2.0"
	commit = "unknown" // short commit SHA
	date   = "unknown" // ISO 8601 build date
)

const shortCommit = 7

// Info describes the running binary.
type Info struct {
	Tag      string // empty for untagged builds
	Commit   string // "unknown" when neither ldflags nor VCS data is present
	Date     string
	Modified bool // built from a dirty tree
	Go       string
}

var (
	buildOnce sync.Once
	buildInfo func() (*debug.BuildInfo, bool) = debug.ReadBuildInfo
	vcs       Info
)

// vcsInfo reads the toolchain's embedded VCS settings once.
func vcsInfo() Info {
	buildOnce.Do(func() {
		vcs = Info{Commit: "unknown", Date: "unknown"}
		bi, ok := buildInfo()
		if !ok {
			return
		}
		if v := bi.Main.Version; v != "" && v != "(devel)" {
			vcs.Tag = v
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				vcs.Commit = s.Value
				if len(vcs.Commit) > shortCommit {
					vcs.Commit = vcs.Commit[:shortCommit]
				}
			case "vcs.time":
				vcs.Date = s.Value
			case "vcs.modified":
				vcs.Modified = s.Value == "true"
			}
		}
	})
	return vcs
}

// Get returns the build description. Ldflags values win; VCS data fills
// whatever they leave unset.
func Get() Info {
	info := Info{Tag: tag, Commit: commit, Date: date, Go: runtime.Version()}
	if info.Commit != "unknown" && info.Tag != "" {
		return info
	}
	fb := vcsInfo()
	if info.Tag == "" {
		info.Tag = fb.Tag
	}
	if info.Commit == "unknown" {
		info.Commit, info.Modified = fb.Commit, fb.Modified
		if info.Date == "unknown" {
			info.Date = fb.Date
		}
	}
	return info
}

// String returns the short version: the tag, else the commit, else "dev".
// A dirty tree adds "-dirty" to the commit.
func (i Info) String() string {
	switch {
	case i.Tag != "":
		return i.Tag
	case i.Commit != "unknown" && i.Modified:
		return i.Commit + "-dirty"
	case i.Commit != "unknown":
		return i.Commit
	default:
		return "dev"
	}
}

// Full returns "tag (commit) built date" or a sensible fallback.
func (i Info) Full() string {
	switch {
	case i.Tag != "":
		return i.Tag + " (" + i.Commit + ") built " + i.Date
	case i.Commit != "unknown":
		return i.String() + " built " + i.Date
	default:
		return "dev"
	}
}

// String is Get().String().
func String() string { return Get().String() }

// Full is Get().Full().
func Full() string { return Get().Full() }

// LogAttrs returns the build details that accompany the version, for a
// startup log line. The version itself is carried by every record.
func LogAttrs() []any {
	i := Get()
	return []any{"commit", i.Commit, "built", i.Date, "go", i.Go, "dirty", i.Modified}
}
