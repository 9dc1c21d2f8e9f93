package version

import (
	"runtime/debug"
	"sync"
	"testing"
)

// stamp sets the ldflags variables and the embedded build info for one test.
func stamp(t *testing.T, newTag, newCommit, newDate string, bi *debug.BuildInfo) {
	t.Helper()
	oldTag, oldCommit, oldDate, oldInfo := tag, commit, date, buildInfo
	t.Cleanup(func() {
		tag, commit, date, buildInfo = oldTag, oldCommit, oldDate, oldInfo
		buildOnce = sync.Once{}
	})
	tag, commit, date = newTag, newCommit, newDate
	buildInfo = func() (*debug.BuildInfo, bool) { return bi, bi != nil }
	buildOnce = sync.Once{}
}

func TestLdflagsWin(t *testing.T) {
	stamp(t, "v0.3.0", "abc1234", "2026-01-01", &debug.BuildInfo{
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "ffffffffffff"}},
	})
	if got := String(); got != "v0.3.0" {
		t.Errorf("String() = %q, want v0.3.0", got)
	}
	if got := Full(); got != "v0.3.0 (abc1234) built 2026-01-01" {
		t.Errorf("Full() = %q", got)
	}

	attrs := LogAttrs()
	if len(attrs)%2 != 0 || attrs[0] != "commit" || attrs[1] != "abc1234" || attrs[3] != "2026-01-01" {
		t.Errorf("LogAttrs() = %v", attrs)
	}
}

func TestCommitWithoutTag(t *testing.T) {
	stamp(t, "", "abc1234", "2026-01-01", nil)
	if got := Full(); got != "abc1234 built 2026-01-01" {
		t.Errorf("Full() = %q", got)
	}
}

func TestFallsBackToVCSData(t *testing.T) {
	stamp(t, "", "unknown", "unknown", &debug.BuildInfo{
		Main: debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.time", Value: "2026-10-01T12:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	})
	info := Get()
	if info.Commit != "0123456" || info.Date != "2026-10-01T12:00:00Z" || !info.Modified {
		t.Errorf("Get() = %+v", info)
	}
	if got := String(); got != "0123456-dirty" {
		t.Errorf("String() = %q, want 0123456-dirty", got)
	}
	if info.Go == "" {
		t.Error("Go version missing")
	}
}

func TestModuleVersionUsedAsTag(t *testing.T) {
	stamp(t, "", "unknown", "unknown", &debug.BuildInfo{Main: debug.Module{Version: "v1.4.0"}})
	if got := String(); got != "v1.4.0" {
		t.Errorf("String() = %q, want v1.4.0", got)
	}
}

func TestDevFallback(t *testing.T) {
	stamp(t, "", "unknown", "unknown", nil)
	if got := String(); got != "dev" {
		t.Errorf("String() = %q, want dev", got)
	}
	if got := Full(); got != "dev" {
		t.Errorf("Full() = %q, want dev", got)
	}
}
