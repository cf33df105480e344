package version

import (
	"strings"
	"testing"
)

func TestGetVersionInfo_LdflagsWin(t *testing.T) {
	origVersion, origCommit, origBuild := Version, GitCommit, BuildTime
	defer func() { Version, GitCommit, BuildTime = origVersion, origCommit, origBuild }()

	Version, GitCommit, BuildTime = "v1.2.3", "abc1234", "2026-01-01T00:00:00Z"
	info := GetVersionInfo()
	if info.Version != "v1.2.3" || info.GitCommit != "abc1234" || info.BuildTime != "2026-01-01T00:00:00Z" {
		t.Errorf("unexpected info %+v", info)
	}
	if info.GoVersion != "" && !strings.HasPrefix(info.GoVersion, "go") {
		t.Errorf("unexpected go version %q", info.GoVersion)
	}
}

func TestInfo_String(t *testing.T) {
	tests := []struct {
		info Info
		want string
	}{
		{Info{Version: "dev"}, "dev"},
		{Info{Version: "v1", GitCommit: "abc"}, "v1-abc"},
		{Info{Version: "v1", GitCommit: "abc", IsDirty: true}, "v1-abc-dirty"},
	}
	for _, tc := range tests {
		if got := tc.info.String(); got != tc.want {
			t.Errorf("expected %q, got %q", tc.want, got)
		}
	}
}

func TestShortCommit(t *testing.T) {
	if got := shortCommit("0123456789abcdef"); got != "0123456" {
		t.Errorf("expected 7 chars, got %q", got)
	}
	if got := shortCommit("abc"); got != "abc" {
		t.Errorf("expected unchanged, got %q", got)
	}
}
