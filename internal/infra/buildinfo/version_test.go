package buildinfo

import (
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	info := Get()

	if info.Version == "" || info.Commit == "" || info.BuildTime == "" {
		t.Errorf("Get() has empty fields: %+v", info)
	}
	if info.GoVersion == "" {
		t.Error("GoVersion should be filled from the runtime")
	}
}

func TestString(t *testing.T) {
	s := String()

	want := Version + " (" + Commit + ") built at " + BuildTime
	if s != want {
		t.Errorf("String() = %q, want %q", s, want)
	}
	if !strings.Contains(s, Version) {
		t.Errorf("String() = %q does not mention the version", s)
	}
}
