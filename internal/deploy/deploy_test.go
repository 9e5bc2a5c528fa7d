package deploy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeOS(t *testing.T) {
	cases := map[string]struct {
		want string
		ok   bool
	}{
		"Linux":      {"linux", true},
		"linux":      {"linux", true},
		"Darwin":     {"darwin", true},
		"FreeBSD":    {"freebsd", true},
		"SunOS":      {"", false},
		"  linux\n ": {"linux", true},
	}
	for raw, c := range cases {
		got, ok := normalizeOS(raw)
		if got != c.want || ok != c.ok {
			t.Errorf("normalizeOS(%q) = (%q, %v), want (%q, %v)", raw, got, ok, c.want, c.ok)
		}
	}
}

func TestNormalizeArch(t *testing.T) {
	cases := map[string]struct {
		want string
		ok   bool
	}{
		"x86_64":  {"amd64", true},
		"amd64":   {"amd64", true},
		"aarch64": {"arm64", true},
		"arm64":   {"arm64", true},
		"armv7l":  {"arm", true},
		"sparc64": {"", false},
	}
	for raw, c := range cases {
		got, ok := normalizeArch(raw)
		if got != c.want || ok != c.ok {
			t.Errorf("normalizeArch(%q) = (%q, %v), want (%q, %v)", raw, got, ok, c.want, c.ok)
		}
	}
}

func TestRemoteCachePath(t *testing.T) {
	got := RemoteCachePath("/home/alice")
	want := "/home/alice/.cache/tramp-agent/agent"
	if got != want {
		t.Errorf("RemoteCachePath = %q, want %q", got, want)
	}
}

func TestLocateBinaryMissingIsFallback(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	target := &RemoteTarget{OS: "linux", Arch: "amd64", Triple: "amd64-linux"}
	_, err := LocateBinary("9.9.9", target)
	if err == nil {
		t.Fatal("LocateBinary: expected error for uncached version, got nil")
	}
}

func TestLocateBinaryFindsCachedAgent(t *testing.T) {
	cacheRoot := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", cacheRoot)

	target := &RemoteTarget{OS: "linux", Arch: "amd64", Triple: "amd64-linux"}
	dir, err := LocalCacheDir("1.0.0", target)
	if err != nil {
		t.Fatalf("LocalCacheDir: %v", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	binPath := filepath.Join(dir, "agent")
	if err := os.WriteFile(binPath, []byte("fake-binary"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := LocateBinary("1.0.0", target)
	if err != nil {
		t.Fatalf("LocateBinary: %v", err)
	}
	if got != binPath {
		t.Errorf("LocateBinary = %q, want %q", got, binPath)
	}
}
