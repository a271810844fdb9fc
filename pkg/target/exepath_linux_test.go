//go:build linux

package target

import (
	"os"
	"testing"
)

func TestExePathResolvesRealProcess(t *testing.T) {
	p, err := exePath(os.Getpid())
	if err != nil {
		t.Fatalf("exePath: %v", err)
	}
	if p == "" {
		t.Fatalf("expected a non-empty executable path for the test binary's own pid")
	}
}

func TestExePathErrorsForNonexistentPid(t *testing.T) {
	if _, err := exePath(1 << 30); err == nil {
		t.Fatalf("expected an error for a nonexistent pid")
	}
}

func TestLibPathMissesWhenNoLibpythonMapped(t *testing.T) {
	// The Go test binary itself never maps libpython.
	lib, err := libPath(os.Getpid())
	if err != nil {
		t.Fatalf("libPath: %v", err)
	}
	if lib != "" {
		t.Fatalf("got %q, want \"\" (the test binary has no libpython mapping)", lib)
	}
}

func TestLibPathErrorsWhenMapsUnreadable(t *testing.T) {
	if _, err := libPath(1 << 30); err == nil {
		t.Fatalf("expected an error when /proc/<pid>/maps cannot be opened")
	}
}
