package git

import (
	"strings"
	"testing"
)

func TestShortenPath(t *testing.T) {
	// This test depends on the HOME environment variable
	path := "/some/absolute/path"
	result := ShortenPath(path)

	// Should not panic and return something
	if result == "" {
		t.Error("ShortenPath returned empty string")
	}
}

func TestIsWorkingCopyOnNonRepo(t *testing.T) {
	if IsWorkingCopy(t.TempDir()) {
		t.Error("empty temp dir reported as a working copy")
	}
}

func TestIsWorkingCopyOnMissingPath(t *testing.T) {
	if IsWorkingCopy("/does/not/exist") {
		t.Error("missing path reported as a working copy")
	}
}

func TestRepoInfoStruct(t *testing.T) {
	info := &RepoInfo{
		Root:   "/test/repo",
		Name:   "repo",
		Branch: "main",
	}

	if info.Root != "/test/repo" {
		t.Errorf("expected root '/test/repo', got '%s'", info.Root)
	}
	if info.Name != "repo" {
		t.Errorf("expected name 'repo', got '%s'", info.Name)
	}
}

func TestShortenPathWithHome(t *testing.T) {
	// Test that paths with home directory get shortened
	// This is a behavioral test - actual result depends on HOME env var
	path := ShortenPath("/absolute/path/no/home")
	if strings.HasPrefix(path, "~") && !strings.Contains("/absolute/path/no/home", "~") {
		t.Error("path without home should not start with ~")
	}
}
