// Package git provides the repository and worktree introspection the
// selection coordinator validates paths against.
package git

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// RepoInfo contains information about a git repository.
type RepoInfo struct {
	Root   string // absolute path to repo root
	Name   string // derived name (directory name)
	Branch string // current branch
}

// FindRepoRoot finds the main git repository root from the given path.
// For worktrees, this returns the main repository root, not the worktree path.
func FindRepoRoot(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("getting absolute path: %w", err)
	}

	// Use --git-common-dir to get the common .git directory
	// This returns the main repo's .git dir even when in a worktree
	cmd := exec.Command("git", "-C", absPath, "rev-parse", "--git-common-dir")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("not a git repository: %s", absPath)
	}

	gitDir := strings.TrimSpace(stdout.String())

	// If gitDir is relative (like ".git"), we need to make it absolute
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(absPath, gitDir)
	}

	// Clean the path to resolve any ".." components
	gitDir = filepath.Clean(gitDir)

	// The repo root is the parent of the .git directory
	repoRoot := filepath.Dir(gitDir)

	return repoRoot, nil
}

// GetRepoInfo returns information about the repository containing the given path.
func GetRepoInfo(path string) (*RepoInfo, error) {
	root, err := FindRepoRoot(path)
	if err != nil {
		return nil, err
	}

	// Get branch from the original path (not root) to get the correct branch for worktrees
	branch, err := GetCurrentBranch(path)
	if err != nil {
		branch = "unknown"
	}

	return &RepoInfo{
		Root:   root,
		Name:   filepath.Base(root),
		Branch: branch,
	}, nil
}

// GetCurrentBranch returns the current branch name for the given path.
func GetCurrentBranch(path string) (string, error) {
	cmd := exec.Command("git", "-C", path, "branch", "--show-current")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		// Detached HEAD
		cmd = exec.Command("git", "-C", path, "rev-parse", "--short", "HEAD")
		cmd.Stdout = &stdout
		if err := cmd.Run(); err != nil {
			return "", err
		}
	}

	branch := strings.TrimSpace(stdout.String())
	if branch == "" {
		return "HEAD", nil
	}
	return branch, nil
}

// IsWorkingCopy reports whether the path is inside a checked-out git
// working tree. Terminal creation is gated on this: a session directory
// that is not a valid working copy gets no process.
func IsWorkingCopy(path string) bool {
	cmd := exec.Command("git", "-C", path, "rev-parse", "--is-inside-work-tree")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return false
	}
	return strings.TrimSpace(stdout.String()) == "true"
}

// ShortenPath shortens a path for display by replacing home dir with ~.
func ShortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if strings.HasPrefix(path, home) {
		return "~" + strings.TrimPrefix(path, home)
	}
	return path
}
