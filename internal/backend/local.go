package backend

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-errors/errors"

	"github.com/helmdesk/helmdesk/internal/git"
	"github.com/helmdesk/helmdesk/internal/session"
)

// LocalSessionFetcher discovers sessions from a project's .worktrees
// directory: each worktree directory is one running session whose id is
// the directory name. It stands in for a remote session service when
// helmdesk runs against a plain local checkout.
type LocalSessionFetcher struct {
	logger *slog.Logger
}

// NewLocalSessionFetcher creates a fetcher reading from the filesystem.
func NewLocalSessionFetcher(logger *slog.Logger) *LocalSessionFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalSessionFetcher{logger: logger.With("component", "fetcher")}
}

// FetchSession returns the current snapshot for one session, or an error
// if the session's worktree does not exist.
func (f *LocalSessionFetcher) FetchSession(ctx context.Context, projectPath, sessionID string) (*session.Snapshot, error) {
	worktree := filepath.Join(projectPath, ".worktrees", sessionID)

	info, err := os.Stat(worktree)
	if err != nil || !info.IsDir() {
		return nil, errors.Errorf("session %s has no worktree under %s", sessionID, projectPath)
	}

	return f.snapshotFor(projectPath, sessionID, worktree), nil
}

// ListSessions enumerates every session the project's worktree directory
// holds. A project with no .worktrees directory has no sessions.
func (f *LocalSessionFetcher) ListSessions(ctx context.Context, projectPath string) ([]*session.Snapshot, error) {
	dir := filepath.Join(projectPath, ".worktrees")

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var snaps []*session.Snapshot
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		snaps = append(snaps, f.snapshotFor(projectPath, e.Name(), filepath.Join(dir, e.Name())))
	}
	return snaps, nil
}

func (f *LocalSessionFetcher) snapshotFor(projectPath, sessionID, worktree string) *session.Snapshot {
	snap := &session.Snapshot{
		SessionID:    sessionID,
		ProjectPath:  projectPath,
		State:        session.StateRunning,
		WorktreePath: worktree,
	}

	if info, err := git.GetRepoInfo(worktree); err == nil {
		snap.Branch = info.Branch
	} else {
		f.logger.Debug("worktree has no repo info", "worktree", worktree, "err", err)
	}

	return snap
}
