// Package watch observes project worktree directories and reports when a
// session's worktree vanishes from disk, so terminals for deleted
// worktrees are torn down even when no backend event arrives.
package watch

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// RemovedFunc is called with the project path and session id of a
// worktree that disappeared.
type RemovedFunc func(projectPath, sessionID string)

// Watcher monitors the .worktrees directory of each watched project.
type Watcher struct {
	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	projects map[string]string // watched dir -> project path
	onRemove RemovedFunc
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a watcher delivering removals to onRemove.
func New(onRemove RemovedFunc, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		fsw:      fsw,
		projects: make(map[string]string),
		onRemove: onRemove,
		logger:   logger.With("component", "watch"),
		stop:     make(chan struct{}),
	}, nil
}

// WatchProject starts watching a project's worktree directory. Watching
// a project twice, or one without a worktree directory yet, is harmless.
func (w *Watcher) WatchProject(projectPath, worktreeDir string) {
	dir := filepath.Join(projectPath, worktreeDir)

	w.mu.Lock()
	if _, ok := w.projects[dir]; ok {
		w.mu.Unlock()
		return
	}
	w.projects[dir] = projectPath
	w.mu.Unlock()

	if err := w.fsw.Add(dir); err != nil {
		w.logger.Debug("watching worktree dir", "dir", dir, "err", err)
		w.mu.Lock()
		delete(w.projects, dir)
		w.mu.Unlock()
	}
}

// Run consumes filesystem events until Stop. Removal or rename of a
// directory directly under a watched worktree dir reports that session
// as removed.
func (w *Watcher) Run() {
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.handleRemoval(ev.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("filesystem watch error", "err", err)
		}
	}
}

func (w *Watcher) handleRemoval(path string) {
	dir := filepath.Dir(path)
	sessionID := filepath.Base(path)

	w.mu.Lock()
	project, ok := w.projects[dir]
	w.mu.Unlock()
	if !ok || sessionID == "." || sessionID == "" {
		return
	}

	w.logger.Info("worktree removed from disk", "project", project, "session", sessionID)
	if w.onRemove != nil {
		w.onRemove(project, sessionID)
	}
}

// Stop ends the watch loop and closes the underlying watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		w.fsw.Close()
	})
}
