// Package snapshot caches session lifecycle snapshots fetched from the
// backend. Entries never expire on their own; the coordinator invalidates
// or refreshes them when a lifecycle event says the world changed.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/helmdesk/helmdesk/internal/backend"
	"github.com/helmdesk/helmdesk/internal/session"
)

// Cache is a keyed snapshot store with request coalescing. Concurrent
// cache-miss loads for the same session share one backend fetch.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*session.Snapshot
	group   singleflight.Group
	fetcher backend.SessionFetcher
	logger  *slog.Logger
}

// New creates a cache reading through the given fetcher.
func New(fetcher backend.SessionFetcher, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		entries: make(map[string]*session.Snapshot),
		fetcher: fetcher,
		logger:  logger.With("component", "snapshot"),
	}
}

func key(projectPath, sessionID string) string {
	return fmt.Sprintf("%s\x00%s", projectPath, sessionID)
}

// Get returns the snapshot for a session. A cached entry is returned
// as-is unless refresh is set, which always fetches from the backend and
// bypasses the coalescing group so the result is never an in-flight
// stale read. A failed fetch falls back to the previously cached entry;
// the caller sees an error only when no prior entry exists.
func (c *Cache) Get(ctx context.Context, projectPath, sessionID string, refresh bool) (*session.Snapshot, error) {
	k := key(projectPath, sessionID)

	if !refresh {
		c.mu.Lock()
		snap, ok := c.entries[k]
		c.mu.Unlock()
		if ok {
			return snap, nil
		}

		v, err, _ := c.group.Do(k, func() (interface{}, error) {
			return c.fetch(ctx, k, projectPath, sessionID)
		})
		if err != nil {
			return nil, err
		}
		return v.(*session.Snapshot), nil
	}

	snap, err := c.fetch(ctx, k, projectPath, sessionID)
	if err != nil {
		c.mu.Lock()
		stale, ok := c.entries[k]
		c.mu.Unlock()
		if ok {
			c.logger.Warn("refresh failed, serving stale snapshot",
				"project", projectPath, "session", sessionID, "err", err)
			return stale, nil
		}
		return nil, err
	}
	return snap, nil
}

// fetch loads from the backend and stores the result on success. On
// failure the cached entry, if any, stays in place for later reads.
func (c *Cache) fetch(ctx context.Context, k, projectPath, sessionID string) (*session.Snapshot, error) {
	snap, err := c.fetcher.FetchSession(ctx, projectPath, sessionID)
	if err != nil {
		c.logger.Debug("snapshot fetch failed", "project", projectPath, "session", sessionID, "err", err)
		return nil, err
	}

	c.mu.Lock()
	c.entries[k] = snap
	c.mu.Unlock()
	return snap, nil
}

// Peek returns the cached snapshot without touching the backend.
func (c *Cache) Peek(projectPath, sessionID string) (*session.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.entries[key(projectPath, sessionID)]
	return snap, ok
}

// Put stores a snapshot directly, for results that arrived by other
// means such as a full project listing.
func (c *Cache) Put(snap *session.Snapshot) {
	if snap == nil {
		return
	}
	c.mu.Lock()
	c.entries[key(snap.ProjectPath, snap.SessionID)] = snap
	c.mu.Unlock()
}

// Invalidate drops one session's cached entry.
func (c *Cache) Invalidate(projectPath, sessionID string) {
	c.mu.Lock()
	delete(c.entries, key(projectPath, sessionID))
	c.mu.Unlock()
}

// InvalidateProject drops every cached entry for a project.
func (c *Cache) InvalidateProject(projectPath string) {
	prefix := projectPath + "\x00"
	c.mu.Lock()
	for k := range c.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Reset drops all cached entries, for test isolation.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]*session.Snapshot)
	c.mu.Unlock()
}
