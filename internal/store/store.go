// Package store persists the small amount of state that outlives a
// process: the remembered selection per project and a journal of
// lifecycle events, in a single sqlite file.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/helmdesk/helmdesk/internal/session"
)

// ErrNotFound is returned when a project has no remembered selection.
var ErrNotFound = errors.New("not found")

// Store is the sqlite-backed persistence layer.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS remembered_selection (
	project_path TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	session_id   TEXT NOT NULL DEFAULT '',
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS session_events (
	event_id     TEXT PRIMARY KEY,
	project_path TEXT NOT NULL,
	session_id   TEXT NOT NULL,
	kind         TEXT NOT NULL,
	detail       TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_session_events_created
	ON session_events(created_at);
`

// Open creates or opens the store at path, applying the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		db.Close()
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// RememberSelection stores the selection to restore the next time the
// project is opened. One row per project; later writes win.
func (s *Store) RememberSelection(ctx context.Context, sel session.Selection) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO remembered_selection(project_path, kind, session_id, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(project_path) DO UPDATE SET
	kind=excluded.kind,
	session_id=excluded.session_id,
	updated_at=excluded.updated_at`,
		sel.ProjectPath, sel.Kind.String(), sel.SessionID, ts(time.Now()))
	if err != nil {
		return fmt.Errorf("remember selection: %w", err)
	}
	return nil
}

// LastSelection returns the remembered selection for a project, or
// ErrNotFound when none was stored. Lifecycle fields are not persisted;
// the caller re-validates against a fresh snapshot before acting.
func (s *Store) LastSelection(ctx context.Context, projectPath string) (session.Selection, error) {
	var kind, sessionID string
	err := s.db.QueryRowContext(ctx, `
SELECT kind, session_id FROM remembered_selection WHERE project_path = ?`,
		projectPath).Scan(&kind, &sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Selection{}, ErrNotFound
	}
	if err != nil {
		return session.Selection{}, fmt.Errorf("load selection: %w", err)
	}
	return session.Selection{
		Kind:        session.ParseSelectionKind(kind),
		ProjectPath: projectPath,
		SessionID:   sessionID,
	}, nil
}

// ForgetSelection drops a project's remembered selection.
func (s *Store) ForgetSelection(ctx context.Context, projectPath string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM remembered_selection WHERE project_path = ?`, projectPath)
	if err != nil {
		return fmt.Errorf("forget selection: %w", err)
	}
	return nil
}

// Event is one journaled lifecycle event.
type Event struct {
	EventID     string
	ProjectPath string
	SessionID   string
	Kind        string
	Detail      string
	CreatedAt   time.Time
}

// JournalEvent appends a lifecycle event to the journal.
func (s *Store) JournalEvent(ctx context.Context, ev Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO session_events(event_id, project_path, session_id, kind, detail, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.ProjectPath, ev.SessionID, ev.Kind, ev.Detail, ts(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("journal event: %w", err)
	}
	return nil
}

// RecentEvents returns the newest events, most recent first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT event_id, project_path, session_id, kind, detail, created_at
FROM session_events ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var created string
		if err := rows.Scan(&ev.EventID, &ev.ProjectPath, &ev.SessionID, &ev.Kind, &ev.Detail, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			ev.CreatedAt = t
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// PruneEvents deletes journal rows older than the cutoff.
func (s *Store) PruneEvents(ctx context.Context, olderThan time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM session_events WHERE created_at < ?`, ts(olderThan))
	if err != nil {
		return fmt.Errorf("prune events: %w", err)
	}
	return nil
}

// Reset clears all persisted state, for test isolation.
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{"remembered_selection", "session_events"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}
