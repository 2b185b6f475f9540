// Package session defines the session lifecycle model and the mapping from
// a selection to its terminal identities.
package session

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// State represents the lifecycle state of an agent session.
type State int

const (
	// StateSpec is a drafted session with no worktree yet.
	StateSpec State = iota
	// StateRunning is a session with a live worktree and agent.
	StateRunning
	// StateReviewed is a finished session awaiting merge or archive.
	StateReviewed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateReviewed:
		return "reviewed"
	default:
		return "spec"
	}
}

// ParseState converts a wire-level state string to a State.
// Unknown strings map to StateSpec, the most conservative state.
func ParseState(s string) State {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "running":
		return StateRunning
	case "reviewed":
		return StateReviewed
	default:
		return StateSpec
	}
}

// Snapshot is the last known state of a session, cached per project.
type Snapshot struct {
	SessionID    string
	ProjectPath  string
	State        State
	WorktreePath string
	Branch       string
	ReadyToMerge bool
}

// SelectionKind distinguishes the two selection variants.
type SelectionKind int

const (
	// KindOrchestrator is the project-level overview selection.
	KindOrchestrator SelectionKind = iota
	// KindSession is a selection of one concrete session.
	KindSession
)

func (k SelectionKind) String() string {
	if k == KindSession {
		return "session"
	}
	return "orchestrator"
}

// ParseSelectionKind converts a persisted kind string to a SelectionKind.
// Unknown strings map to the orchestrator view.
func ParseSelectionKind(s string) SelectionKind {
	if strings.ToLower(strings.TrimSpace(s)) == "session" {
		return KindSession
	}
	return KindOrchestrator
}

// Selection is what the user is currently looking at: either the
// orchestrator view for a project, or one session within it.
type Selection struct {
	Kind         SelectionKind
	ProjectPath  string
	SessionID    string
	SessionState State
	WorktreePath string
}

// Orchestrator returns the orchestrator selection for a project.
func Orchestrator(projectPath string) Selection {
	return Selection{Kind: KindOrchestrator, ProjectPath: projectPath}
}

// ForSession returns a session selection. Lifecycle fields may be zero and
// enriched later from a snapshot.
func ForSession(projectPath, sessionID string) Selection {
	return Selection{Kind: KindSession, ProjectPath: projectPath, SessionID: sessionID}
}

// Equal reports whether two selections address the same target.
// Lifecycle fields do not participate: the same session in a different
// state is still the same selection.
func (s Selection) Equal(o Selection) bool {
	if s.Kind != o.Kind || s.ProjectPath != o.ProjectPath {
		return false
	}
	if s.Kind == KindSession {
		return s.SessionID == o.SessionID
	}
	return true
}

// TerminalSet is the pair of terminal identities a selection implies.
// It is derived, never stored.
type TerminalSet struct {
	TopID      string
	BottomID   string
	WorkingDir string
	OwnerKey   string // registry index key for the owning selection
}

// Terminals derives the terminal set implied by a selection. The working
// directory is empty for spec sessions, which have no worktree; callers
// must additionally validate that the path still exists.
func (s Selection) Terminals() TerminalSet {
	if s.Kind == KindOrchestrator {
		h := hashPath(s.ProjectPath)
		return TerminalSet{
			TopID:      fmt.Sprintf("orch-%s-top", h),
			BottomID:   fmt.Sprintf("orch-%s-bottom", h),
			WorkingDir: s.ProjectPath,
			OwnerKey:   "orch:" + h,
		}
	}
	ts := TerminalSet{
		TopID:    fmt.Sprintf("sess-%s-top", s.SessionID),
		BottomID: fmt.Sprintf("sess-%s-bottom", s.SessionID),
		OwnerKey: "sess:" + s.SessionID,
	}
	if s.SessionState != StateSpec {
		ts.WorkingDir = s.WorktreePath
	}
	return ts
}

// OwnerKeyForSession returns the registry index key used for a session's
// terminals without deriving the full set.
func OwnerKeyForSession(sessionID string) string {
	return "sess:" + sessionID
}

// hashPath returns a short stable hash of a project path, used so
// orchestrator terminal ids stay stable across restarts.
func hashPath(path string) string {
	h := fnv.New64a()
	h.Write([]byte(path))
	return fmt.Sprintf("%x", h.Sum64())
}
