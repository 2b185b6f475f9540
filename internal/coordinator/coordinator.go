// Package coordinator holds the selection state machine and the event
// router: it maps what the user is looking at onto concrete terminal
// identities, creates and tears down backend processes as sessions move
// through their lifecycle, and keeps that mapping correct under stale and
// cross-project events.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helmdesk/helmdesk/internal/backend"
	"github.com/helmdesk/helmdesk/internal/registry"
	"github.com/helmdesk/helmdesk/internal/session"
	"github.com/helmdesk/helmdesk/internal/snapshot"
	"github.com/helmdesk/helmdesk/internal/store"
)

// ErrSnapshotUnavailable reports that a session selection could not be
// resolved to a snapshot. The previous selection stays in place; callers
// that need to react to the fallback can test for this error.
var ErrSnapshotUnavailable = errors.New("session snapshot unavailable")

// EventKind enumerates inbound lifecycle events.
type EventKind int

const (
	EventSessionAdded EventKind = iota
	EventSessionRemoved
	EventSessionStateChanged
	EventSessionsRefreshed
	EventSelectionRequested
	EventWorktreeRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventSessionAdded:
		return "session-added"
	case EventSessionRemoved:
		return "session-removed"
	case EventSessionStateChanged:
		return "state-changed"
	case EventSessionsRefreshed:
		return "sessions-refreshed"
	case EventSelectionRequested:
		return "selection-requested"
	case EventWorktreeRemoved:
		return "worktree-removed"
	default:
		return "unknown"
	}
}

// Event is one inbound lifecycle event. Ordering is not guaranteed
// across projects; every event carries enough identity to scope its
// effect.
type Event struct {
	Kind        EventKind
	ProjectPath string
	SessionID   string
	State       session.State
	Sessions    []*session.Snapshot // EventSessionsRefreshed only
	AgentType   string              // startup hint, EventSessionAdded only
}

// Options modifies a SetSelection call.
type Options struct {
	// ForceRecreate tears down live terminals for the target and builds
	// them fresh.
	ForceRecreate bool
	// Remember persists the selection for restore on the next project
	// switch.
	Remember bool
}

// Config carries the coordinator's tunables.
type Config struct {
	// PendingStartupTTL bounds how long an expected session start is
	// waited for before its entry is swept.
	PendingStartupTTL time.Duration
	// ShowSpecSessions controls whether remembered spec-state sessions
	// are restored on project switch.
	ShowSpecSessions bool
}

func (c Config) withDefaults() Config {
	if c.PendingStartupTTL <= 0 {
		c.PendingStartupTTL = 30 * time.Second
	}
	return c
}

// Deps are the coordinator's collaborators. Store may be nil; selection
// persistence is then disabled.
type Deps struct {
	Procs       backend.ProcessClient
	Registry    *registry.Registry
	Cache       *snapshot.Cache
	Store       *store.Store
	NewEmulator func() (backend.Emulator, error)
	Logger      *slog.Logger
}

type pendingStartup struct {
	agentType string
	expires   time.Time
}

// Coordinator is the single owner of selection state. All mutation goes
// through its methods under one mutex; blocking calls drop the lock and
// re-validate with epoch or change counters before committing results.
type Coordinator struct {
	mu   sync.Mutex
	cfg  Config
	deps Deps
	log  *slog.Logger

	// epoch advances on every project switch and selection transition.
	// A blocking operation captures it before suspending and discards
	// its result if it moved.
	epoch uint64

	activeProject string
	selection     session.Selection
	hasSelection  bool

	// held tracks the terminal ids this coordinator owns a registry
	// reference for, so reselecting a live target never double-acquires.
	held map[string]bool

	// lastKnown and changeSeq are keyed per (project, session).
	// changeSeq advances on every event for that session; a verification
	// fetch started at sequence N is discarded once the sequence passes N.
	lastKnown map[string]session.State
	changeSeq map[string]uint64

	pending map[string]pendingStartup
	now     func() time.Time
}

// New creates a coordinator.
func New(cfg Config, deps Deps) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:       cfg.withDefaults(),
		deps:      deps,
		log:       logger.With("component", "coordinator"),
		held:      make(map[string]bool),
		lastKnown: make(map[string]session.State),
		changeSeq: make(map[string]uint64),
		pending:   make(map[string]pendingStartup),
		now:       time.Now,
	}
}

func sessKey(projectPath, sessionID string) string {
	return projectPath + "\x00" + sessionID
}

// Selection returns the current selection, if any.
func (c *Coordinator) Selection() (session.Selection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selection, c.hasSelection
}

// ActiveProject returns the currently active project path.
func (c *Coordinator) ActiveProject() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeProject
}

// SetShowSpecSessions updates the spec-session filter. The filter
// decides whether a remembered spec-state selection is restored on a
// project switch, so the UI toggle has to push changes through.
func (c *Coordinator) SetShowSpecSessions(show bool) {
	c.mu.Lock()
	c.cfg.ShowSpecSessions = show
	c.mu.Unlock()
}

// SetProjectPath switches the active project and restores its remembered
// selection. A remembered session that no longer resolves, or whose
// state the active filter excludes, falls back to the orchestrator view.
func (c *Coordinator) SetProjectPath(ctx context.Context, path string) error {
	c.mu.Lock()
	if c.activeProject == path {
		c.mu.Unlock()
		return nil
	}
	c.epoch++
	c.activeProject = path
	c.selection = session.Orchestrator(path)
	c.hasSelection = true
	showSpec := c.cfg.ShowSpecSessions
	c.mu.Unlock()

	target := session.Orchestrator(path)
	if c.deps.Store != nil {
		remembered, err := c.deps.Store.LastSelection(ctx, path)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			c.log.Warn("loading remembered selection", "project", path, "err", err)
		case remembered.Kind == session.KindSession:
			snap, err := c.deps.Cache.Get(ctx, path, remembered.SessionID, false)
			if err != nil {
				c.log.Info("remembered session no longer resolves",
					"project", path, "session", remembered.SessionID, "err", err)
			} else if snap.State == session.StateSpec && !showSpec {
				c.log.Debug("remembered spec session filtered out",
					"project", path, "session", remembered.SessionID)
			} else {
				target = remembered
			}
		}
	}

	err := c.SetSelection(ctx, target, Options{})
	if errors.Is(err, ErrSnapshotUnavailable) {
		// remembered target vanished between validation and selection
		return c.SetSelection(ctx, session.Orchestrator(path), Options{})
	}
	return err
}

// SetSelection moves the selection to the given target, creating backend
// terminals where the target has something to run against. Selecting an
// unresolvable session keeps the previous selection and returns
// ErrSnapshotUnavailable.
func (c *Coordinator) SetSelection(ctx context.Context, sel session.Selection, opts Options) error {
	c.mu.Lock()

	if sel.Kind == session.KindSession && sel.ProjectPath != c.activeProject {
		c.log.Warn("session selection outside active project, using orchestrator",
			"project", sel.ProjectPath, "active", c.activeProject)
		sel = session.Orchestrator(c.activeProject)
	}

	// Enrich a session selection missing lifecycle fields from the cache.
	if sel.Kind == session.KindSession && sel.WorktreePath == "" {
		ep := c.epoch
		c.mu.Unlock()

		snap, err := c.deps.Cache.Get(ctx, sel.ProjectPath, sel.SessionID, opts.ForceRecreate)

		c.mu.Lock()
		if c.epoch != ep {
			c.mu.Unlock()
			c.log.Debug("selection superseded during snapshot fetch", "session", sel.SessionID)
			return nil
		}
		if err != nil {
			c.mu.Unlock()
			c.log.Warn("selection target has no snapshot, keeping previous selection",
				"project", sel.ProjectPath, "session", sel.SessionID, "err", err)
			return ErrSnapshotUnavailable
		}
		sel.SessionState = snap.State
		sel.WorktreePath = snap.WorktreePath
		c.lastKnown[sessKey(sel.ProjectPath, sel.SessionID)] = snap.State
	}

	set := sel.Terminals()
	unchanged := c.hasSelection && c.selection.Equal(sel)
	live := c.held[set.TopID] && c.held[set.BottomID]

	if unchanged && live && !opts.ForceRecreate {
		c.selection = sel // keep lifecycle fields current
		c.mu.Unlock()
		if opts.Remember {
			c.remember(ctx, sel)
		}
		return nil
	}

	c.epoch++
	ep := c.epoch
	c.selection = sel
	c.hasSelection = true

	if opts.ForceRecreate {
		for _, id := range []string{set.TopID, set.BottomID} {
			if c.held[id] {
				delete(c.held, id)
				c.deps.Registry.ForceRemove(id)
			}
		}
		live = false
	}
	c.mu.Unlock()

	if err := c.ensureTerminals(ctx, ep, set); err != nil {
		return err
	}
	if opts.Remember {
		c.remember(ctx, sel)
	}
	return nil
}

// ensureTerminals validates the working directory and acquires the two
// terminals of a set, spawning backend processes for new handles. A set
// with no working directory, a vanished path, or a directory that is not
// a valid working copy creates nothing.
func (c *Coordinator) ensureTerminals(ctx context.Context, ep uint64, set session.TerminalSet) error {
	if set.WorkingDir == "" {
		c.log.Debug("selection has no working directory, skipping terminals", "owner", set.OwnerKey)
		return nil
	}

	ok := c.deps.Procs.PathExists(set.WorkingDir) &&
		c.deps.Procs.DirectoryIsVersionControlled(set.WorkingDir)

	c.mu.Lock()
	if c.epoch != ep {
		c.mu.Unlock()
		c.log.Debug("selection superseded during path validation", "owner", set.OwnerKey)
		return nil
	}
	if !ok {
		c.mu.Unlock()
		c.log.Info("working directory failed validation, skipping terminals",
			"dir", set.WorkingDir, "owner", set.OwnerKey)
		return nil
	}

	type job struct {
		id    string
		isNew bool
	}
	var jobs []job
	for _, id := range []string{set.TopID, set.BottomID} {
		if c.held[id] {
			continue
		}
		_, isNew, err := c.deps.Registry.Acquire(id, set.OwnerKey, registry.Factory(c.deps.NewEmulator))
		if err != nil {
			c.log.Warn("acquiring terminal", "terminal", id, "err", err)
			continue
		}
		c.held[id] = true
		jobs = append(jobs, job{id: id, isNew: isNew})
	}
	c.mu.Unlock()

	for _, j := range jobs {
		if !j.isNew {
			continue
		}
		if err := c.deps.Procs.CreateTerminalProcess(ctx, j.id, set.WorkingDir); err != nil {
			c.log.Warn("creating terminal process", "terminal", j.id, "err", err)
		}
	}
	return nil
}

// remember persists the selection, logging failures only.
func (c *Coordinator) remember(ctx context.Context, sel session.Selection) {
	if c.deps.Store == nil {
		return
	}
	if err := c.deps.Store.RememberSelection(ctx, sel); err != nil {
		c.log.Warn("remembering selection", "project", sel.ProjectPath, "err", err)
	}
}

// HandleEvent routes one inbound lifecycle event. Events for a
// non-active project touch only that project's cache and terminal
// bookkeeping; they never mutate the active selection.
func (c *Coordinator) HandleEvent(ctx context.Context, ev Event) {
	c.journal(ctx, ev)

	switch ev.Kind {
	case EventSessionAdded:
		c.handleSessionAdded(ev)
	case EventSessionRemoved:
		c.handleSessionRemoved(ctx, ev)
	case EventSessionStateChanged:
		c.handleStateChanged(ctx, ev)
	case EventSessionsRefreshed:
		c.handleSessionsRefreshed(ctx, ev)
	case EventSelectionRequested:
		c.handleSelectionRequested(ctx, ev)
	case EventWorktreeRemoved:
		c.handleWorktreeRemoved(ctx, ev)
	}
}

func (c *Coordinator) handleSessionAdded(ev Event) {
	key := sessKey(ev.ProjectPath, ev.SessionID)

	c.mu.Lock()
	c.changeSeq[key]++
	c.lastKnown[key] = ev.State
	if ev.State == session.StateRunning {
		delete(c.pending, key)
	} else if ev.AgentType != "" {
		c.pending[key] = pendingStartup{
			agentType: ev.AgentType,
			expires:   c.now().Add(c.cfg.PendingStartupTTL),
		}
	}
	c.mu.Unlock()

	c.deps.Cache.Invalidate(ev.ProjectPath, ev.SessionID)
}

func (c *Coordinator) handleSessionRemoved(ctx context.Context, ev Event) {
	key := sessKey(ev.ProjectPath, ev.SessionID)

	c.mu.Lock()
	c.changeSeq[key]++
	delete(c.lastKnown, key)
	delete(c.pending, key)
	wasActive := c.hasSelection &&
		c.selection.Kind == session.KindSession &&
		c.selection.ProjectPath == ev.ProjectPath &&
		c.selection.SessionID == ev.SessionID
	active := c.activeProject
	c.releaseSessionLocked(ev.SessionID)
	c.mu.Unlock()

	c.deps.Cache.Invalidate(ev.ProjectPath, ev.SessionID)

	if wasActive && ev.ProjectPath == active {
		if err := c.SetSelection(ctx, session.Orchestrator(active), Options{}); err != nil {
			c.log.Warn("falling back to orchestrator after session removal", "err", err)
		}
	}
}

// releaseSessionLocked drops the coordinator's references to a session's
// terminals through the registry's owner index.
func (c *Coordinator) releaseSessionLocked(sessionID string) {
	owner := session.OwnerKeyForSession(sessionID)
	for _, id := range c.deps.Registry.OwnedBy(owner) {
		delete(c.held, id)
	}
	c.deps.Registry.ReleaseOwner(owner)
}

func (c *Coordinator) handleStateChanged(ctx context.Context, ev Event) {
	key := sessKey(ev.ProjectPath, ev.SessionID)

	c.mu.Lock()
	c.changeSeq[key]++
	seq := c.changeSeq[key]
	prev, known := c.lastKnown[key]
	delete(c.pending, key) // started or diverged either way

	if ev.State == session.StateSpec && known && prev == session.StateRunning {
		// A spec transition for a running session may be a stale event
		// racing a slower earlier query. Verify against the backend
		// before tearing anything down.
		c.mu.Unlock()
		c.verifySpecTransition(ctx, ev, seq)
		return
	}

	c.lastKnown[key] = ev.State
	c.mu.Unlock()

	c.deps.Cache.Invalidate(ev.ProjectPath, ev.SessionID)
	c.updateSelectionState(ev.ProjectPath, ev.SessionID, ev.State)
}

// verifySpecTransition re-fetches the session before honoring a
// running→spec event. The fetch result is discarded if another event for
// the same session arrived in the meantime.
func (c *Coordinator) verifySpecTransition(ctx context.Context, ev Event, seq uint64) {
	key := sessKey(ev.ProjectPath, ev.SessionID)

	snap, err := c.deps.Cache.Get(ctx, ev.ProjectPath, ev.SessionID, true)

	c.mu.Lock()
	if c.changeSeq[key] != seq {
		c.mu.Unlock()
		c.log.Debug("spec verification superseded by newer event", "session", ev.SessionID)
		return
	}
	if err != nil {
		// Can't confirm; keep the terminals and the running state.
		c.mu.Unlock()
		c.log.Warn("verifying spec transition", "session", ev.SessionID, "err", err)
		return
	}
	if snap.State != session.StateSpec {
		c.lastKnown[key] = snap.State
		c.mu.Unlock()
		c.log.Info("spec transition not confirmed, keeping terminals",
			"session", ev.SessionID, "state", snap.State.String())
		c.updateSelectionState(ev.ProjectPath, ev.SessionID, snap.State)
		return
	}

	c.lastKnown[key] = session.StateSpec
	c.releaseSessionLocked(ev.SessionID)
	c.mu.Unlock()

	c.log.Info("spec transition confirmed, terminals released", "session", ev.SessionID)
	c.updateSelectionState(ev.ProjectPath, ev.SessionID, session.StateSpec)
}

// updateSelectionState keeps the active selection's lifecycle fields in
// step with a confirmed state change. The selection identity never moves.
func (c *Coordinator) updateSelectionState(projectPath, sessionID string, state session.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasSelection || c.selection.Kind != session.KindSession {
		return
	}
	if c.selection.ProjectPath != projectPath || c.selection.SessionID != sessionID {
		return
	}
	c.selection.SessionState = state
	if state == session.StateSpec {
		c.selection.WorktreePath = ""
	}
}

func (c *Coordinator) handleSessionsRefreshed(ctx context.Context, ev Event) {
	for _, snap := range ev.Sessions {
		c.deps.Cache.Put(snap)
	}

	c.mu.Lock()
	present := make(map[string]bool, len(ev.Sessions))
	for _, snap := range ev.Sessions {
		key := sessKey(snap.ProjectPath, snap.SessionID)
		present[snap.SessionID] = true
		if prev, ok := c.lastKnown[key]; !ok || prev != snap.State {
			c.changeSeq[key]++
		}
		c.lastKnown[key] = snap.State
	}
	if ev.ProjectPath != c.activeProject {
		c.mu.Unlock()
		return
	}
	activeGone := c.hasSelection &&
		c.selection.Kind == session.KindSession &&
		c.selection.ProjectPath == ev.ProjectPath &&
		!present[c.selection.SessionID]
	active := c.activeProject
	goneID := c.selection.SessionID
	c.mu.Unlock()

	if activeGone {
		c.HandleEvent(ctx, Event{
			Kind:        EventSessionRemoved,
			ProjectPath: active,
			SessionID:   goneID,
		})
	}
}

func (c *Coordinator) handleSelectionRequested(ctx context.Context, ev Event) {
	c.mu.Lock()
	active := c.activeProject
	c.mu.Unlock()

	if ev.ProjectPath != active {
		c.log.Debug("ignoring selection request for non-active project",
			"project", ev.ProjectPath, "active", active)
		return
	}

	var target session.Selection
	if ev.SessionID == "" {
		target = session.Orchestrator(ev.ProjectPath)
	} else {
		target = session.ForSession(ev.ProjectPath, ev.SessionID)
	}
	if err := c.SetSelection(ctx, target, Options{}); err != nil {
		c.log.Warn("applying requested selection", "session", ev.SessionID, "err", err)
	}
}

func (c *Coordinator) handleWorktreeRemoved(ctx context.Context, ev Event) {
	key := sessKey(ev.ProjectPath, ev.SessionID)

	c.mu.Lock()
	c.changeSeq[key]++
	c.lastKnown[key] = session.StateSpec
	delete(c.pending, key)
	c.releaseSessionLocked(ev.SessionID)
	c.mu.Unlock()

	c.deps.Cache.Invalidate(ev.ProjectPath, ev.SessionID)
	c.updateSelectionState(ev.ProjectPath, ev.SessionID, session.StateSpec)
}

// journal appends the event to the persistent journal when a store is
// configured.
func (c *Coordinator) journal(ctx context.Context, ev Event) {
	if c.deps.Store == nil {
		return
	}
	err := c.deps.Store.JournalEvent(ctx, store.Event{
		EventID:     uuid.NewString(),
		ProjectPath: ev.ProjectPath,
		SessionID:   ev.SessionID,
		Kind:        ev.Kind.String(),
		Detail:      ev.State.String(),
	})
	if err != nil {
		c.log.Warn("journaling event", "kind", ev.Kind.String(), "err", err)
	}
}

// ExpectStartup queues a pending-startup entry for a session expected to
// reach running soon.
func (c *Coordinator) ExpectStartup(projectPath, sessionID, agentType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[sessKey(projectPath, sessionID)] = pendingStartup{
		agentType: agentType,
		expires:   c.now().Add(c.cfg.PendingStartupTTL),
	}
}

// PendingStartup reports the agent-type hint for a session still
// expected to start. Expired entries read as absent.
func (c *Coordinator) PendingStartup(projectPath, sessionID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[sessKey(projectPath, sessionID)]
	if !ok || c.now().After(p.expires) {
		return "", false
	}
	return p.agentType, true
}

// SweepPending drops expired pending-startup entries. The app runs this
// on its refresh ticker.
func (c *Coordinator) SweepPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, p := range c.pending {
		if now.After(p.expires) {
			delete(c.pending, key)
		}
	}
}

// Reset clears all coordinator state, for test isolation. Registry and
// cache contents are reset by their own owners.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.activeProject = ""
	c.selection = session.Selection{}
	c.hasSelection = false
	c.held = make(map[string]bool)
	c.lastKnown = make(map[string]session.State)
	c.changeSeq = make(map[string]uint64)
	c.pending = make(map[string]pendingStartup)
}
