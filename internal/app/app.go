// Package app wires the streaming engine and the selection coordinator
// into the gocui shell: a session list on the left, the selected
// target's two terminal panes on the right.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-errors/errors"
	"github.com/jesseduffield/gocui"

	"github.com/helmdesk/helmdesk/internal/backend"
	"github.com/helmdesk/helmdesk/internal/config"
	"github.com/helmdesk/helmdesk/internal/control"
	"github.com/helmdesk/helmdesk/internal/coordinator"
	"github.com/helmdesk/helmdesk/internal/git"
	"github.com/helmdesk/helmdesk/internal/registry"
	"github.com/helmdesk/helmdesk/internal/session"
	"github.com/helmdesk/helmdesk/internal/snapshot"
	"github.com/helmdesk/helmdesk/internal/store"
	"github.com/helmdesk/helmdesk/internal/stream"
	"github.com/helmdesk/helmdesk/internal/ui"
	"github.com/helmdesk/helmdesk/internal/version"
	"github.com/helmdesk/helmdesk/internal/watch"
)

const (
	sessionsViewName = "sessions"
	topPaneViewName  = "pane-top"
	botPaneViewName  = "pane-bottom"
	statusViewName   = "status"
	helpViewName     = "help"
)

// Focus targets, cycled by the focus-next key. Keystrokes only reach a
// terminal while its pane has focus.
const (
	focusList = iota
	focusTop
	focusBottom
)

// paneSize remembers the last dimensions pushed to a pane's terminal so
// layout only resizes on change.
type paneSize struct {
	id   string
	rows int
	cols int
}

// App is the main application.
type App struct {
	gui    *gocui.Gui
	cfg    *config.Config
	logger *slog.Logger

	procs   *backend.PtyClient
	fetcher backend.SessionFetcher
	sched   *stream.Scheduler
	reg     *registry.Registry
	cache   *snapshot.Cache
	coord   *coordinator.Coordinator
	db      *store.Store
	watcher *watch.Watcher

	project string

	mu          sync.Mutex
	sessions    []*session.Snapshot
	cursor      int
	focus       int
	showSpecs   bool
	helpVisible bool
	attached    []string
	topSize     paneSize
	botSize     paneSize
}

// guiSurface repaints the gui when a mounted terminal receives output.
type guiSurface struct {
	app *App
}

func (s *guiSurface) Invalidate() {
	s.app.requestRedraw()
}

// New builds the full application for one project.
func New(cfg *config.Config, projectPath string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		cfg:       cfg,
		logger:    logger.With("component", "app"),
		project:   projectPath,
		showSpecs: cfg.ShowSpecSessions,
	}

	classifier := control.NewClassifier(logger)
	a.sched = stream.NewScheduler(stream.Config{
		FrameInterval: cfg.FrameInterval(),
		NormalBudget:  cfg.Stream.NormalBudget,
		TightBudget:   cfg.Stream.TightBudget,
		HighWater:     cfg.Stream.HighWaterMark,
		FollowSlack:   cfg.Stream.FollowSlack,
	}, classifier, logger)

	a.procs = backend.NewPtyClient(cfg.Shell, 40, 120, a.sched.Append, logger)
	a.reg = registry.New(a.sched, a.procs, logger)
	a.fetcher = backend.NewLocalSessionFetcher(logger)
	a.cache = snapshot.New(a.fetcher, logger)

	db, err := store.Open(context.Background(), cfg.DatabaseFile())
	if err != nil {
		// Persistence is a convenience; run without it.
		a.logger.Warn("opening selection store", "err", err)
	} else {
		a.db = db
	}

	a.coord = coordinator.New(coordinator.Config{
		PendingStartupTTL: cfg.PendingStartupTTL(),
		ShowSpecSessions:  cfg.ShowSpecSessions,
	}, coordinator.Deps{
		Procs:    a.procs,
		Registry: a.reg,
		Cache:    a.cache,
		Store:    a.db,
		NewEmulator: func() (backend.Emulator, error) {
			return backend.NewMidtermEmulator(40, 120), nil
		},
		Logger: logger,
	})

	w, err := watch.New(a.onWorktreeRemoved, logger)
	if err != nil {
		a.logger.Warn("starting worktree watcher", "err", err)
	} else {
		a.watcher = w
		a.watcher.WatchProject(projectPath, cfg.WorktreeDir)
	}

	return a, nil
}

// Run runs the application until quit.
func (a *App) Run() error {
	ctx := context.Background()

	g, err := gocui.NewGui(gocui.NewGuiOpts{OutputMode: gocui.OutputNormal})
	if err != nil {
		return errors.Errorf("initializing gui: %v", err)
	}
	a.gui = g
	defer a.shutdown()

	g.SetManagerFunc(a.layout)
	g.Mouse = false
	g.Cursor = false

	if err := a.setupKeybindings(); err != nil {
		return err
	}

	if err := a.coord.SetProjectPath(ctx, a.project); err != nil {
		a.logger.Warn("selecting project", "project", a.project, "err", err)
	}
	a.refresh(ctx)
	a.syncAttachments()

	go a.sched.Run()
	if a.watcher != nil {
		go a.watcher.Run()
	}
	stopRefresh := make(chan struct{})
	go a.backgroundRefresh(stopRefresh)

	err = g.MainLoop()
	close(stopRefresh)

	if err != nil && err != gocui.ErrQuit {
		return err
	}
	return nil
}

// shutdown tears everything down in dependency order.
func (a *App) shutdown() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	a.sched.Stop()
	a.reg.Reset()
	a.procs.CloseAll(context.Background())
	if a.db != nil {
		a.db.Close()
	}
	a.gui.Close()
}

// requestRedraw schedules a repaint on the gui loop.
func (a *App) requestRedraw() {
	if a.gui == nil {
		return
	}
	a.gui.Update(func(g *gocui.Gui) error {
		return nil // layout runs after every Update
	})
}

// onWorktreeRemoved forwards a filesystem removal into the coordinator.
func (a *App) onWorktreeRemoved(projectPath, sessionID string) {
	a.coord.HandleEvent(context.Background(), coordinator.Event{
		Kind:        coordinator.EventWorktreeRemoved,
		ProjectPath: projectPath,
		SessionID:   sessionID,
	})
	a.requestRedraw()
}

// refresh re-lists the project's sessions and routes the result through
// the coordinator as a refresh event.
func (a *App) refresh(ctx context.Context) {
	snaps, err := a.fetcher.ListSessions(ctx, a.project)
	if err != nil {
		a.logger.Warn("listing sessions", "project", a.project, "err", err)
		return
	}

	a.coord.HandleEvent(ctx, coordinator.Event{
		Kind:        coordinator.EventSessionsRefreshed,
		ProjectPath: a.project,
		Sessions:    snaps,
	})
	a.coord.SweepPending()

	a.mu.Lock()
	a.sessions = snaps
	if a.cursor > len(a.visibleLocked()) {
		a.cursor = 0
	}
	a.mu.Unlock()
}

// visibleLocked returns the session rows under the current spec filter.
// Caller holds a.mu.
func (a *App) visibleLocked() []*session.Snapshot {
	if a.showSpecs {
		return a.sessions
	}
	var out []*session.Snapshot
	for _, s := range a.sessions {
		if s.State != session.StateSpec {
			out = append(out, s)
		}
	}
	return out
}

// backgroundRefresh refreshes session state on the configured interval.
func (a *App) backgroundRefresh(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Duration(a.cfg.RefreshInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.gui.Update(func(g *gocui.Gui) error {
				a.refresh(context.Background())
				a.syncAttachments()
				return nil
			})
		}
	}
}

// layout is the gocui manager function.
func (a *App) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()

	splitX := maxX / 3
	if splitX < 25 {
		splitX = 25
	}
	paneSplitY := (maxY - 1) / 2

	lv, err := g.SetView(sessionsViewName, 0, 0, splitX-1, maxY-2, 0)
	if err != nil && !errors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	lv.Title = " Sessions "
	lv.Wrap = false
	lv.Frame = true

	tv, err := g.SetView(topPaneViewName, splitX, 0, maxX-1, paneSplitY-1, 0)
	if err != nil && !errors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	tv.Editor = gocui.EditorFunc(a.terminalEditor)
	bv, err := g.SetView(botPaneViewName, splitX, paneSplitY, maxX-1, maxY-2, 0)
	if err != nil && !errors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	bv.Editor = gocui.EditorFunc(a.terminalEditor)

	sv, err := g.SetView(statusViewName, -1, maxY-2, maxX, maxY, 0)
	if err != nil && !errors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	sv.Frame = false

	a.render(g, lv, tv, bv, sv)

	if a.helpVisible {
		if err := a.layoutHelp(g); err != nil {
			return err
		}
	} else {
		g.DeleteView(helpViewName)
		a.mu.Lock()
		focus := a.focus
		a.mu.Unlock()
		current := sessionsViewName
		switch focus {
		case focusTop:
			current = topPaneViewName
		case focusBottom:
			current = botPaneViewName
		}
		if _, err := g.SetCurrentView(current); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) layoutHelp(g *gocui.Gui) error {
	maxX, maxY := g.Size()
	x0, y0, x1, y1 := ui.ModalDimensions(maxX, maxY, 56, 24)
	v, err := g.SetView(helpViewName, x0, y0, x1, y1, 0)
	if err != nil && !errors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	v.Title = " Help "
	v.Frame = true
	v.Clear()
	fmt.Fprint(v, ui.HelpText())
	_, err = g.SetCurrentView(helpViewName)
	return err
}

// render repaints all views from current state.
func (a *App) render(g *gocui.Gui, lv, tv, bv, sv *gocui.View) {
	a.mu.Lock()
	rows := a.visibleLocked()
	cursor := a.cursor
	focus := a.focus
	a.mu.Unlock()

	sel, hasSel := a.coord.Selection()
	width, _ := lv.Size()
	project := git.ShortenPath(a.project)

	lv.Clear()
	orch := &ui.Row{
		Title:        ui.Truncate(project, width-12),
		Orchestrator: true,
		Selected:     cursor == 0,
		Width:        width,
	}
	fmt.Fprintln(lv, orch.Render())
	for i, snap := range rows {
		_, pending := a.coord.PendingStartup(snap.ProjectPath, snap.SessionID)
		row := &ui.Row{
			Title:        snap.SessionID,
			Branch:       snap.Branch,
			State:        snap.State,
			PendingStart: pending,
			ReadyToMerge: snap.ReadyToMerge,
			Selected:     cursor == i+1,
			Width:        width,
		}
		fmt.Fprintln(lv, row.Render())
	}

	a.renderPane(g, tv, sel, hasSel, true, focus == focusTop)
	a.renderPane(g, bv, sel, hasSel, false, focus == focusBottom)

	running := 0
	for _, s := range rows {
		if s.State == session.StateRunning {
			running++
		}
	}
	sv.Clear()
	fmt.Fprint(sv, ui.RenderStatusBar(project, len(rows), running, a.sched.Backlog(), version.Version))
}

// renderPane draws one terminal pane for the current selection.
func (a *App) renderPane(g *gocui.Gui, v *gocui.View, sel session.Selection, hasSel, top, active bool) {
	title := "top"
	if !top {
		title = "bottom"
	}
	if hasSel && sel.Kind == session.KindSession {
		title = sel.SessionID + " · " + title
	}
	ui.ConfigurePaneView(v, title, active)

	v.Clear()
	if !hasSel {
		return
	}
	set := sel.Terminals()
	id := set.TopID
	if !top {
		id = set.BottomID
	}
	rec, ok := a.reg.Get(id)
	if !ok {
		fmt.Fprint(v, ui.ColorDim+"  no terminal (draft session or invalid worktree)"+ui.ColorReset)
		return
	}
	a.fitPane(v, id, rec, top)
	ui.RenderTerminal(v, rec.Emulator())
}

// fitPane pushes the pane's current dimensions to the emulator and the
// pty when they changed since the last layout pass.
func (a *App) fitPane(v *gocui.View, id string, rec *registry.Record, top bool) {
	cols, rows := v.Size()
	if rows < 1 || cols < 1 {
		return
	}

	a.mu.Lock()
	size := &a.topSize
	if !top {
		size = &a.botSize
	}
	changed := size.id != id || size.rows != rows || size.cols != cols
	if changed {
		*size = paneSize{id: id, rows: rows, cols: cols}
	}
	a.mu.Unlock()
	if !changed {
		return
	}

	rec.Emulator().Resize(rows, cols)
	if err := a.procs.Resize(id, rows, cols); err != nil {
		a.logger.Warn("resizing terminal", "terminal", id, "err", err)
	}
}

// syncAttachments mounts the current selection's terminals and unmounts
// everything else, resizing them to the pane dimensions.
func (a *App) syncAttachments() {
	sel, ok := a.coord.Selection()
	var want []string
	if ok {
		set := sel.Terminals()
		want = []string{set.TopID, set.BottomID}
	}

	a.mu.Lock()
	prev := a.attached
	a.attached = want
	// Forget remembered pane sizes so recreated terminals get fitted on
	// the next layout pass.
	a.topSize = paneSize{}
	a.botSize = paneSize{}
	a.mu.Unlock()

	surface := &guiSurface{app: a}
	for _, id := range prev {
		if id != "" && !contains(want, id) {
			a.reg.Detach(id)
		}
	}
	for _, id := range want {
		if id != "" && a.reg.Has(id) && !contains(prev, id) {
			a.reg.Attach(id, surface)
		}
	}
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// focusedTerminalID returns the terminal id of the focused pane. While
// the session list has focus, scroll keys act on the top pane.
func (a *App) focusedTerminalID() (string, bool) {
	sel, ok := a.coord.Selection()
	if !ok {
		return "", false
	}
	set := sel.Terminals()
	a.mu.Lock()
	focus := a.focus
	a.mu.Unlock()
	if focus == focusBottom {
		return set.BottomID, true
	}
	return set.TopID, true
}
