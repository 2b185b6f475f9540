package app

import (
	"context"

	"github.com/jesseduffield/gocui"

	"github.com/helmdesk/helmdesk/internal/config"
	"github.com/helmdesk/helmdesk/internal/coordinator"
	"github.com/helmdesk/helmdesk/internal/session"
)

// setupKeybindings registers the keybindings from config. Most bindings
// are scoped to the session list so that rune keys typed into a focused
// pane reach the terminal instead; only quit and focus cycling stay
// global. Scroll keys also bind on the panes when they are not runes.
func (a *App) setupKeybindings() error {
	list := []string{sessionsViewName}
	panes := []string{topPaneViewName, botPaneViewName}

	binds := []struct {
		spec       string
		views      []string
		paneUnless bool // also bind on the panes, unless the key is a rune
		handler    func(*gocui.Gui, *gocui.View) error
	}{
		{a.cfg.Keys.Quit, []string{sessionsViewName, helpViewName}, false, a.quitHandler},
		{a.cfg.Keys.NavDown, list, false, a.navDownHandler},
		{a.cfg.Keys.NavUp, list, false, a.navUpHandler},
		{a.cfg.Keys.Select, list, false, a.selectHandler},
		{a.cfg.Keys.Orchestrator, list, false, a.orchestratorHandler},
		{a.cfg.Keys.Refresh, list, false, a.refreshHandler},
		{a.cfg.Keys.ForceRecreate, list, false, a.forceRecreateHandler},
		{a.cfg.Keys.ScrollUp, list, true, a.scrollUpHandler},
		{a.cfg.Keys.ScrollDown, list, true, a.scrollDownHandler},
		{a.cfg.Keys.ScrollBottom, list, true, a.scrollBottomHandler},
		{a.cfg.Keys.ToggleSpecs, list, false, a.toggleSpecsHandler},
		{a.cfg.Keys.FocusNext, []string{""}, false, a.focusNextHandler},
		{"?", []string{sessionsViewName, helpViewName}, false, a.helpHandler},
		{"down", list, false, a.navDownHandler},
		{"up", list, false, a.navUpHandler},
		{"ctrl+c", []string{""}, false, a.quitHandler},
	}

	for _, b := range binds {
		key, err := config.ParseKey(b.spec)
		if err != nil {
			return err
		}
		views := b.views
		if b.paneUnless && !key.IsRune() {
			views = append(append([]string{}, views...), panes...)
		}
		for _, view := range views {
			if key.IsRune() {
				err = a.gui.SetKeybinding(view, key.Rune(), key.Mod, b.handler)
			} else {
				err = a.gui.SetKeybinding(view, key.GocuiKey(), key.Mod, b.handler)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// terminalEditor forwards keystrokes typed into a focused pane to its
// terminal process.
func (a *App) terminalEditor(v *gocui.View, key gocui.Key, ch rune, mod gocui.Modifier) bool {
	input := encodeKey(key, ch, mod)
	if input == nil {
		return false
	}
	id, ok := a.focusedTerminalID()
	if !ok {
		return false
	}
	if err := a.procs.WriteInput(id, input); err != nil {
		a.logger.Warn("writing terminal input", "terminal", id, "err", err)
	}
	return true
}

// encodeKey translates a gocui key event into the bytes a shell expects
// on its pty. Unhandled keys return nil.
func encodeKey(key gocui.Key, ch rune, mod gocui.Modifier) []byte {
	if ch != 0 && mod == gocui.ModNone {
		return []byte(string(ch))
	}
	if ch != 0 && mod == gocui.ModAlt {
		return append([]byte{0x1b}, []byte(string(ch))...)
	}
	switch key {
	case gocui.KeySpace:
		return []byte(" ")
	case gocui.KeyEnter:
		return []byte("\r")
	case gocui.KeyBackspace, gocui.KeyBackspace2:
		return []byte{0x7f}
	case gocui.KeyEsc:
		return []byte{0x1b}
	case gocui.KeyArrowUp:
		return []byte("\x1b[A")
	case gocui.KeyArrowDown:
		return []byte("\x1b[B")
	case gocui.KeyArrowRight:
		return []byte("\x1b[C")
	case gocui.KeyArrowLeft:
		return []byte("\x1b[D")
	}
	return nil
}

func (a *App) quitHandler(g *gocui.Gui, v *gocui.View) error {
	if a.helpVisible {
		a.helpVisible = false
		return nil
	}
	return gocui.ErrQuit
}

func (a *App) helpHandler(g *gocui.Gui, v *gocui.View) error {
	a.helpVisible = !a.helpVisible
	return nil
}

func (a *App) navDownHandler(g *gocui.Gui, v *gocui.View) error {
	a.moveCursor(1)
	return nil
}

func (a *App) navUpHandler(g *gocui.Gui, v *gocui.View) error {
	a.moveCursor(-1)
	return nil
}

// moveCursor moves the list cursor; row 0 is the orchestrator line.
func (a *App) moveCursor(delta int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.visibleLocked()) + 1
	a.cursor += delta
	if a.cursor < 0 {
		a.cursor = 0
	}
	if a.cursor >= n {
		a.cursor = n - 1
	}
}

// selectHandler applies the highlighted row as the active selection.
func (a *App) selectHandler(g *gocui.Gui, v *gocui.View) error {
	a.mu.Lock()
	cursor := a.cursor
	rows := a.visibleLocked()
	a.mu.Unlock()

	ctx := context.Background()
	var target session.Selection
	if cursor == 0 || cursor > len(rows) {
		target = session.Orchestrator(a.project)
	} else {
		target = session.ForSession(a.project, rows[cursor-1].SessionID)
	}

	if err := a.coord.SetSelection(ctx, target, coordinator.Options{Remember: true}); err != nil {
		a.logger.Warn("applying selection", "err", err)
		return nil
	}
	a.syncAttachments()
	return nil
}

func (a *App) orchestratorHandler(g *gocui.Gui, v *gocui.View) error {
	a.mu.Lock()
	a.cursor = 0
	a.mu.Unlock()

	err := a.coord.SetSelection(context.Background(),
		session.Orchestrator(a.project), coordinator.Options{Remember: true})
	if err != nil {
		a.logger.Warn("selecting orchestrator", "err", err)
		return nil
	}
	a.syncAttachments()
	return nil
}

func (a *App) refreshHandler(g *gocui.Gui, v *gocui.View) error {
	a.cache.InvalidateProject(a.project)
	a.refresh(context.Background())
	a.syncAttachments()
	return nil
}

// forceRecreateHandler tears down and rebuilds the selected target's
// terminals.
func (a *App) forceRecreateHandler(g *gocui.Gui, v *gocui.View) error {
	sel, ok := a.coord.Selection()
	if !ok {
		return nil
	}
	err := a.coord.SetSelection(context.Background(), sel,
		coordinator.Options{ForceRecreate: true})
	if err != nil {
		a.logger.Warn("recreating terminals", "err", err)
		return nil
	}
	a.syncAttachments()
	return nil
}

func (a *App) scrollUpHandler(g *gocui.Gui, v *gocui.View) error {
	return a.scrollFocused(func(emu scrollable) {
		emu.ScrollUp(5)
	}, false)
}

func (a *App) scrollDownHandler(g *gocui.Gui, v *gocui.View) error {
	return a.scrollFocused(func(emu scrollable) {
		emu.ScrollDown(5)
	}, false)
}

func (a *App) scrollBottomHandler(g *gocui.Gui, v *gocui.View) error {
	return a.scrollFocused(func(emu scrollable) {
		emu.ScrollToBottom()
	}, true)
}

type scrollable interface {
	ScrollUp(lines int)
	ScrollDown(lines int)
	ScrollToBottom()
}

// scrollFocused applies a scroll action to the focused pane's emulator
// and keeps the follow flag in step: manual scrolling stops following,
// jumping to the bottom resumes it.
func (a *App) scrollFocused(fn func(scrollable), follow bool) error {
	id, ok := a.focusedTerminalID()
	if !ok {
		return nil
	}
	rec, ok := a.reg.Get(id)
	if !ok {
		return nil
	}
	fn(rec.Emulator())
	a.sched.SetFollow(id, follow)
	return nil
}

func (a *App) toggleSpecsHandler(g *gocui.Gui, v *gocui.View) error {
	a.mu.Lock()
	a.showSpecs = !a.showSpecs
	show := a.showSpecs
	a.cursor = 0
	a.mu.Unlock()
	// Keep the coordinator's filter in step so remembered-selection
	// restores honor the toggle.
	a.coord.SetShowSpecSessions(show)
	return nil
}

func (a *App) focusNextHandler(g *gocui.Gui, v *gocui.View) error {
	a.mu.Lock()
	a.focus = (a.focus + 1) % 3
	a.mu.Unlock()
	return nil
}
