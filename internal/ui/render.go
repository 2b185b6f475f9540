// Package ui provides gocui view management and rendering utilities.
package ui

import (
	"fmt"
	"strings"

	"github.com/jesseduffield/gocui"

	"github.com/helmdesk/helmdesk/internal/backend"
)

// RenderTerminal renders an emulator's screen to a gocui view.
// Recovers from panics that can occur during resize race conditions.
func RenderTerminal(v *gocui.View, emu backend.Emulator) {
	defer func() {
		if r := recover(); r != nil {
			// Silently ignore - will redraw on next update
		}
	}()

	var sb strings.Builder
	if err := emu.Render(&sb); err != nil {
		return
	}
	fmt.Fprint(v, sb.String())
}

// ConfigurePaneView sets up a gocui view for a terminal pane.
func ConfigurePaneView(v *gocui.View, title string, isActive bool) {
	if isActive {
		v.Title = fmt.Sprintf(" %s ", title)
		// Bold frame for the focused pane
		v.FrameRunes = []rune{'━', '┃', '┏', '┓', '┗', '┛'}
		v.FrameColor = gocui.ColorGreen
	} else {
		v.Title = fmt.Sprintf(" %s ", title)
		v.FrameRunes = []rune{'─', '│', '┌', '┐', '└', '┘'}
		v.FrameColor = gocui.ColorDefault
	}
	v.Frame = true
	v.Wrap = false
	v.Editable = isActive
}

// ModalDimensions calculates centered modal dimensions.
func ModalDimensions(maxX, maxY, width, height int) (x0, y0, x1, y1 int) {
	x0 = (maxX - width) / 2
	y0 = (maxY - height) / 2
	x1 = x0 + width
	y1 = y0 + height
	return
}
