package config

import (
	"fmt"
	"strings"

	"github.com/jesseduffield/gocui"
)

// KeyBindings holds all configurable keybindings.
type KeyBindings struct {
	Quit          string `yaml:"quit"`
	NavDown       string `yaml:"nav_down"`
	NavUp         string `yaml:"nav_up"`
	Select        string `yaml:"select"`
	Orchestrator  string `yaml:"orchestrator"`
	Refresh       string `yaml:"refresh"`
	ForceRecreate string `yaml:"force_recreate"`
	ScrollUp      string `yaml:"scroll_up"`
	ScrollDown    string `yaml:"scroll_down"`
	ScrollBottom  string `yaml:"scroll_bottom"`
	ToggleSpecs   string `yaml:"toggle_specs"`
	FocusNext     string `yaml:"focus_next"`
}

// DefaultKeyBindings returns the default keybindings.
func DefaultKeyBindings() KeyBindings {
	return KeyBindings{
		Quit:          "q",
		NavDown:       "j",
		NavUp:         "k",
		Select:        "enter",
		Orchestrator:  "o",
		Refresh:       "r",
		ForceRecreate: "R",
		ScrollUp:      "pgup",
		ScrollDown:    "pgdn",
		ScrollBottom:  "G",
		ToggleSpecs:   "s",
		FocusNext:     "tab",
	}
}

// mergeKeyBindings merges keybindings from src into dst.
func mergeKeyBindings(dst, src *KeyBindings) {
	if src.Quit != "" {
		dst.Quit = src.Quit
	}
	if src.NavDown != "" {
		dst.NavDown = src.NavDown
	}
	if src.NavUp != "" {
		dst.NavUp = src.NavUp
	}
	if src.Select != "" {
		dst.Select = src.Select
	}
	if src.Orchestrator != "" {
		dst.Orchestrator = src.Orchestrator
	}
	if src.Refresh != "" {
		dst.Refresh = src.Refresh
	}
	if src.ForceRecreate != "" {
		dst.ForceRecreate = src.ForceRecreate
	}
	if src.ScrollUp != "" {
		dst.ScrollUp = src.ScrollUp
	}
	if src.ScrollDown != "" {
		dst.ScrollDown = src.ScrollDown
	}
	if src.ScrollBottom != "" {
		dst.ScrollBottom = src.ScrollBottom
	}
	if src.ToggleSpecs != "" {
		dst.ToggleSpecs = src.ToggleSpecs
	}
	if src.FocusNext != "" {
		dst.FocusNext = src.FocusNext
	}
}

// Key represents a parsed key binding.
type Key struct {
	Value any // rune for single chars, gocui.Key for special keys
	Mod   gocui.Modifier
}

// ParseKey parses a key string into a gocui-compatible key value,
// preserving case so "R" stays shift+r. Supported formats:
//   - Single character: "q", "R", "?", "/"
//   - Special keys: "enter", "space", "esc", "tab", "pgup"
//   - Arrow keys: "up", "down", "left", "right"
//   - Ctrl combinations: "ctrl+c", "ctrl+s"
func ParseKey(s string) (Key, error) {
	if s == "" {
		return Key{}, fmt.Errorf("empty key string")
	}

	trimmed := strings.TrimSpace(s)
	lower := strings.ToLower(trimmed)

	// Check for ctrl combinations
	if char, found := strings.CutPrefix(lower, "ctrl+"); found {
		if len(char) == 1 {
			ctrlKey, ok := ctrlKeyMap[char]
			if ok {
				return Key{Value: ctrlKey, Mod: gocui.ModNone}, nil
			}
		}
		return Key{}, fmt.Errorf("invalid ctrl combination: %s", s)
	}

	// Check for special keys (case insensitive)
	if key, ok := specialKeyMap[lower]; ok {
		return Key{Value: key, Mod: gocui.ModNone}, nil
	}

	// Single character (preserve original case)
	if len(trimmed) == 1 {
		return Key{Value: rune(trimmed[0]), Mod: gocui.ModNone}, nil
	}

	return Key{}, fmt.Errorf("unknown key: %s", s)
}

// IsRune returns true if the key is a rune (single character).
func (k Key) IsRune() bool {
	_, ok := k.Value.(rune)
	return ok
}

// Rune returns the key as a rune, or 0 if not a rune.
func (k Key) Rune() rune {
	if r, ok := k.Value.(rune); ok {
		return r
	}
	return 0
}

// GocuiKey returns the key as a gocui.Key, or 0 if not a special key.
func (k Key) GocuiKey() gocui.Key {
	if key, ok := k.Value.(gocui.Key); ok {
		return key
	}
	return 0
}

// specialKeyMap maps string names to gocui special keys.
var specialKeyMap = map[string]gocui.Key{
	"enter":     gocui.KeyEnter,
	"space":     gocui.KeySpace,
	"esc":       gocui.KeyEsc,
	"escape":    gocui.KeyEsc,
	"tab":       gocui.KeyTab,
	"backspace": gocui.KeyBackspace2,
	"delete":    gocui.KeyDelete,
	"home":      gocui.KeyHome,
	"end":       gocui.KeyEnd,
	"pgup":      gocui.KeyPgup,
	"pageup":    gocui.KeyPgup,
	"pgdn":      gocui.KeyPgdn,
	"pagedown":  gocui.KeyPgdn,
	"up":        gocui.KeyArrowUp,
	"down":      gocui.KeyArrowDown,
	"left":      gocui.KeyArrowLeft,
	"right":     gocui.KeyArrowRight,
}

// ctrlKeyMap maps single characters to their ctrl+key equivalents.
var ctrlKeyMap = map[string]gocui.Key{
	"a": gocui.KeyCtrlA,
	"b": gocui.KeyCtrlB,
	"c": gocui.KeyCtrlC,
	"d": gocui.KeyCtrlD,
	"e": gocui.KeyCtrlE,
	"f": gocui.KeyCtrlF,
	"g": gocui.KeyCtrlG,
	"l": gocui.KeyCtrlL,
	"n": gocui.KeyCtrlN,
	"p": gocui.KeyCtrlP,
	"q": gocui.KeyCtrlQ,
	"r": gocui.KeyCtrlR,
	"s": gocui.KeyCtrlS,
	"u": gocui.KeyCtrlU,
	"w": gocui.KeyCtrlW,
	"x": gocui.KeyCtrlX,
}
