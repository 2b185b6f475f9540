// Package control classifies terminal control sequences in batched output
// before it reaches the emulator. It tracks per-terminal mode state that
// persists across chunk boundaries: bracketed paste, alternate-screen (TUI)
// mode, and a deferred full-screen redraw held back to avoid blank frames.
package control

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/charmbracelet/x/ansi"
)

// maxCarry bounds the lookback buffer kept for control sequences split
// across chunk boundaries. CSI mode toggles are at most 9 bytes, so 16 is
// comfortably enough without buffering long OSC payloads.
const maxCarry = 16

const (
	seqClearScrollback = "\x1b[3J"
	seqClearScreen     = "\x1b[2J"
	seqCursorHome      = "\x1b[H"
	seqCursorHomeLong  = "\x1b[1;1H"
	seqPasteOn         = "\x1b[?2004h"
	seqPasteOff        = "\x1b[?2004l"
	seqSyncStart       = "\x1b[?2026h"
	seqSyncEnd         = "\x1b[?2026l"
)

var altEnter = []string{"\x1b[?1049h", "\x1b[?1047h", "\x1b[?47h"}
var altExit = []string{"\x1b[?1049l", "\x1b[?1047l", "\x1b[?47l"}

// Result is the outcome of classifying one output batch.
type Result struct {
	// Text is the batch to write, possibly rewritten: scrollback clears
	// stripped in TUI mode, held redraws merged in, trailing redraws and
	// incomplete escape sequences withheld.
	Text string
	// ClearedScrollback reports that a scrollback-clear sequence was seen,
	// whether or not it was stripped from Text.
	ClearedScrollback bool
	// PasteMode is the bracketed-paste state after this batch.
	PasteMode bool
	// TuiMode is the alternate-screen heuristic after this batch.
	TuiMode bool
	// Held reports that a redraw is being withheld awaiting content. The
	// caller must schedule another flush tick so it cannot be withheld
	// indefinitely.
	Held bool
}

type termState struct {
	pasteMode bool
	tuiMode   bool
	carry     string // incomplete trailing escape sequence from the previous batch
	held      string // deferred clear/home redraw awaiting content
}

// Classifier holds per-terminal classification state. Classification never
// fails; unrecognized sequences pass through unchanged.
type Classifier struct {
	mu     sync.Mutex
	terms  map[string]*termState
	logger *slog.Logger
}

// NewClassifier creates an empty classifier.
func NewClassifier(logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		terms:  make(map[string]*termState),
		logger: logger.With("component", "control"),
	}
}

// Classify inspects one batched chunk of output for the given terminal and
// returns the rewritten text plus the mode state it implies.
func (c *Classifier) Classify(id, batch string) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state(id)

	work := st.carry + batch
	st.carry = ""
	if tail := incompleteTail(work); tail != "" {
		st.carry = tail
		work = work[:len(work)-len(tail)]
	}

	out, cleared := c.scan(st, work)

	// A redraw held from an earlier batch is released as soon as content
	// follows it, wrapped in a synchronized-update bracket so the emulator
	// never renders the intermediate blank frame.
	if st.held != "" && out != "" {
		out = seqSyncStart + st.held + out + seqSyncEnd
		st.held = ""
	} else if st.tuiMode {
		if body, redraw, ok := splitTrailingRedraw(out); ok {
			st.held = redraw
			out = body
		}
	}

	if cleared {
		c.logger.Debug("scrollback clear",
			"terminal", id,
			"tui", st.tuiMode,
			"preview", preview(batch))
	}

	return Result{
		Text:              out,
		ClearedScrollback: cleared,
		PasteMode:         st.pasteMode,
		TuiMode:           st.tuiMode,
		Held:              st.held != "",
	}
}

// TakeHeld returns and clears any withheld redraw for the terminal. The
// scheduler calls this on a flush tick when no accompanying content
// arrived within the batching window.
func (c *Classifier) TakeHeld(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.terms[id]
	if !ok || st.held == "" {
		return "", false
	}
	held := st.held
	st.held = ""
	return held, true
}

// PasteMode reports the current bracketed-paste state for a terminal.
func (c *Classifier) PasteMode(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.terms[id]; ok {
		return st.pasteMode
	}
	return false
}

// TuiMode reports the current alternate-screen heuristic for a terminal.
func (c *Classifier) TuiMode(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.terms[id]; ok {
		return st.tuiMode
	}
	return false
}

// Drop discards all classification state for a terminal.
func (c *Classifier) Drop(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.terms, id)
}

// Reset discards all state, for test isolation.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terms = make(map[string]*termState)
}

func (c *Classifier) state(id string) *termState {
	st, ok := c.terms[id]
	if !ok {
		st = &termState{}
		c.terms[id] = st
	}
	return st
}

// scan walks the batch once, toggling mode state and stripping scrollback
// clears while in TUI mode. Everything else passes through byte for byte.
func (c *Classifier) scan(st *termState, work string) (string, bool) {
	var b strings.Builder
	b.Grow(len(work))

	cleared := false
	i := 0
	for i < len(work) {
		if work[i] != 0x1b {
			b.WriteByte(work[i])
			i++
			continue
		}

		rest := work[i:]
		switch {
		case strings.HasPrefix(rest, seqPasteOn):
			st.pasteMode = true
			b.WriteString(seqPasteOn)
			i += len(seqPasteOn)
		case strings.HasPrefix(rest, seqPasteOff):
			st.pasteMode = false
			b.WriteString(seqPasteOff)
			i += len(seqPasteOff)
		case strings.HasPrefix(rest, seqClearScrollback):
			cleared = true
			if !st.tuiMode {
				b.WriteString(seqClearScrollback)
			}
			i += len(seqClearScrollback)
		case matchAny(rest, altEnter) != "":
			seq := matchAny(rest, altEnter)
			st.tuiMode = true
			b.WriteString(seq)
			i += len(seq)
		case matchAny(rest, altExit) != "":
			seq := matchAny(rest, altExit)
			st.tuiMode = false
			b.WriteString(seq)
			i += len(seq)
		default:
			b.WriteByte(work[i])
			i++
		}
	}

	return b.String(), cleared
}

func matchAny(s string, seqs []string) string {
	for _, seq := range seqs {
		if strings.HasPrefix(s, seq) {
			return seq
		}
	}
	return ""
}

// splitTrailingRedraw splits off a trailing run of clear-screen/cursor-home
// sequences with no content after them. It only triggers when the run
// actually clears the screen; a bare cursor move is not a redraw.
func splitTrailingRedraw(out string) (body, redraw string, ok bool) {
	suffixes := []string{seqClearScreen, seqCursorHomeLong, seqCursorHome}

	j := len(out)
	for j > 0 {
		matched := false
		for _, seq := range suffixes {
			if strings.HasSuffix(out[:j], seq) {
				j -= len(seq)
				matched = true
				break
			}
		}
		if !matched {
			break
		}
	}

	redraw = out[j:]
	if redraw == "" || !strings.Contains(redraw, seqClearScreen) {
		return out, "", false
	}
	return out[:j], redraw, true
}

// incompleteTail returns a trailing escape sequence that has not finished
// arriving, so it can be carried into the next batch. Returns "" when the
// batch ends cleanly or the fragment exceeds the carry bound.
func incompleteTail(s string) string {
	start := len(s) - maxCarry
	if start < 0 {
		start = 0
	}
	idx := strings.LastIndexByte(s[start:], 0x1b)
	if idx < 0 {
		return ""
	}
	seq := s[start+idx:]

	if len(seq) == 1 {
		return seq // bare ESC
	}
	switch seq[1] {
	case '[':
		// CSI: complete once a final byte in 0x40..0x7E arrives.
		for k := 2; k < len(seq); k++ {
			if seq[k] >= 0x40 && seq[k] <= 0x7e {
				return ""
			}
			if seq[k] < 0x20 || seq[k] > 0x3f {
				return "" // malformed, pass through as-is
			}
		}
		return seq
	case ']':
		// OSC: terminated by BEL or ST. Longer payloads than the carry
		// bound simply pass through unclassified.
		if strings.ContainsRune(seq, 0x07) || strings.Contains(seq, "\x1b\\") {
			return ""
		}
		return seq
	default:
		return "" // two-byte escape, already complete
	}
}

// preview renders a short printable form of a batch for debug logs.
func preview(batch string) string {
	const max = 48
	s := ansi.Strip(batch)
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return '.'
		}
		return r
	}, s)
	if len(s) > max {
		s = s[:max]
	}
	return s
}
