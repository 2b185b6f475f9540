package backend

import (
	"strings"
	"sync"

	"github.com/go-errors/errors"
	"github.com/vito/midterm"
)

// alt-screen toggles the emulator watches for to answer AltScreen().
var altScreenEnter = []string{"\x1b[?1049h", "\x1b[?1047h", "\x1b[?47h"}
var altScreenExit = []string{"\x1b[?1049l", "\x1b[?1047l", "\x1b[?47l"}

// MidtermEmulator wraps midterm.Terminal with a mutex for thread-safe
// access and the viewport bookkeeping the follow-scroll heuristic reads.
type MidtermEmulator struct {
	mu       sync.Mutex
	term     *midterm.Terminal
	surface  Surface
	alt      bool
	offset   int // lines scrolled up from the live bottom; 0 = following
	disposed bool
}

// NewMidtermEmulator creates an emulator with the given dimensions.
func NewMidtermEmulator(rows, cols int) *MidtermEmulator {
	if rows < 1 {
		rows = 24
	}
	if cols < 1 {
		cols = 80
	}
	return &MidtermEmulator{
		term: midterm.NewTerminal(rows, cols),
	}
}

// Write applies output to the screen buffer and then runs onComplete.
// A mounted surface is invalidated so the host repaints.
func (e *MidtermEmulator) Write(p []byte, onComplete func()) {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		if onComplete != nil {
			onComplete()
		}
		return
	}

	s := string(p)
	for _, seq := range altScreenEnter {
		if strings.Contains(s, seq) {
			e.alt = true
		}
	}
	for _, seq := range altScreenExit {
		if strings.Contains(s, seq) {
			e.alt = false
		}
	}

	e.term.Write(p)
	surface := e.surface
	e.mu.Unlock()

	if surface != nil {
		surface.Invalidate()
	}
	if onComplete != nil {
		onComplete()
	}
}

// ClearScrollback drops the emulator's history after the stream saw a
// scrollback-clear sequence. The viewport snaps back to live output and
// the erase is forwarded to the screen buffer, which covers the case
// where the sequence itself was stripped from the stream.
func (e *MidtermEmulator) ClearScrollback() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.offset = 0
	e.term.Write([]byte("\x1b[3J"))
	surface := e.surface
	e.mu.Unlock()
	if surface != nil {
		surface.Invalidate()
	}
}

// Attach mounts the emulator on a visible surface.
func (e *MidtermEmulator) Attach(s Surface) {
	e.mu.Lock()
	e.surface = s
	e.mu.Unlock()
	if s != nil {
		s.Invalidate()
	}
}

// Detach unmounts the emulator. Output keeps applying to the buffer.
func (e *MidtermEmulator) Detach() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.surface = nil
}

// Dispose releases the emulator. Safe to call once; a second call is an
// error so the registry's release-exactly-once invariant stays checkable.
func (e *MidtermEmulator) Dispose() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return errors.New("emulator already disposed")
	}
	e.disposed = true
	e.surface = nil
	return nil
}

// Resize changes the terminal dimensions.
func (e *MidtermEmulator) Resize(rows, cols int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return
	}
	e.term.Resize(rows, cols)
}

// Render writes the visible screen content to a strings.Builder.
func (e *MidtermEmulator) Render(w *strings.Builder) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.disposed || e.term.Height <= 0 || e.term.Width <= 0 {
		return nil
	}
	return e.term.Render(w)
}

// AltScreen reports whether the alternate buffer is active.
func (e *MidtermEmulator) AltScreen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alt
}

// CursorRow returns the cursor's row in the active buffer.
func (e *MidtermEmulator) CursorRow() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.term.Cursor.Y
}

// Rows returns the terminal height.
func (e *MidtermEmulator) Rows() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.term.Height
}

// ScrollOffset returns how far the viewport is scrolled up from the live
// bottom. 0 means the viewport is following output.
func (e *MidtermEmulator) ScrollOffset() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offset
}

// ScrollToBottom resets the viewport to follow live output.
func (e *MidtermEmulator) ScrollToBottom() {
	e.mu.Lock()
	e.offset = 0
	surface := e.surface
	e.mu.Unlock()
	if surface != nil {
		surface.Invalidate()
	}
}

// ScrollUp moves the viewport up by the given number of lines.
func (e *MidtermEmulator) ScrollUp(lines int) {
	e.mu.Lock()
	e.offset += lines
	surface := e.surface
	e.mu.Unlock()
	if surface != nil {
		surface.Invalidate()
	}
}

// ScrollDown moves the viewport down, clamping at the live bottom.
func (e *MidtermEmulator) ScrollDown(lines int) {
	e.mu.Lock()
	e.offset -= lines
	if e.offset < 0 {
		e.offset = 0
	}
	surface := e.surface
	e.mu.Unlock()
	if surface != nil {
		surface.Invalidate()
	}
}

// CursorVisible returns whether the cursor should be drawn. Agent
// programs hide the cursor while working.
func (e *MidtermEmulator) CursorVisible() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.term.CursorVisible
}
