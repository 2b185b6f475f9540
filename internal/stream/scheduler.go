// Package stream batches raw terminal output and delivers it to emulators
// on a frame-aligned cadence with a bounded per-frame byte budget.
package stream

import (
	"bytes"
	"log/slog"
	"sync"
	"time"

	"github.com/helmdesk/helmdesk/internal/control"
)

// Terminal is the outbound emulator surface the scheduler writes into,
// plus the read accessors the follow-scroll heuristic needs.
type Terminal interface {
	Write(p []byte, onComplete func())
	ClearScrollback()
	AltScreen() bool
	CursorRow() int
	Rows() int
	ScrollOffset() int
	ScrollToBottom()
}

// Config tunes the flush cadence and budgets.
type Config struct {
	// FrameInterval is the flush tick period; one tick is one frame.
	FrameInterval time.Duration
	// NormalBudget is the per-terminal byte budget per frame.
	NormalBudget int
	// TightBudget replaces NormalBudget while the combined backlog across
	// all terminals exceeds HighWater, to protect frame rate during bursts.
	TightBudget int
	// HighWater is the combined-backlog threshold in bytes.
	HighWater int
	// FollowSlack is how close to the bottom row the cursor may be for the
	// viewport to count as already following.
	FollowSlack int
}

func (c Config) withDefaults() Config {
	if c.FrameInterval <= 0 {
		c.FrameInterval = 16 * time.Millisecond
	}
	if c.NormalBudget <= 0 {
		c.NormalBudget = 64 * 1024
	}
	if c.TightBudget <= 0 {
		c.TightBudget = 16 * 1024
	}
	if c.HighWater <= 0 {
		c.HighWater = 256 * 1024
	}
	if c.FollowSlack <= 0 {
		c.FollowSlack = 2
	}
	return c
}

// Stats is a rolling per-terminal flush counter, for diagnostics only.
type Stats struct {
	Flushes      uint64
	FlushedBytes uint64
	LastFlush    time.Time
}

type termEntry struct {
	id       string
	term     Terminal
	follow   bool
	attached bool

	// writeMu serializes extract-and-write per terminal, so a synchronous
	// Flush cannot slip its bytes in front of an in-flight tick write.
	// Lock order: writeMu before the scheduler mutex, never the reverse.
	writeMu sync.Mutex

	pending      [][]byte // raw chunks awaiting classification, arrival order
	pendingBytes int
	ready        []byte // classified bytes awaiting write
	armed        bool   // a flush is scheduled; at most one per terminal
	holdTick     bool   // classifier withheld a redraw; fire one more tick
	tui          bool
	clearPending bool // classifier saw a scrollback clear; apply before the next write

	stats Stats
}

func (e *termEntry) backlog() int {
	return e.pendingBytes + len(e.ready)
}

// Scheduler owns the frame ticker and the per-terminal pending queues.
type Scheduler struct {
	mu         sync.Mutex
	cfg        Config
	classifier *control.Classifier
	terms      map[string]*termEntry
	logger     *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// NewScheduler creates a scheduler flushing through the given classifier.
func NewScheduler(cfg Config, classifier *control.Classifier, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if classifier == nil {
		classifier = control.NewClassifier(logger)
	}
	return &Scheduler{
		cfg:        cfg.withDefaults(),
		classifier: classifier,
		terms:      make(map[string]*termEntry),
		logger:     logger.With("component", "stream"),
		stop:       make(chan struct{}),
	}
}

// Classifier returns the classifier the scheduler flushes through.
func (s *Scheduler) Classifier() *control.Classifier {
	return s.classifier
}

// Register adds a terminal to the flush loop. Registering an id twice
// replaces the previous sink but keeps queued output.
func (s *Scheduler) Register(id string, term Terminal, follow bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.terms[id]
	if !ok {
		e = &termEntry{id: id, attached: true}
		s.terms[id] = e
	}
	e.term = term
	e.follow = follow
}

// Unregister removes a terminal. Queued output is discarded; callers that
// must not lose output drain with Flush first.
func (s *Scheduler) Unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.terms, id)
	s.classifier.Drop(id)
}

// SetFollow sets the explicit follow flag used by the scroll heuristic
// while the terminal is in TUI mode.
func (s *Scheduler) SetFollow(id string, follow bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.terms[id]; ok {
		e.follow = follow
	}
}

// SetAttached marks a terminal as mounted to a visible surface. Output for
// detached terminals keeps buffering; attaching drains the backlog in full.
func (s *Scheduler) SetAttached(id string, attached bool) {
	s.mu.Lock()
	e, ok := s.terms[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	wasAttached := e.attached
	e.attached = attached
	s.mu.Unlock()

	if attached && !wasAttached {
		s.Flush(id)
	}
}

// Append queues a raw output chunk for a terminal and arms a flush if none
// is scheduled. Never blocks.
func (s *Scheduler) Append(id string, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.terms[id]
	if !ok {
		return
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)
	e.pending = append(e.pending, c)
	e.pendingBytes += len(c)
	e.armed = true
}

// Run drives Tick on the frame cadence until Stop is called.
func (s *Scheduler) Run() {
	ticker := time.NewTicker(s.cfg.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Stop halts the frame loop.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

type writeOp struct {
	term   Terminal
	data   []byte
	clear  bool
	tui    bool
	follow bool
}

// Tick performs one frame worth of flushes. Exported so tests can drive
// frames manually.
func (s *Scheduler) Tick() {
	s.mu.Lock()

	total := 0
	for _, e := range s.terms {
		total += e.backlog()
	}
	budget := s.cfg.NormalBudget
	if total > s.cfg.HighWater {
		budget = s.cfg.TightBudget
	}

	var due []*termEntry
	for _, e := range s.terms {
		if !e.attached || e.term == nil {
			continue
		}
		if !e.armed && !e.holdTick {
			continue
		}
		due = append(due, e)
	}
	s.mu.Unlock()

	for _, e := range due {
		e.writeMu.Lock()
		s.mu.Lock()
		var op writeOp
		ok := false
		// A concurrent Flush or Unregister may have drained or removed the
		// entry since it was collected.
		if s.terms[e.id] == e && e.attached && e.term != nil {
			op, ok = s.prepareLocked(e, budget)
		}
		s.mu.Unlock()
		if ok {
			s.write(op)
		}
		e.writeMu.Unlock()
	}
}

// prepareLocked consumes up to budget bytes for one terminal and reports
// the write to perform. Must be called with the scheduler lock held.
func (s *Scheduler) prepareLocked(e *termEntry, budget int) (writeOp, bool) {
	justHeld := false
	if len(e.ready) == 0 && e.pendingBytes > 0 {
		joined := bytes.Join(e.pending, nil)
		e.pending = nil
		e.pendingBytes = 0

		res := s.classifier.Classify(e.id, string(joined))
		e.ready = []byte(res.Text)
		e.tui = res.TuiMode
		e.holdTick = res.Held
		justHeld = res.Held
		if res.ClearedScrollback {
			e.clearPending = true
		}
	}

	if len(e.ready) == 0 {
		// Nothing classified for this frame. A redraw withheld on a
		// previous frame is released on its own rather than indefinitely;
		// one withheld just now gets one frame to attract content.
		if e.holdTick && !justHeld {
			e.holdTick = false
			if held, ok := s.classifier.TakeHeld(e.id); ok {
				clear := e.clearPending
				e.clearPending = false
				e.armed = e.pendingBytes > 0
				e.stats.Flushes++
				e.stats.FlushedBytes += uint64(len(held))
				e.stats.LastFlush = time.Now()
				return writeOp{term: e.term, data: []byte(held), clear: clear, tui: e.tui, follow: e.follow}, true
			}
		}
		if e.clearPending {
			// The batch was a bare scrollback clear: nothing to write, but
			// the emulator's history still has to go.
			e.clearPending = false
			e.armed = e.pendingBytes > 0 || e.holdTick
			return writeOp{term: e.term, clear: true, tui: e.tui, follow: e.follow}, true
		}
		e.armed = e.pendingBytes > 0 || e.holdTick
		return writeOp{}, false
	}

	n := budget
	if n > len(e.ready) {
		n = len(e.ready)
	}
	data := e.ready[:n]
	e.ready = e.ready[n:]
	clear := e.clearPending
	e.clearPending = false

	// Stay armed while a remainder or a withheld redraw needs the next
	// frame; otherwise this flush completes the schedule.
	e.armed = len(e.ready) > 0 || e.pendingBytes > 0 || e.holdTick

	e.stats.Flushes++
	e.stats.FlushedBytes += uint64(len(data))
	e.stats.LastFlush = time.Now()

	return writeOp{term: e.term, data: data, clear: clear, tui: e.tui, follow: e.follow}, true
}

func (s *Scheduler) write(op writeOp) {
	term, tui, follow := op.term, op.tui, op.follow
	if op.clear {
		term.ClearScrollback()
	}
	if len(op.data) == 0 {
		return
	}
	term.Write(op.data, func() {
		s.followScroll(term, tui, follow)
	})
}

// followScroll decides whether to force the viewport to the bottom after a
// write completes. Never forced on the alternate buffer, never in TUI mode
// with follow off, and not when the cursor is already near the bottom of
// an unscrolled normal buffer.
func (s *Scheduler) followScroll(term Terminal, tui, follow bool) {
	if term.AltScreen() {
		return
	}
	if tui && !follow {
		return
	}
	if term.ScrollOffset() == 0 {
		if dist := term.Rows() - 1 - term.CursorRow(); dist <= s.cfg.FollowSlack {
			return
		}
	}
	term.ScrollToBottom()
}

// Flush synchronously drains everything queued for a terminal, ignoring
// the frame budget. Used on attach and before teardown so no output is
// silently dropped. Waits for any in-flight tick write for the same
// terminal, so drained bytes land strictly after it.
func (s *Scheduler) Flush(id string) {
	s.mu.Lock()
	e, ok := s.terms[id]
	s.mu.Unlock()
	if !ok {
		return
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	s.mu.Lock()
	if s.terms[id] != e {
		s.mu.Unlock()
		return
	}

	var parts [][]byte
	if e.pendingBytes > 0 {
		joined := bytes.Join(e.pending, nil)
		e.pending = nil
		e.pendingBytes = 0
		res := s.classifier.Classify(e.id, string(joined))
		e.ready = append(e.ready, []byte(res.Text)...)
		e.tui = res.TuiMode
		if res.ClearedScrollback {
			e.clearPending = true
		}
	}
	if len(e.ready) > 0 {
		parts = append(parts, e.ready)
		e.ready = nil
	}
	if held, ok := s.classifier.TakeHeld(e.id); ok {
		parts = append(parts, []byte(held))
	}
	e.armed = false
	e.holdTick = false
	clear := e.clearPending
	e.clearPending = false
	term, tui, follow := e.term, e.tui, e.follow
	if len(parts) > 0 {
		e.stats.Flushes++
		for _, p := range parts {
			e.stats.FlushedBytes += uint64(len(p))
		}
		e.stats.LastFlush = time.Now()
	}
	s.mu.Unlock()

	if term == nil {
		return
	}
	if clear && len(parts) == 0 {
		s.write(writeOp{term: term, clear: true, tui: tui, follow: follow})
		return
	}
	for i, p := range parts {
		s.write(writeOp{term: term, data: p, clear: clear && i == 0, tui: tui, follow: follow})
	}
}

// TerminalStats returns the rolling flush counters for a terminal.
func (s *Scheduler) TerminalStats(id string) (Stats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.terms[id]; ok {
		return e.stats, true
	}
	return Stats{}, false
}

// Backlog returns the combined queued byte count across all terminals.
func (s *Scheduler) Backlog() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, e := range s.terms {
		total += e.backlog()
	}
	return total
}
