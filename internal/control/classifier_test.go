package control

import (
	"strings"
	"testing"
)

func TestPassthrough(t *testing.T) {
	c := NewClassifier(nil)

	res := c.Classify("t1", "hello world\r\n")
	if res.Text != "hello world\r\n" {
		t.Errorf("plain text rewritten: %q", res.Text)
	}
	if res.ClearedScrollback || res.PasteMode || res.TuiMode || res.Held {
		t.Errorf("unexpected flags: %+v", res)
	}
}

func TestUnrecognizedSequencesPassThrough(t *testing.T) {
	c := NewClassifier(nil)

	in := "\x1b[31mred\x1b[0m\x1b[2Ktail"
	res := c.Classify("t1", in)
	if res.Text != in {
		t.Errorf("unrecognized sequences altered: %q -> %q", in, res.Text)
	}
}

func TestBracketedPasteToggle(t *testing.T) {
	c := NewClassifier(nil)

	res := c.Classify("t1", "\x1b[?2004h")
	if !res.PasteMode {
		t.Error("paste mode not enabled")
	}
	if res.Text != "\x1b[?2004h" {
		t.Errorf("paste enter sequence not passed through: %q", res.Text)
	}

	res = c.Classify("t1", "pasted")
	if !res.PasteMode {
		t.Error("paste mode did not persist across batches")
	}

	res = c.Classify("t1", "\x1b[?2004l")
	if res.PasteMode {
		t.Error("paste mode not disabled")
	}
}

func TestBracketedPasteSplitAcrossChunks(t *testing.T) {
	c := NewClassifier(nil)

	res := c.Classify("t1", "before\x1b[?20")
	if res.PasteMode {
		t.Error("paste mode enabled by incomplete sequence")
	}
	if res.Text != "before" {
		t.Errorf("incomplete tail not withheld: %q", res.Text)
	}

	res = c.Classify("t1", "04h")
	if !res.PasteMode {
		t.Error("split paste enter sequence not detected")
	}
	if res.Text != "\x1b[?2004h" {
		t.Errorf("reassembled sequence not emitted: %q", res.Text)
	}
}

func TestSplitDetectionMatchesUnsplit(t *testing.T) {
	whole := NewClassifier(nil)
	split := NewClassifier(nil)

	wres := whole.Classify("t", "\x1b[?2004h")

	split.Classify("t", "\x1b[?20")
	sres := split.Classify("t", "04h")

	if wres.PasteMode != sres.PasteMode {
		t.Errorf("split delivery diverged: whole=%v split=%v", wres.PasteMode, sres.PasteMode)
	}
}

func TestAltScreenTogglesTuiMode(t *testing.T) {
	c := NewClassifier(nil)

	res := c.Classify("t1", "\x1b[?1049h")
	if !res.TuiMode {
		t.Error("alt-screen enter did not set TUI mode")
	}

	res = c.Classify("t1", "\x1b[?1049l")
	if res.TuiMode {
		t.Error("alt-screen exit did not clear TUI mode")
	}

	// Legacy variants.
	if !NewClassifier(nil).Classify("t", "\x1b[?47h").TuiMode {
		t.Error("?47h not recognized")
	}
	if !NewClassifier(nil).Classify("t", "\x1b[?1047h").TuiMode {
		t.Error("?1047h not recognized")
	}
}

func TestScrollbackClearStrippedInTuiMode(t *testing.T) {
	c := NewClassifier(nil)
	c.Classify("t1", "\x1b[?1049h")

	res := c.Classify("t1", "abc\x1b[3Jdef")
	if !res.ClearedScrollback {
		t.Error("scrollback clear not reported")
	}
	if res.Text != "abcdef" {
		t.Errorf("scrollback clear not stripped in TUI mode: %q", res.Text)
	}
}

func TestScrollbackClearPassedThroughOutsideTuiMode(t *testing.T) {
	c := NewClassifier(nil)

	res := c.Classify("t1", "abc\x1b[3Jdef")
	if !res.ClearedScrollback {
		t.Error("scrollback clear not reported")
	}
	if res.Text != "abc\x1b[3Jdef" {
		t.Errorf("scrollback clear stripped outside TUI mode: %q", res.Text)
	}
}

func TestTrailingRedrawHeld(t *testing.T) {
	c := NewClassifier(nil)
	c.Classify("t1", "\x1b[?1049h")

	res := c.Classify("t1", "\x1b[2J\x1b[H")
	if res.Text != "" {
		t.Errorf("bare redraw written immediately: %q", res.Text)
	}
	if !res.Held {
		t.Error("held flag not set")
	}

	// Content in the next batch releases the redraw inside a
	// synchronized-update bracket.
	res = c.Classify("t1", "frame content")
	if res.Held {
		t.Error("held flag still set after release")
	}
	want := "\x1b[?2026h\x1b[2J\x1b[Hframe content\x1b[?2026l"
	if res.Text != want {
		t.Errorf("released redraw = %q, want %q", res.Text, want)
	}
}

func TestRedrawWithContentNotHeld(t *testing.T) {
	c := NewClassifier(nil)
	c.Classify("t1", "\x1b[?1049h")

	res := c.Classify("t1", "\x1b[2J\x1b[Hredrawn screen")
	if res.Held {
		t.Error("redraw with trailing content was held")
	}
	if res.Text != "\x1b[2J\x1b[Hredrawn screen" {
		t.Errorf("unexpected rewrite: %q", res.Text)
	}
}

func TestTakeHeldReleasesAfterBatchingWindow(t *testing.T) {
	c := NewClassifier(nil)
	c.Classify("t1", "\x1b[?1049h")
	c.Classify("t1", "\x1b[2J\x1b[H")

	held, ok := c.TakeHeld("t1")
	if !ok {
		t.Fatal("no held redraw to take")
	}
	if held != "\x1b[2J\x1b[H" {
		t.Errorf("held = %q", held)
	}

	if _, ok := c.TakeHeld("t1"); ok {
		t.Error("held redraw returned twice")
	}
}

func TestNoHoldOutsideTuiMode(t *testing.T) {
	c := NewClassifier(nil)

	// An ordinary `clear` at a shell prompt must not be deferred.
	res := c.Classify("t1", "\x1b[2J\x1b[H")
	if res.Held {
		t.Error("redraw held outside TUI mode")
	}
	if res.Text != "\x1b[2J\x1b[H" {
		t.Errorf("clear rewritten: %q", res.Text)
	}
}

func TestBareCursorHomeNotHeld(t *testing.T) {
	c := NewClassifier(nil)
	c.Classify("t1", "\x1b[?1049h")

	res := c.Classify("t1", "text\x1b[H")
	if res.Held {
		t.Error("cursor home without clear was held")
	}
}

func TestCarryBound(t *testing.T) {
	c := NewClassifier(nil)

	// A long unterminated OSC cannot be carried; it passes through.
	in := "\x1b]0;a-very-long-window-title-string"
	res := c.Classify("t1", in)
	if res.Text != in {
		t.Errorf("oversized fragment withheld: %q", res.Text)
	}
}

func TestDropDiscardsState(t *testing.T) {
	c := NewClassifier(nil)
	c.Classify("t1", "\x1b[?2004h")
	c.Drop("t1")

	if c.PasteMode("t1") {
		t.Error("paste mode survived Drop")
	}
}

func TestStateIsPerTerminal(t *testing.T) {
	c := NewClassifier(nil)
	c.Classify("t1", "\x1b[?1049h")

	if c.TuiMode("t2") {
		t.Error("TUI mode leaked across terminals")
	}
	if !c.TuiMode("t1") {
		t.Error("TUI mode lost")
	}
}

func TestChunkedStreamReassembles(t *testing.T) {
	c := NewClassifier(nil)

	in := "one\x1b[?2004htwo\x1b[?2004lthree"
	var got strings.Builder
	for i := 0; i < len(in); i += 3 {
		end := i + 3
		if end > len(in) {
			end = len(in)
		}
		got.WriteString(c.Classify("t", in[i:end]).Text)
	}

	if got.String() != in {
		t.Errorf("chunked stream altered:\n got %q\nwant %q", got.String(), in)
	}
	if c.PasteMode("t") {
		t.Error("paste mode should be off at end of stream")
	}
}
