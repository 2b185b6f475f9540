package ui

import (
	"strings"
	"testing"

	"github.com/helmdesk/helmdesk/internal/session"
)

func TestStateIcon(t *testing.T) {
	tests := []struct {
		state   session.State
		pending bool
		want    string
	}{
		{session.StateSpec, false, "○"},
		{session.StateRunning, false, "●"},
		{session.StateReviewed, false, "✓"},
		{session.StateSpec, true, "◌"},
	}

	for _, tt := range tests {
		got := StateIcon(tt.state, tt.pending)
		if got != tt.want {
			t.Errorf("StateIcon(%v, %v) = %q, want %q", tt.state, tt.pending, got, tt.want)
		}
	}
}

func TestStateText(t *testing.T) {
	tests := []struct {
		state   session.State
		pending bool
		want    string
	}{
		{session.StateSpec, false, "SPEC"},
		{session.StateRunning, false, "RUNNING"},
		{session.StateReviewed, false, "REVIEWED"},
		{session.StateRunning, true, "STARTING"},
	}

	for _, tt := range tests {
		got := StateText(tt.state, tt.pending)
		if got != tt.want {
			t.Errorf("StateText(%v, %v) = %q, want %q", tt.state, tt.pending, got, tt.want)
		}
	}
}

func TestRowRender(t *testing.T) {
	r := &Row{
		Title:  "fix-parser",
		Branch: "helm/fix-parser",
		State:  session.StateRunning,
		Width:  60,
	}
	line := r.Render()
	if !strings.Contains(line, "fix-parser") {
		t.Errorf("row %q should contain the title", line)
	}
	if !strings.Contains(line, "RUNNING") {
		t.Errorf("row %q should contain the state label", line)
	}
	if !strings.Contains(line, "helm/fix-parser") {
		t.Errorf("row %q should contain the branch", line)
	}
}

func TestRowRenderSelectedMarker(t *testing.T) {
	r := &Row{Title: "s1", State: session.StateSpec, Width: 40, Selected: true}
	if !strings.Contains(r.Render(), "❯") {
		t.Error("selected row should carry the selection marker")
	}
	r.Selected = false
	if strings.Contains(r.Render(), "❯") {
		t.Error("unselected row should not carry the selection marker")
	}
}

func TestRowRenderOrchestrator(t *testing.T) {
	r := &Row{Title: "myproject", Orchestrator: true, Width: 40}
	line := r.Render()
	if !strings.Contains(line, "⌂") || !strings.Contains(line, "ORCH") {
		t.Errorf("orchestrator row = %q, want house icon and ORCH label", line)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		s     string
		width int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"ab", 3, "ab"},
		{"abcd", 3, "abc"},
		{"", 5, ""},
	}

	for _, tt := range tests {
		got := Truncate(tt.s, tt.width)
		if got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.s, tt.width, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{512, "512B"},
		{2048, "2.0KiB"},
		{3 << 20, "3.0MiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestModalDimensions(t *testing.T) {
	x0, y0, x1, y1 := ModalDimensions(100, 40, 60, 20)
	if x0 != 20 || y0 != 10 || x1 != 80 || y1 != 30 {
		t.Errorf("ModalDimensions = %d,%d,%d,%d", x0, y0, x1, y1)
	}
}
