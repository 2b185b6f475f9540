package session

import (
	"strings"
	"testing"
)

func TestParseState(t *testing.T) {
	tests := []struct {
		in   string
		want State
	}{
		{"spec", StateSpec},
		{"running", StateRunning},
		{"reviewed", StateReviewed},
		{"RUNNING", StateRunning},
		{" reviewed ", StateReviewed},
		{"garbage", StateSpec},
		{"", StateSpec},
	}

	for _, tt := range tests {
		got := ParseState(tt.in)
		if got != tt.want {
			t.Errorf("ParseState(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestOrchestratorTerminals(t *testing.T) {
	sel := Orchestrator("/code/project")
	ts := sel.Terminals()

	if !strings.HasPrefix(ts.TopID, "orch-") || !strings.HasSuffix(ts.TopID, "-top") {
		t.Errorf("unexpected top id %q", ts.TopID)
	}
	if ts.WorkingDir != "/code/project" {
		t.Errorf("expected project path as working dir, got %q", ts.WorkingDir)
	}

	// Ids must be a pure function of the project path.
	again := Orchestrator("/code/project").Terminals()
	if again.TopID != ts.TopID || again.BottomID != ts.BottomID {
		t.Error("terminal ids not stable for the same project path")
	}

	other := Orchestrator("/code/other").Terminals()
	if other.TopID == ts.TopID {
		t.Error("different projects derived the same terminal id")
	}
}

func TestSessionTerminals(t *testing.T) {
	sel := ForSession("/code/project", "abc123")
	sel.SessionState = StateRunning
	sel.WorktreePath = "/code/project/.worktrees/abc123"

	ts := sel.Terminals()
	if ts.TopID != "sess-abc123-top" {
		t.Errorf("top id = %q", ts.TopID)
	}
	if ts.BottomID != "sess-abc123-bottom" {
		t.Errorf("bottom id = %q", ts.BottomID)
	}
	if ts.WorkingDir != sel.WorktreePath {
		t.Errorf("working dir = %q", ts.WorkingDir)
	}
	if ts.OwnerKey != OwnerKeyForSession("abc123") {
		t.Errorf("owner key = %q", ts.OwnerKey)
	}
}

func TestSpecSessionHasNoWorkingDir(t *testing.T) {
	sel := ForSession("/code/project", "draft1")
	sel.SessionState = StateSpec
	sel.WorktreePath = "/should/be/ignored"

	if dir := sel.Terminals().WorkingDir; dir != "" {
		t.Errorf("spec session derived working dir %q, want empty", dir)
	}
}

func TestSelectionEqual(t *testing.T) {
	a := ForSession("/p", "s1")
	b := ForSession("/p", "s1")
	b.SessionState = StateRunning
	if !a.Equal(b) {
		t.Error("same session in different lifecycle state should be equal")
	}

	if a.Equal(ForSession("/p", "s2")) {
		t.Error("different sessions should not be equal")
	}
	if a.Equal(Orchestrator("/p")) {
		t.Error("session and orchestrator should not be equal")
	}
	if !Orchestrator("/p").Equal(Orchestrator("/p")) {
		t.Error("orchestrator selections for the same project should be equal")
	}
	if Orchestrator("/p").Equal(Orchestrator("/q")) {
		t.Error("orchestrator selections for different projects should differ")
	}
}
