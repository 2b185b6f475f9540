// Package backend defines the collaborator boundary of the coordination
// core: the process backend that starts and stops terminal processes, the
// emulator handle that renders their output, and the session source the
// snapshot cache fetches from. Concrete local implementations live here;
// the core depends only on the interfaces.
package backend

import (
	"context"
	"strings"

	"github.com/helmdesk/helmdesk/internal/session"
)

// ProcessClient starts and stops backend terminal processes and answers
// path questions. Failures are non-fatal to callers: they log and skip the
// requested operation.
type ProcessClient interface {
	CreateTerminalProcess(ctx context.Context, id, workingDir string) error
	CloseTerminalProcess(ctx context.Context, id string) error
	PathExists(path string) bool
	DirectoryIsVersionControlled(path string) bool
}

// Surface is a visible display a terminal can be mounted on. Invalidate
// asks the host to repaint on the next frame.
type Surface interface {
	Invalidate()
}

// Emulator is one terminal's screen-state handle. The registry owns it
// exclusively and releases it exactly once. The read accessors feed the
// follow-scroll heuristic.
type Emulator interface {
	Write(p []byte, onComplete func())
	ClearScrollback()
	Attach(s Surface)
	Detach()
	Dispose() error
	Resize(rows, cols int)
	Render(w *strings.Builder) error

	AltScreen() bool
	CursorRow() int
	Rows() int
	ScrollOffset() int
	ScrollToBottom()
	ScrollUp(lines int)
	ScrollDown(lines int)
}

// SessionFetcher is the backend source of session lifecycle state.
type SessionFetcher interface {
	FetchSession(ctx context.Context, projectPath, sessionID string) (*session.Snapshot, error)
	ListSessions(ctx context.Context, projectPath string) ([]*session.Snapshot, error)
}
