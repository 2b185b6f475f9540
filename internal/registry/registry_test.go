package registry

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/go-errors/errors"

	"github.com/helmdesk/helmdesk/internal/backend"
	"github.com/helmdesk/helmdesk/internal/stream"
)

type fakeEmulator struct {
	mu       sync.Mutex
	writes   [][]byte
	attached bool
	disposes int
}

func (f *fakeEmulator) Write(p []byte, onComplete func()) {
	f.mu.Lock()
	buf := make([]byte, len(p))
	copy(buf, p)
	f.writes = append(f.writes, buf)
	f.mu.Unlock()
	if onComplete != nil {
		onComplete()
	}
}

func (f *fakeEmulator) ClearScrollback() {}

func (f *fakeEmulator) Attach(s backend.Surface) {
	f.mu.Lock()
	f.attached = true
	f.mu.Unlock()
}

func (f *fakeEmulator) Detach() {
	f.mu.Lock()
	f.attached = false
	f.mu.Unlock()
}

func (f *fakeEmulator) Dispose() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disposes++
	if f.disposes > 1 {
		return errors.New("double dispose")
	}
	return nil
}

func (f *fakeEmulator) Resize(rows, cols int)           {}
func (f *fakeEmulator) Render(w *strings.Builder) error { return nil }
func (f *fakeEmulator) AltScreen() bool                 { return false }
func (f *fakeEmulator) CursorRow() int                  { return 0 }
func (f *fakeEmulator) Rows() int                       { return 24 }
func (f *fakeEmulator) ScrollOffset() int               { return 0 }
func (f *fakeEmulator) ScrollToBottom()                 {}
func (f *fakeEmulator) ScrollUp(lines int)              {}
func (f *fakeEmulator) ScrollDown(lines int)            {}

func (f *fakeEmulator) disposeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disposes
}

func (f *fakeEmulator) isAttached() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attached
}

type fakeProcessClient struct {
	mu     sync.Mutex
	closed []string
}

func (f *fakeProcessClient) CreateTerminalProcess(ctx context.Context, id, workingDir string) error {
	return nil
}

func (f *fakeProcessClient) CloseTerminalProcess(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, id)
	return nil
}

func (f *fakeProcessClient) PathExists(path string) bool                   { return true }
func (f *fakeProcessClient) DirectoryIsVersionControlled(path string) bool { return true }

func (f *fakeProcessClient) closedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closed...)
}

func newTestRegistry(t *testing.T) (*Registry, *fakeProcessClient) {
	t.Helper()
	sched := stream.NewScheduler(stream.Config{}, nil, nil)
	procs := &fakeProcessClient{}
	return New(sched, procs, nil), procs
}

func newFake() Factory {
	return func() (backend.Emulator, error) { return &fakeEmulator{}, nil }
}

func TestAcquireCreatesOnce(t *testing.T) {
	reg, _ := newTestRegistry(t)
	defer reg.Reset()

	calls := 0
	factory := func() (backend.Emulator, error) {
		calls++
		return &fakeEmulator{}, nil
	}

	rec1, isNew, err := reg.Acquire("term-1", "sess:a", factory)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !isNew {
		t.Error("first Acquire should report new")
	}

	rec2, isNew, err := reg.Acquire("term-1", "sess:a", factory)
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	if isNew {
		t.Error("second Acquire should not report new")
	}
	if rec1 != rec2 {
		t.Error("both acquires should return the same record")
	}
	if calls != 1 {
		t.Errorf("factory called %d times, want 1", calls)
	}
	if got := reg.RefCount("term-1"); got != 2 {
		t.Errorf("refcount = %d, want 2", got)
	}
}

func TestReleaseDisposesAtZero(t *testing.T) {
	reg, procs := newTestRegistry(t)

	emu := &fakeEmulator{}
	reg.Acquire("term-1", "sess:a", func() (backend.Emulator, error) { return emu, nil })
	reg.Acquire("term-1", "sess:a", func() (backend.Emulator, error) {
		t.Fatal("factory invoked for live record")
		return nil, nil
	})

	reg.Release("term-1")
	if emu.disposeCount() != 0 {
		t.Error("disposed while references remain")
	}
	if !reg.Has("term-1") {
		t.Error("record removed while references remain")
	}

	reg.Release("term-1")
	if emu.disposeCount() != 1 {
		t.Errorf("dispose count = %d, want 1", emu.disposeCount())
	}
	if reg.Has("term-1") {
		t.Error("record still present after final release")
	}
	if got := procs.closedIDs(); len(got) != 1 || got[0] != "term-1" {
		t.Errorf("closed processes = %v, want [term-1]", got)
	}
}

func TestReacquireAfterReleaseInvokesFactory(t *testing.T) {
	reg, _ := newTestRegistry(t)
	defer reg.Reset()

	calls := 0
	factory := func() (backend.Emulator, error) {
		calls++
		return &fakeEmulator{}, nil
	}

	reg.Acquire("term-1", "sess:a", factory)
	reg.Release("term-1")
	_, isNew, err := reg.Acquire("term-1", "sess:a", factory)
	if err != nil {
		t.Fatalf("reacquire failed: %v", err)
	}
	if !isNew {
		t.Error("acquire after full release should create a fresh record")
	}
	if calls != 2 {
		t.Errorf("factory called %d times, want 2", calls)
	}
}

func TestFactoryErrorLeavesNoRecord(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, _, err := reg.Acquire("term-1", "sess:a", func() (backend.Emulator, error) {
		return nil, errors.New("backend unavailable")
	})
	if err == nil {
		t.Fatal("expected factory error")
	}
	if reg.Has("term-1") {
		t.Error("failed acquire should not leave a record")
	}
}

func TestReleaseOwnerReleasesAllPanes(t *testing.T) {
	reg, procs := newTestRegistry(t)

	reg.Acquire("sess-a-top", "sess:a", newFake())
	reg.Acquire("sess-a-bottom", "sess:a", newFake())
	reg.Acquire("orch-1-top", "orch:1", newFake())

	reg.ReleaseOwner("sess:a")

	if reg.Has("sess-a-top") || reg.Has("sess-a-bottom") {
		t.Error("owner's terminals should be released")
	}
	if !reg.Has("orch-1-top") {
		t.Error("other owner's terminal should survive")
	}
	if got := len(procs.closedIDs()); got != 2 {
		t.Errorf("closed %d processes, want 2", got)
	}
	reg.Reset()
}

func TestReleaseWhereMatchesPredicate(t *testing.T) {
	reg, _ := newTestRegistry(t)

	reg.Acquire("sess-a-top", "sess:a", newFake())
	reg.Acquire("sess-b-top", "sess:b", newFake())

	reg.ReleaseWhere(func(id string) bool { return strings.HasPrefix(id, "sess-a") })

	if reg.Has("sess-a-top") {
		t.Error("matching terminal should be removed")
	}
	if !reg.Has("sess-b-top") {
		t.Error("non-matching terminal should survive")
	}
	reg.Reset()
}

func TestForceRemoveIgnoresRefCount(t *testing.T) {
	reg, _ := newTestRegistry(t)

	emu := &fakeEmulator{}
	reg.Acquire("term-1", "sess:a", func() (backend.Emulator, error) { return emu, nil })
	reg.Acquire("term-1", "sess:a", newFake())

	reg.ForceRemove("term-1")
	if reg.Has("term-1") {
		t.Error("force remove should drop the record")
	}
	if emu.disposeCount() != 1 {
		t.Errorf("dispose count = %d, want 1", emu.disposeCount())
	}
}

func TestAttachDetach(t *testing.T) {
	reg, _ := newTestRegistry(t)
	defer reg.Reset()

	emu := &fakeEmulator{}
	reg.Acquire("term-1", "sess:a", func() (backend.Emulator, error) { return emu, nil })

	reg.Attach("term-1", nil)
	if !emu.isAttached() {
		t.Error("emulator should be attached")
	}
	reg.Detach("term-1")
	if emu.isAttached() {
		t.Error("emulator should be detached")
	}
}

func TestReleaseUnknownIDIsNoop(t *testing.T) {
	reg, procs := newTestRegistry(t)
	reg.Release("missing")
	if len(procs.closedIDs()) != 0 {
		t.Error("release of unknown id should not touch the backend")
	}
}

func TestOwnedByTracksIndex(t *testing.T) {
	reg, _ := newTestRegistry(t)
	defer reg.Reset()

	reg.Acquire("sess-a-top", "sess:a", newFake())
	reg.Acquire("sess-a-bottom", "sess:a", newFake())

	owned := reg.OwnedBy("sess:a")
	if len(owned) != 2 {
		t.Fatalf("owned = %v, want 2 ids", owned)
	}
}
