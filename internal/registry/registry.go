// Package registry owns terminal handle lifecycle: refcounted creation and
// reuse, attach/detach from display surfaces, and disposal exactly once.
// No other component touches an emulator handle directly.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/helmdesk/helmdesk/internal/backend"
	"github.com/helmdesk/helmdesk/internal/stream"
)

// Factory constructs the underlying emulator handle for a new terminal.
// It is invoked at most once per live id.
type Factory func() (backend.Emulator, error)

// Record is one live terminal handle and its bookkeeping.
type Record struct {
	ID       string
	OwnerKey string
	Created  time.Time

	refCount int
	attached bool
	emu      backend.Emulator
	disposed bool
}

// Emulator returns the underlying handle for rendering. The registry
// retains ownership; callers must not dispose it.
func (r *Record) Emulator() backend.Emulator {
	return r.emu
}

// Registry tracks all live terminal records and their owners.
type Registry struct {
	mu       sync.Mutex
	sched    *stream.Scheduler
	procs    backend.ProcessClient
	records  map[string]*Record
	byOwner  map[string]map[string]struct{}
	logger   *slog.Logger
}

// New creates a registry that registers terminals with the scheduler and
// closes their backend processes on disposal. procs may be nil in tests.
func New(sched *stream.Scheduler, procs backend.ProcessClient, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sched:   sched,
		procs:   procs,
		records: make(map[string]*Record),
		byOwner: make(map[string]map[string]struct{}),
		logger:  logger.With("component", "registry"),
	}
}

// Acquire returns the record for id, creating it through factory when
// absent. The returned bool reports whether the record is new. The
// factory is never invoked while a record for id exists.
func (r *Registry) Acquire(id, ownerKey string, factory Factory) (*Record, bool, error) {
	r.mu.Lock()

	if rec, ok := r.records[id]; ok {
		rec.refCount++
		r.mu.Unlock()
		return rec, false, nil
	}

	emu, err := factory()
	if err != nil {
		r.mu.Unlock()
		return nil, false, err
	}

	rec := &Record{
		ID:       id,
		OwnerKey: ownerKey,
		Created:  time.Now(),
		refCount: 1,
		emu:      emu,
	}
	r.records[id] = rec
	if ownerKey != "" {
		ids, ok := r.byOwner[ownerKey]
		if !ok {
			ids = make(map[string]struct{})
			r.byOwner[ownerKey] = ids
		}
		ids[id] = struct{}{}
	}
	r.mu.Unlock()

	r.sched.Register(id, emu, true)
	r.logger.Debug("terminal acquired", "terminal", id, "owner", ownerKey)
	return rec, true, nil
}

// Release drops one reference. At refcount zero the terminal is drained,
// unregistered, disposed exactly once, and removed so a later Acquire
// builds it afresh.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	rec.refCount--
	if rec.refCount > 0 {
		r.mu.Unlock()
		return
	}
	r.removeLocked(rec)
	r.mu.Unlock()

	r.teardown(rec)
}

// ForceRemove releases a terminal unconditionally, for abnormal cleanup.
func (r *Registry) ForceRemove(id string) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	rec.refCount = 0
	r.removeLocked(rec)
	r.mu.Unlock()

	r.teardown(rec)
}

// ReleaseOwner releases one reference on every terminal the owner key
// holds. Used when a session is torn down to release both of its panes.
func (r *Registry) ReleaseOwner(ownerKey string) {
	r.mu.Lock()
	var ids []string
	for id := range r.byOwner[ownerKey] {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Release(id)
	}
}

// ReleaseWhere force-removes every terminal whose id matches the
// predicate. Abnormal cleanup only; ordinary teardown goes through owners.
func (r *Registry) ReleaseWhere(pred func(id string) bool) {
	r.mu.Lock()
	var ids []string
	for id := range r.records {
		if pred(id) {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.ForceRemove(id)
	}
}

// removeLocked unlinks a record from the registry and its owner index.
func (r *Registry) removeLocked(rec *Record) {
	delete(r.records, rec.ID)
	if rec.OwnerKey != "" {
		if ids, ok := r.byOwner[rec.OwnerKey]; ok {
			delete(ids, rec.ID)
			if len(ids) == 0 {
				delete(r.byOwner, rec.OwnerKey)
			}
		}
	}
}

// teardown drains and disposes a removed record. Disposal and process
// close failures are logged and swallowed: a leaked handle is better than
// a registry id that can never be acquired again.
func (r *Registry) teardown(rec *Record) {
	r.sched.Flush(rec.ID)
	r.sched.Unregister(rec.ID)

	rec.emu.Detach()
	if !rec.disposed {
		rec.disposed = true
		if err := rec.emu.Dispose(); err != nil {
			r.logger.Warn("disposing terminal handle", "terminal", rec.ID, "err", err)
		}
	}
	if r.procs != nil {
		if err := r.procs.CloseTerminalProcess(context.Background(), rec.ID); err != nil {
			r.logger.Warn("closing terminal process", "terminal", rec.ID, "err", err)
		}
	}
	r.logger.Debug("terminal released", "terminal", rec.ID)
}

// Attach mounts a terminal on a surface and drains buffered output in
// full. Does not affect the refcount.
func (r *Registry) Attach(id string, surface backend.Surface) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if ok {
		rec.attached = true
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	rec.emu.Attach(surface)
	r.sched.SetAttached(id, true)
}

// Detach unmounts a terminal. Output keeps buffering until the next
// Attach.
func (r *Registry) Detach(id string) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if ok {
		rec.attached = false
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	rec.emu.Detach()
	r.sched.SetAttached(id, false)
}

// Has reports whether a live record exists for id.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[id]
	return ok
}

// Get returns the live record for id.
func (r *Registry) Get(id string) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return rec, ok
}

// RefCount returns the current reference count for id, for diagnostics.
func (r *Registry) RefCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		return rec.refCount
	}
	return 0
}

// OwnedBy returns the terminal ids held by an owner key.
func (r *Registry) OwnedBy(ownerKey string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id := range r.byOwner[ownerKey] {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of live records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Reset force-removes every record, for test isolation and shutdown.
func (r *Registry) Reset() {
	r.ReleaseWhere(func(string) bool { return true })
}
