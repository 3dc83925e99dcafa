// Package registry is the supervisor's persistent state: an ordered list of
// service descriptors plus one mutable status record per name. All status
// mutations go through the owning Entry's lock, giving the single-writer
// discipline the supervisor relies on.
package registry

import (
	"fmt"
	"sync"

	"github.com/orpheus-engine/conductor/internal/service"
)

// Entry pairs one registered descriptor with its status record and, while the
// service is live, its process handle.
type Entry struct {
	mu            sync.Mutex
	desc          service.Descriptor
	status        service.Status
	handle        *service.Handle
	stopRequested bool
}

// Descriptor returns a copy of the registered descriptor.
func (e *Entry) Descriptor() service.Descriptor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.desc.DeepCopy()
}

// Snapshot returns a copy of the current status record.
func (e *Entry) Snapshot() service.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Update mutates the status record under the entry lock and returns the
// resulting snapshot. Every transition the supervisor makes goes through
// here, so per-service transitions are totally ordered.
func (e *Entry) Update(fn func(*service.Status)) service.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.status)
	return e.status
}

// UpdateNotify is Update with a callback invoked under the same lock when fn
// reports a change. Holding the lock across the callback keeps per-service
// notifications in transition order; callbacks must not re-enter the entry.
func (e *Entry) UpdateNotify(fn func(*service.Status) bool, notify func(service.Status)) service.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	changed := fn(&e.status)
	if changed && notify != nil {
		notify(e.status)
	}
	return e.status
}

// Handle returns the tracked process handle, or nil when none is live.
func (e *Entry) Handle() *service.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handle
}

// SetHandle tracks a freshly spawned process for this entry.
func (e *Entry) SetHandle(h *service.Handle) {
	e.mu.Lock()
	e.handle = h
	e.mu.Unlock()
}

// ClearHandleIf removes the tracked handle when it is still h. The guard
// keeps a stale exit watcher from clobbering the handle of a newer run.
func (e *Entry) ClearHandleIf(h *service.Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != h {
		return false
	}
	e.handle = nil
	return true
}

// SetStopRequested flags (or clears) an in-flight explicit stop so the exit
// watcher can tell an ordered shutdown from a crash.
func (e *Entry) SetStopRequested(v bool) {
	e.mu.Lock()
	e.stopRequested = v
	e.mu.Unlock()
}

func (e *Entry) StopRequested() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopRequested
}

// Registry holds entries keyed by name, preserving registration order.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*Entry
}

func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Add registers a descriptor, creating a fresh Pending status with no pid.
// Re-registering a name replaces the previous entry (fresh status overwrites
// the prior one) unless the previous service is still live, which is an
// error; stop it first.
func (r *Registry) Add(d service.Descriptor) (*Entry, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.entries[d.Name]; ok {
		if prev.Snapshot().State.Live() {
			return nil, fmt.Errorf("service %s is %s; stop it before re-registering", d.Name, prev.Snapshot().State)
		}
	} else {
		r.order = append(r.order, d.Name)
	}
	e := &Entry{
		desc: d.DeepCopy(),
		status: service.Status{
			Name:     d.Name,
			State:    service.StatePending,
			GroupID:  d.GroupID,
			Category: d.Category,
		},
	}
	r.entries[d.Name] = e
	return e, nil
}

// Get returns the entry for name, or nil.
func (r *Registry) Get(name string) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[name]
}

// Remove deletes the descriptor, status and any handle reference atomically.
// No status outlives its descriptor.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		return false
	}
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// List returns all entries in registration order.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.entries[n])
	}
	return out
}

// Group returns entries whose descriptor carries groupID, in registration order.
func (r *Registry) Group(groupID string) []*Entry {
	if groupID == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Entry
	for _, n := range r.order {
		e := r.entries[n]
		if e.Descriptor().GroupID == groupID {
			out = append(out, e)
		}
	}
	return out
}

// Len reports the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
