// Package registry maps live identities to the connections currently able
// to receive pushes: at most one handle per end user and any number of
// admin handles.
package registry

import (
	"sort"
	"sync"

	"github.com/Tyrowin/supportdesk/internal/chat"
	"github.com/Tyrowin/supportdesk/internal/metrics"
)

// Handle is a live connection the router can push messages to. Handles are
// compared with ==, so implementations should be pointers.
type Handle interface {
	ID() string
	Push(msg chat.Message) error
}

// Registry is safe for concurrent use. A single lock serialises every
// mutation; lookups take the read lock.
type Registry struct {
	mu     sync.RWMutex
	users  map[string]Handle
	admins map[Handle]struct{}
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		users:  make(map[string]Handle),
		admins: make(map[Handle]struct{}),
	}
}

// RegisterUser makes h the handle for id and returns the handle it replaced,
// if any. The replaced handle is not closed; it simply stops resolving.
func (r *Registry) RegisterUser(id string, h Handle) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.users[id]
	r.users[id] = h
	r.updateGaugesLocked()
	if previous == h {
		return nil
	}
	return previous
}

// RegisterAdmin adds h to the admin set.
func (r *Registry) RegisterAdmin(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.admins[h] = struct{}{}
	r.updateGaugesLocked()
}

// UnregisterUser removes the mapping for id only while it still points at h,
// so a late disconnect cannot evict a newer registration. It reports whether
// anything was removed.
func (r *Registry) UnregisterUser(id string, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.users[id]
	if !ok || current != h {
		return false
	}
	delete(r.users, id)
	r.updateGaugesLocked()
	return true
}

// UnregisterAdmin removes h from the admin set and reports whether it was
// present.
func (r *Registry) UnregisterAdmin(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.admins[h]; !ok {
		return false
	}
	delete(r.admins, h)
	r.updateGaugesLocked()
	return true
}

// ResolveUser returns the current handle for id.
func (r *Registry) ResolveUser(id string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.users[id]
	return h, ok
}

// Admins returns a snapshot of the admin handles.
func (r *Registry) Admins() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	admins := make([]Handle, 0, len(r.admins))
	for h := range r.admins {
		admins = append(admins, h)
	}
	return admins
}

// OnlineUsers returns the sorted ids of users with a live handle.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Counts returns the number of online users and admin handles.
func (r *Registry) Counts() (users, admins int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users), len(r.admins)
}

func (r *Registry) updateGaugesLocked() {
	metrics.ConnectedUsers.Set(float64(len(r.users)))
	metrics.ConnectedAdmins.Set(float64(len(r.admins)))
}
