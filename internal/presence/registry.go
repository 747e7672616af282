// Package presence tracks which users currently hold at least one live
// connection. A user may be connected from several devices at once; each
// device is a separate connection id.
package presence

import (
	"sort"
	"sync"
)

// Observer receives the distinct set of online user ids after every change.
// Observers are called synchronously and must not block.
type Observer func(online []int64)

// Registry is the process-wide presence table. Construct one with NewRegistry
// and hand it to whatever needs it; the zero value is not usable.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]int64              // connectionID -> userID
	users map[int64]map[string]struct{} // userID -> set of connectionIDs

	// notifyMu serializes snapshot+publish so observers never see an older
	// snapshot after a newer one.
	notifyMu  sync.Mutex
	observers []Observer
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]int64),
		users: make(map[int64]map[string]struct{}),
	}
}

// Subscribe adds an observer. It does not receive the current snapshot.
func (r *Registry) Subscribe(o Observer) {
	r.notifyMu.Lock()
	r.observers = append(r.observers, o)
	r.notifyMu.Unlock()
}

// Register binds connID to userID. Registering the same pair twice is a no-op;
// registering a known connection under another user moves it.
func (r *Registry) Register(userID int64, connID string) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	if prev, ok := r.conns[connID]; ok {
		if prev == userID {
			r.mu.Unlock()
			return
		}
		r.removeLocked(connID)
	}
	r.conns[connID] = userID
	set := r.users[userID]
	if set == nil {
		set = make(map[string]struct{})
		r.users[userID] = set
	}
	set[connID] = struct{}{}
	snapshot := r.onlineLocked()
	r.mu.Unlock()

	r.publish(snapshot)
}

// Unregister drops the entry for connID, if any.
func (r *Registry) Unregister(connID string) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	if _, ok := r.conns[connID]; !ok {
		r.mu.Unlock()
		return
	}
	r.removeLocked(connID)
	snapshot := r.onlineLocked()
	r.mu.Unlock()

	r.publish(snapshot)
}

// IsOnline reports whether userID has at least one registered connection.
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// OnlineUserIDs returns a sorted snapshot of the distinct online users.
func (r *Registry) OnlineUserIDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.onlineLocked()
}

// Connections returns the connection ids registered for userID.
func (r *Registry) Connections(userID int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.users[userID]))
	for id := range r.users[userID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// UserOf returns the user bound to connID.
func (r *Registry) UserOf(connID string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	uid, ok := r.conns[connID]
	return uid, ok
}

func (r *Registry) removeLocked(connID string) {
	uid := r.conns[connID]
	delete(r.conns, connID)
	if set, ok := r.users[uid]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.users, uid)
		}
	}
}

func (r *Registry) onlineLocked() []int64 {
	out := make([]int64, 0, len(r.users))
	for uid := range r.users {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) publish(snapshot []int64) {
	for _, o := range r.observers {
		o(snapshot)
	}
}
