// Package presence tracks which users are currently connected. It maps a
// logical user identity to at most one live connection and a status, and
// records the last-seen timestamp on every offline transition. All state is
// in-memory and volatile; it is rebuilt from client registration traffic
// after a restart.
package presence

import (
	"sync"
	"time"
)

// Status values for a tracked user.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// UserPresence is the tracked state for one user identity. ConnID is empty
// while the user is offline; LastSeen is zero until the first offline
// transition.
type UserPresence struct {
	UserID   string
	Status   string
	ConnID   string
	LastSeen time.Time
}

// Transition describes a single presence change produced by a registry
// mutation, ready to be broadcast as a user-status event.
type Transition struct {
	UserID   string
	Status   string
	LastSeen time.Time // valid only for offline transitions
}

// Registry is the connection registry: user identity -> presence entry.
// Entries are created on first registration and never evicted; a process
// with long uptime and high user churn accumulates offline entries. A second
// registration for the same identity supersedes the previous connection
// mapping without closing or erroring the old connection.
//
// No authentication is performed: any connection may register any identity.
type Registry struct {
	mu    sync.RWMutex
	users map[string]*UserPresence

	now func() time.Time // clock, swappable in tests
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]*UserPresence),
		now:   time.Now,
	}
}

// Register records (or overwrites) the user's connection mapping and marks
// the user online. It returns the online transition to broadcast. Repeated
// registrations with the same pair are safe; each one yields a fresh online
// transition.
func (r *Registry) Register(userID, connID string) Transition {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.users[userID]
	if !ok {
		entry = &UserPresence{UserID: userID}
		r.users[userID] = entry
	}
	entry.Status = StatusOnline
	entry.ConnID = connID
	entry.LastSeen = time.Time{}

	return Transition{UserID: userID, Status: StatusOnline}
}

// Lookup returns the live connection id for a user, if any. It is used to
// target an event at a specific user regardless of room membership.
func (r *Registry) Lookup(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.users[userID]
	if !ok || entry.Status != StatusOnline {
		return "", false
	}
	return entry.ConnID, true
}

// Unregister handles a transport disconnect. It scans for the entry whose
// connection id matches, marks it offline, stamps last-seen and clears the
// connection association. The linear scan mirrors the source design and is
// acceptable at this scale.
//
// If the connection superseded registration (a newer connection took over the
// identity) or never registered, no entry matches and ok is false.
func (r *Registry) Unregister(connID string) (Transition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.users {
		if entry.Status == StatusOnline && entry.ConnID == connID {
			entry.Status = StatusOffline
			entry.ConnID = ""
			entry.LastSeen = r.now()
			return Transition{
				UserID:   entry.UserID,
				Status:   StatusOffline,
				LastSeen: entry.LastSeen,
			}, true
		}
	}
	return Transition{}, false
}

// OnlineUsers returns the identities of all currently online users.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.users))
	for _, entry := range r.users {
		if entry.Status == StatusOnline {
			out = append(out, entry.UserID)
		}
	}
	return out
}

// Snapshot returns a copy of every tracked entry, online and offline.
func (r *Registry) Snapshot() []UserPresence {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]UserPresence, 0, len(r.users))
	for _, entry := range r.users {
		out = append(out, *entry)
	}
	return out
}

// Count returns the number of tracked entries (all identities ever
// registered in this process's lifetime).
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
