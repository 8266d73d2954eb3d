// Package rooms tracks which connections are subscribed to which chat rooms.
// A room is either a two-party direct chat, identified by a key both
// participants derive independently, or a group chat identified by the
// group's persistent id. The transport has no native broadcast groups, so
// membership is an explicit mapping kept here.
package rooms

import (
	"sort"
	"sync"
)

// DirectKey derives the deterministic room key for a two-party direct chat:
// both identities sorted lexicographically and joined with "_". Clients
// compute the same key on their side; the server never sends it.
func DirectKey(userA, userB string) string {
	ids := []string{userA, userB}
	sort.Strings(ids)
	return ids[0] + "_" + ids[1]
}

// Tracker maintains room membership: room key -> set of connection ids, with
// a reverse index so a disconnecting connection can be dropped from every
// room it joined. Rooms come into existence on first join and vanish when
// their last member leaves; there is no explicit room lifecycle.
type Tracker struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{} // room key -> conn ids
	joined  map[string]map[string]struct{} // conn id -> room keys
}

// NewTracker creates an empty membership tracker.
func NewTracker() *Tracker {
	return &Tracker{
		members: make(map[string]map[string]struct{}),
		joined:  make(map[string]map[string]struct{}),
	}
}

// Join adds the connection to the room. Joining a room the connection is
// already in is a no-op, so duplicate joins never cause duplicate delivery.
func (t *Tracker) Join(connID, roomKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.members[roomKey] == nil {
		t.members[roomKey] = make(map[string]struct{})
	}
	t.members[roomKey][connID] = struct{}{}

	if t.joined[connID] == nil {
		t.joined[connID] = make(map[string]struct{})
	}
	t.joined[connID][roomKey] = struct{}{}
}

// Leave removes the connection from the room. Leaving a room the connection
// never joined is a no-op.
func (t *Tracker) Leave(connID, roomKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remove(connID, roomKey)
}

// Drop removes the connection from every room it joined. Called on
// transport disconnect.
func (t *Tracker) Drop(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for roomKey := range t.joined[connID] {
		t.remove(connID, roomKey)
	}
}

// remove deletes one membership edge and reclaims empty sets. Callers hold
// the write lock.
func (t *Tracker) remove(connID, roomKey string) {
	if set, ok := t.members[roomKey]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(t.members, roomKey)
		}
	}
	if set, ok := t.joined[connID]; ok {
		delete(set, roomKey)
		if len(set) == 0 {
			delete(t.joined, connID)
		}
	}
}

// Members returns a snapshot of the connection ids currently in the room.
// An unknown room yields an empty slice; delivery to it is simply a no-op.
func (t *Tracker) Members(roomKey string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set := t.members[roomKey]
	out := make([]string, 0, len(set))
	for connID := range set {
		out = append(out, connID)
	}
	return out
}

// Rooms returns the room keys the connection is currently in.
func (t *Tracker) Rooms(connID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set := t.joined[connID]
	out := make([]string, 0, len(set))
	for roomKey := range set {
		out = append(out, roomKey)
	}
	return out
}
