package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/devlink/relay/internal/protocol"
	"github.com/devlink/relay/internal/rooms"
)

// fakeSender captures everything the engine tries to deliver.
type fakeSender struct {
	mu         sync.Mutex
	sent       map[string][][]byte // conn id -> frames
	broadcasts [][]byte
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[string][][]byte)}
}

func (f *fakeSender) SendTo(connID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[connID] = append(f.sent[connID], data)
	return nil
}

func (f *fakeSender) Broadcast(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, data)
}

func (f *fakeSender) framesFor(connID string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent[connID]...)
}

func (f *fakeSender) broadcastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.broadcasts)
}

func (f *fakeSender) broadcastAt(i int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.broadcasts[i]
}

func decode(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("frame not valid JSON: %v", err)
	}
	return m
}

// recordingStore captures fire-and-forget last-seen updates.
type recordingStore struct {
	touched chan string
	err     error
}

func (s *recordingStore) Touch(_ context.Context, userID string, _ time.Time) error {
	s.touched <- userID
	return s.err
}

// ---------------------------------------------------------------------------
// Presence
// ---------------------------------------------------------------------------

// Re-registering the same identity from a new connection supersedes the old
// mapping: two online broadcasts, no implicit offline for the first conn.
func TestReRegisterSupersedesWithoutOffline(t *testing.T) {
	sender := newFakeSender()
	e := NewEngine(sender, nil, nil)

	e.Register("c1", "u1")
	e.Register("c2", "u1")

	if got := sender.broadcastCount(); got != 2 {
		t.Fatalf("expected 2 user-status broadcasts, got %d", got)
	}
	for i := 0; i < 2; i++ {
		m := decode(t, sender.broadcastAt(i))
		if m["type"] != protocol.TypeUserStatus || m["status"] != protocol.StatusOnline {
			t.Errorf("broadcast %d: expected online user-status, got %v", i, m)
		}
	}

	connID, ok := e.Registry().Lookup("u1")
	if !ok || connID != "c2" {
		t.Fatalf("expected u1 on c2, got %q (ok=%v)", connID, ok)
	}

	// The superseded connection disconnecting must not flip u1 offline.
	e.Disconnect("c1")
	if got := sender.broadcastCount(); got != 2 {
		t.Fatalf("superseded disconnect must not broadcast, got %d broadcasts", got)
	}
	if _, ok := e.Registry().Lookup("u1"); !ok {
		t.Error("u1 must remain online on c2")
	}
}

// Register then disconnect yields exactly one online and one offline
// broadcast, with lastSeen only on the offline one.
func TestPresenceSymmetry(t *testing.T) {
	sender := newFakeSender()
	e := NewEngine(sender, nil, nil)

	e.Register("c1", "u1")
	e.Disconnect("c1")

	if got := sender.broadcastCount(); got != 2 {
		t.Fatalf("expected 2 broadcasts, got %d", got)
	}

	online := decode(t, sender.broadcastAt(0))
	if online["status"] != protocol.StatusOnline || online["userId"] != "u1" {
		t.Fatalf("unexpected online event: %v", online)
	}
	if _, present := online["lastSeen"]; present {
		t.Error("online event must not carry lastSeen")
	}

	offline := decode(t, sender.broadcastAt(1))
	if offline["status"] != protocol.StatusOffline || offline["userId"] != "u1" {
		t.Fatalf("unexpected offline event: %v", offline)
	}
	lastSeen, ok := offline["lastSeen"].(string)
	if !ok || lastSeen == "" {
		t.Fatalf("offline event missing lastSeen: %v", offline)
	}
	if _, err := time.Parse(time.RFC3339, lastSeen); err != nil {
		t.Errorf("lastSeen not RFC-3339: %q (%v)", lastSeen, err)
	}
}

// An abrupt disconnect persists last-seen in the background; a store failure
// never affects the broadcast, which has already happened.
func TestDisconnectPersistsLastSeen(t *testing.T) {
	sender := newFakeSender()
	store := &recordingStore{touched: make(chan string, 1), err: errors.New("store down")}
	e := NewEngine(sender, store, nil)

	e.Register("c1", "u1")
	e.Disconnect("c1")

	// Offline broadcast happens synchronously on the disconnect path.
	if got := sender.broadcastCount(); got != 2 {
		t.Fatalf("expected 2 broadcasts, got %d", got)
	}

	select {
	case userID := <-store.touched:
		if userID != "u1" {
			t.Errorf("expected last-seen update for u1, got %q", userID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("last-seen update was never dispatched")
	}
}

func TestRegisterEmptyUserIgnored(t *testing.T) {
	sender := newFakeSender()
	e := NewEngine(sender, nil, nil)

	e.Register("c1", "")
	if got := sender.broadcastCount(); got != 0 {
		t.Fatalf("expected no broadcast for empty userId, got %d", got)
	}
}

// ---------------------------------------------------------------------------
// Direct message relay
// ---------------------------------------------------------------------------

// Scenario: u1 and u2 join the derived room; u1 sends "hi"; u2 receives
// exactly one receive-message. A connection in a different room gets nothing.
func TestDirectMessageRelay(t *testing.T) {
	sender := newFakeSender()
	e := NewEngine(sender, nil, nil)

	roomKey := rooms.DirectKey("u1", "u2")
	e.Register("cX", "u1")
	e.Register("cY", "u2")
	e.Register("cZ", "u3")
	e.JoinRoom("cX", roomKey)
	e.JoinRoom("cY", roomKey)
	e.JoinRoom("cZ", rooms.DirectKey("u3", "u4"))

	raw := []byte(`{"type":"send-message","roomId":"` + roomKey + `","senderId":"u1","receiverId":"u2","message":"hi","timestamp":"2024-01-01T10:00:00Z"}`)
	e.RelayMessage(roomKey, raw)

	frames := sender.framesFor("cY")
	if len(frames) != 1 {
		t.Fatalf("expected exactly 1 frame for cY, got %d", len(frames))
	}
	m := decode(t, frames[0])
	if m["type"] != protocol.TypeReceiveMessage {
		t.Errorf("expected type %q, got %v", protocol.TypeReceiveMessage, m["type"])
	}
	if m["message"] != "hi" || m["roomId"] != roomKey {
		t.Errorf("payload not relayed verbatim: %v", m)
	}

	// The sender's own connection in the room gets the echo too.
	if got := len(sender.framesFor("cX")); got != 1 {
		t.Errorf("expected sender echo (1 frame), got %d", got)
	}

	// Cross-room isolation.
	if got := len(sender.framesFor("cZ")); got != 0 {
		t.Errorf("expected no frames for cZ, got %d", got)
	}
}

// Joining the same room twice must not duplicate delivery.
func TestIdempotentJoinSingleDelivery(t *testing.T) {
	sender := newFakeSender()
	e := NewEngine(sender, nil, nil)

	e.JoinRoom("c1", "u1_u2")
	e.JoinRoom("c1", "u1_u2")

	e.RelayMessage("u1_u2", []byte(`{"type":"send-message","roomId":"u1_u2","message":"once"}`))

	if got := len(sender.framesFor("c1")); got != 1 {
		t.Fatalf("expected 1 delivery after duplicate join, got %d", got)
	}
}

// A message to a room nobody joined is silently dropped.
func TestRoutingMissIsSilent(t *testing.T) {
	sender := newFakeSender()
	e := NewEngine(sender, nil, nil)

	e.RelayMessage("empty_room", []byte(`{"type":"send-message","roomId":"empty_room","message":"void"}`))

	if got := sender.broadcastCount(); got != 0 {
		t.Errorf("expected no broadcasts, got %d", got)
	}
}

// ---------------------------------------------------------------------------
// Group relay
// ---------------------------------------------------------------------------

// Scenario: X and Y join g1; X sends; both receive. Z never joined and gets
// nothing; after leave-group, a former member gets nothing either.
func TestGroupFanout(t *testing.T) {
	sender := newFakeSender()
	e := NewEngine(sender, nil, nil)

	e.JoinGroup("cX", "g1")
	e.JoinGroup("cY", "g1")

	raw := []byte(`{"type":"send-group-message","groupId":"g1","senderId":"u1","message":"hello group","timestamp":"2024-01-01T10:00:00Z"}`)
	e.RelayGroupMessage("g1", raw)

	for _, connID := range []string{"cX", "cY"} {
		frames := sender.framesFor(connID)
		if len(frames) != 1 {
			t.Fatalf("%s: expected 1 frame, got %d", connID, len(frames))
		}
		m := decode(t, frames[0])
		if m["type"] != protocol.TypeReceiveGroupMessage || m["message"] != "hello group" {
			t.Errorf("%s: unexpected frame %v", connID, m)
		}
	}
	if got := len(sender.framesFor("cZ")); got != 0 {
		t.Errorf("cZ never joined g1, got %d frames", got)
	}

	e.LeaveGroup("cY", "g1")
	e.RelayGroupMessage("g1", raw)

	if got := len(sender.framesFor("cY")); got != 1 {
		t.Errorf("cY left g1 and must not receive again, got %d frames total", got)
	}
	if got := len(sender.framesFor("cX")); got != 2 {
		t.Errorf("cX expected 2 frames total, got %d", got)
	}
}

// ---------------------------------------------------------------------------
// Typing and seen receipts
// ---------------------------------------------------------------------------

func TestTypingExcludesSender(t *testing.T) {
	sender := newFakeSender()
	e := NewEngine(sender, nil, nil)

	e.JoinRoom("c1", "u1_u2")
	e.JoinRoom("c2", "u1_u2")

	raw := []byte(`{"type":"typing","roomId":"u1_u2","userId":"u1"}`)
	e.RelayTyping("c1", "u1_u2", raw)

	if got := len(sender.framesFor("c1")); got != 0 {
		t.Errorf("typing must never echo to the sender, got %d frames", got)
	}
	frames := sender.framesFor("c2")
	if len(frames) != 1 {
		t.Fatalf("expected 1 typing frame for c2, got %d", len(frames))
	}
	m := decode(t, frames[0])
	if m["type"] != protocol.TypeTyping || m["userId"] != "u1" {
		t.Errorf("unexpected typing frame: %v", m)
	}
}

func TestGroupTypingExcludesSender(t *testing.T) {
	sender := newFakeSender()
	e := NewEngine(sender, nil, nil)

	e.JoinGroup("c1", "g1")
	e.JoinGroup("c2", "g1")
	e.JoinGroup("c3", "g1")

	raw := []byte(`{"type":"group-typing","groupId":"g1","userId":"u1","username":"Alice"}`)
	e.RelayGroupTyping("c1", "g1", raw)

	if got := len(sender.framesFor("c1")); got != 0 {
		t.Errorf("sender must not receive its own typing signal, got %d", got)
	}
	for _, connID := range []string{"c2", "c3"} {
		frames := sender.framesFor(connID)
		if len(frames) != 1 {
			t.Fatalf("%s: expected 1 frame, got %d", connID, len(frames))
		}
		if m := decode(t, frames[0]); m["username"] != "Alice" {
			t.Errorf("%s: payload not passed through: %v", connID, m)
		}
	}
}

// message-seen is pass-through to the whole room, sender included.
func TestMessageSeenRelayedToRoom(t *testing.T) {
	sender := newFakeSender()
	e := NewEngine(sender, nil, nil)

	e.JoinRoom("c1", "u1_u2")
	e.JoinRoom("c2", "u1_u2")

	raw := []byte(`{"type":"message-seen","roomId":"u1_u2","messageId":"m42","seenBy":"u2"}`)
	e.RelaySeen("u1_u2", raw)

	for _, connID := range []string{"c1", "c2"} {
		frames := sender.framesFor(connID)
		if len(frames) != 1 {
			t.Fatalf("%s: expected 1 frame, got %d", connID, len(frames))
		}
		m := decode(t, frames[0])
		if m["type"] != protocol.TypeMessageSeen || m["messageId"] != "m42" {
			t.Errorf("%s: unexpected frame %v", connID, m)
		}
	}
}

// ---------------------------------------------------------------------------
// Named events and snapshots
// ---------------------------------------------------------------------------

// Scenario: the REST layer emits connection-accepted; every client receives
// the event with the exact payload.
func TestEmitNamedBroadcastsToAll(t *testing.T) {
	sender := newFakeSender()
	e := NewEngine(sender, nil, nil)

	err := e.EmitNamed("connection-accepted", map[string]interface{}{
		"userId":     "u2",
		"fromUserId": "u1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := sender.broadcastCount(); got != 1 {
		t.Fatalf("expected 1 broadcast, got %d", got)
	}
	m := decode(t, sender.broadcastAt(0))
	if m["type"] != "connection-accepted" {
		t.Errorf("expected type connection-accepted, got %v", m["type"])
	}
	if m["userId"] != "u2" || m["fromUserId"] != "u1" {
		t.Errorf("payload not carried verbatim: %v", m)
	}
}

func TestOnlineUsersSnapshot(t *testing.T) {
	sender := newFakeSender()
	e := NewEngine(sender, nil, nil)

	e.Register("c1", "u1")
	e.Register("c2", "u2")
	e.Disconnect("c2")

	online := e.OnlineUsers()
	if len(online) != 1 || online[0] != "u1" {
		t.Fatalf("expected only u1 online, got %v", online)
	}
}

// Disconnect drops room membership before the next relay.
func TestDisconnectLeavesRooms(t *testing.T) {
	sender := newFakeSender()
	e := NewEngine(sender, nil, nil)

	e.JoinRoom("c1", "u1_u2")
	e.JoinRoom("c2", "u1_u2")
	e.Disconnect("c1")

	e.RelayMessage("u1_u2", []byte(`{"type":"send-message","roomId":"u1_u2","message":"late"}`))

	if got := len(sender.framesFor("c1")); got != 0 {
		t.Errorf("disconnected connection must not receive, got %d frames", got)
	}
	if got := len(sender.framesFor("c2")); got != 1 {
		t.Errorf("expected 1 frame for c2, got %d", got)
	}
}
