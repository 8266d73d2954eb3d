// Package relay routes live chat events between connected clients. It owns
// the presence registry and room membership, fans inbound messages out to
// the right subscriber connections, broadcasts presence transitions, and
// exposes the HTTP side-channel used by the REST layer.
//
// The relay persists nothing: message durability is the REST/persistence
// layer's job, which saves messages independently of the live relay path.
package relay

import (
	"context"
	"log"
	"time"

	"github.com/devlink/relay/internal/metrics"
	"github.com/devlink/relay/internal/presence"
	"github.com/devlink/relay/internal/protocol"
	"github.com/devlink/relay/internal/rooms"
)

// Sender delivers frames to connections. Implemented by the WebSocket server;
// tests substitute an in-memory fake.
type Sender interface {
	// SendTo writes a frame to one connection. Delivery failure is the
	// transport's problem; dead connections are reaped by the heartbeat.
	SendTo(connID string, data []byte) error
	// Broadcast writes a frame to every live connection.
	Broadcast(data []byte)
}

// LastSeenStore persists a user's last-seen timestamp in the external store.
type LastSeenStore interface {
	Touch(ctx context.Context, userID string, ts time.Time) error
}

// StatusPublisher pushes presence transitions to backend consumers (NATS).
type StatusPublisher interface {
	PublishUserStatus(data []byte) error
}

// Engine is the event router. Registry and room mutations are serialized by
// the mutexes inside their respective owners; the engine itself keeps no
// mutable state.
type Engine struct {
	registry *presence.Registry
	tracker  *rooms.Tracker
	sender   Sender

	lastSeen  LastSeenStore   // nil disables last-seen persistence
	publisher StatusPublisher // nil disables backend status publishing

	// persistTimeout bounds the fire-and-forget last-seen update.
	persistTimeout time.Duration
}

// NewEngine creates an engine wired to the given sender. The last-seen store
// and status publisher are optional; pass nil to disable either.
func NewEngine(sender Sender, lastSeen LastSeenStore, publisher StatusPublisher) *Engine {
	return &Engine{
		registry:       presence.NewRegistry(),
		tracker:        rooms.NewTracker(),
		sender:         sender,
		lastSeen:       lastSeen,
		publisher:      publisher,
		persistTimeout: 3 * time.Second,
	}
}

// Registry exposes the presence registry (read paths only are expected).
func (e *Engine) Registry() *presence.Registry {
	return e.registry
}

// ---------------------------------------------------------------------------
// Presence
// ---------------------------------------------------------------------------

// Register binds a user identity to a connection and broadcasts the online
// transition to every client. A registration for an identity that is already
// online supersedes the previous connection without closing it.
func (e *Engine) Register(connID, userID string) {
	if userID == "" {
		log.Printf("relay: register with empty userId conn=%s ignored", connID)
		return
	}

	tr := e.registry.Register(userID, connID)
	log.Printf("relay: registered user=%s conn=%s (tracked=%d)", userID, connID, e.registry.Count())
	metrics.RegistrySize.Set(float64(e.registry.Count()))
	e.broadcastStatus(tr)
}

// Disconnect handles a transport-level disconnect: the connection leaves all
// its rooms and, if it was the live connection for a user, that user goes
// offline. The last-seen persistence call is dispatched in a detached
// goroutine so a slow or failing store never blocks the disconnect path.
func (e *Engine) Disconnect(connID string) {
	e.tracker.Drop(connID)

	tr, ok := e.registry.Unregister(connID)
	if !ok {
		// Never registered, or superseded by a newer connection.
		return
	}

	log.Printf("relay: user=%s went offline (conn=%s)", tr.UserID, connID)
	e.broadcastStatus(tr)

	if e.lastSeen != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), e.persistTimeout)
			defer cancel()
			if err := e.lastSeen.Touch(ctx, tr.UserID, tr.LastSeen); err != nil {
				log.Printf("relay: last-seen update failed user=%s: %v", tr.UserID, err)
			}
		}()
	}
}

// broadcastStatus emits a user-status event to all connections. Presence is
// global, not per-conversation: any client's contact list may include the
// affected user.
func (e *Engine) broadcastStatus(tr presence.Transition) {
	event := protocol.UserStatusEvent{
		UserID: tr.UserID,
		Status: tr.Status,
	}
	if tr.Status == presence.StatusOffline {
		event.LastSeen = tr.LastSeen.UTC().Format(time.RFC3339)
	}

	data, err := protocol.NewServerEvent(protocol.TypeUserStatus, event)
	if err != nil {
		log.Printf("relay: failed to build user-status for %s: %v", tr.UserID, err)
		return
	}

	e.sender.Broadcast(data)
	metrics.PresenceTransitions.WithLabelValues(tr.Status).Inc()

	if e.publisher != nil {
		if err := e.publisher.PublishUserStatus(data); err != nil {
			log.Printf("relay: status publish failed user=%s: %v", tr.UserID, err)
		}
	}
}

// ---------------------------------------------------------------------------
// Room membership
// ---------------------------------------------------------------------------

// JoinRoom subscribes the connection to a direct-chat room. The key was
// derived client-side; the server trusts it as an opaque routing label.
func (e *Engine) JoinRoom(connID, roomID string) {
	e.tracker.Join(connID, roomID)
	log.Printf("relay: conn=%s joined room=%s", connID, roomID)
}

// JoinGroup subscribes the connection to a group-chat room.
func (e *Engine) JoinGroup(connID, groupID string) {
	e.tracker.Join(connID, groupID)
	log.Printf("relay: conn=%s joined group=%s", connID, groupID)
}

// LeaveGroup removes the connection from a group-chat room. Direct rooms are
// never explicitly left; clients simply stop listening.
func (e *Engine) LeaveGroup(connID, groupID string) {
	e.tracker.Leave(connID, groupID)
	log.Printf("relay: conn=%s left group=%s", connID, groupID)
}

// ---------------------------------------------------------------------------
// Event relay
// ---------------------------------------------------------------------------

// RelayMessage re-emits a send-message payload verbatim, as receive-message,
// to every connection in the room, the sender's other sessions included.
// De-duplication of the sender's own echo is a client concern.
func (e *Engine) RelayMessage(roomID string, raw []byte) {
	e.relayToRoom(roomID, raw, protocol.TypeReceiveMessage, "")
	metrics.EventsRelayed.WithLabelValues(protocol.TypeSendMessage).Inc()
}

// RelayGroupMessage re-emits a send-group-message payload, as
// receive-group-message, to every connection joined to the group.
func (e *Engine) RelayGroupMessage(groupID string, raw []byte) {
	e.relayToRoom(groupID, raw, protocol.TypeReceiveGroupMessage, "")
	metrics.EventsRelayed.WithLabelValues(protocol.TypeSendGroupMessage).Inc()
}

// RelayTyping forwards a typing signal to every other member of the room.
// The sender is excluded; nothing is persisted or coalesced. Clients
// self-limit emission and expire the indicator on their own.
func (e *Engine) RelayTyping(senderConnID, roomID string, raw []byte) {
	e.relayToRoom(roomID, raw, protocol.TypeTyping, senderConnID)
	metrics.EventsRelayed.WithLabelValues(protocol.TypeTyping).Inc()
}

// RelayGroupTyping forwards a group typing signal to the group, sender
// excluded.
func (e *Engine) RelayGroupTyping(senderConnID, groupID string, raw []byte) {
	e.relayToRoom(groupID, raw, protocol.TypeGroupTyping, senderConnID)
	metrics.EventsRelayed.WithLabelValues(protocol.TypeGroupTyping).Inc()
}

// RelaySeen passes a message-seen receipt through to the room. Read-state
// persistence happens on the REST path, not here.
func (e *Engine) RelaySeen(roomID string, raw []byte) {
	e.relayToRoom(roomID, raw, protocol.TypeMessageSeen, "")
	metrics.EventsRelayed.WithLabelValues(protocol.TypeMessageSeen).Inc()
}

// relayToRoom retypes the raw payload and writes it to each member of the
// room, skipping excludeConnID if set. A room with no members means the
// recipients are offline; the event is silently dropped.
func (e *Engine) relayToRoom(roomKey string, raw []byte, outType, excludeConnID string) {
	members := e.tracker.Members(roomKey)
	if len(members) == 0 {
		return
	}

	data, err := protocol.Retype(raw, outType)
	if err != nil {
		log.Printf("relay: failed to retype %q payload for room=%s: %v", outType, roomKey, err)
		return
	}

	for _, connID := range members {
		if connID == excludeConnID {
			continue
		}
		if err := e.sender.SendTo(connID, data); err != nil {
			log.Printf("relay: deliver %q to conn=%s failed: %v", outType, connID, err)
		}
	}
}

// ---------------------------------------------------------------------------
// Named-event ingress (HTTP trigger / NATS)
// ---------------------------------------------------------------------------

// EmitNamed broadcasts an arbitrary named event to every connected client.
// The payload shape is the caller's responsibility; affected clients filter
// by inspecting it. Used by the REST layer, e.g. to push a
// connection-accepted notification after a state-changing call.
func (e *Engine) EmitNamed(eventName string, data map[string]interface{}) error {
	if data == nil {
		data = map[string]interface{}{}
	}
	payload, err := protocol.NewServerEvent(eventName, data)
	if err != nil {
		return err
	}

	e.sender.Broadcast(payload)
	metrics.EventsRelayed.WithLabelValues("emit:" + eventName).Inc()
	log.Printf("relay: emitted named event %q to all clients", eventName)
	return nil
}

// OnlineUsers returns the identities of all currently online users, for the
// legacy polling fallback.
func (e *Engine) OnlineUsers() []string {
	return e.registry.OnlineUsers()
}
