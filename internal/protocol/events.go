// Package protocol defines the WebSocket event types and structures exchanged
// between chat clients and the relay server. All events are serialized as JSON
// with a "type" discriminator naming the event.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Event type constants
// ---------------------------------------------------------------------------

// Client -> Server event types.
const (
	TypeRegisterUser     = "register-user"
	TypeJoinRoom         = "join-room"
	TypeJoinGroup        = "join-group"
	TypeLeaveGroup       = "leave-group"
	TypeSendMessage      = "send-message"
	TypeSendGroupMessage = "send-group-message"
	TypeTyping           = "typing"
	TypeGroupTyping      = "group-typing"
	TypeMessageSeen      = "message-seen"
	TypePing             = "ping"
)

// Server -> Client event types. Typing, group-typing and message-seen events
// are re-emitted under their inbound names; events injected through the HTTP
// trigger keep whatever name the caller chose.
const (
	TypeConnected           = "connected"
	TypeReceiveMessage      = "receive-message"
	TypeReceiveGroupMessage = "receive-group-message"
	TypeUserStatus          = "user-status"
	TypeError               = "error"
	TypePong                = "pong"
)

// Presence status values carried by user-status events.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the event type and the raw JSON payload. The raw bytes are
// kept because the relay re-emits most payloads verbatim: clients attach
// fields the server never inspects (sender name, avatar URL, file type) and
// those must survive the round trip untouched.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements json.Unmarshaler. It captures the full raw bytes
// and extracts only the "type" field so the payload can be decoded later into
// the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server event structs
// ---------------------------------------------------------------------------

// RegisterUserEvent associates a user identity with the current connection.
// No credential accompanies it; any connection may claim any identity.
type RegisterUserEvent struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// JoinRoomEvent subscribes the connection to a two-party direct-chat room.
// The room key is derived client-side from both participant identities.
type JoinRoomEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// JoinGroupEvent subscribes the connection to a group-chat room.
type JoinGroupEvent struct {
	Type    string `json:"type"`
	GroupID string `json:"groupId"`
}

// LeaveGroupEvent removes the connection from a group-chat room.
type LeaveGroupEvent struct {
	Type    string `json:"type"`
	GroupID string `json:"groupId"`
}

// SendMessageEvent carries a direct-chat message. Only the routing fields are
// declared; any additional fields in the payload are relayed as-is.
type SendMessageEvent struct {
	Type       string `json:"type"`
	RoomID     string `json:"roomId"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Message    string `json:"message"`
	Timestamp  string `json:"timestamp"`
}

// SendGroupMessageEvent carries a group-chat message, keyed by the group's
// persistent identifier rather than a derived room key.
type SendGroupMessageEvent struct {
	Type      string `json:"type"`
	GroupID   string `json:"groupId"`
	SenderID  string `json:"senderId"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// TypingEvent signals that a user is typing in a direct-chat room.
type TypingEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// GroupTypingEvent signals that a user is typing in a group.
type GroupTypingEvent struct {
	Type     string `json:"type"`
	GroupID  string `json:"groupId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// MessageSeenEvent marks a message as seen by a room participant. The relay
// forwards it to the room; read-state persistence happens elsewhere.
type MessageSeenEvent struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
	SeenBy    string `json:"seenBy"`
}

// PingEvent is a client-initiated keepalive.
type PingEvent struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client event structs
// ---------------------------------------------------------------------------

// ConnectedEvent acknowledges a fresh connection and carries the connection
// identifier issued by the server.
type ConnectedEvent struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
}

// UserStatusEvent announces a presence transition to every connected client.
// LastSeen is present only on offline transitions, as an RFC-3339 timestamp.
type UserStatusEvent struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	Status   string `json:"status"`
	LastSeen string `json:"lastSeen,omitempty"`
}

// ErrorEvent communicates a boundary error (malformed frame, unknown event
// name) back to the sending client.
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongEvent is the server's response to a client ping.
type PongEvent struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientEvent parses raw WebSocket bytes into a typed client event.
// It returns the event type, the decoded struct, the raw payload bytes (for
// verbatim relay), and any parse error. Unknown event names are an error so
// they get rejected at the boundary instead of passing through silently.
func ParseClientEvent(data []byte) (string, interface{}, json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, nil, fmt.Errorf("protocol: failed to parse event: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeRegisterUser:
		var m RegisterUserEvent
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinRoom:
		var m JoinRoomEvent
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinGroup:
		var m JoinGroupEvent
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveGroup:
		var m LeaveGroupEvent
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageEvent
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendGroupMessage:
		var m SendGroupMessageEvent
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingEvent
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeGroupTyping:
		var m GroupTypingEvent
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessageSeen:
		var m MessageSeenEvent
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingEvent
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, nil, fmt.Errorf("protocol: unknown client event type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, env.Raw, nil
}

// NewServerEvent creates a JSON-encoded byte slice for a server event. The
// payload struct is marshalled to a map so the "type" field can be injected
// regardless of what the struct declares.
func NewServerEvent(eventType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = eventType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server event: %w", err)
	}
	return out, nil
}

// Retype re-emits an inbound payload verbatim under a new event name. Every
// field of the original payload is preserved; only "type" is rewritten. This
// is how send-message becomes receive-message without the relay having to
// know the full payload shape.
func Retype(raw json.RawMessage, eventType string) ([]byte, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload for retype: %w", err)
	}

	m["type"] = eventType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal retyped event: %w", err)
	}
	return out, nil
}
