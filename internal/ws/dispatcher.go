package ws

import (
	"encoding/json"
	"log"
	"time"

	"github.com/devlink/relay/internal/protocol"
)

// EventHandler is the callback signature for handling a parsed client event.
// msg is the concrete struct returned by protocol.ParseClientEvent; raw is
// the original payload bytes, for handlers that re-emit payloads verbatim.
type EventHandler func(conn *Connection, msg interface{}, raw json.RawMessage)

// EventDispatcher routes incoming WebSocket events to registered handlers
// based on the event type. The built-in ping/pong keepalive is handled
// internally; malformed frames and unknown event names are rejected at the
// boundary with a structured error response.
type EventDispatcher struct {
	handlers map[string]EventHandler
	server   *Server
}

// NewEventDispatcher creates an EventDispatcher bound to the given server.
// The server reference is used to send responses back to clients.
func NewEventDispatcher(server *Server) *EventDispatcher {
	return &EventDispatcher{
		handlers: make(map[string]EventHandler),
		server:   server,
	}
}

// SetServer assigns the Server reference on the dispatcher. This supports
// the initialization pattern where the dispatcher is created before the
// server (NewServer requires the Dispatch callback).
func (d *EventDispatcher) SetServer(server *Server) {
	d.server = server
}

// Register associates an EventHandler with an event type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *EventDispatcher) Register(eventType string, handler EventHandler) {
	d.handlers[eventType] = handler
}

// Dispatch is the onMessage callback implementation. It parses the raw
// bytes into a typed event, handles ping internally, and routes all other
// types to the registered handler. Parse errors and unrecognized event
// names result in an error event sent back to the client instead of passing
// through silently.
func (d *EventDispatcher) Dispatch(conn *Connection, data []byte) {
	eventType, msg, raw, err := protocol.ParseClientEvent(data)
	if err != nil {
		log.Printf("ws: dispatch parse error conn=%s: %v", conn.ID, err)
		d.sendError(conn, "parse_error", "invalid event format")
		return
	}

	// Built-in ping handler, no registration required.
	if eventType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[eventType]
	if !ok {
		log.Printf("ws: unsupported event type=%q conn=%s", eventType, conn.ID)
		d.sendError(conn, "unsupported_type", "unsupported event type")
		return
	}

	handler(conn, msg, raw)
}

// sendError sends a structured error event back to the client. Errors
// during construction or transmission are logged but not propagated.
func (d *EventDispatcher) sendError(conn *Connection, code string, message string) {
	data, err := protocol.NewServerEvent(protocol.TypeError, protocol.ErrorEvent{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("ws: failed to build error event conn=%s: %v", conn.ID, err)
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		log.Printf("ws: failed to send error event conn=%s: %v", conn.ID, err)
	}
}

// sendPong responds to a client ping with a pong event and updates the
// connection's LastPing timestamp to reflect the most recent keepalive.
func (d *EventDispatcher) sendPong(conn *Connection) {
	conn.LastPing = time.Now()

	data, err := protocol.NewServerEvent(protocol.TypePong, protocol.PongEvent{})
	if err != nil {
		log.Printf("ws: failed to build pong event conn=%s: %v", conn.ID, err)
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		log.Printf("ws: failed to send pong event conn=%s: %v", conn.ID, err)
	}
}
