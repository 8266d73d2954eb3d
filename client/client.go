// Package client provides a reconnecting WebSocket client for the relay
// server. It connects using gobwas/ws (the same library the server uses),
// mirrors the registration and room-membership state the server holds for the
// connection, and replays that state automatically after a reconnect. Because
// the server keeps all routing state in memory, a dropped connection loses
// its registration and every room subscription; the client re-establishes
// both as soon as the server acks the new connection.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Event type names mirrored from the server protocol.
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

	TypeConnected = "connected"
)

// RoomKey derives the canonical direct-chat room key for two users. Both
// participants compute the same key regardless of argument order, so it must
// match the server's derivation exactly.
func RoomKey(userA, userB string) string {
	ids := []string{userA, userB}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

// Config holds the tunable parameters of a Client.
type Config struct {
	URL              string        // WebSocket URL, e.g. "ws://localhost:3001/ws"
	ReconnectMin     time.Duration // initial reconnect backoff
	ReconnectMax     time.Duration // backoff ceiling
	HandshakeTimeout time.Duration // per-attempt dial timeout
}

// DefaultConfig returns a Config with production defaults for the given URL.
func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		ReconnectMin:     500 * time.Millisecond,
		ReconnectMax:     30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

// Client is a reconnecting relay client. It keeps a local mirror of the
// state registered on the server (user identity, joined rooms and groups)
// and replays it after every reconnect, gated on the server's connected ack.
type Client struct {
	config Config

	mu       sync.Mutex
	conn     net.Conn
	connID   string
	userID   string
	rooms    map[string]struct{} // joined direct-chat room keys
	groups   map[string]struct{} // joined group ids
	handlers map[string]func(json.RawMessage)

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Client and establishes the initial connection. A background
// goroutine reads frames and reconnects with exponential backoff whenever
// the connection drops.
func New(ctx context.Context, config Config) (*Client, error) {
	c := &Client{
		config:   config,
		rooms:    make(map[string]struct{}),
		groups:   make(map[string]struct{}),
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
	}

	if err := c.dial(ctx); err != nil {
		return nil, err
	}

	go c.run()
	return c, nil
}

// On registers a handler for a server event type. The handler receives the
// full raw JSON of the event. Handlers run on the read loop goroutine, so
// they should not block. Registering a second handler for the same type
// replaces the first.
func (c *Client) On(eventType string, handler func(json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[eventType] = handler
}

// Register claims a user identity on the server and remembers it so it can
// be replayed after a reconnect.
func (c *Client) Register(userID string) error {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
	return c.Send(map[string]string{"type": TypeRegisterUser, "userId": userID})
}

// JoinRoom subscribes to a direct-chat room and records the membership for
// replay.
func (c *Client) JoinRoom(roomKey string) error {
	c.mu.Lock()
	c.rooms[roomKey] = struct{}{}
	c.mu.Unlock()
	return c.Send(map[string]string{"type": TypeJoinRoom, "roomId": roomKey})
}

// JoinGroup subscribes to a group room and records the membership for replay.
func (c *Client) JoinGroup(groupID string) error {
	c.mu.Lock()
	c.groups[groupID] = struct{}{}
	c.mu.Unlock()
	return c.Send(map[string]string{"type": TypeJoinGroup, "groupId": groupID})
}

// LeaveGroup unsubscribes from a group room and drops it from the replay set.
func (c *Client) LeaveGroup(groupID string) error {
	c.mu.Lock()
	delete(c.groups, groupID)
	c.mu.Unlock()
	return c.Send(map[string]string{"type": TypeLeaveGroup, "groupId": groupID})
}

// Send marshals msg to JSON and writes it as a text frame. Goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("client: marshal: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("client: not connected")
	}
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// ConnectionID returns the id the server assigned to the current connection,
// or an empty string before the first connected ack.
func (c *Client) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// Close shuts down the client and stops reconnecting. Safe to call more than
// once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.conn != nil {
			err = c.conn.Close()
		}
		c.mu.Unlock()
	})
	return err
}

// dial establishes a single WebSocket connection attempt.
func (c *Client) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.config.HandshakeTimeout)
	defer cancel()

	conn, _, _, err := ws.Dial(dialCtx, c.config.URL)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", c.config.URL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// run is the read loop with reconnect. On a read error it tears down the
// connection and retries with exponential backoff until Close is called.
func (c *Client) run() {
	backoff := c.config.ReconnectMin

	for {
		err := c.readLoop()
		if err == nil {
			return // closed intentionally
		}

		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
		}
		c.connID = ""
		c.mu.Unlock()

		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > c.config.ReconnectMax {
			backoff = c.config.ReconnectMax
		}

		if err := c.dial(context.Background()); err != nil {
			continue
		}
		backoff = c.config.ReconnectMin
	}
}

// readLoop reads frames until the connection fails or the client is closed.
// It returns nil on intentional close and a non-nil error otherwise.
func (c *Client) readLoop() error {
	for {
		select {
		case <-c.done:
			return nil
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return fmt.Errorf("client: no connection")
		}

		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
				return err
			}
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		// The connected ack is the replay gate: only once the server has
		// issued a connection id is it safe to re-register and re-join.
		if envelope.Type == TypeConnected {
			var msg struct {
				ConnectionID string `json:"connectionId"`
			}
			if err := json.Unmarshal(data, &msg); err == nil {
				c.mu.Lock()
				c.connID = msg.ConnectionID
				c.mu.Unlock()
			}
			c.replayState()
		}

		c.mu.Lock()
		handler, ok := c.handlers[envelope.Type]
		c.mu.Unlock()
		if ok {
			handler(json.RawMessage(data))
		}
	}
}

// replayState re-sends the mirrored registration and memberships on a fresh
// connection. Ordering matters: the identity must be registered before the
// server will attribute presence to it.
func (c *Client) replayState() {
	c.mu.Lock()
	userID := c.userID
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	groups := make([]string, 0, len(c.groups))
	for group := range c.groups {
		groups = append(groups, group)
	}
	c.mu.Unlock()

	if userID != "" {
		_ = c.Send(map[string]string{"type": TypeRegisterUser, "userId": userID})
	}
	for _, room := range rooms {
		_ = c.Send(map[string]string{"type": TypeJoinRoom, "roomId": room})
	}
	for _, group := range groups {
		_ = c.Send(map[string]string{"type": TypeJoinGroup, "groupId": group})
	}
}
