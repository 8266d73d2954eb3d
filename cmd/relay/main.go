package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/devlink/relay/internal/messaging"
	"github.com/devlink/relay/internal/metrics"
	"github.com/devlink/relay/internal/protocol"
	"github.com/devlink/relay/internal/ratelimit"
	"github.com/devlink/relay/internal/relay"
	"github.com/devlink/relay/internal/session"
	"github.com/devlink/relay/internal/store"
	"github.com/devlink/relay/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	// --- NATS ---
	natsConfig := messaging.DefaultConfig()
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig.URL = natsURL
	}
	natsClient, err := messaging.NewClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Redis ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	serverName, _ := os.Hostname()
	if v := os.Getenv("SERVER_NAME"); v != "" {
		serverName = v
	}
	if serverName == "" {
		serverName = "relay-1"
	}

	sessionStore, err := session.NewStore(redisAddr, serverName)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}

	limiter := ratelimit.NewLimiter(sessionStore.Client())

	// --- Postgres (last-seen persistence, optional) ---
	var lastSeen relay.LastSeenStore
	dsn := os.Getenv("PRESENCE_DB_DSN")
	if dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			log.Fatalf("failed to open postgres: %v", err)
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := db.PingContext(pingCtx); err != nil {
			cancel()
			log.Fatalf("failed to ping postgres: %v", err)
		}
		cancel()
		if err := store.Migrate(db); err != nil {
			log.Fatalf("failed to migrate postgres: %v", err)
		}
		lastSeen = store.NewLastSeenStore(db)
	} else {
		log.Printf("PRESENCE_DB_DSN not set, last-seen persistence disabled")
	}

	log.Printf("relay server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  redis_addr:      %s", redisAddr)
	log.Printf("  server_name:     %s", serverName)
	log.Printf("  last_seen_db:    %v", dsn != "")

	dispatcher := ws.NewEventDispatcher(nil)
	server := ws.NewServer(config, sessionStore, dispatcher.Dispatch)
	dispatcher.SetServer(server)
	server.SetConnLimiter(limiter)

	engine := relay.NewEngine(server, lastSeen, natsClient)

	// -----------------------------------------------------------------------
	// register-user: bind a user identity to this connection
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeRegisterUser, func(conn *ws.Connection, msg interface{}, _ json.RawMessage) {
		reg, ok := msg.(protocol.RegisterUserEvent)
		if !ok {
			return
		}
		engine.Register(conn.ID, reg.UserID)

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := sessionStore.SetUser(ctx, conn.ID, reg.UserID); err != nil {
			log.Printf("failed to mirror user for conn=%s: %v", conn.ID, err)
		}
	})

	// -----------------------------------------------------------------------
	// join-room / join-group / leave-group: room membership
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoinRoom, func(conn *ws.Connection, msg interface{}, _ json.RawMessage) {
		if m, ok := msg.(protocol.JoinRoomEvent); ok && m.RoomID != "" {
			engine.JoinRoom(conn.ID, m.RoomID)
		}
	})
	dispatcher.Register(protocol.TypeJoinGroup, func(conn *ws.Connection, msg interface{}, _ json.RawMessage) {
		if m, ok := msg.(protocol.JoinGroupEvent); ok && m.GroupID != "" {
			engine.JoinGroup(conn.ID, m.GroupID)
		}
	})
	dispatcher.Register(protocol.TypeLeaveGroup, func(conn *ws.Connection, msg interface{}, _ json.RawMessage) {
		if m, ok := msg.(protocol.LeaveGroupEvent); ok && m.GroupID != "" {
			engine.LeaveGroup(conn.ID, m.GroupID)
		}
	})

	// -----------------------------------------------------------------------
	// send-message / send-group-message: verbatim relay
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSendMessage, func(conn *ws.Connection, msg interface{}, raw json.RawMessage) {
		if m, ok := msg.(protocol.SendMessageEvent); ok && m.RoomID != "" {
			engine.RelayMessage(m.RoomID, raw)
		}
	})
	dispatcher.Register(protocol.TypeSendGroupMessage, func(conn *ws.Connection, msg interface{}, raw json.RawMessage) {
		if m, ok := msg.(protocol.SendGroupMessageEvent); ok && m.GroupID != "" {
			engine.RelayGroupMessage(m.GroupID, raw)
		}
	})

	// -----------------------------------------------------------------------
	// typing / group-typing: forwarded to other members only
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}, raw json.RawMessage) {
		if m, ok := msg.(protocol.TypingEvent); ok && m.RoomID != "" {
			engine.RelayTyping(conn.ID, m.RoomID, raw)
		}
	})
	dispatcher.Register(protocol.TypeGroupTyping, func(conn *ws.Connection, msg interface{}, raw json.RawMessage) {
		if m, ok := msg.(protocol.GroupTypingEvent); ok && m.GroupID != "" {
			engine.RelayGroupTyping(conn.ID, m.GroupID, raw)
		}
	})

	// -----------------------------------------------------------------------
	// message-seen: pass-through to the room
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeMessageSeen, func(conn *ws.Connection, msg interface{}, raw json.RawMessage) {
		if m, ok := msg.(protocol.MessageSeenEvent); ok && m.RoomID != "" {
			engine.RelaySeen(m.RoomID, raw)
		}
	})

	// Transport disconnects (read error, heartbeat timeout, close frame)
	// all funnel into the presence unregister path.
	server.SetOnDisconnect(engine.Disconnect)

	// REST side-channel + metrics on the same mux.
	server.Handle("/emit-event", http.HandlerFunc(engine.HandleEmitEvent))
	server.Handle("/online-users", http.HandlerFunc(engine.HandleOnlineUsers))
	server.Handle("/metrics", metrics.Handler())

	// Backend services that already speak NATS can inject named events
	// without going through HTTP.
	if err := natsClient.SubscribeEmit(func(data []byte) {
		var req struct {
			Event string                 `json:"event"`
			Data  map[string]interface{} `json:"data"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			log.Printf("[emit-sub] bad payload: %v", err)
			return
		}
		if req.Event == "" {
			log.Printf("[emit-sub] missing event name")
			return
		}
		if err := engine.EmitNamed(req.Event, req.Data); err != nil {
			log.Printf("[emit-sub] emit %q failed: %v", req.Event, err)
		}
	}); err != nil {
		log.Fatalf("failed to subscribe to %s: %v", messaging.SubjectEmit, err)
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		natsClient.Close()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := sessionStore.Close(); err != nil {
			log.Printf("session store close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
