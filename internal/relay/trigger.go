package relay

import (
	"encoding/json"
	"log"
	"net/http"
)

// emitRequest is the body of POST /emit-event, sent by the REST layer when a
// state-changing call (accepting an invite, group membership change) must
// notify live clients.
type emitRequest struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data"`
}

// HandleEmitEvent implements POST /emit-event. The relay validates nothing
// about the data's shape; it is broadcast to all clients under the given
// event name. Callers treat the whole call as fire-and-forget.
func (e *Engine) HandleEmitEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req emitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("relay: emit-event bad body: %v", err)
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Event == "" {
		http.Error(w, "missing event name", http.StatusBadRequest)
		return
	}

	if err := e.EmitNamed(req.Event, req.Data); err != nil {
		log.Printf("relay: emit-event %q failed: %v", req.Event, err)
		http.Error(w, "failed to emit event", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// HandleOnlineUsers implements GET /online-users, the registry snapshot used
// by the legacy polling fallback in the REST layer.
func (e *Engine) HandleOnlineUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(struct {
		OnlineUsers []string `json:"onlineUsers"`
	}{
		OnlineUsers: e.OnlineUsers(),
	})
}
