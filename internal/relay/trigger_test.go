package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandleEmitEvent(t *testing.T) {
	sender := newFakeSender()
	e := NewEngine(sender, nil, nil)

	body := `{"event":"connection-accepted","data":{"userId":"u2","fromUserId":"u1"}}`
	req := httptest.NewRequest(http.MethodPost, "/emit-event", strings.NewReader(body))
	rec := httptest.NewRecorder()

	e.HandleEmitEvent(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response not valid JSON: %v", err)
	}
	if !resp["success"] {
		t.Errorf("expected success=true, got %v", resp)
	}

	if got := sender.broadcastCount(); got != 1 {
		t.Fatalf("expected 1 broadcast, got %d", got)
	}
	m := decode(t, sender.broadcastAt(0))
	if m["type"] != "connection-accepted" || m["userId"] != "u2" {
		t.Errorf("unexpected broadcast payload: %v", m)
	}
}

func TestHandleEmitEvent_BadRequests(t *testing.T) {
	sender := newFakeSender()
	e := NewEngine(sender, nil, nil)

	// Wrong method.
	req := httptest.NewRequest(http.MethodGet, "/emit-event", nil)
	rec := httptest.NewRecorder()
	e.HandleEmitEvent(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET: expected 405, got %d", rec.Code)
	}

	// Malformed body.
	req = httptest.NewRequest(http.MethodPost, "/emit-event", strings.NewReader("{nope"))
	rec = httptest.NewRecorder()
	e.HandleEmitEvent(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", rec.Code)
	}

	// Missing event name.
	req = httptest.NewRequest(http.MethodPost, "/emit-event", strings.NewReader(`{"data":{"x":1}}`))
	rec = httptest.NewRecorder()
	e.HandleEmitEvent(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing event: expected 400, got %d", rec.Code)
	}

	if got := sender.broadcastCount(); got != 0 {
		t.Errorf("no broadcast expected for rejected requests, got %d", got)
	}
}

func TestHandleOnlineUsers(t *testing.T) {
	sender := newFakeSender()
	e := NewEngine(sender, nil, nil)

	e.Register("c1", "u1")
	e.Register("c2", "u2")
	e.Disconnect("c1")

	req := httptest.NewRequest(http.MethodGet, "/online-users", nil)
	rec := httptest.NewRecorder()
	e.HandleOnlineUsers(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		OnlineUsers []string `json:"onlineUsers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response not valid JSON: %v", err)
	}
	if len(resp.OnlineUsers) != 1 || resp.OnlineUsers[0] != "u2" {
		t.Errorf("expected onlineUsers [u2], got %v", resp.OnlineUsers)
	}
}
