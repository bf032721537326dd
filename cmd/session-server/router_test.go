package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cassino-live/internal/game"
	"cassino-live/internal/kv"
	"cassino-live/internal/ledger"
	"cassino-live/internal/recovery"
	"cassino-live/internal/registry"
	"cassino-live/internal/session"
	"cassino-live/internal/token"
	"cassino-live/internal/ws"
)

func newTestRouter(t *testing.T) (http.Handler, *session.Manager) {
	t.Helper()
	store := kv.NewMemory()
	codec := token.NewCodec("0123456789abcdef0123456789abcdef", 24*time.Hour)
	mgr := session.NewManager(session.Config{
		TokenTTL:              24 * time.Hour,
		DisconnectNoticeAfter: 2 * time.Minute,
		AbandonAfter:          5 * time.Minute,
		Heartbeat:             registry.Config{},
	}, codec, session.NewStore(store))
	led := ledger.New(store, 24*time.Hour)
	engine := game.NewTurnTracker()
	wsServer := ws.NewServer(mgr, led, recovery.NewService(mgr, led, engine, 2*time.Second), engine)
	return newRouter(store, mgr, engine, wsServer), mgr
}

func TestHealthz(t *testing.T) {
	r, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", w.Code)
	}
}

func TestJoinMintsToken(t *testing.T) {
	r, _ := newTestRouter(t)
	body := strings.NewReader(`{"player_id":"player-a","player_name":"Ada"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/rooms/room-1/join", body)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("join status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token    string `json:"token"`
		RoomID   string `json:"room_id"`
		PlayerID string `json:"player_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode join response: %v", err)
	}
	if resp.Token == "" || resp.RoomID != "room-1" || resp.PlayerID != "player-a" {
		t.Fatalf("join response = %+v", resp)
	}
}

func TestJoinRejectsBadBody(t *testing.T) {
	r, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/rooms/room-1/join", strings.NewReader(`{`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("join status = %d, want 400", w.Code)
	}
}

func TestOutcomeEndpoint(t *testing.T) {
	r, mgr := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/rooms/room-1/outcome", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("undecided outcome status = %d, want 404", w.Code)
	}

	ctx := context.Background()
	past := time.Now().Add(-10 * time.Minute)
	mgr.WithClock(func() time.Time { return past })
	raw, err := mgr.CreateSession(ctx, "room-1", "player-b", "Bob", "", "")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if _, err := mgr.ValidateAndAttach(ctx, "room-1", raw, nullTransport{}, "", ""); err != nil {
		t.Fatalf("ValidateAndAttach() error = %v", err)
	}
	if err := mgr.MarkDisconnected(ctx, "room-1", "player-b"); err != nil {
		t.Fatalf("MarkDisconnected() error = %v", err)
	}
	mgr.WithClock(time.Now)
	if _, err := mgr.ClaimVictory(ctx, "room-1", "player-a"); err != nil {
		t.Fatalf("ClaimVictory() error = %v", err)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("decided outcome status = %d, body = %s", w.Code, w.Body.String())
	}
	var out session.Outcome
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if out.WinnerID != "player-a" {
		t.Fatalf("outcome = %+v", out)
	}

	// A decided room refuses new joins.
	body := strings.NewReader(`{"player_id":"player-c"}`)
	joinReq := httptest.NewRequest(http.MethodPost, "/api/rooms/room-1/join", body)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, joinReq)
	if w.Code != http.StatusConflict {
		t.Fatalf("join on closed room status = %d, want 409", w.Code)
	}
}

type nullTransport struct{}

func (nullTransport) Send(any) error           { return nil }
func (nullTransport) SendPing(time.Time) error { return nil }
func (nullTransport) Close(string) error       { return nil }
