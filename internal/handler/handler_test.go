package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/playverse/presence/internal/hub"
	"github.com/playverse/presence/internal/protocol"
	"github.com/playverse/presence/internal/testutil"
)

func newTestHub(t *testing.T) (*hub.Hub, *testutil.MockStore) {
	t.Helper()
	s := testutil.NewMockStore()
	h := hub.New(s, 8)
	go h.Run()
	t.Cleanup(h.Stop)
	return h, s
}

func TestHealth(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	Health()(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("expected ok, got %s", body["status"])
	}
}

func TestFriendsRequiresUser(t *testing.T) {
	t.Parallel()
	h, s := newTestHub(t)

	req := httptest.NewRequest(http.MethodGet, "/api/friends", nil)
	w := httptest.NewRecorder()
	Friends(h, s)(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestFriendsOfflineByDefault(t *testing.T) {
	t.Parallel()
	h, s := newTestHub(t)
	s.AddFriendship("42", "7")

	req := httptest.NewRequest(http.MethodGet, "/api/friends?user=42", nil)
	w := httptest.NewRecorder()
	Friends(h, s)(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var entries []friendEntry
	json.NewDecoder(w.Body).Decode(&entries)
	if len(entries) != 1 {
		t.Fatalf("expected 1 friend, got %d", len(entries))
	}
	if entries[0].ID != "7" || entries[0].Status != protocol.StatusOffline {
		t.Errorf("expected offline friend 7, got %+v", entries[0])
	}
	if entries[0].CurrentRoom != nil {
		t.Errorf("expected no room, got %+v", entries[0].CurrentRoom)
	}
}

func TestFriendsWithLivePresence(t *testing.T) {
	t.Parallel()
	h, s := newTestHub(t)
	s.AddFriendship("42", "7")

	sess := testutil.NewMockSession("7", "42")
	h.Register(sess)
	h.UpdatePresence(sess, protocol.StatusInRoom, "room-9")
	time.Sleep(100 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/api/friends?user=42", nil)
	w := httptest.NewRecorder()
	Friends(h, s)(w, req)

	var entries []friendEntry
	json.NewDecoder(w.Body).Decode(&entries)
	if len(entries) != 1 {
		t.Fatalf("expected 1 friend, got %d", len(entries))
	}
	if entries[0].Status != protocol.StatusInRoom {
		t.Errorf("expected in_room, got %q", entries[0].Status)
	}
	if entries[0].CurrentRoom == nil || entries[0].CurrentRoom.ID != "room-9" || !entries[0].CurrentRoom.CanJoin {
		t.Errorf("expected joinable room-9, got %+v", entries[0].CurrentRoom)
	}
}

func TestDashboardRequiresUser(t *testing.T) {
	t.Parallel()
	h, s := newTestHub(t)

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	w := httptest.NewRecorder()
	Dashboard(h, s)(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestDashboardMergesParallelQueries(t *testing.T) {
	t.Parallel()
	h, s := newTestHub(t)
	s.AddFriendship("42", "7")
	s.AddFriendship("42", "8")

	sess := testutil.NewMockSession("7", "42")
	h.Register(sess)
	h.UpdatePresence(sess, protocol.StatusOnline, "")
	time.Sleep(100 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard?user=42", nil)
	w := httptest.NewRecorder()
	Dashboard(h, s)(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var payload dashboardPayload
	json.NewDecoder(w.Body).Decode(&payload)

	if payload.User != "42" {
		t.Errorf("user: got %q", payload.User)
	}
	if payload.FriendCount != 2 {
		t.Errorf("friendCount: got %d, want 2", payload.FriendCount)
	}
	if len(payload.Friends) != 2 {
		t.Fatalf("friends: got %d entries", len(payload.Friends))
	}
	if payload.OnlineCount != 1 {
		t.Errorf("onlineCount: got %d, want 1", payload.OnlineCount)
	}
	if payload.ActiveSessions != 1 {
		t.Errorf("activeSessions: got %d, want 1", payload.ActiveSessions)
	}
}

func TestWSUpgrade(t *testing.T) {
	t.Parallel()
	h, s := newTestHub(t)
	s.AddSession("tok", "42")

	server := httptest.NewServer(ServeWS(h))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"authenticate","sessionToken":"tok"}`))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]interface{}
	json.Unmarshal(data, &msg)
	if msg["type"] != "auth-success" {
		t.Errorf("expected auth-success, got %v", msg["type"])
	}
}
