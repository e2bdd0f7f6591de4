package channel

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

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func setupTestServer(h *hub.Hub) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		New(h, conn).Start()
	}))
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(url, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]interface{}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func newTestHub(t *testing.T) (*hub.Hub, *testutil.MockStore) {
	t.Helper()
	s := testutil.NewMockStore()
	h := hub.New(s, 8)
	go h.Run()
	t.Cleanup(h.Stop)
	return h, s
}

func TestAuthenticateSuccess(t *testing.T) {
	t.Parallel()
	h, s := newTestHub(t)
	s.AddSession("tok", "42")

	server := setupTestServer(h)
	defer server.Close()

	conn := dialWS(t, server.URL)
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"authenticate","sessionToken":"tok"}`))
	msg := readMessage(t, conn)
	if msg["type"] != "auth-success" {
		t.Errorf("expected auth-success, got %v", msg)
	}
}

func TestAuthenticateBadToken(t *testing.T) {
	t.Parallel()
	h, _ := newTestHub(t)

	server := setupTestServer(h)
	defer server.Close()

	conn := dialWS(t, server.URL)
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"authenticate","sessionToken":"bogus"}`))
	msg := readMessage(t, conn)
	if msg["type"] != "auth-error" {
		t.Fatalf("expected auth-error, got %v", msg)
	}

	// The server closes the channel after an auth error.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the channel to be closed")
	}
}

func TestUpdatePresenceRequiresAuth(t *testing.T) {
	t.Parallel()
	h, _ := newTestHub(t)

	server := setupTestServer(h)
	defer server.Close()

	conn := dialWS(t, server.URL)
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"update-presence","status":"online"}`))
	msg := readMessage(t, conn)
	if msg["type"] != "error" {
		t.Errorf("expected error for unauthenticated update, got %v", msg)
	}
}

func TestUpdatePresenceInvalidStatus(t *testing.T) {
	t.Parallel()
	h, s := newTestHub(t)
	s.AddSession("tok", "42")

	server := setupTestServer(h)
	defer server.Close()

	conn := dialWS(t, server.URL)
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"authenticate","sessionToken":"tok"}`))
	if msg := readMessage(t, conn); msg["type"] != "auth-success" {
		t.Fatalf("expected auth-success, got %v", msg)
	}

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"update-presence","status":"sleeping"}`))
	msg := readMessage(t, conn)
	if msg["type"] != "error" {
		t.Errorf("expected error for invalid status, got %v", msg)
	}
}

func TestUpdatePresenceAcked(t *testing.T) {
	t.Parallel()
	h, s := newTestHub(t)
	s.AddSession("tok", "42")

	server := setupTestServer(h)
	defer server.Close()

	conn := dialWS(t, server.URL)
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"authenticate","sessionToken":"tok"}`))
	if msg := readMessage(t, conn); msg["type"] != "auth-success" {
		t.Fatalf("expected auth-success, got %v", msg)
	}

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"update-presence","status":"busy"}`))
	msg := readMessage(t, conn)
	if msg["type"] != "presence-updated" || msg["status"] != "busy" {
		t.Errorf("expected presence-updated ack, got %v", msg)
	}
}

func TestInvalidJSON(t *testing.T) {
	t.Parallel()
	h, _ := newTestHub(t)

	server := setupTestServer(h)
	defer server.Close()

	conn := dialWS(t, server.URL)
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte("not json"))
	msg := readMessage(t, conn)
	if msg["type"] != "error" {
		t.Errorf("expected error, got %v", msg)
	}
}

func TestUnknownMessageType(t *testing.T) {
	t.Parallel()
	h, _ := newTestHub(t)

	server := setupTestServer(h)
	defer server.Close()

	conn := dialWS(t, server.URL)
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe"}`))
	msg := readMessage(t, conn)
	if msg["type"] != "error" {
		t.Errorf("expected error for unknown type, got %v", msg)
	}
}

func TestDoubleAuthenticate(t *testing.T) {
	t.Parallel()
	h, s := newTestHub(t)
	s.AddSession("tok", "42")

	server := setupTestServer(h)
	defer server.Close()

	conn := dialWS(t, server.URL)
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"authenticate","sessionToken":"tok"}`))
	if msg := readMessage(t, conn); msg["type"] != "auth-success" {
		t.Fatalf("expected auth-success, got %v", msg)
	}

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"authenticate","sessionToken":"tok"}`))
	msg := readMessage(t, conn)
	if msg["type"] != "error" {
		t.Errorf("expected error for double authenticate, got %v", msg)
	}
}

func TestFanOutBetweenConnections(t *testing.T) {
	t.Parallel()
	h, s := newTestHub(t)
	s.AddSession("tok42", "42")
	s.AddSession("tok7", "7")
	s.AddFriendship("42", "7")

	server := setupTestServer(h)
	defer server.Close()

	watcher := dialWS(t, server.URL)
	defer watcher.Close()
	watcher.WriteMessage(websocket.TextMessage, []byte(`{"type":"authenticate","sessionToken":"tok42"}`))
	if msg := readMessage(t, watcher); msg["type"] != "auth-success" {
		t.Fatalf("expected auth-success, got %v", msg)
	}

	peer := dialWS(t, server.URL)
	defer peer.Close()
	peer.WriteMessage(websocket.TextMessage, []byte(`{"type":"authenticate","sessionToken":"tok7"}`))
	if msg := readMessage(t, peer); msg["type"] != "auth-success" {
		t.Fatalf("expected auth-success, got %v", msg)
	}
	time.Sleep(100 * time.Millisecond)

	peer.WriteMessage(websocket.TextMessage, []byte(`{"type":"update-presence","status":"in_room","currentRoomId":"room-9"}`))

	// The watcher sees 7 come online and then enter the room.
	watcher.SetReadDeadline(time.Now().Add(3 * time.Second))
	for i := 0; i < 10; i++ {
		_, data, err := watcher.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg protocol.Message
		if json.Unmarshal(data, &msg) == nil &&
			msg.Type == protocol.MsgPresenceUpdate && msg.UserID == "7" && msg.Status == protocol.StatusInRoom {
			if msg.CurrentRoomID != "room-9" {
				t.Errorf("expected room-9, got %q", msg.CurrentRoomID)
			}
			return
		}
	}
	t.Fatal("watcher never saw the in_room update")
}

func setupCapturingServer(h *hub.Hub, conns chan *Conn) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := New(h, ws)
		c.Start()
		conns <- c
	}))
}

func TestSendAfterShutdown(t *testing.T) {
	t.Parallel()
	h, _ := newTestHub(t)
	conns := make(chan *Conn, 1)
	server := setupCapturingServer(h, conns)
	defer server.Close()

	ws := dialWS(t, server.URL)
	defer ws.Close()
	c := <-conns

	c.Shutdown()
	c.Shutdown()
	// The hub may keep delivering to a session it already shut down.
	c.Send([]byte(`{"type":"presence-update"}`))
	c.Send([]byte(`{"type":"presence-update"}`))
}

func TestEvictedSessionToleratesLateUpdate(t *testing.T) {
	t.Parallel()
	s := testutil.NewMockStore()
	s.AddSession("tok", "42")
	h := hub.New(s, 1)
	go h.Run()
	t.Cleanup(h.Stop)

	conns := make(chan *Conn, 2)
	server := setupCapturingServer(h, conns)
	defer server.Close()

	first := dialWS(t, server.URL)
	defer first.Close()
	first.WriteMessage(websocket.TextMessage, []byte(`{"type":"authenticate","sessionToken":"tok"}`))
	if msg := readMessage(t, first); msg["type"] != "auth-success" {
		t.Fatalf("expected auth-success, got %v", msg)
	}
	evicted := <-conns

	second := dialWS(t, server.URL)
	defer second.Close()
	second.WriteMessage(websocket.TextMessage, []byte(`{"type":"authenticate","sessionToken":"tok"}`))
	if msg := readMessage(t, second); msg["type"] != "auth-success" {
		t.Fatalf("expected auth-success, got %v", msg)
	}
	<-conns

	// The per-user cap evicts the oldest session; wait for its close frame.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	// An update queued against the evicted session must not kill the hub.
	h.UpdatePresence(evicted, protocol.StatusBusy, "")

	second.WriteMessage(websocket.TextMessage, []byte(`{"type":"update-presence","status":"away"}`))
	for i := 0; i < 5; i++ {
		msg := readMessage(t, second)
		if msg["type"] == "presence-updated" && msg["status"] == "away" {
			return
		}
	}
	t.Fatal("hub stopped serving after an update to an evicted session")
}
