package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/playverse/presence/internal/protocol"
)

var fakeUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// FakeServer is a scriptable presence channel endpoint for client tests. It
// records every dial and inbound message, answers authenticate messages
// according to AuthReply, and can push frames or force closures on demand.
type FakeServer struct {
	srv *httptest.Server

	// AuthReply is the reply sent on authenticate: protocol.MsgAuthSuccess
	// (the default), protocol.MsgAuthError, or empty for no reply at all.
	AuthReply string

	mu      sync.Mutex
	wmu     sync.Mutex
	conns   []*websocket.Conn
	dials   int
	inbound []protocol.Message
}

// NewFakeServer starts a FakeServer.
func NewFakeServer() *FakeServer {
	f := &FakeServer{AuthReply: protocol.MsgAuthSuccess}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	return f
}

// URL returns the page origin of the fake server (http scheme).
func (f *FakeServer) URL() string { return f.srv.URL }

// Close shuts the server and all accepted connections down.
func (f *FakeServer) Close() {
	f.mu.Lock()
	conns := f.conns
	f.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	f.srv.Close()
}

func (f *FakeServer) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := fakeUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.dials++
	f.conns = append(f.conns, conn)
	f.mu.Unlock()
	go f.readLoop(conn)
}

func (f *FakeServer) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.DecodeMessage(data)
		if err != nil {
			continue
		}
		f.mu.Lock()
		f.inbound = append(f.inbound, msg)
		reply := f.AuthReply
		f.mu.Unlock()

		if msg.Type == protocol.MsgAuthenticate && reply != "" {
			out := protocol.Message{Type: reply}
			if reply == protocol.MsgAuthError {
				out.Message = "invalid session"
			}
			f.writeJSON(conn, out)
		}
	}
}

// Dials returns how many connections were accepted.
func (f *FakeServer) Dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

// Inbound returns a copy of all decoded inbound messages.
func (f *FakeServer) Inbound() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Message, len(f.inbound))
	copy(out, f.inbound)
	return out
}

// CountInbound returns how many inbound messages have the given type.
func (f *FakeServer) CountInbound(msgType string) int {
	n := 0
	for _, m := range f.Inbound() {
		if m.Type == msgType {
			n++
		}
	}
	return n
}

// Push sends a JSON-encoded value on the most recent connection.
func (f *FakeServer) Push(v any) error {
	data, err := protocol.Encode(v)
	if err != nil {
		return err
	}
	return f.PushRaw(data)
}

// PushRaw sends a raw frame on the most recent connection.
func (f *FakeServer) PushRaw(data []byte) error {
	conn := f.latest()
	if conn == nil {
		return nil
	}
	f.wmu.Lock()
	defer f.wmu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// CloseLatest closes the most recent connection with the given close code.
func (f *FakeServer) CloseLatest(code int) {
	conn := f.latest()
	if conn == nil {
		return
	}
	f.wmu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""), time.Now().Add(time.Second))
	f.wmu.Unlock()
	conn.Close()
}

// DropLatest tears the most recent connection down without a close frame,
// so the peer observes an abnormal closure.
func (f *FakeServer) DropLatest() {
	if conn := f.latest(); conn != nil {
		conn.Close()
	}
}

// WaitDials polls until n connections were accepted or the timeout elapses.
func (f *FakeServer) WaitDials(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if f.Dials() >= n {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return f.Dials() >= n
}

// WaitInbound polls until n messages of the given type arrived.
func (f *FakeServer) WaitInbound(msgType string, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if f.CountInbound(msgType) >= n {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return f.CountInbound(msgType) >= n
}

func (f *FakeServer) latest() *websocket.Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

func (f *FakeServer) writeJSON(conn *websocket.Conn, v any) {
	data, err := protocol.Encode(v)
	if err != nil {
		return
	}
	f.wmu.Lock()
	defer f.wmu.Unlock()
	conn.WriteMessage(websocket.TextMessage, data)
}
