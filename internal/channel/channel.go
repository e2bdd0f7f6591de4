package channel

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/playverse/presence/internal/hub"
	"github.com/playverse/presence/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the authenticate message to arrive after upgrade.
	authWait = 30 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

// Conn is the server side of one presence channel. It owns the read/write
// pumps for a single WebSocket connection and registers itself with the hub
// once the peer authenticates.
type Conn struct {
	hub  *hub.Hub
	ws   *websocket.Conn
	send chan []byte
	quit chan struct{}

	mu      sync.Mutex
	userID  string
	friends []string
	closed  bool

	closeOnce sync.Once
}

// New creates a Conn for an upgraded WebSocket connection.
func New(h *hub.Hub, ws *websocket.Conn) *Conn {
	return &Conn{
		hub:  h,
		ws:   ws,
		send: make(chan []byte, 256),
		quit: make(chan struct{}),
	}
}

// Start launches the read and write pumps.
func (c *Conn) Start() {
	go c.readPump()
	go c.writePump()
	time.AfterFunc(authWait, func() {
		if c.UserID() == "" {
			log.Printf("channel: authenticate window expired, closing")
			c.Shutdown()
		}
	})
}

// UserID returns the authenticated user, or empty before authentication.
func (c *Conn) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Friends returns the accepted friends resolved at authentication time.
func (c *Conn) Friends() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.friends))
	copy(out, c.friends)
	return out
}

// Send queues a message to be written to the peer. Messages sent after
// Shutdown are dropped; the send channel itself is never closed, so the hub
// may keep calling Send on an already shut-down session.
func (c *Conn) Send(data []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	select {
	case c.send <- data:
	default:
		// Send buffer full, drop message.
		log.Printf("channel: user %q send buffer full, dropping message", c.UserID())
	}
}

// Shutdown signals the write pump to drain queued messages, write a close
// frame and exit. Idempotent and safe to call concurrently with Send.
func (c *Conn) Shutdown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.quit)
	})
}

func (c *Conn) readPump() {
	defer func() {
		if c.UserID() != "" {
			c.hub.Unregister(c)
		}
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("channel: user %q read error: %v", c.UserID(), err)
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.quit:
			// Drain anything already queued before the close frame.
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			for {
				select {
				case msg := <-c.send:
					if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					c.ws.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) handleMessage(data []byte) {
	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		c.sendError("invalid JSON")
		return
	}

	switch msg.Type {
	case protocol.MsgAuthenticate:
		c.handleAuthenticate(msg.SessionToken)

	case protocol.MsgUpdatePresence:
		if c.UserID() == "" {
			c.sendError("not authenticated")
			return
		}
		if !protocol.ValidStatus(msg.Status) {
			c.sendError("invalid status: " + msg.Status)
			return
		}
		c.hub.UpdatePresence(c, msg.Status, msg.CurrentRoomID)

	default:
		c.sendError("unknown message type: " + msg.Type)
	}
}

func (c *Conn) handleAuthenticate(token string) {
	if c.UserID() != "" {
		c.sendError("already authenticated")
		return
	}

	userID, friends, err := c.hub.Authenticate(token)
	if err != nil {
		log.Printf("channel: authentication failed: %v", err)
		if data, e := protocol.Encode(protocol.ErrorMessage{Type: protocol.MsgAuthError, Message: "invalid session"}); e == nil {
			c.Send(data)
		}
		c.Shutdown()
		return
	}

	c.mu.Lock()
	c.userID = userID
	c.friends = friends
	c.mu.Unlock()

	if data, err := protocol.Encode(protocol.Message{Type: protocol.MsgAuthSuccess}); err == nil {
		c.Send(data)
	}
	c.hub.Register(c)
	log.Printf("channel: user %s authenticated", userID)
}

func (c *Conn) sendError(message string) {
	if data, err := protocol.Encode(protocol.ErrorMessage{Type: protocol.MsgError, Message: message}); err == nil {
		c.Send(data)
	}
}
