package client

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/playverse/presence/internal/presence"
	"github.com/playverse/presence/internal/protocol"
	"github.com/playverse/presence/internal/session"
)

// DefaultRetryDelay is the fixed pause before a reconnect attempt.
const DefaultRetryDelay = 3 * time.Second

// ErrNoSessionToken is returned by Connect when the session cookie is
// missing or unreadable. Retrying without a token would fail the same way,
// so no reconnect is scheduled for this case.
var ErrNoSessionToken = errors.New("client: no session token")

// State is the lifecycle state of the presence channel.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingAuth
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingAuth:
		return "awaiting-auth"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "disconnected"
	}
}

// Options configure a Client.
type Options struct {
	// Endpoint is the page origin, e.g. https://example.com. The channel URL
	// is derived from it: http becomes ws, https becomes wss, path /ws.
	Endpoint string
	// UserID is the locally authenticated user. Empty means not logged in;
	// Connect is a no-op until a user is set.
	UserID string
	// Jar holds the session cookie issued by the HTTP authentication layer.
	Jar http.CookieJar
	// RetryDelay overrides the reconnect pause. Zero means DefaultRetryDelay.
	RetryDelay time.Duration
	// Dialer overrides the websocket dialer.
	Dialer *websocket.Dialer
}

// Client owns at most one live presence channel and the state derived from
// it. Inbound messages are dispatched by type; an abnormal closure schedules
// a single reconnect attempt after a fixed delay.
type Client struct {
	wsURL  *url.URL
	jar    http.CookieJar
	dialer *websocket.Dialer
	delay  time.Duration

	mu        sync.Mutex
	userID    string
	state     State
	conn      *websocket.Conn
	connected bool
	closing   bool
	retry     *time.Timer
	gen       int

	wmu sync.Mutex

	store     *presence.Store
	lmu       sync.Mutex
	listeners []func(protocol.PresenceUpdate)
}

// ChannelURL derives the channel endpoint from a page origin. The scheme is
// upgraded to match the page's own (secure page, secure channel) and the
// path is fixed to /ws.
func ChannelURL(origin string) (*url.URL, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("client: parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("client: unsupported endpoint scheme %q", u.Scheme)
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u, nil
}

// New creates a Client. The client does not connect until Connect or
// SetUserID is called.
func New(opts Options) (*Client, error) {
	wsURL, err := ChannelURL(opts.Endpoint)
	if err != nil {
		return nil, err
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Client{
		wsURL:  wsURL,
		jar:    opts.Jar,
		dialer: dialer,
		delay:  delay,
		userID: opts.UserID,
		store:  presence.NewStore(),
	}, nil
}

// SetUserID binds the client to the authentication lifecycle: a transition
// to a concrete user connects, a transition to empty disconnects, and a
// switch between users tears the channel down and handshakes again.
func (c *Client) SetUserID(userID string) {
	c.mu.Lock()
	if c.userID == userID {
		c.mu.Unlock()
		return
	}
	prev := c.userID
	c.userID = userID
	c.mu.Unlock()

	if userID == "" {
		c.Disconnect()
		return
	}
	if prev != "" {
		// The open channel is bound to the previous identity; tear it
		// down and handshake again as the new user.
		c.Disconnect()
		c.store.Reset()
	}
	if err := c.Connect(); err != nil {
		log.Printf("client: connect for user %s: %v", userID, err)
	}
}

// Connect opens the channel and starts the authentication handshake. It is
// idempotent: if a connection is already open or opening it does nothing.
// Without a user it is a no-op; without a session token it closes the
// channel normally and returns ErrNoSessionToken.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.userID == "" || c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.closing = false
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	conn, _, err := c.dialer.Dial(c.wsURL.String(), nil)
	if err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.state = StateDisconnected
			if !c.closing {
				c.scheduleReconnectLocked()
			}
		}
		c.mu.Unlock()
		return fmt.Errorf("client: dial %s: %w", c.wsURL, err)
	}

	c.mu.Lock()
	if c.gen != gen || c.closing {
		c.mu.Unlock()
		conn.Close()
		return nil
	}

	token, ok := session.Token(c.jar, c.wsURL)
	if !ok {
		// Cannot authenticate now. Close normally so no reconnect fires;
		// the caller has to log in first.
		c.state = StateDisconnected
		c.mu.Unlock()
		log.Printf("client: no session token, not authenticating")
		c.closeNormal(conn)
		return ErrNoSessionToken
	}

	c.conn = conn
	c.state = StateAwaitingAuth
	c.mu.Unlock()

	auth := protocol.Message{Type: protocol.MsgAuthenticate, SessionToken: token}
	if err := c.write(conn, auth); err != nil {
		// The read loop observes the broken connection and handles closure.
		log.Printf("client: authenticate send failed: %v", err)
	}

	go c.readLoop(conn, gen)
	return nil
}

// Disconnect cancels any pending reconnect timer, then closes the channel
// with a normal-closure code. Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closing = true
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		c.closeNormal(conn)
	}
}

// UpdatePresence sends an update-presence message if and only if the channel
// is authenticated. Otherwise it is a silent no-op: no queueing, no error.
func (c *Client) UpdatePresence(status, currentRoomID string) {
	c.mu.Lock()
	if c.state != StateAuthenticated || c.conn == nil {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.mu.Unlock()

	msg := protocol.Message{Type: protocol.MsgUpdatePresence, Status: status, CurrentRoomID: currentRoomID}
	if err := c.write(conn, msg); err != nil {
		log.Printf("client: update-presence send failed: %v", err)
	}
}

// IsConnected reports whether the server has confirmed authentication.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// State returns the current channel state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// FriendsPresence returns a snapshot of the last-known status of each peer.
func (c *Client) FriendsPresence() map[string]protocol.PresenceUpdate {
	return c.store.Snapshot()
}

// OnUpdate registers an observer invoked for every inbound presence-update.
// The cache bridge subscribes here; the client knows nothing about caches.
func (c *Client) OnUpdate(fn func(protocol.PresenceUpdate)) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Client) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, gen, err)
			return
		}
		c.dispatch(data)
	}
}

// dispatch is the single inbound dispatch point, keyed by message type.
// Malformed or unrecognized messages are logged and dropped; they never
// close the channel or crash the loop.
func (c *Client) dispatch(data []byte) {
	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		log.Printf("client: dropping malformed message: %v", err)
		return
	}

	switch msg.Type {
	case protocol.MsgAuthSuccess:
		c.mu.Lock()
		c.state = StateAuthenticated
		c.connected = true
		c.mu.Unlock()
		// A fresh session receives a fresh stream of current state from the
		// server; stale entries must not survive.
		c.store.Reset()

	case protocol.MsgAuthError:
		log.Printf("client: authentication rejected: %s", msg.Message)
		c.mu.Lock()
		c.connected = false
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}

	case protocol.MsgPresenceUpdated:
		log.Printf("client: own status acknowledged: %s", msg.Status)

	case protocol.MsgPresenceUpdate:
		u := msg.PresenceUpdate()
		c.store.Upsert(u)
		c.notify(u)

	case protocol.MsgError:
		log.Printf("client: server error: %s", msg.Message)

	default:
		// Unrecognized types are ignored.
	}
}

func (c *Client) notify(u protocol.PresenceUpdate) {
	c.lmu.Lock()
	listeners := make([]func(protocol.PresenceUpdate), len(c.listeners))
	copy(listeners, c.listeners)
	c.lmu.Unlock()
	for _, fn := range listeners {
		fn(u)
	}
}

func (c *Client) handleClose(conn *websocket.Conn, gen int, err error) {
	conn.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		// A newer connection owns the state.
		return
	}
	c.conn = nil
	c.connected = false
	c.state = StateDisconnected

	if c.closing || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		return
	}
	log.Printf("client: channel closed abnormally: %v", err)
	c.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the reconnect timer. At most one timer is
// outstanding; Disconnect cancels it. Callers hold c.mu.
func (c *Client) scheduleReconnectLocked() {
	if c.userID == "" || c.retry != nil {
		return
	}
	log.Printf("client: reconnecting in %s", c.delay)
	c.retry = time.AfterFunc(c.delay, func() {
		c.mu.Lock()
		c.retry = nil
		c.mu.Unlock()
		if err := c.Connect(); err != nil {
			log.Printf("client: reconnect: %v", err)
		}
	})
}

func (c *Client) write(conn *websocket.Conn, v any) error {
	data, err := protocol.Encode(v)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) closeNormal(conn *websocket.Conn) {
	c.wmu.Lock()
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.wmu.Unlock()
	conn.Close()
}
