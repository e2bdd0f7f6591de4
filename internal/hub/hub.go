package hub

import (
	"log"
	"sync"
	"time"

	"github.com/playverse/presence/internal/protocol"
	"github.com/playverse/presence/internal/store"
)

// Session is what the hub expects from an authenticated presence channel.
type Session interface {
	UserID() string
	Friends() []string
	Send(data []byte)
	Shutdown()
}

type updateRequest struct {
	sess   Session
	status string
	roomID string
}

// Hub tracks authenticated sessions per user and fans presence changes out
// to each user's accepted friends. It is the source of truth for current
// presence; clients rebuild their view from it on every connection.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string][]Session
	presence map[string]protocol.PresenceUpdate
	store    store.Store
	maxConns int

	register   chan Session
	unregister chan Session
	update     chan updateRequest
	quit       chan struct{}
}

// New creates a new Hub. maxConns caps concurrent sessions per user; the
// oldest session is dropped when the cap is exceeded. Zero means no cap.
func New(s store.Store, maxConns int) *Hub {
	return &Hub{
		sessions:   make(map[string][]Session),
		presence:   make(map[string]protocol.PresenceUpdate),
		store:      s,
		maxConns:   maxConns,
		register:   make(chan Session, 256),
		unregister: make(chan Session, 256),
		update:     make(chan updateRequest, 256),
		quit:       make(chan struct{}),
	}
}

// Run starts the hub's main event loop. Should be called as a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case s := <-h.register:
			h.handleRegister(s)
		case s := <-h.unregister:
			h.handleUnregister(s)
		case req := <-h.update:
			h.handleUpdate(req)
		case <-h.quit:
			return
		}
	}
}

// Stop signals the hub's event loop to exit and shuts down all sessions.
func (h *Hub) Stop() {
	close(h.quit)
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, list := range h.sessions {
		for _, s := range list {
			s.Shutdown()
		}
	}
}

// Authenticate resolves a session token to a user and their accepted
// friends. The channel calls this before registering itself.
func (h *Hub) Authenticate(token string) (string, []string, error) {
	userID, err := h.store.UserForSession(token)
	if err != nil {
		return "", nil, err
	}
	friends, err := h.store.Friends(userID)
	if err != nil {
		return "", nil, err
	}
	return userID, friends, nil
}

// Register queues an authenticated session for registration.
func (h *Hub) Register(s Session) {
	h.register <- s
}

// Unregister queues a session for removal.
func (h *Hub) Unregister(s Session) {
	h.unregister <- s
}

// UpdatePresence queues a status change for fan-out.
func (h *Hub) UpdatePresence(s Session, status, roomID string) {
	h.update <- updateRequest{sess: s, status: status, roomID: roomID}
}

// Snapshot returns the current presence of the given users. Users with no
// recorded presence are omitted.
func (h *Hub) Snapshot(userIDs []string) map[string]protocol.PresenceUpdate {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]protocol.PresenceUpdate, len(userIDs))
	for _, id := range userIDs {
		if u, ok := h.presence[id]; ok {
			out[id] = u
		}
	}
	return out
}

// SessionCount returns the total number of connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, list := range h.sessions {
		n += len(list)
	}
	return n
}

func (h *Hub) handleRegister(s Session) {
	uid := s.UserID()
	var evicted Session

	h.mu.Lock()
	list := h.sessions[uid]
	if h.maxConns > 0 && len(list) >= h.maxConns {
		evicted = list[0]
		list = list[1:]
	}
	first := len(list) == 0
	h.sessions[uid] = append(list, s)

	// Fresh connections get the current state of every friend; the client
	// rebuilds from this stream rather than merging across reconnects.
	var snapshot []protocol.PresenceUpdate
	for _, f := range s.Friends() {
		if u, ok := h.presence[f]; ok {
			snapshot = append(snapshot, u)
		}
	}

	var online protocol.PresenceUpdate
	var targets []Session
	if first {
		online = h.setPresenceLocked(uid, protocol.StatusOnline, "")
		targets = h.friendSessionsLocked(s.Friends())
	}
	h.mu.Unlock()

	if evicted != nil {
		log.Printf("hub: user %s exceeded session cap, dropping oldest session", uid)
		evicted.Shutdown()
	}

	for _, u := range snapshot {
		if data, err := protocol.Encode(u); err == nil {
			s.Send(data)
		}
	}
	if first {
		h.fanOut(targets, online)
	}
	log.Printf("hub: user %s registered", uid)
}

func (h *Hub) handleUnregister(s Session) {
	uid := s.UserID()

	h.mu.Lock()
	list := h.sessions[uid]
	for i, x := range list {
		if x == s {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	last := len(list) == 0
	if last {
		delete(h.sessions, uid)
	} else {
		h.sessions[uid] = list
	}

	var offline protocol.PresenceUpdate
	var targets []Session
	if last {
		offline = h.setPresenceLocked(uid, protocol.StatusOffline, "")
		targets = h.friendSessionsLocked(s.Friends())
	}
	h.mu.Unlock()

	if last {
		h.fanOut(targets, offline)
		log.Printf("hub: user %s offline", uid)
	}
}

func (h *Hub) handleUpdate(req updateRequest) {
	uid := req.sess.UserID()
	roomID := req.roomID
	if req.status != protocol.StatusInRoom {
		// currentRoomId is meaningful only under in_room; omit it otherwise
		// so receivers never infer a room from stale state.
		roomID = ""
	}

	h.mu.Lock()
	up := h.setPresenceLocked(uid, req.status, roomID)
	targets := h.friendSessionsLocked(req.sess.Friends())
	h.mu.Unlock()

	h.fanOut(targets, up)

	// Local acknowledgment to the sender only, not a broadcast echo.
	ack := protocol.Message{Type: protocol.MsgPresenceUpdated, Status: req.status}
	if data, err := protocol.Encode(ack); err == nil {
		req.sess.Send(data)
	}
}

// setPresenceLocked records a transition and returns the wire update.
// Callers hold h.mu.
func (h *Hub) setPresenceLocked(userID, status, roomID string) protocol.PresenceUpdate {
	up := protocol.PresenceUpdate{
		Type:          protocol.MsgPresenceUpdate,
		UserID:        userID,
		Status:        status,
		CurrentRoomID: roomID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	h.presence[userID] = up
	return up
}

// friendSessionsLocked collects the live sessions of the given users.
// Callers hold h.mu.
func (h *Hub) friendSessionsLocked(userIDs []string) []Session {
	var out []Session
	for _, id := range userIDs {
		out = append(out, h.sessions[id]...)
	}
	return out
}

func (h *Hub) fanOut(targets []Session, u protocol.PresenceUpdate) {
	data, err := protocol.Encode(u)
	if err != nil {
		log.Printf("hub: encode presence-update: %v", err)
		return
	}
	for _, s := range targets {
		s.Send(data)
	}
}
