package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/playverse/presence/internal/protocol"
)

// FriendsKey is the cache entry holding the accepted-friends collection.
const FriendsKey = "friends:accepted"

// RoomRef describes a joinable room a friend is currently in.
type RoomRef struct {
	ID      string `json:"id"`
	CanJoin bool   `json:"canJoin"`
}

// Friend is one entry of the cached friends collection, as consumed by the
// views that render friend lists.
type Friend struct {
	ID          string   `json:"id"`
	Username    string   `json:"username,omitempty"`
	Status      string   `json:"status"`
	CurrentRoom *RoomRef `json:"currentRoom"`
}

// PageCache is the process-wide page-data cache. Multiple views read it;
// writers replace whole collection references so readers never observe a
// torn update.
type PageCache struct {
	c *gocache.Cache
}

// NewPageCache creates a PageCache. Entries live until replaced or expired.
func NewPageCache(ttl time.Duration) *PageCache {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &PageCache{c: gocache.New(ttl, 10*time.Minute)}
}

// SetFriends stores the accepted-friends collection.
func (p *PageCache) SetFriends(friends []Friend) {
	p.c.Set(FriendsKey, friends, gocache.DefaultExpiration)
}

// Friends returns the cached accepted-friends collection, if any.
func (p *PageCache) Friends() ([]Friend, bool) {
	v, ok := p.c.Get(FriendsKey)
	if !ok {
		return nil, false
	}
	friends, ok := v.([]Friend)
	return friends, ok
}

// Bridge projects presence updates into the cached friends collection. It
// subscribes to the presence client's update observer; the client itself
// never touches the cache.
type Bridge struct {
	cache *PageCache
}

// NewBridge creates a Bridge over the given cache.
func NewBridge(c *PageCache) *Bridge {
	return &Bridge{cache: c}
}

// Apply rewrites the cached entry for the updated peer. The collection is
// copied and the reference replaced, never mutated in place. A cache miss is
// expected before the dependent view's first fetch and is dropped silently;
// the next fetch picks up correct state.
func (b *Bridge) Apply(u protocol.PresenceUpdate) {
	friends, ok := b.cache.Friends()
	if !ok {
		return
	}

	next := make([]Friend, len(friends))
	copy(next, friends)
	for i := range next {
		if next[i].ID != u.UserID {
			continue
		}
		next[i].Status = u.Status
		if u.Status == protocol.StatusInRoom && u.CurrentRoomID != "" {
			next[i].CurrentRoom = &RoomRef{ID: u.CurrentRoomID, CanJoin: true}
		} else {
			next[i].CurrentRoom = nil
		}
	}
	b.cache.SetFriends(next)
}
