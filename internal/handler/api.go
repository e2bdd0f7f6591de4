package handler

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/playverse/presence/internal/hub"
	"github.com/playverse/presence/internal/protocol"
	"github.com/playverse/presence/internal/store"
)

type roomRef struct {
	ID      string `json:"id"`
	CanJoin bool   `json:"canJoin"`
}

type friendEntry struct {
	ID          string   `json:"id"`
	Status      string   `json:"status"`
	CurrentRoom *roomRef `json:"currentRoom"`
}

type dashboardPayload struct {
	User           string        `json:"user"`
	Friends        []friendEntry `json:"friends"`
	FriendCount    int           `json:"friendCount"`
	OnlineCount    int           `json:"onlineCount"`
	ActiveSessions int           `json:"activeSessions"`
}

// Health returns a simple health check handler.
func Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// Friends returns a user's accepted friends with their live presence, in
// the shape the page-data cache is primed with.
func Friends(h *hub.Hub, s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := r.URL.Query().Get("user")
		if user == "" {
			http.Error(w, `{"error":"user query param required"}`, http.StatusBadRequest)
			return
		}

		ids, err := s.Friends(user)
		if err != nil {
			log.Printf("friends query error: %v", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}

		entries := friendEntries(ids, h.Snapshot(ids))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(entries)
	}
}

// Dashboard fans out the queries a dashboard page needs in parallel and
// merges them into a single page-shaped payload, saving the round trips a
// mobile or admin view would otherwise spend.
func Dashboard(h *hub.Hub, s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := r.URL.Query().Get("user")
		if user == "" {
			http.Error(w, `{"error":"user query param required"}`, http.StatusBadRequest)
			return
		}

		var (
			ids      []string
			idsErr   error
			count    int
			countErr error
			sessions int
		)
		var wg sync.WaitGroup
		wg.Add(3)
		go func() { defer wg.Done(); ids, idsErr = s.Friends(user) }()
		go func() { defer wg.Done(); count, countErr = s.FriendCount(user) }()
		go func() { defer wg.Done(); sessions = h.SessionCount() }()
		wg.Wait()

		if idsErr != nil || countErr != nil {
			log.Printf("dashboard query error: friends=%v count=%v", idsErr, countErr)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}

		snap := h.Snapshot(ids)
		entries := friendEntries(ids, snap)
		online := 0
		for _, u := range snap {
			if u.Status != protocol.StatusOffline {
				online++
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(dashboardPayload{
			User:           user,
			Friends:        entries,
			FriendCount:    count,
			OnlineCount:    online,
			ActiveSessions: sessions,
		})
	}
}

// friendEntries merges a friends list with a presence snapshot. Users with
// no recorded presence are reported offline.
func friendEntries(ids []string, snap map[string]protocol.PresenceUpdate) []friendEntry {
	entries := make([]friendEntry, 0, len(ids))
	for _, id := range ids {
		e := friendEntry{ID: id, Status: protocol.StatusOffline}
		if u, ok := snap[id]; ok {
			e.Status = u.Status
			if u.Status == protocol.StatusInRoom && u.CurrentRoomID != "" {
				e.CurrentRoom = &roomRef{ID: u.CurrentRoomID, CanJoin: true}
			}
		}
		entries = append(entries, e)
	}
	return entries
}
