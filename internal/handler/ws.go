package handler

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/playverse/presence/internal/channel"
	"github.com/playverse/presence/internal/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS handles WebSocket upgrade requests for the presence channel.
// Authentication happens in-band via the authenticate message, not at
// upgrade time.
func ServeWS(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws upgrade error: %v", err)
			return
		}
		channel.New(h, conn).Start()
	}
}
