package main

import (
	"log"
	"net/http"

	"github.com/playverse/presence/internal/config"
	"github.com/playverse/presence/internal/handler"
	"github.com/playverse/presence/internal/hub"
	"github.com/playverse/presence/internal/middleware"
	"github.com/playverse/presence/internal/store"
)

func main() {
	cfg := config.Load()

	s, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer s.Close()

	h := hub.New(s, cfg.MaxConnsPerUser)
	go h.Run()
	defer h.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handler.Health())
	mux.HandleFunc("/api/friends", handler.Friends(h, s))
	mux.HandleFunc("/api/dashboard", handler.Dashboard(h, s))
	mux.HandleFunc("/ws", handler.ServeWS(h))

	wrapped := middleware.Logging(middleware.CORS(mux, cfg.AllowedOrigin))

	addr := ":" + cfg.Port
	log.Printf("presence listening on %s", addr)
	if err := http.ListenAndServe(addr, wrapped); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
