package ws

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"komnata/internal/auth"
	"komnata/internal/chat"
	"komnata/internal/profile"
	"komnata/internal/storage"
)

type Config struct {
	Auth       *auth.Service
	Profiles   *profile.Resolver
	Store      storage.Store
	Hub        *Hub
	AutoSelect chat.AutoSelect
}

// Server upgrades authenticated requests and gives every socket its own
// engine, driven by a per-connection auth client.
type Server struct {
	auth       *auth.Service
	profiles   *profile.Resolver
	store      storage.Store
	hub        *Hub
	autoSelect chat.AutoSelect
	upgrader   *websocket.Upgrader
}

func NewServer(config Config) *Server {
	return &Server{
		auth:       config.Auth,
		profiles:   config.Profiles,
		store:      config.Store,
		hub:        config.Hub,
		autoSelect: config.AutoSelect,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Token auth, same-origin is checked on the HTTP API.
			},
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	token := auth.RequestToken(r)
	session, err := s.auth.Session(token)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("error upgrading to websocket", "error", err)
		return
	}

	client := auth.NewClient(s.auth, s.profiles)
	if err := client.Restore(token); err != nil {
		_ = conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	leave := s.hub.Join(session.UID, cancel)
	defer leave()

	c := NewConnection(conn, session.UID)
	eng := chat.New(chat.Config{
		Store:      s.store,
		Auth:       client,
		Profiles:   s.profiles,
		AutoSelect: s.autoSelect,
		OnError:    c.Report,
	})

	slog.Debug("websocket connected", "uid", session.UID)
	if err := c.Handle(ctx, eng); err != nil {
		slog.Debug("websocket closed", "uid", session.UID, "error", err)
	}
}
