package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"komnata/internal/api"
	"komnata/internal/auth"
	"komnata/internal/chat"
	"komnata/internal/profile"
	"komnata/internal/storage"
	"komnata/internal/ws"
)

type APIServer struct {
	server *http.Server
	hub    *ws.Hub
	wg     sync.WaitGroup
}

type APIConfig struct {
	Addr       string
	Auth       *auth.Service
	Profiles   *profile.Resolver
	Store      storage.Store
	Hub        *ws.Hub
	AutoSelect chat.AutoSelect
}

func NewAPIServer(config APIConfig) *APIServer {
	server := ws.NewServer(ws.Config{
		Auth:       config.Auth,
		Profiles:   config.Profiles,
		Store:      config.Store,
		Hub:        config.Hub,
		AutoSelect: config.AutoSelect,
	})
	apiHandlers := api.New(config.Auth, config.Profiles, config.Hub)

	mux := http.NewServeMux()

	// API endpoints
	mux.HandleFunc("POST /api/login", api.RequireSameOrigin(apiHandlers.LoginHandler))
	mux.HandleFunc("POST /api/signup", api.RequireSameOrigin(apiHandlers.SignupHandler))
	mux.HandleFunc("POST /api/logoff", api.RequireSameOrigin(apiHandlers.LogoffHandler))
	mux.HandleFunc("GET /api/me", apiHandlers.RequireAuth(apiHandlers.MeHandler))

	// WebSocket endpoint
	mux.HandleFunc("GET /api/chat", server.HandleConnections)

	addr := config.Addr
	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		hub: config.Hub,
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and cuts the websockets, which
// http.Server.Shutdown does not track once hijacked.
func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	s.hub.DisconnectAll()
	return s.server.Shutdown(ctx)
}
