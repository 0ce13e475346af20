package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"komnata/internal/api"
	"komnata/internal/auth"
	"komnata/internal/profile"
	"komnata/internal/ws"
)

type AdminServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAdminServer(authService *auth.Service, profiles *profile.Resolver, hub *ws.Hub, addr, baseURL string) *AdminServer {
	adminHandler := api.NewAdminHandler(authService, profiles, hub, baseURL)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/users", adminHandler.AddUserHandler)
	mux.HandleFunc("GET /admin/online", adminHandler.OnlineHandler)
	mux.HandleFunc("POST /admin/online/{uid}/disconnect", adminHandler.DisconnectHandler)

	if addr == "" {
		addr = "localhost:8081"
	}

	return &AdminServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *AdminServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *AdminServer) Start() error {
	log.Printf("Admin API started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
