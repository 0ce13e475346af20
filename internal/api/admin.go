package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"komnata/internal/auth"
	"komnata/internal/profile"
	"komnata/internal/ws"
)

type AdminHandler struct {
	authService *auth.Service
	profiles    *profile.Resolver
	hub         *ws.Hub
	baseURL     string
}

func NewAdminHandler(authService *auth.Service, profiles *profile.Resolver, hub *ws.Hub, baseURL string) *AdminHandler {
	return &AdminHandler{authService: authService, profiles: profiles, hub: hub, baseURL: baseURL}
}

type AddUserRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

type AddUserResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	UID      string `json:"uid,omitempty"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	LoginURL string `json:"loginUrl,omitempty"`
}

// AddUserHandler creates an account with a random password and its profile.
func (h *AdminHandler) AddUserHandler(w http.ResponseWriter, r *http.Request) {
	var req AddUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Username == "" {
		http.Error(w, "Email and username are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := h.profiles.CheckUsername(ctx, "", req.Username); err != nil {
		writeJSON(w, statusOf(err), AddUserResponse{Message: fmt.Sprintf("Failed to create user: %v", err)})
		return
	}

	password, err := auth.GeneratePassword()
	if err != nil {
		writeError(w, err)
		return
	}
	session, err := h.authService.SignUp(ctx, req.Email, password)
	if err != nil {
		writeJSON(w, statusOf(err), AddUserResponse{Message: fmt.Sprintf("Failed to create user: %v", err)})
		return
	}
	// Admin-created accounts start signed out.
	_ = h.authService.Logoff(session.Token)

	user, err := h.profiles.Create(ctx, session.UID, session.Email, req.Username)
	if err != nil {
		slog.Error("account created without profile", "uid", session.UID, "error", err)
		writeJSON(w, statusOf(err), AddUserResponse{Message: fmt.Sprintf("Account created, profile failed: %v", err), UID: session.UID})
		return
	}

	writeJSON(w, http.StatusOK, AddUserResponse{
		Success:  true,
		UID:      user.UID,
		Email:    user.Email,
		Username: user.Username,
		Password: password,
		LoginURL: strings.TrimRight(h.baseURL, "/") + "/",
	})
}

type OnlineUser struct {
	UID string `json:"uid"`
	ws.Presence
}

// OnlineHandler lists users with live websocket connections.
func (h *AdminHandler) OnlineHandler(w http.ResponseWriter, r *http.Request) {
	uids := h.hub.Online()
	users := make([]OnlineUser, 0, len(uids))
	for _, uid := range uids {
		users = append(users, OnlineUser{UID: uid, Presence: h.hub.Presence(uid)})
	}
	writeJSON(w, http.StatusOK, users)
}

// DisconnectHandler closes every socket of a user.
func (h *AdminHandler) DisconnectHandler(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	n := h.hub.Disconnect(uid)
	writeJSON(w, http.StatusOK, map[string]int{"disconnected": n})
}
