package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"komnata/internal/auth"
	"komnata/internal/models"
	"komnata/internal/profile"
	"komnata/internal/ws"
)

type API struct {
	auth     *auth.Service
	profiles *profile.Resolver
	hub      *ws.Hub
}

func New(authService *auth.Service, profiles *profile.Resolver, hub *ws.Hub) *API {
	return &API{auth: authService, profiles: profiles, hub: hub}
}

type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type SignupRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type SessionResponse struct {
	Success     bool         `json:"success"`
	User        *models.User `json:"user,omitempty"`
	Token       string       `json:"token,omitempty"`
	TokenExpiry int64        `json:"tokenExpiry,omitempty"`
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	// Support both JSON and Form.
	if r.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Failed to parse form", http.StatusBadRequest)
			return
		}
		req.Identifier = r.FormValue("identifier")
		req.Password = r.FormValue("password")
	}

	client := auth.NewClient(a.auth, a.profiles)
	if err := client.SignIn(r.Context(), req.Identifier, req.Password); err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			// Do not tell which usernames exist.
			err = models.ErrBadCredentials
		}
		writeError(w, err)
		return
	}
	a.openSession(r.Context(), w, *client.Current())
}

func (a *API) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := a.profiles.CheckUsername(ctx, "", req.Username); err != nil {
		writeError(w, err)
		return
	}

	session, err := auth.NewClient(a.auth, a.profiles).SignUp(ctx, req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	// The account exists from here on. A missing profile record is covered by
	// the resolver's fallback, so a failure is logged, not returned.
	if _, err := a.profiles.Create(ctx, session.UID, session.Email, req.Username); err != nil {
		slog.Error("failed to write profile of new account", "uid", session.UID, "error", err)
	}
	a.openSession(ctx, w, session)
}

func (a *API) openSession(ctx context.Context, w http.ResponseWriter, session models.Session) {
	user, err := a.profiles.Resolve(ctx, session)
	if err != nil {
		writeError(w, err)
		return
	}

	expires := time.Now().Add(a.auth.TokenExpiry)
	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookie,
		Value:    session.Token,
		HttpOnly: true,
		Path:     "/",
		Expires:  expires,
	})
	writeJSON(w, http.StatusOK, SessionResponse{
		Success:     true,
		User:        &user,
		Token:       session.Token,
		TokenExpiry: expires.Unix(),
	})
}

func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	token := auth.RequestToken(r)
	if session, err := a.auth.Session(token); err == nil {
		_ = a.auth.Logoff(token)
		if n := a.hub.Disconnect(session.UID); n > 0 {
			slog.Debug("closed sockets of logged off user", "uid", session.UID, "count", n)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookie,
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusOK)
}

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := SessionFrom(r.Context())
	if !ok {
		writeError(w, models.ErrNotSignedIn)
		return
	}
	user, err := a.profiles.Resolve(r.Context(), session)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type sessionKey struct{}

// SessionFrom returns the session RequireAuth stored in ctx.
func SessionFrom(ctx context.Context) (models.Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(models.Session)
	return s, ok
}

func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := a.auth.Session(auth.RequestToken(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	}
}

// RequireSameOrigin rejects browser requests whose Origin is another host.
// Requests without Origin (CLI, tests) pass.
func RequireSameOrigin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			u, err := url.Parse(origin)
			if err != nil || u.Host != r.Host {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
		}
		next(w, r)
	}
}

func statusOf(err error) int {
	switch models.KindOf(err) {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindConflict:
		return http.StatusConflict
	case models.KindAuthorization:
		return http.StatusUnauthorized
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, models.PayloadOf(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
