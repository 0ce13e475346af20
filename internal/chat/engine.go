// Package chat keeps one client's view of the room tree in sync with the store:
// the rooms it belongs to, the messages of the active room and unread counters
// for the others. Mutations write to the store and let the subscriptions bring
// the result back.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"komnata/internal/models"
	"komnata/internal/storage"
	"komnata/internal/watch"
)

// Authenticator is the auth bridge the engine follows.
type Authenticator interface {
	OnSessionChange(fn func(*models.Session)) func()
	SignOut(ctx context.Context) error
}

type ProfileService interface {
	Resolve(ctx context.Context, session models.Session) (models.User, error)
	Update(ctx context.Context, session models.Session, patch models.ProfilePatch) (models.User, error)
}

// AutoSelect decides when the directory picks a room on its own.
type AutoSelect int

const (
	// AutoSelectWhenEmpty selects the first room on any snapshot that finds no room selected.
	AutoSelectWhenEmpty AutoSelect = iota
	// AutoSelectOnce selects only on the first directory snapshot of a session.
	AutoSelectOnce
	AutoSelectNever
)

func ParseAutoSelect(s string) (AutoSelect, error) {
	switch strings.ToLower(s) {
	case "", "when_empty":
		return AutoSelectWhenEmpty, nil
	case "once":
		return AutoSelectOnce, nil
	case "never":
		return AutoSelectNever, nil
	}
	return 0, fmt.Errorf("unknown auto select mode %q", s)
}

type Config struct {
	Store      storage.Store
	Auth       Authenticator
	Profiles   ProfileService
	AutoSelect AutoSelect
	// OnError receives every failed operation once, already typed.
	OnError func(error)
	Now     func() time.Time
}

type Engine struct {
	store      storage.Store
	auth       Authenticator
	profiles   ProfileService
	autoSelect AutoSelect
	onError    func(error)
	now        func() time.Time
	watches    *watch.Manager
	updates    chan models.State

	mu        sync.RWMutex
	gen       uint64
	session   *models.Session
	user      *models.User
	rooms     []models.Room
	current   *models.Room
	messages  []models.Message
	unread    map[string]int
	lastSeen  map[string]int64
	loading   bool
	dirLoaded bool
}

func New(config Config) *Engine {
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:      config.Store,
		auth:       config.Auth,
		profiles:   config.Profiles,
		autoSelect: config.AutoSelect,
		onError:    config.OnError,
		now:        now,
		watches:    watch.New(config.Store),
		updates:    make(chan models.State, 1),
		unread:     make(map[string]int),
		lastSeen:   make(map[string]int64),
	}
}

// Run follows session changes until ctx is done, then drops every subscription.
func (e *Engine) Run(ctx context.Context) error {
	sessions := make(chan *models.Session, 16)
	stop := e.auth.OnSessionChange(func(s *models.Session) {
		select {
		case sessions <- s:
		case <-ctx.Done():
		}
	})
	defer func() {
		stop()
		e.endSession()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-sessions:
			e.handleSession(ctx, s)
		}
	}
}

func (e *Engine) handleSession(ctx context.Context, s *models.Session) {
	if s == nil {
		e.endSession()
		return
	}

	e.mu.Lock()
	if e.session != nil && e.session.UID == s.UID {
		e.session = s
		e.mu.Unlock()
		return
	}
	e.resetLocked()
	e.gen++
	gen := e.gen
	e.session = s
	e.loading = true
	e.publishLocked()
	e.mu.Unlock()

	slog.Debug("session started", "uid", s.UID)
	user, err := e.profiles.Resolve(ctx, *s)
	if err != nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return
	}
	e.user = &user
	e.loadRoomsLocked()
	e.publishLocked()
}

func (e *Engine) endSession() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		slog.Debug("session ended", "uid", e.session.UID)
	}
	e.resetLocked()
	e.gen++
	e.publishLocked()
}

func (e *Engine) resetLocked() {
	e.watches.StopAll()
	e.session = nil
	e.user = nil
	e.rooms = nil
	e.current = nil
	e.messages = nil
	e.unread = make(map[string]int)
	e.lastSeen = make(map[string]int64)
	e.loading = false
	e.dirLoaded = false
}

// State returns a copy of the current state.
func (e *Engine) State() models.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stateLocked()
}

// Updates delivers the latest state after every change. Only the newest
// undelivered state is kept.
func (e *Engine) Updates() <-chan models.State {
	return e.updates
}

func (e *Engine) publishLocked() {
	st := e.stateLocked()
	select {
	case <-e.updates:
	default:
	}
	e.updates <- st
}

func (e *Engine) stateLocked() models.State {
	st := models.State{
		Rooms:    make([]models.Room, len(e.rooms)),
		Messages: make([]models.Message, len(e.messages)),
		Unread:   make(map[string]int, len(e.unread)),
		Loading:  e.loading,
	}
	for i, r := range e.rooms {
		st.Rooms[i] = copyRoom(r)
	}
	copy(st.Messages, e.messages)
	for k, v := range e.unread {
		st.Unread[k] = v
	}
	if e.current != nil {
		r := copyRoom(*e.current)
		st.CurrentRoom = &r
	}
	if e.session != nil {
		s := *e.session
		st.User = &s
	}
	if e.user != nil {
		u := *e.user
		st.UserData = &u
	}
	return st
}

func copyRoom(r models.Room) models.Room {
	r.Members = append([]string(nil), r.Members...)
	return r
}

func (e *Engine) nowMillis() int64 {
	return e.now().UnixMilli()
}

// identity returns who is acting. Before the profile resolves the user record
// carries only uid and email.
func (e *Engine) identity() (models.Session, models.User, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.session == nil {
		return models.Session{}, models.User{}, models.ErrNotSignedIn
	}
	user := models.User{UID: e.session.UID, Email: e.session.Email}
	if e.user != nil {
		user = *e.user
	}
	return *e.session, user, nil
}

// fail types err, reports it once and returns it.
func (e *Engine) fail(op string, err error) error {
	typed := models.Fail(op, err)
	if typed.Kind == models.KindTransient {
		slog.Error("operation failed", "op", op, "error", err)
	} else {
		slog.Info("operation rejected", "op", op, "code", typed.Code)
	}
	if e.onError != nil {
		e.onError(typed)
	}
	return typed
}
