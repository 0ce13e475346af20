package ws

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Presence is what the hub knows about one user's sockets.
type Presence struct {
	Connections int   `json:"connections"`
	LastSeen    int64 `json:"lastSeen"`
}

// Hub tracks live websocket connections per user so they can be cut when the
// session behind them ends or the server stops.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]map[uint64]context.CancelFunc
	lastSeen map[string]int64
	nextID   uint64
	now      func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		conns:    make(map[string]map[uint64]context.CancelFunc),
		lastSeen: make(map[string]int64),
		now:      time.Now,
	}
}

// Join registers a connection of uid. cancel stops it; the returned func
// unregisters it and must be called when the connection ends.
func (h *Hub) Join(uid string, cancel context.CancelFunc) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	if h.conns[uid] == nil {
		h.conns[uid] = make(map[uint64]context.CancelFunc)
	}
	h.conns[uid][id] = cancel
	h.lastSeen[uid] = h.now().Unix()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.conns[uid], id)
		if len(h.conns[uid]) == 0 {
			delete(h.conns, uid)
		}
		h.lastSeen[uid] = h.now().Unix()
	}
}

// Disconnect cancels every connection of uid and reports how many there were.
func (h *Hub) Disconnect(uid string) int {
	h.mu.RLock()
	cancels := make([]context.CancelFunc, 0, len(h.conns[uid]))
	for _, cancel := range h.conns[uid] {
		cancels = append(cancels, cancel)
	}
	h.mu.RUnlock()

	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

func (h *Hub) DisconnectAll() {
	for _, uid := range h.Online() {
		h.Disconnect(uid)
	}
}

// Online lists users with at least one live connection, sorted.
func (h *Hub) Online() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	uids := make([]string, 0, len(h.conns))
	for uid := range h.conns {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	return uids
}

func (h *Hub) Presence(uid string) Presence {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Presence{Connections: len(h.conns[uid]), LastSeen: h.lastSeen[uid]}
}
