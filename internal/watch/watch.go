// Package watch keeps at most one live store listener per path. Watching a path
// that already has a listener tears the old one down before subscribing again,
// so callers never stack duplicate callbacks.
package watch

import (
	"sort"
	"strings"
	"sync"

	"komnata/internal/storage"
)

type Subscriber interface {
	Subscribe(path string, fn func(storage.Snapshot)) storage.Token
	Unsubscribe(token storage.Token)
}

// Handle identifies one generation of a watch on a path.
type Handle struct {
	m    *Manager
	path string
	gen  uint64
}

func (h Handle) Path() string {
	return h.path
}

// Live reports whether this generation is still the current listener of its path.
// Deliveries racing with a teardown must check it before touching state.
func (h Handle) Live() bool {
	if h.m == nil {
		return false
	}
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	w, ok := h.m.live[h.path]
	return ok && w.gen == h.gen
}

type entry struct {
	gen   uint64
	token storage.Token
}

type Manager struct {
	sub  Subscriber
	mu   sync.Mutex
	live map[string]entry
	gen  uint64
}

func New(sub Subscriber) *Manager {
	return &Manager{
		sub:  sub,
		live: make(map[string]entry),
	}
}

// Watch subscribes fn to path, replacing any listener already on it.
func (m *Manager) Watch(path string, fn func(Handle, storage.Snapshot)) Handle {
	path = storage.Clean(path)

	m.mu.Lock()
	if old, ok := m.live[path]; ok {
		delete(m.live, path)
		m.sub.Unsubscribe(old.token)
	}
	m.gen++
	h := Handle{m: m, path: path, gen: m.gen}
	// Registered before subscribing: the first delivery may arrive before
	// Subscribe returns.
	m.live[path] = entry{gen: h.gen}
	m.mu.Unlock()

	token := m.sub.Subscribe(path, func(snap storage.Snapshot) {
		if !h.Live() {
			return
		}
		fn(h, snap)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.live[path]; ok && w.gen == h.gen {
		w.token = token
		m.live[path] = w
	} else {
		// Stopped or replaced while subscribing.
		m.sub.Unsubscribe(token)
	}
	return h
}

// Stop removes the listener on path, if any.
func (m *Manager) Stop(path string) {
	path = storage.Clean(path)

	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.live[path]; ok {
		delete(m.live, path)
		m.sub.Unsubscribe(w.token)
	}
}

func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for path, w := range m.live {
		delete(m.live, path)
		m.sub.Unsubscribe(w.token)
	}
}

// Watching reports whether path has a live listener.
func (m *Manager) Watching(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live[storage.Clean(path)]
	return ok
}

// Paths lists watched paths starting with prefix, sorted.
func (m *Manager) Paths(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var paths []string
	for p := range m.live {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}
