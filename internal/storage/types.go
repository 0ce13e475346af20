package storage

import (
	"context"
	"encoding"
	"errors"
	"sort"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrNoValue     = errors.New("snapshot has no value")
	ErrInvalidPath = errors.New("invalid path")
)

// Store is a tree-structured key/value store. Every node is addressed by a slash
// separated path and may hold a value and children at the same time.
type Store interface {
	// Get returns the snapshot of the subtree rooted at path.
	Get(ctx context.Context, path string) (Snapshot, error)
	// Set replaces the subtree at path with a single value.
	Set(ctx context.Context, path string, value any) error
	// Update writes several node values atomically. A nil value removes the
	// subtree at that path, other values leave existing children in place.
	Update(ctx context.Context, values map[string]any) error
	// Push stores value under a freshly generated child key of path.
	Push(ctx context.Context, path string, value any) (string, error)
	// NewKey generates a child key without writing anything.
	NewKey() string
	// Remove deletes the subtree at path.
	Remove(ctx context.Context, path string) error
	// Transaction atomically reads the subtree at path and replaces the node
	// value with what fn returns; children are left untouched. A nil value
	// deletes the node value. An error from fn aborts without writing.
	Transaction(ctx context.Context, path string, fn func(current Snapshot) (any, error)) error
	// Subscribe calls fn with the full snapshot of path now and after every
	// change under it, until the returned token is unsubscribed.
	Subscribe(path string, fn func(Snapshot)) Token
	Unsubscribe(token Token)
}

// Token identifies one subscription.
type Token uint64

// Snapshot is an immutable view of a subtree.
type Snapshot struct {
	path     string
	value    []byte
	children map[string]*Snapshot
}

func newSnapshot(path string) *Snapshot {
	return &Snapshot{path: path}
}

// Path returns the full path of the node.
func (s Snapshot) Path() string {
	return s.path
}

// Key returns the last path segment.
func (s Snapshot) Key() string {
	if i := strings.LastIndexByte(s.path, '/'); i >= 0 {
		return s.path[i+1:]
	}
	return s.path
}

// Exists reports whether the node has a value or any children.
func (s Snapshot) Exists() bool {
	return s.value != nil || len(s.children) > 0
}

// HasValue reports whether the node itself holds a value.
func (s Snapshot) HasValue() bool {
	return s.value != nil
}

// Decode decodes the node value into v.
func (s Snapshot) Decode(v any) error {
	if s.value == nil {
		return ErrNoValue
	}
	return decode(s.value, v)
}

// Child returns the snapshot at a relative path. A missing child is an empty
// snapshot, never an error.
func (s Snapshot) Child(rel string) Snapshot {
	rel = Clean(rel)
	if rel == "" {
		return s
	}
	cur := &s
	for _, seg := range strings.Split(rel, "/") {
		next, ok := cur.children[seg]
		if !ok {
			return Snapshot{path: Join(s.path, rel)}
		}
		cur = next
	}
	return *cur
}

// Children returns the direct children ordered by key.
func (s Snapshot) Children() []Snapshot {
	keys := make([]string, 0, len(s.children))
	for k := range s.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		result = append(result, *s.children[k])
	}
	return result
}

func (s *Snapshot) insert(rel string, value []byte) {
	cur := s
	for _, seg := range strings.Split(rel, "/") {
		if cur.children == nil {
			cur.children = make(map[string]*Snapshot)
		}
		next, ok := cur.children[seg]
		if !ok {
			next = newSnapshot(cur.path + "/" + seg)
			cur.children[seg] = next
		}
		cur = next
	}
	cur.value = value
}

// Nodes are msgpack by default; types may bring their own binary form.
func encode(v any) ([]byte, error) {
	if m, ok := v.(encoding.BinaryMarshaler); ok {
		return m.MarshalBinary()
	}
	return msgpack.Marshal(v)
}

func decode(data []byte, v any) error {
	if u, ok := v.(encoding.BinaryUnmarshaler); ok {
		return u.UnmarshalBinary(data)
	}
	return msgpack.Unmarshal(data, v)
}

// Clean normalises a path: no leading, trailing or repeated slashes.
func Clean(path string) string {
	parts := strings.Split(path, "/")
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return Clean(strings.Join(segments, "/"))
}

// related reports whether a write at one path changes the subtree at the other.
func related(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}
