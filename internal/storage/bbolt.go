package storage

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.etcd.io/bbolt"
)

var bucketNodes = []byte("nodes")

// BboltStorage keeps every tree node as one bbolt key: the node path.
// Subtree reads are prefix scans of "path/".
type BboltStorage struct {
	db *bbolt.DB

	mu     sync.Mutex
	subs   map[Token]*subscription
	next   Token
	closed bool
	wg     sync.WaitGroup
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketNodes)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{
		db:   db,
		subs: make(map[Token]*subscription),
	}, nil
}

// Close stops all subscriptions and closes the database.
func (s *BboltStorage) Close() error {
	s.mu.Lock()
	s.closed = true
	for token, sub := range s.subs {
		close(sub.done)
		delete(s.subs, token)
	}
	s.mu.Unlock()

	s.wg.Wait()
	return s.db.Close()
}

func (s *BboltStorage) Get(ctx context.Context, path string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	path = Clean(path)
	if path == "" {
		return Snapshot{}, ErrInvalidPath
	}

	var snap *Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		snap = readTree(tx.Bucket(bucketNodes), path)
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return *snap, nil
}

func (s *BboltStorage) Set(ctx context.Context, path string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path = Clean(path)
	if path == "" {
		return ErrInvalidPath
	}
	data, err := encode(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		if err := deleteTree(b, path); err != nil {
			return err
		}
		return b.Put([]byte(path), data)
	})
	if err != nil {
		return err
	}
	s.notify(path)
	return nil
}

func (s *BboltStorage) Update(ctx context.Context, values map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	encoded := make(map[string][]byte, len(values))
	paths := make([]string, 0, len(values))
	for p, v := range values {
		p = Clean(p)
		if p == "" {
			return ErrInvalidPath
		}
		paths = append(paths, p)
		if v == nil {
			encoded[p] = nil
			continue
		}
		data, err := encode(v)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", p, err)
		}
		encoded[p] = data
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		for p, data := range encoded {
			if data == nil {
				if err := deleteTree(b, p); err != nil {
					return err
				}
				continue
			}
			if err := b.Put([]byte(p), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.notify(paths...)
	return nil
}

func (s *BboltStorage) Push(ctx context.Context, path string, value any) (string, error) {
	key := s.NewKey()
	if err := s.Set(ctx, Join(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

// NewKey returns a ULID: time ordered and monotonic within the process.
func (s *BboltStorage) NewKey() string {
	return ulid.Make().String()
}

func (s *BboltStorage) Remove(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path = Clean(path)
	if path == "" {
		return ErrInvalidPath
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return deleteTree(tx.Bucket(bucketNodes), path)
	})
	if err != nil {
		return err
	}
	s.notify(path)
	return nil
}

func (s *BboltStorage) Transaction(ctx context.Context, path string, fn func(current Snapshot) (any, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path = Clean(path)
	if path == "" {
		return ErrInvalidPath
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		value, err := fn(*readTree(b, path))
		if err != nil {
			return err
		}
		if value == nil {
			return b.Delete([]byte(path))
		}
		data, err := encode(value)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", path, err)
		}
		return b.Put([]byte(path), data)
	})
	if err != nil {
		return err
	}
	s.notify(path)
	return nil
}

func readTree(b *bbolt.Bucket, path string) *Snapshot {
	snap := newSnapshot(path)
	if v := b.Get([]byte(path)); v != nil {
		snap.value = bytes.Clone(v)
	}

	prefix := []byte(path + "/")
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		snap.insert(string(k[len(prefix):]), bytes.Clone(v))
	}
	return snap
}

func deleteTree(b *bbolt.Bucket, path string) error {
	// Collect first: deleting under an open cursor skips keys.
	keys := [][]byte{[]byte(path)}
	prefix := []byte(path + "/")
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, bytes.Clone(k))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
