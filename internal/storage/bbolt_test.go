package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string `msgpack:"name"`
	Count int    `msgpack:"count"`
}

func newTestStorage(t *testing.T) *BboltStorage {
	t.Helper()
	store, err := NewBboltStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStorage(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	t.Run("SetGet", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "rooms/r1", record{Name: "Team"}))
		require.NoError(t, store.Set(ctx, "rooms/r1/members", []string{"u1"}))

		snap, err := store.Get(ctx, "rooms/r1")
		require.NoError(t, err)
		require.True(t, snap.Exists())
		require.Equal(t, "r1", snap.Key())

		var r record
		require.NoError(t, snap.Decode(&r))
		require.Equal(t, "Team", r.Name)

		var members []string
		require.NoError(t, snap.Child("members").Decode(&members))
		require.Equal(t, []string{"u1"}, members)
	})

	t.Run("MissingPath", func(t *testing.T) {
		snap, err := store.Get(ctx, "rooms/nope")
		require.NoError(t, err)
		require.False(t, snap.Exists())
		require.ErrorIs(t, snap.Decode(&record{}), ErrNoValue)
		require.False(t, snap.Child("members/x").Exists())
	})

	t.Run("SiblingPrefixIsNotChild", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "rooms/r10", record{Name: "Other"}))

		snap, err := store.Get(ctx, "rooms/r1")
		require.NoError(t, err)
		require.Len(t, snap.Children(), 1)
		require.Equal(t, "members", snap.Children()[0].Key())
	})

	t.Run("SetReplacesSubtree", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "tmp/a", record{Name: "a"}))
		require.NoError(t, store.Set(ctx, "tmp/a/b", record{Name: "b"}))
		require.NoError(t, store.Set(ctx, "tmp/a", record{Name: "a2"}))

		snap, err := store.Get(ctx, "tmp/a")
		require.NoError(t, err)
		require.Empty(t, snap.Children())
	})

	t.Run("PushOrdersKeys", func(t *testing.T) {
		var keys []string
		for i := 0; i < 5; i++ {
			key, err := store.Push(ctx, "rooms/r1/messages", record{Count: i})
			require.NoError(t, err)
			keys = append(keys, key)
		}

		snap, err := store.Get(ctx, "rooms/r1/messages")
		require.NoError(t, err)
		children := snap.Children()
		require.Len(t, children, 5)
		for i, c := range children {
			require.Equal(t, keys[i], c.Key())
			var r record
			require.NoError(t, c.Decode(&r))
			require.Equal(t, i, r.Count)
		}
	})

	t.Run("UpdateAndRemove", func(t *testing.T) {
		require.NoError(t, store.Update(ctx, map[string]any{
			"rooms/r2":         record{Name: "Two"},
			"rooms/r2/members": []string{"u2"},
			"codes/1234":       "r2",
		}))

		snap, err := store.Get(ctx, "rooms/r2")
		require.NoError(t, err)
		require.True(t, snap.Child("members").HasValue())

		require.NoError(t, store.Update(ctx, map[string]any{
			"rooms/r2":   nil,
			"codes/1234": nil,
		}))
		snap, err = store.Get(ctx, "rooms/r2")
		require.NoError(t, err)
		require.False(t, snap.Exists())

		require.NoError(t, store.Remove(ctx, "rooms/r1"))
		snap, err = store.Get(ctx, "rooms/r1/messages")
		require.NoError(t, err)
		require.False(t, snap.Exists())
	})

	t.Run("InvalidPath", func(t *testing.T) {
		require.ErrorIs(t, store.Set(ctx, "/", record{}), ErrInvalidPath)
		_, err := store.Get(ctx, "")
		require.ErrorIs(t, err, ErrInvalidPath)
	})
}

func TestTransaction(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	t.Run("ConcurrentAppends", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := store.Transaction(ctx, "counter", func(cur Snapshot) (any, error) {
					var r record
					if cur.HasValue() {
						if err := cur.Decode(&r); err != nil {
							return nil, err
						}
					}
					r.Count++
					return r, nil
				})
				if err != nil {
					t.Errorf("transaction failed: %v", err)
				}
			}()
		}
		wg.Wait()

		snap, err := store.Get(ctx, "counter")
		require.NoError(t, err)
		var r record
		require.NoError(t, snap.Decode(&r))
		require.Equal(t, 20, r.Count)
	})

	t.Run("AbortKeepsValue", func(t *testing.T) {
		abort := errors.New("abort")
		err := store.Transaction(ctx, "counter", func(cur Snapshot) (any, error) {
			return nil, abort
		})
		require.ErrorIs(t, err, abort)

		snap, err := store.Get(ctx, "counter")
		require.NoError(t, err)
		require.True(t, snap.HasValue())
	})

	t.Run("KeepsChildren", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "rooms/r1/members", []string{"u1"}))
		err := store.Transaction(ctx, "rooms/r1", func(cur Snapshot) (any, error) {
			return record{Name: "renamed"}, nil
		})
		require.NoError(t, err)

		snap, err := store.Get(ctx, "rooms/r1")
		require.NoError(t, err)
		require.True(t, snap.Child("members").HasValue())
	})
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	snaps := make(chan Snapshot, 16)
	token := store.Subscribe("rooms/r1/messages", func(s Snapshot) {
		snaps <- s
	})

	next := func() Snapshot {
		t.Helper()
		select {
		case s := <-snaps:
			return s
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for snapshot")
			return Snapshot{}
		}
	}

	// Initial snapshot of an empty path.
	require.False(t, next().Exists())

	_, err := store.Push(ctx, "rooms/r1/messages", record{Name: "hello"})
	require.NoError(t, err)
	require.Len(t, next().Children(), 1)

	// Writes elsewhere do not wake the listener.
	require.NoError(t, store.Set(ctx, "rooms/r2/messages/x", record{}))
	select {
	case s := <-snaps:
		t.Fatalf("unexpected snapshot for %s", s.Path())
	case <-time.After(100 * time.Millisecond):
	}

	// Removing an ancestor does.
	require.NoError(t, store.Remove(ctx, "rooms/r1"))
	require.False(t, next().Exists())

	store.Unsubscribe(token)
	require.NoError(t, store.Set(ctx, "rooms/r1/messages/y", record{}))
	select {
	case <-snaps:
		t.Fatal("snapshot delivered after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}
