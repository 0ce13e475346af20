package storage

import (
	"context"
	"log/slog"
)

// subscription delivers snapshots from its own goroutine. wake has capacity 1 so
// bursts of writes collapse into one read of the latest state, which is all a
// full-snapshot listener needs.
type subscription struct {
	path string
	fn   func(Snapshot)
	wake chan struct{}
	done chan struct{}
}

func (s *BboltStorage) Subscribe(path string, fn func(Snapshot)) Token {
	sub := &subscription{
		path: Clean(path),
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	token := s.next
	if s.closed {
		return token
	}
	s.subs[token] = sub

	sub.wake <- struct{}{} // initial snapshot
	s.wg.Go(func() {
		s.deliver(sub)
	})

	return token
}

func (s *BboltStorage) Unsubscribe(token Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.subs[token]; ok {
		close(sub.done)
		delete(s.subs, token)
	}
}

func (s *BboltStorage) deliver(sub *subscription) {
	for {
		select {
		case <-sub.done:
			return
		case <-sub.wake:
		}

		snap, err := s.Get(context.Background(), sub.path)
		if err != nil {
			slog.Error("subscription read failed", "path", sub.path, "error", err)
			continue
		}

		select {
		case <-sub.done:
			return
		default:
		}
		sub.fn(snap)
	}
}

func (s *BboltStorage) notify(paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		for _, p := range paths {
			if !related(sub.path, p) {
				continue
			}
			select {
			case sub.wake <- struct{}{}:
			default:
			}
			break
		}
	}
}
