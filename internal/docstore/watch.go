package docstore

import (
	"context"
	"sync"

	domainerrors "github.com/shelfieapp/shelfie/internal/errors"
	"github.com/shelfieapp/shelfie/internal/remote"
)

// Subscribe watches owner's documents. The first snapshot is delivered right
// away; later ones follow each committed change. Bursts of changes coalesce
// into a single snapshot of the latest state.
func (s *Store) Subscribe(ctx context.Context, owner string, fn remote.SnapshotFunc) (remote.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, domainerrors.RemoteUnavailable(err, "subscribe")
	}

	signal := make(chan struct{}, 1)
	signal <- struct{}{}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, domainerrors.RemoteUnavailable(nil, "document store closed")
	}
	id := s.nextID
	s.nextID++
	if s.watchers[owner] == nil {
		s.watchers[owner] = make(map[uint64]chan struct{})
	}
	s.watchers[owner][id] = signal
	s.mu.Unlock()

	done := make(chan struct{})
	go s.watch(owner, signal, done, fn)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			s.mu.Lock()
			delete(s.watchers[owner], id)
			if len(s.watchers[owner]) == 0 {
				delete(s.watchers, owner)
			}
			s.mu.Unlock()
		})
	}

	s.logger.Debug("subscription opened", "owner", owner)
	return cancel, nil
}

func (s *Store) watch(owner string, signal <-chan struct{}, done <-chan struct{}, fn remote.SnapshotFunc) {
	for {
		select {
		case <-done:
			return
		case _, ok := <-signal:
			if !ok {
				return
			}
		}

		// A cancel that raced the signal wins.
		select {
		case <-done:
			return
		default:
		}

		docs, err := s.QueryByOwner(context.Background(), owner)
		if err != nil {
			s.logger.Warn("snapshot query failed", "owner", owner, "error", err)
			continue
		}
		fn(docs)
	}
}

// notify wakes every watcher of owner without blocking.
func (s *Store) notify(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers[owner] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions for owner.
func (s *Store) Subscribers(owner string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers[owner])
}
