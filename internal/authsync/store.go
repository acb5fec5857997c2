package authsync

import (
	"context"
	"sync"
)

// Store holds the published State. A Syncer is its only writer; any number
// of readers may take snapshots or subscribe. Every value handed out is a
// private copy.
type Store struct {
	mu      sync.RWMutex
	state   State
	version uint64
	subs    map[int]chan State
	nextID  int
}

// NewStore returns a store in the initial loading state.
func NewStore() *Store {
	return &Store{
		state: State{Loading: true},
		subs:  make(map[int]chan State),
	}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Version counts publications; it starts at zero.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Subscribe returns a channel that receives the current state immediately
// and then every publication. A subscriber that falls behind loses the
// oldest buffered states, never the newest. The channel is closed by the
// returned cancel function.
func (s *Store) Subscribe(buffer int) (<-chan State, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan State, buffer)

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = ch
	ch <- s.state.clone()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

func (s *Store) publish(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = state.clone()
	s.version++
	for _, ch := range s.subs {
		offer(ch, s.state.clone())
	}
}

// offer sends v without blocking, evicting the oldest value when full. Only
// the publisher sends, so after one eviction there is room.
func offer(ch chan State, v State) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying store.
func NewContext(ctx context.Context, store *Store) context.Context {
	return context.WithValue(ctx, contextKey{}, store)
}

// FromContext extracts the store placed by NewContext.
func FromContext(ctx context.Context) (*Store, bool) {
	store, ok := ctx.Value(contextKey{}).(*Store)
	return store, ok && store != nil
}
