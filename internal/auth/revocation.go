package auth

import (
	"sync"

	"github.com/google/uuid"
)

// revocationFeed fans out session revocations to in-process listeners,
// such as Clients holding that session.
type revocationFeed struct {
	mu     sync.Mutex
	nextID int
	byID   map[uuid.UUID]map[int]func()
}

func newRevocationFeed() *revocationFeed {
	return &revocationFeed{byID: make(map[uuid.UUID]map[int]func())}
}

func (f *revocationFeed) watch(sessionID uuid.UUID, fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := f.nextID
	listeners, ok := f.byID[sessionID]
	if !ok {
		listeners = make(map[int]func())
		f.byID[sessionID] = listeners
	}
	listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if listeners, ok := f.byID[sessionID]; ok {
				delete(listeners, id)
				if len(listeners) == 0 {
					delete(f.byID, sessionID)
				}
			}
		})
	}
}

// revoke notifies and drops every listener of the given sessions. Listeners
// run outside the feed lock.
func (f *revocationFeed) revoke(sessionIDs ...uuid.UUID) {
	var fns []func()
	f.mu.Lock()
	for _, sessionID := range sessionIDs {
		for _, fn := range f.byID[sessionID] {
			fns = append(fns, fn)
		}
		delete(f.byID, sessionID)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
