package authsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"routemate/internal/auth"
	"routemate/internal/profiles"
)

// fakeSessions is a scriptable SessionSource.
type fakeSessions struct {
	mu      sync.Mutex
	current *auth.Session
	subs    map[int]func(*auth.Session, error)
	nextID  int
	claims  map[string]auth.CustomClaims
	errs    map[string]error
	gates   map[string]chan struct{}

	// honorCtx makes gated calls return early when their context ends.
	honorCtx bool
	returned chan string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		subs:     make(map[int]func(*auth.Session, error)),
		claims:   make(map[string]auth.CustomClaims),
		errs:     make(map[string]error),
		gates:    make(map[string]chan struct{}),
		returned: make(chan string, 64),
	}
}

func (f *fakeSessions) Subscribe(fn func(*auth.Session, error)) func() {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.subs[id] = fn
	current := f.current
	f.mu.Unlock()

	fn(current, nil)

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *fakeSessions) emit(session *auth.Session, err error) {
	f.mu.Lock()
	f.current = session
	subs := make([]func(*auth.Session, error), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	for _, fn := range subs {
		fn(session, err)
	}
}

func (f *fakeSessions) signIn(uid string) *auth.Session {
	session := &auth.Session{ID: uuid.New(), UID: uid, Email: uid + "@example.com"}
	f.emit(session, nil)
	return session
}

func (f *fakeSessions) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeSessions) setClaims(uid, org, role string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims[uid] = auth.CustomClaims{OrganizationID: org, Role: role}
}

func (f *fakeSessions) setError(uid string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[uid] = err
}

// gate makes Claims for uid block until the returned channel is closed.
func (f *fakeSessions) gate(uid string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[uid] = ch
	return ch
}

func (f *fakeSessions) Claims(ctx context.Context, session *auth.Session, _ bool) (*auth.Claims, error) {
	defer func() {
		select {
		case f.returned <- session.UID:
		default:
		}
	}()

	f.mu.Lock()
	gate := f.gates[session.UID]
	honor := f.honorCtx
	f.mu.Unlock()

	if gate != nil {
		if honor {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		} else {
			<-gate
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[session.UID]; err != nil {
		return nil, err
	}
	custom := f.claims[session.UID]
	return &auth.Claims{
		OrganizationID: custom.OrganizationID,
		Role:           custom.Role,
		Email:          session.Email,
		SessionID:      session.ID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: session.UID,
			ID:      uuid.NewString(),
		},
	}, nil
}

// fakeProfiles is a ProfileWatcher whose records and failures tests control.
type fakeProfiles struct {
	feed *profiles.Feed

	mu      sync.Mutex
	records map[string]profiles.Profile
	opened  int
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{feed: profiles.NewFeed(), records: make(map[string]profiles.Profile)}
}

func (f *fakeProfiles) Watch(uid string, fn func(*profiles.Profile, error)) func() {
	f.mu.Lock()
	f.opened++
	f.mu.Unlock()

	return f.feed.Subscribe(uid, fn, func() (*profiles.Profile, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if p, ok := f.records[uid]; ok {
			return &p, nil
		}
		return nil, nil
	})
}

func (f *fakeProfiles) put(p profiles.Profile) {
	f.mu.Lock()
	f.records[p.UID] = p
	f.mu.Unlock()
	f.feed.Publish(p.UID, &p)
}

func (f *fakeProfiles) remove(uid string) {
	f.mu.Lock()
	delete(f.records, uid)
	f.mu.Unlock()
	f.feed.Publish(uid, nil)
}

func (f *fakeProfiles) fail(uid string, err error) {
	f.feed.PublishError(uid, err)
}

func (f *fakeProfiles) watching(uid string) int {
	return f.feed.Count(uid)
}

func (f *fakeProfiles) totalWatches() int {
	n := 0
	for _, uid := range f.feed.WatchedUIDs() {
		n += f.feed.Count(uid)
	}
	return n
}

func profileFor(uid, org string, role profiles.Role) profiles.Profile {
	return profiles.Profile{
		UID:            uid,
		Email:          uid + "@example.com",
		DisplayName:    "User " + uid,
		Role:           role,
		OrganizationID: org,
	}
}

// history records every state published to a store.
type history struct {
	store  *Store
	base   uint64
	mu     sync.Mutex
	states []State
	done   chan struct{}
}

// record must be called before the store's writer starts.
func record(t *testing.T, store *Store) *history {
	t.Helper()
	h := &history{store: store, base: store.Version(), done: make(chan struct{})}
	ch, cancel := store.Subscribe(1024)
	go func() {
		defer close(h.done)
		for st := range ch {
			h.mu.Lock()
			h.states = append(h.states, st)
			h.mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *history) all() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.states...)
}

// caughtUp waits until every publication so far has been received.
func (h *history) caughtUp(t *testing.T) []State {
	t.Helper()
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return uint64(len(h.states)) == 1+h.store.Version()-h.base
	}, 2*time.Second, 5*time.Millisecond)
	return h.all()
}

func (h *history) last() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.states) == 0 {
		return State{}
	}
	return h.states[len(h.states)-1]
}

func waitFor(t *testing.T, store *Store, cond func(State) bool) State {
	t.Helper()
	require.Eventually(t, func() bool {
		return cond(store.Snapshot())
	}, 2*time.Second, 5*time.Millisecond)
	return store.Snapshot()
}

func authorizedAs(uid string) func(State) bool {
	return func(s State) bool {
		return s.Authenticated() && s.User.UID == uid
	}
}

func signedOut(s State) bool {
	return !s.Loading && s.User == nil && s.Claims == nil
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for claims call to return")
		return ""
	}
}
