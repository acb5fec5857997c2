package auth

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
)

// Client is one consumer's view of the identity provider: at most one current
// session, change notifications, and a claims cache that can be force-refreshed.
//
// Subscribers receive the current session immediately and then every change,
// in order. A nil session means signed out. Server-side revocation and expiry
// of the current session are delivered as nil.
type Client struct {
	svc *Service

	// emitMu serializes session changes with their delivery so subscribers
	// observe changes in the order they were made.
	emitMu sync.Mutex

	mu          sync.Mutex
	session     *Session
	claims      *Claims
	subs        map[int]func(*Session, error)
	nextID      int
	stopRevoke  func()
	expiryTimer clockwork.Timer
	closed      bool
}

// NewClient creates a signed-out client.
func NewClient(svc *Service) *Client {
	return &Client{
		svc:  svc,
		subs: make(map[int]func(*Session, error)),
	}
}

// Subscribe registers fn for session changes and calls it synchronously with
// the current session before returning.
func (c *Client) Subscribe(fn func(*Session, error)) func() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return func() {}
	}
	c.nextID++
	id := c.nextID
	c.subs[id] = fn
	current := cloneSession(c.session)
	c.mu.Unlock()

	fn(current, nil)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Current returns a copy of the current session, or nil.
func (c *Client) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneSession(c.session)
}

// SignInWithToken adopts the session behind a valid ID token.
func (c *Client) SignInWithToken(ctx context.Context, idToken string) (*Session, error) {
	claims, session, err := c.svc.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}
	c.replace(session, claims)
	return cloneSession(session), nil
}

// SignOut destroys the current session, if any.
func (c *Client) SignOut(ctx context.Context) error {
	current := c.Current()
	if current == nil {
		return nil
	}
	c.replace(nil, nil)
	return c.svc.SignOut(ctx, current.ID)
}

// Claims returns the authorization claims for session. With forceRefresh the
// provider mints a fresh token from the account's current custom claims;
// otherwise a cached, unexpired value may be returned.
func (c *Client) Claims(ctx context.Context, session *Session, forceRefresh bool) (*Claims, error) {
	if session == nil {
		return nil, ErrNoSession
	}

	if !forceRefresh {
		c.mu.Lock()
		if c.session != nil && c.session.ID == session.ID && c.claims != nil &&
			c.svc.clock.Now().Before(c.claims.ExpiresAt.Time) {
			cached := c.claims.Clone()
			c.mu.Unlock()
			return cached, nil
		}
		c.mu.Unlock()
	}

	_, claims, err := c.svc.IssueToken(ctx, session)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.session != nil && c.session.ID == session.ID {
		c.claims = claims.Clone()
	}
	c.mu.Unlock()

	return claims, nil
}

// Close drops all subscribers and stops watching the current session. It
// does not sign out.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.subs = map[int]func(*Session, error){}
	c.detachLocked()
}

// replace installs a new current session and notifies subscribers.
func (c *Client) replace(session *Session, claims *Claims) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.session == nil && session == nil {
		c.mu.Unlock()
		return
	}
	c.detachLocked()
	c.session = cloneSession(session)
	c.claims = claims.Clone()
	if session != nil {
		c.attachLocked(*session)
	}
	subs := c.subscribersLocked()
	current := cloneSession(c.session)
	c.mu.Unlock()

	for _, fn := range subs {
		fn(cloneSession(current), nil)
	}
}

// attachLocked watches the session for revocation and expiry.
func (c *Client) attachLocked(session Session) {
	invalidate := func() {
		c.mu.Lock()
		still := c.session != nil && c.session.ID == session.ID
		c.mu.Unlock()
		if still {
			c.replace(nil, nil)
		}
	}

	c.stopRevoke = c.svc.WatchRevocations(session.ID, func() {
		// Revocation may fire from inside another client's replace.
		go invalidate()
	})

	if ttl := session.ExpiresAt.Sub(c.svc.clock.Now()); ttl > 0 {
		c.expiryTimer = c.svc.clock.AfterFunc(ttl, func() { go invalidate() })
	} else {
		go invalidate()
	}
}

func (c *Client) detachLocked() {
	if c.stopRevoke != nil {
		c.stopRevoke()
		c.stopRevoke = nil
	}
	if c.expiryTimer != nil {
		c.expiryTimer.Stop()
		c.expiryTimer = nil
	}
}

func (c *Client) subscribersLocked() []func(*Session, error) {
	out := make([]func(*Session, error), 0, len(c.subs))
	for _, fn := range c.subs {
		out = append(out, fn)
	}
	return out
}

func cloneSession(s *Session) *Session {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}
