// Package authsync reconciles an identity session, the member's profile
// record and the custom claims in the session's token into one State.
//
// Two sources push events independently: the session source reports sign-in
// and sign-out, and the profile watcher reports the record for the signed-in
// uid. Every session event starts a new generation; callbacks, timers and
// claims refreshes carry the generation they were started under and are
// dropped when it is no longer current.
package authsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"routemate/internal/auth"
	"routemate/internal/platform/metrics"
	"routemate/internal/profiles"
)

const (
	// DefaultTimeout bounds how long a new session may wait for its profile.
	DefaultTimeout = 5 * time.Second
	// DefaultClaimsTimeout bounds one forced claims refresh.
	DefaultClaimsTimeout = 10 * time.Second
)

var errClaimsMismatch = errors.New("claims subject does not match profile")

// SessionSource reports the identity provider's current session and mints
// claims for it.
type SessionSource interface {
	// Subscribe calls fn with the current session before returning and then
	// with every change. A nil session means signed out.
	Subscribe(fn func(*auth.Session, error)) func()
	Claims(ctx context.Context, session *auth.Session, forceRefresh bool) (*auth.Claims, error)
}

// ProfileWatcher streams the profile record for a uid. A nil profile means
// the record does not exist.
type ProfileWatcher interface {
	Watch(uid string, fn func(*profiles.Profile, error)) func()
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithTimeout sets how long a session may wait for its profile record.
func WithTimeout(d time.Duration) Option {
	return func(s *Syncer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClaimsTimeout bounds each forced claims refresh.
func WithClaimsTimeout(d time.Duration) Option {
	return func(s *Syncer) {
		if d > 0 {
			s.claimsTimeout = d
		}
	}
}

// WithClock substitutes the clock driving the profile timeout.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Syncer) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Syncer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStore publishes into an existing store instead of a new one.
func WithStore(store *Store) Option {
	return func(s *Syncer) {
		if store != nil {
			s.store = store
		}
	}
}

// Syncer is the single writer of a Store.
type Syncer struct {
	sessions      SessionSource
	profiles      ProfileWatcher
	store         *Store
	clock         clockwork.Clock
	timeout       time.Duration
	claimsTimeout time.Duration
	logger        *slog.Logger

	// eventMu serializes session events end to end, including the watch
	// subscription they perform outside mu.
	eventMu sync.Mutex

	mu            sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
	started       bool
	closed        bool
	phase         Phase
	generation    uint64
	session       *auth.Session
	profile       *profiles.Profile
	timer         clockwork.Timer
	stopWatch     func()
	stopSessions  func()
	refreshSeq    uint64
	cancelRefresh context.CancelFunc
}

// New constructs a Syncer. Nothing is observed until Start.
func New(sessions SessionSource, watcher ProfileWatcher, opts ...Option) *Syncer {
	s := &Syncer{
		sessions:      sessions,
		profiles:      watcher,
		clock:         clockwork.NewRealClock(),
		timeout:       DefaultTimeout,
		claimsTimeout: DefaultClaimsTimeout,
		logger:        slog.Default(),
		phase:         PhaseUnauthenticated,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = NewStore()
	}
	return s
}

// Store returns the store this Syncer publishes to.
func (s *Syncer) Store() *Store {
	return s.store
}

// Phase returns the current state machine phase.
func (s *Syncer) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Start subscribes to the session source. The Syncer closes itself when ctx
// is done. Calling Start more than once has no effect.
func (s *Syncer) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	context.AfterFunc(s.ctx, s.Close)

	// The source reports the current session synchronously, so mu must not
	// be held here.
	stop := s.sessions.Subscribe(s.onSession)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		stop()
		return
	}
	s.stopSessions = stop
	s.mu.Unlock()
}

// Close stops observing both sources. The published state is left as is.
// It is safe to call before Start and more than once.
func (s *Syncer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.generation++
	stopWatch := s.detachLocked()
	stopSessions := s.stopSessions
	s.stopSessions = nil
	cancel := s.cancel
	s.mu.Unlock()

	call(stopWatch)
	call(stopSessions)
	if cancel != nil {
		cancel()
	}
}

func (s *Syncer) onSession(session *auth.Session, err error) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	s.generation++
	gen := s.generation
	previous := s.detachLocked()
	s.profile = nil

	if err != nil || session == nil {
		s.session = nil
		s.transitionLocked(PhaseUnauthenticated, State{})
		s.mu.Unlock()
		call(previous)
		if err != nil {
			s.logger.Warn("session source failed", "error", err)
		}
		return
	}

	uid := session.UID
	sessionCopy := *session
	s.session = &sessionCopy
	s.transitionLocked(PhaseAwaitingProfile, State{Loading: true})
	s.timer = s.clock.AfterFunc(s.timeout, func() { s.onTimeout(gen) })
	s.mu.Unlock()

	// Only one profile watch may be open: the previous one is gone before
	// the next is created.
	call(previous)
	stop := s.profiles.Watch(uid, func(p *profiles.Profile, err error) {
		s.onProfile(gen, p, err)
	})

	s.mu.Lock()
	if s.closed || s.generation != gen {
		s.mu.Unlock()
		stop()
		return
	}
	s.stopWatch = stop
	s.mu.Unlock()
}

func (s *Syncer) onProfile(gen uint64, p *profiles.Profile, err error) {
	s.mu.Lock()
	if s.closed || s.generation != gen {
		s.mu.Unlock()
		metrics.AuthSyncStaleDrops.WithLabelValues("profile").Inc()
		return
	}

	if err != nil {
		stop := s.failLocked("profile watch failed", err)
		s.mu.Unlock()
		call(stop)
		return
	}

	if p != nil && p.UID != s.session.UID {
		stop := s.failLocked("profile for wrong uid", fmt.Errorf("got %q, want %q", p.UID, s.session.UID))
		s.mu.Unlock()
		call(stop)
		return
	}

	s.profile = p.Clone()
	if p == nil {
		s.stopRefreshLocked()
		// With no timer armed the record existed earlier in this session, so
		// its removal is final rather than a registration still in progress.
		if s.phase == PhaseAuthorized || (s.phase == PhaseAwaitingProfile && s.timer == nil) {
			s.logger.Info("profile removed", "uid", s.session.UID)
			s.transitionLocked(PhaseProfileMissing, State{})
		}
		s.mu.Unlock()
		return
	}

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	s.stopRefreshLocked()
	s.refreshSeq++
	seq := s.refreshSeq
	ctx, cancel := context.WithTimeout(s.ctx, s.claimsTimeout)
	s.cancelRefresh = cancel
	session := *s.session
	profile := p.Clone()
	s.mu.Unlock()

	go s.refresh(ctx, cancel, gen, seq, &session, profile)
}

// refresh force-refreshes claims and publishes them together with profile.
func (s *Syncer) refresh(ctx context.Context, cancel context.CancelFunc, gen, seq uint64, session *auth.Session, profile *profiles.Profile) {
	defer cancel()

	claims, err := s.sessions.Claims(ctx, session, true)
	if err == nil && claims == nil {
		err = auth.ErrNoSession
	}
	if err == nil && claims.UID() != profile.UID {
		err = errClaimsMismatch
	}

	s.mu.Lock()
	if s.closed || s.generation != gen || s.refreshSeq != seq {
		s.mu.Unlock()
		metrics.AuthSyncStaleDrops.WithLabelValues("claims").Inc()
		return
	}
	s.cancelRefresh = nil

	if err != nil {
		stop := s.failLocked("claims refresh failed", err)
		s.mu.Unlock()
		call(stop)
		return
	}

	s.transitionLocked(PhaseAuthorized, State{User: profile, Claims: claims})
	s.mu.Unlock()
}

func (s *Syncer) onTimeout(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.generation != gen || s.phase != PhaseAwaitingProfile || s.profile != nil {
		metrics.AuthSyncStaleDrops.WithLabelValues("timeout").Inc()
		return
	}
	s.timer = nil

	// The watch stays open so a profile that arrives late still authorizes.
	s.logger.Info("profile did not appear in time", "uid", s.session.UID, "timeout", s.timeout)
	s.transitionLocked(PhaseProfileMissing, State{})
}

// failLocked publishes the signed-out state and abandons the current
// session. The returned watch teardown must be called after unlocking.
func (s *Syncer) failLocked(msg string, err error) func() {
	uid := ""
	if s.session != nil {
		uid = s.session.UID
	}
	s.logger.Warn(msg, "uid", uid, "error", err)

	s.generation++
	stop := s.detachLocked()
	s.session = nil
	s.profile = nil
	s.transitionLocked(PhaseUnauthenticated, State{})
	return stop
}

// detachLocked cancels the timer and any refresh, and hands back the profile
// watch teardown for the caller to run once mu is released.
func (s *Syncer) detachLocked() func() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.stopRefreshLocked()
	stop := s.stopWatch
	s.stopWatch = nil
	return stop
}

func (s *Syncer) stopRefreshLocked() {
	if s.cancelRefresh != nil {
		s.cancelRefresh()
		s.cancelRefresh = nil
	}
	s.refreshSeq++
}

func (s *Syncer) transitionLocked(phase Phase, state State) {
	changed := s.phase != phase
	s.phase = phase
	if changed {
		metrics.AuthSyncTransitions.WithLabelValues(phase.String()).Inc()
		s.logger.Debug("auth sync transition", "phase", phase.String())
	}
	if s.store.Snapshot().equal(state) {
		return
	}
	s.store.publish(state)
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}
