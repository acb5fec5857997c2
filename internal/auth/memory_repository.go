package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository keeps accounts and sessions in process memory, for local
// development and tests.
type InMemoryRepository struct {
	mu         sync.RWMutex
	accounts   map[string]Account
	byEmail    map[string]string
	sessions   map[uuid.UUID]Session
	tokenIndex map[string]uuid.UUID
	tokenOf    map[uuid.UUID]string
}

// NewInMemoryRepository constructs an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		accounts:   make(map[string]Account),
		byEmail:    make(map[string]string),
		sessions:   make(map[uuid.UUID]Session),
		tokenIndex: make(map[string]uuid.UUID),
		tokenOf:    make(map[uuid.UUID]string),
	}
}

func (r *InMemoryRepository) CreateAccount(_ context.Context, account Account) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[account.Email]; ok {
		return Account{}, ErrEmailInUse
	}
	r.accounts[account.UID] = account
	r.byEmail[account.Email] = account.UID
	return account, nil
}

func (r *InMemoryRepository) GetAccount(_ context.Context, uid string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[uid]
	if !ok {
		return nil, nil
	}
	return &account, nil
}

func (r *InMemoryRepository) FindAccountByEmail(_ context.Context, email string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	uid, ok := r.byEmail[email]
	if !ok {
		return nil, nil
	}
	account := r.accounts[uid]
	return &account, nil
}

func (r *InMemoryRepository) UpdateCustomClaims(_ context.Context, uid string, claims CustomClaims) error {
	return r.updateAccount(uid, func(a *Account) {
		a.CustomClaims = claims
	})
}

func (r *InMemoryRepository) UpdateDisplayName(_ context.Context, uid, displayName string) error {
	return r.updateAccount(uid, func(a *Account) {
		a.DisplayName = displayName
	})
}

func (r *InMemoryRepository) RecordLogin(_ context.Context, uid string, at time.Time) error {
	return r.updateAccount(uid, func(a *Account) {
		a.LastLoginAt = &at
	})
}

func (r *InMemoryRepository) updateAccount(uid string, mutate func(*Account)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[uid]
	if !ok {
		return ErrNotFound
	}
	mutate(&account)
	account.UpdatedAt = time.Now().UTC()
	r.accounts[uid] = account
	return nil
}

func (r *InMemoryRepository) CreateSession(_ context.Context, session Session, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[session.ID] = session
	r.tokenIndex[tokenHash] = session.ID
	r.tokenOf[session.ID] = tokenHash
	return nil
}

func (r *InMemoryRepository) FindSession(_ context.Context, id uuid.UUID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sessionLocked(id), nil
}

func (r *InMemoryRepository) FindSessionByTokenHash(_ context.Context, tokenHash string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.tokenIndex[tokenHash]
	if !ok {
		return nil, nil
	}
	return r.sessionLocked(id), nil
}

// sessionLocked returns the session joined with its account's current email
// and display name.
func (r *InMemoryRepository) sessionLocked(id uuid.UUID) *Session {
	session, ok := r.sessions[id]
	if !ok {
		return nil
	}
	if account, ok := r.accounts[session.UID]; ok {
		session.Email = account.Email
		session.DisplayName = account.DisplayName
	}
	return &session
}

func (r *InMemoryRepository) RotateSessionToken(_ context.Context, id uuid.UUID, oldHash, newHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]
	if !ok || r.tokenOf[id] != oldHash {
		return ErrInvalidToken
	}
	delete(r.tokenIndex, oldHash)
	session.ExpiresAt = expiresAt
	r.sessions[id] = session
	r.tokenIndex[newHash] = id
	r.tokenOf[id] = newHash
	return nil
}

func (r *InMemoryRepository) DeleteSession(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deleteSessionLocked(id)
	return nil
}

func (r *InMemoryRepository) DeleteSessionsForAccount(_ context.Context, uid string) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []uuid.UUID
	for id, session := range r.sessions {
		if session.UID == uid {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		r.deleteSessionLocked(id)
	}
	return ids, nil
}

func (r *InMemoryRepository) DeleteExpiredSessions(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, session := range r.sessions {
		if session.ExpiresAt.Before(before) {
			r.deleteSessionLocked(id)
			n++
		}
	}
	return n, nil
}

func (r *InMemoryRepository) deleteSessionLocked(id uuid.UUID) {
	delete(r.tokenIndex, r.tokenOf[id])
	delete(r.tokenOf, id)
	delete(r.sessions, id)
}
