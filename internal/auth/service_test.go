package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T) (*Service, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := NewService(
		NewInMemoryRepository(),
		NewTokenIssuer("test-secret", time.Hour, clock),
		WithClock(clock),
		WithSessionTTL(24*time.Hour),
		WithBcryptCost(bcrypt.MinCost),
	)
	return svc, clock
}

func TestServiceCreateAccountValidates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "", "secret123", "Ada")
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = svc.CreateAccount(ctx, "not an email", "secret123", "Ada")
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = svc.CreateAccount(ctx, "ada@example.com", "123", "Ada")
	assert.True(t, errors.Is(err, ErrWeakPassword))
}

func TestServiceCreateAccountRejectsDuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	account, err := svc.CreateAccount(ctx, " Ada@Example.com ", "secret123", " Ada ")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", account.Email)
	assert.Equal(t, "Ada", account.DisplayName)
	assert.NotEqual(t, "secret123", account.PasswordHash)

	_, err = svc.CreateAccount(ctx, "ada@example.com", "other-secret", "Ada")
	assert.True(t, errors.Is(err, ErrEmailInUse))
}

func TestServiceSignIn(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	account, err := svc.CreateAccount(ctx, "ada@example.com", "secret123", "Ada")
	require.NoError(t, err)

	_, _, err = svc.SignIn(ctx, "ada@example.com", "wrong-password", "", "")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))

	_, _, err = svc.SignIn(ctx, "nobody@example.com", "secret123", "", "")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))

	session, bundle, err := svc.SignIn(ctx, "ADA@example.com", "secret123", "test-agent", "203.0.113.1")
	require.NoError(t, err)
	assert.Equal(t, account.UID, session.UID)
	assert.NotEmpty(t, bundle.IDToken)
	assert.NotEmpty(t, bundle.RefreshToken)

	claims, verified, err := svc.VerifyIDToken(ctx, bundle.IDToken)
	require.NoError(t, err)
	assert.Equal(t, account.UID, claims.UID())
	assert.Equal(t, session.ID, verified.ID)
	assert.Equal(t, "ada@example.com", verified.Email)
}

func TestServiceIssueTokenReflectsCustomClaims(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	account, err := svc.CreateAccount(ctx, "ada@example.com", "secret123", "Ada")
	require.NoError(t, err)
	session, bundle, err := svc.SignInAccount(ctx, account.UID, "", "")
	require.NoError(t, err)

	before, _, err := svc.VerifyIDToken(ctx, bundle.IDToken)
	require.NoError(t, err)
	assert.Empty(t, before.Role)

	require.NoError(t, svc.SetCustomClaims(ctx, account.UID, CustomClaims{OrganizationID: account.UID, Role: "admin"}))

	_, refreshed, err := svc.IssueToken(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, "admin", refreshed.Role)
	assert.Equal(t, account.UID, refreshed.OrganizationID)
}

func TestServiceSetCustomClaimsUnknownAccount(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.SetCustomClaims(context.Background(), "missing", CustomClaims{Role: "admin"})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestServiceRefreshRotatesToken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "ada@example.com", "secret123", "Ada")
	require.NoError(t, err)
	_, bundle, err := svc.SignIn(ctx, "ada@example.com", "secret123", "", "")
	require.NoError(t, err)

	_, rotated, err := svc.Refresh(ctx, bundle.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, bundle.RefreshToken, rotated.RefreshToken)

	_, _, err = svc.Refresh(ctx, bundle.RefreshToken)
	assert.True(t, errors.Is(err, ErrInvalidToken), "old refresh token must stop working")

	_, _, err = svc.Refresh(ctx, rotated.RefreshToken)
	assert.NoError(t, err)
}

func TestServiceSessionExpiry(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "ada@example.com", "secret123", "Ada")
	require.NoError(t, err)
	session, bundle, err := svc.SignIn(ctx, "ada@example.com", "secret123", "", "")
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)

	_, _, err = svc.Refresh(ctx, bundle.RefreshToken)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	_, _, err = svc.IssueToken(ctx, session)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestServiceSignOutRevokesAndNotifies(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "ada@example.com", "secret123", "Ada")
	require.NoError(t, err)
	session, bundle, err := svc.SignIn(ctx, "ada@example.com", "secret123", "", "")
	require.NoError(t, err)

	notified := 0
	svc.WatchRevocations(session.ID, func() { notified++ })

	require.NoError(t, svc.SignOut(ctx, session.ID))
	assert.Equal(t, 1, notified)

	_, _, err = svc.VerifyIDToken(ctx, bundle.IDToken)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestServiceRevokeSessions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	account, err := svc.CreateAccount(ctx, "ada@example.com", "secret123", "Ada")
	require.NoError(t, err)
	first, _, err := svc.SignInAccount(ctx, account.UID, "", "")
	require.NoError(t, err)
	second, _, err := svc.SignInAccount(ctx, account.UID, "", "")
	require.NoError(t, err)

	revoked := map[uuid.UUID]bool{}
	svc.WatchRevocations(first.ID, func() { revoked[first.ID] = true })
	svc.WatchRevocations(second.ID, func() { revoked[second.ID] = true })

	require.NoError(t, svc.RevokeSessions(ctx, account.UID))
	assert.True(t, revoked[first.ID])
	assert.True(t, revoked[second.ID])
}

func TestServiceCleanupExpiredSessions(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	account, err := svc.CreateAccount(ctx, "ada@example.com", "secret123", "Ada")
	require.NoError(t, err)
	_, _, err = svc.SignInAccount(ctx, account.UID, "", "")
	require.NoError(t, err)

	n, err := svc.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(48 * time.Hour)
	n, err = svc.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

type failingRepo struct {
	*InMemoryRepository
	createSessionErr error
}

func (r *failingRepo) CreateSession(ctx context.Context, session Session, tokenHash string) error {
	if r.createSessionErr != nil {
		return r.createSessionErr
	}
	return r.InMemoryRepository.CreateSession(ctx, session, tokenHash)
}

func TestServiceSignInPropagatesRepositoryError(t *testing.T) {
	clock := clockwork.NewFakeClock()
	repo := &failingRepo{InMemoryRepository: NewInMemoryRepository(), createSessionErr: errors.New("db down")}
	svc := NewService(repo, NewTokenIssuer("s", time.Hour, clock), WithClock(clock), WithBcryptCost(bcrypt.MinCost))
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "ada@example.com", "secret123", "Ada")
	require.NoError(t, err)

	_, _, err = svc.SignIn(ctx, "ada@example.com", "secret123", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

// interleavingRepo runs hook once, right after the first refresh token lookup.
type interleavingRepo struct {
	*InMemoryRepository
	hooked bool
	hook   func()
}

func (r *interleavingRepo) FindSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	session, err := r.InMemoryRepository.FindSessionByTokenHash(ctx, tokenHash)
	if !r.hooked && r.hook != nil {
		r.hooked = true
		r.hook()
	}
	return session, err
}

func TestServiceRefreshTokenRotatesOnlyOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	repo := &interleavingRepo{InMemoryRepository: NewInMemoryRepository()}
	svc := NewService(repo, NewTokenIssuer("s", time.Hour, clock), WithClock(clock), WithBcryptCost(bcrypt.MinCost))
	ctx := context.Background()

	account, err := svc.CreateAccount(ctx, "ada@example.com", "secret123", "Ada")
	require.NoError(t, err)
	_, bundle, err := svc.SignInAccount(ctx, account.UID, "", "")
	require.NoError(t, err)

	var concurrentErr error
	repo.hook = func() {
		_, _, concurrentErr = svc.Refresh(ctx, bundle.RefreshToken)
	}

	_, _, err = svc.Refresh(ctx, bundle.RefreshToken)
	require.NoError(t, concurrentErr)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestInMemoryRotateSessionTokenRejectsStaleHash(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	session := Session{ID: uuid.New(), UID: "u1", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, repo.CreateSession(ctx, session, "first"))

	require.NoError(t, repo.RotateSessionToken(ctx, session.ID, "first", "second", session.ExpiresAt))
	err := repo.RotateSessionToken(ctx, session.ID, "first", "third", session.ExpiresAt)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	found, err := repo.FindSessionByTokenHash(ctx, "second")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, session.ID, found.ID)
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", truncateString("abcdef", 3))
	assert.Equal(t, "ab", truncateString("ab", 3))
	assert.Equal(t, "a", truncateString("aøb", 2))
	assert.Equal(t, "aø", truncateString("aøb", 3))
	assert.Equal(t, "ab", truncateString("a\xffb", 5))
	assert.True(t, utf8.ValidString(truncateString("Mozilla/5.0 (Linux; 日本語)", 20)))
}

func TestSignInStoresValidUserAgent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	account, err := svc.CreateAccount(ctx, "ada@example.com", "secret123", "Ada")
	require.NoError(t, err)
	userAgent := strings.Repeat("a", 511) + "ø"
	session, _, err := svc.SignInAccount(ctx, account.UID, userAgent, "")
	require.NoError(t, err)

	assert.True(t, utf8.ValidString(session.UserAgent))
	assert.Equal(t, strings.Repeat("a", 511), session.UserAgent)
}
