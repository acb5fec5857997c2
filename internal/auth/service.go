package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"
)

// Service provides identity-provider business logic: accounts, sessions and
// ID tokens carrying custom claims.
type Service struct {
	repo        Repository
	tokens      *TokenIssuer
	sessionTTL  time.Duration
	clock       clockwork.Clock
	bcryptCost  int
	revocations *revocationFeed
}

// Option configures a Service.
type Option func(*Service)

// WithSessionTTL overrides how long a refresh token stays valid.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// WithClock substitutes the time source.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithBcryptCost sets the password hashing cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		s.bcryptCost = cost
	}
}

// NewService creates a new auth Service.
func NewService(repo Repository, tokens *TokenIssuer, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		tokens:      tokens,
		sessionTTL:  30 * 24 * time.Hour,
		clock:       clockwork.NewRealClock(),
		bcryptCost:  bcrypt.DefaultCost,
		revocations: newRevocationFeed(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Clock returns the service's time source.
func (s *Service) Clock() clockwork.Clock {
	return s.clock
}

// CreateAccount registers a new email/password identity without custom claims.
func (s *Service) CreateAccount(ctx context.Context, email, password, displayName string) (*Account, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	existing, err := s.repo.FindAccountByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailInUse
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.clock.Now().UTC()
	account := Account{
		UID:          uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  strings.TrimSpace(displayName),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	created, err := s.repo.CreateAccount(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return &created, nil
}

// GetAccount returns the account for uid or ErrNotFound.
func (s *Service) GetAccount(ctx context.Context, uid string) (*Account, error) {
	account, err := s.repo.GetAccount(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if account == nil {
		return nil, ErrNotFound
	}
	return account, nil
}

// FindAccountByEmail returns the account registered under email, or nil.
func (s *Service) FindAccountByEmail(ctx context.Context, email string) (*Account, error) {
	return s.repo.FindAccountByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
}

// SignIn verifies email and password and opens a new session.
func (s *Service) SignIn(ctx context.Context, email, password, userAgent, ipAddress string) (*Session, TokenBundle, error) {
	account, err := s.repo.FindAccountByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, TokenBundle{}, fmt.Errorf("find account: %w", err)
	}
	if !s.CheckPassword(account, password) {
		return nil, TokenBundle{}, ErrInvalidCredentials
	}

	return s.openSession(ctx, *account, userAgent, ipAddress)
}

// CheckPassword reports whether password matches the account's hash.
// Accounts without a password never match.
func (s *Service) CheckPassword(account *Account, password string) bool {
	if account == nil || account.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) == nil
}

// SignInAccount opens a session for an already authenticated account, as
// after registration or federated sign-in.
func (s *Service) SignInAccount(ctx context.Context, uid, userAgent, ipAddress string) (*Session, TokenBundle, error) {
	account, err := s.GetAccount(ctx, uid)
	if err != nil {
		return nil, TokenBundle{}, err
	}
	return s.openSession(ctx, *account, userAgent, ipAddress)
}

func (s *Service) openSession(ctx context.Context, account Account, userAgent, ipAddress string) (*Session, TokenBundle, error) {
	refreshToken, err := generateToken()
	if err != nil {
		return nil, TokenBundle{}, fmt.Errorf("generate refresh token: %w", err)
	}

	now := s.clock.Now().UTC()
	session := Session{
		ID:          uuid.New(),
		UID:         account.UID,
		Email:       account.Email,
		DisplayName: account.DisplayName,
		ExpiresAt:   now.Add(s.sessionTTL),
		CreatedAt:   now,
		UserAgent:   truncateString(userAgent, 512),
		IPAddress:   truncateString(ipAddress, 45),
	}

	if err := s.repo.CreateSession(ctx, session, hashToken(refreshToken)); err != nil {
		return nil, TokenBundle{}, fmt.Errorf("create session: %w", err)
	}
	if err := s.repo.RecordLogin(ctx, account.UID, now); err != nil {
		return nil, TokenBundle{}, fmt.Errorf("record login: %w", err)
	}

	idToken, claims, err := s.tokens.Mint(account, session.ID)
	if err != nil {
		return nil, TokenBundle{}, err
	}

	return &session, TokenBundle{
		IDToken:      idToken,
		RefreshToken: refreshToken,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}

// Refresh exchanges a refresh token for a new token bundle. The refresh token
// is rotated and the ID token reflects the account's current custom claims.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, TokenBundle, error) {
	if refreshToken == "" {
		return nil, TokenBundle{}, ErrInvalidToken
	}

	oldHash := hashToken(refreshToken)
	session, err := s.repo.FindSessionByTokenHash(ctx, oldHash)
	if err != nil {
		return nil, TokenBundle{}, fmt.Errorf("find session: %w", err)
	}
	if session == nil {
		return nil, TokenBundle{}, ErrInvalidToken
	}
	if s.expired(session) {
		_ = s.SignOut(ctx, session.ID)
		return nil, TokenBundle{}, ErrInvalidToken
	}

	rotated, err := generateToken()
	if err != nil {
		return nil, TokenBundle{}, fmt.Errorf("generate refresh token: %w", err)
	}
	session.ExpiresAt = s.clock.Now().UTC().Add(s.sessionTTL)
	if err := s.repo.RotateSessionToken(ctx, session.ID, oldHash, hashToken(rotated), session.ExpiresAt); err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return nil, TokenBundle{}, ErrInvalidToken
		}
		return nil, TokenBundle{}, fmt.Errorf("rotate session token: %w", err)
	}

	idToken, claims, err := s.IssueToken(ctx, session)
	if err != nil {
		return nil, TokenBundle{}, err
	}

	return session, TokenBundle{
		IDToken:      idToken,
		RefreshToken: rotated,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}

// IssueToken mints a fresh ID token for a live session from the account's
// current custom claims. This is the forced claims refresh.
func (s *Service) IssueToken(ctx context.Context, session *Session) (string, *Claims, error) {
	if session == nil {
		return "", nil, ErrNoSession
	}

	live, err := s.repo.FindSession(ctx, session.ID)
	if err != nil {
		return "", nil, fmt.Errorf("find session: %w", err)
	}
	if live == nil || live.UID != session.UID || s.expired(live) {
		return "", nil, ErrInvalidToken
	}

	account, err := s.GetAccount(ctx, session.UID)
	if err != nil {
		return "", nil, err
	}

	return s.tokens.Mint(*account, session.ID)
}

// VerifyIDToken checks an ID token and that its session is still live.
func (s *Service) VerifyIDToken(ctx context.Context, idToken string) (*Claims, *Session, error) {
	claims, err := s.tokens.Parse(idToken)
	if err != nil {
		return nil, nil, err
	}

	sessionID, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return nil, nil, ErrInvalidToken
	}

	session, err := s.repo.FindSession(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("find session: %w", err)
	}
	if session == nil || session.UID != claims.UID() {
		return nil, nil, ErrInvalidToken
	}
	if s.expired(session) {
		_ = s.SignOut(ctx, session.ID)
		return nil, nil, ErrInvalidToken
	}

	return claims, session, nil
}

// SignOut destroys a session and notifies anything watching it.
func (s *Service) SignOut(ctx context.Context, sessionID uuid.UUID) error {
	if err := s.repo.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	s.revocations.revoke(sessionID)
	return nil
}

// RevokeSessions signs the account out everywhere.
func (s *Service) RevokeSessions(ctx context.Context, uid string) error {
	ids, err := s.repo.DeleteSessionsForAccount(ctx, uid)
	if err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	s.revocations.revoke(ids...)
	return nil
}

// WatchRevocations calls fn once when the session is signed out or revoked.
func (s *Service) WatchRevocations(sessionID uuid.UUID, fn func()) func() {
	return s.revocations.watch(sessionID, fn)
}

// SetCustomClaims replaces the authorization claims of an account. Tokens
// minted afterwards carry the new values.
func (s *Service) SetCustomClaims(ctx context.Context, uid string, claims CustomClaims) error {
	if err := s.repo.UpdateCustomClaims(ctx, uid, claims); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("update custom claims: %w", err)
	}
	return nil
}

// UpdateDisplayName changes the name carried in future ID tokens.
func (s *Service) UpdateDisplayName(ctx context.Context, uid, displayName string) error {
	if err := s.repo.UpdateDisplayName(ctx, uid, strings.TrimSpace(displayName)); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("update display name: %w", err)
	}
	return nil
}

// CleanupExpiredSessions removes all expired sessions.
func (s *Service) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredSessions(ctx, s.clock.Now())
}

func (s *Service) expired(session *Session) bool {
	return !s.clock.Now().Before(session.ExpiresAt)
}

// NormalizeEmail lower-cases and validates an email address.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", &ValidationError{Message: "email is required"}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", &ValidationError{Message: "email is invalid"}
	}
	return email, nil
}

// generateToken returns 32 random bytes, URL-safe base64 encoded.
func generateToken() (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(tokenBytes), nil
}

// hashToken returns the SHA-256 hash of the token as a hex string.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// HashToken exposes the token hash used for refresh and invitation tokens.
func HashToken(token string) string {
	return hashToken(token)
}

// GenerateToken exposes the random token generator.
func GenerateToken() (string, error) {
	return generateToken()
}

// truncateString drops invalid UTF-8 and cuts s to at most maxLen bytes
// without splitting a rune.
func truncateString(s string, maxLen int) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen]
}
