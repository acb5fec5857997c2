package auth

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when an account cannot be located.
	ErrNotFound = errors.New("account not found")
	// ErrEmailInUse is returned when registering an email that already has an account.
	ErrEmailInUse = errors.New("email already in use")
	// ErrWeakPassword is returned when a password is shorter than MinPasswordLength.
	ErrWeakPassword = errors.New("password too weak")
	// ErrInvalidCredentials is returned for any email/password mismatch.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidToken is returned when an ID or refresh token is malformed, expired or revoked.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrNoSession is returned by Client operations that need a signed-in session.
	ErrNoSession = errors.New("no active session")
	// ErrValidation is returned when input validation fails.
	ErrValidation = errors.New("validation error")
)

// ValidationError wraps a validation message so callers can distinguish
// client errors from internal failures.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// MinPasswordLength is the shortest password accepted at account creation.
const MinPasswordLength = 6

// CustomClaims are the authorization attributes attached to an account by
// privileged operations. They are copied into every ID token minted for it.
type CustomClaims struct {
	OrganizationID string `json:"organizationId,omitempty"`
	Role           string `json:"role,omitempty"`
}

// Account is an identity known to the provider.
type Account struct {
	UID          string
	Email        string
	PasswordHash string
	DisplayName  string
	CustomClaims CustomClaims
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLoginAt  *time.Time
}

// Session is a signed-in identity. It lives until sign-out, expiry or revocation.
type Session struct {
	ID          uuid.UUID `json:"id"`
	UID         string    `json:"uid"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt"`
	CreatedAt   time.Time `json:"createdAt"`
	UserAgent   string    `json:"-"`
	IPAddress   string    `json:"-"`
}

// TokenBundle is returned to clients after sign-in or refresh.
type TokenBundle struct {
	IDToken      string    `json:"idToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// GoogleClaims contains the relevant claims from a Google ID token.
type GoogleClaims struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}
