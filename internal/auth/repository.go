package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for account and session persistence.
//
// Find* lookups return (nil, nil) when nothing matches.
type Repository interface {
	// Account operations
	CreateAccount(ctx context.Context, account Account) (Account, error)
	GetAccount(ctx context.Context, uid string) (*Account, error)
	FindAccountByEmail(ctx context.Context, email string) (*Account, error)
	UpdateCustomClaims(ctx context.Context, uid string, claims CustomClaims) error
	UpdateDisplayName(ctx context.Context, uid, displayName string) error
	RecordLogin(ctx context.Context, uid string, at time.Time) error

	// Session operations
	CreateSession(ctx context.Context, session Session, tokenHash string) error
	FindSession(ctx context.Context, id uuid.UUID) (*Session, error)
	FindSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	// RotateSessionToken swaps the refresh token hash only while the session
	// still holds oldHash, and returns ErrInvalidToken otherwise.
	RotateSessionToken(ctx context.Context, id uuid.UUID, oldHash, newHash string, expiresAt time.Time) error
	DeleteSession(ctx context.Context, id uuid.UUID) error
	DeleteSessionsForAccount(ctx context.Context, uid string) ([]uuid.UUID, error)
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}
