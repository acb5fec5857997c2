package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const tokenIssuer = "routemate"

// Claims is the verified content of an ID token: identity plus the custom
// authorization claims that were current when it was minted.
type Claims struct {
	OrganizationID string `json:"organizationId,omitempty"`
	Role           string `json:"role,omitempty"`
	Email          string `json:"email"`
	Name           string `json:"name,omitempty"`
	SessionID      string `json:"sid"`
	jwt.RegisteredClaims
}

// UID returns the account the token was issued to.
func (c *Claims) UID() string {
	return c.Subject
}

// Clone returns a deep copy.
func (c *Claims) Clone() *Claims {
	if c == nil {
		return nil
	}
	out := *c
	if c.Audience != nil {
		out.Audience = append(jwt.ClaimStrings(nil), c.Audience...)
	}
	return &out
}

// TokenIssuer mints and verifies HS256 ID tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	clock  clockwork.Clock
}

// NewTokenIssuer creates an issuer. A zero ttl defaults to one hour.
func NewTokenIssuer(secret string, ttl time.Duration, clock clockwork.Clock) *TokenIssuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, clock: clock}
}

// Mint signs a new ID token for the account and session.
func (t *TokenIssuer) Mint(account Account, sessionID uuid.UUID) (string, *Claims, error) {
	now := t.clock.Now()
	claims := &Claims{
		OrganizationID: account.CustomClaims.OrganizationID,
		Role:           account.CustomClaims.Role,
		Email:          account.Email,
		Name:           account.DisplayName,
		SessionID:      sessionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   account.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign id token: %w", err)
	}
	return signed, claims, nil
}

// Parse verifies the signature, issuer and lifetime of an ID token.
func (t *TokenIssuer) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(t.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateSecret returns a random hex secret, used when no JWT secret is
// configured in development.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// IsInvalidToken reports whether err means the caller presented a bad token.
func IsInvalidToken(err error) bool {
	return errors.Is(err, ErrInvalidToken)
}
