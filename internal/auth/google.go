package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ErrUnverifiedEmail is returned when a federated identity has not verified its email.
var ErrUnverifiedEmail = errors.New("email not verified")

// GoogleOptions configures GoogleAuthenticator.
type GoogleOptions struct {
	ClientID       string
	ClientSecret   string
	RedirectURL    string
	AllowedDomains []string
}

// GoogleAuthenticator handles Google OAuth 2.0 / OIDC sign-in for accounts
// that already exist. It never creates accounts: membership comes from
// registration or an invitation.
type GoogleAuthenticator struct {
	config         *oauth2.Config
	verifier       *oidc.IDTokenVerifier
	allowedDomains map[string]struct{}
}

// NewGoogleAuthenticator discovers Google's OIDC configuration.
func NewGoogleAuthenticator(ctx context.Context, opts GoogleOptions) (*GoogleAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, "https://accounts.google.com")
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}

	config := &oauth2.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		RedirectURL:  opts.RedirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
	}

	domains := make(map[string]struct{}, len(opts.AllowedDomains))
	for _, d := range opts.AllowedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			domains[d] = struct{}{}
		}
	}

	return &GoogleAuthenticator{
		config:         config,
		verifier:       provider.Verifier(&oidc.Config{ClientID: opts.ClientID}),
		allowedDomains: domains,
	}, nil
}

// AuthURL generates the Google OAuth consent URL with the given state.
func (g *GoogleAuthenticator) AuthURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

// Exchange exchanges the authorization code for tokens and returns the verified claims.
func (g *GoogleAuthenticator) Exchange(ctx context.Context, code string) (*GoogleClaims, error) {
	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("no id_token in response")
	}

	idToken, err := g.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}

	var claims GoogleClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}
	return &claims, nil
}

// IsEmailAllowed checks the email's domain against the allowlist. An empty
// allowlist admits every domain.
func (g *GoogleAuthenticator) IsEmailAllowed(email string) bool {
	if len(g.allowedDomains) == 0 {
		return true
	}
	_, domain, ok := strings.Cut(strings.ToLower(strings.TrimSpace(email)), "@")
	if !ok {
		return false
	}
	_, allowed := g.allowedDomains[domain]
	return allowed
}

// SignInWithGoogle opens a session for the account registered under the
// verified Google email. Unknown emails yield ErrNotFound.
func (s *Service) SignInWithGoogle(ctx context.Context, claims *GoogleClaims, userAgent, ipAddress string) (*Session, TokenBundle, error) {
	if claims == nil || !claims.EmailVerified {
		return nil, TokenBundle{}, ErrUnverifiedEmail
	}

	account, err := s.FindAccountByEmail(ctx, claims.Email)
	if err != nil {
		return nil, TokenBundle{}, fmt.Errorf("find account: %w", err)
	}
	if account == nil {
		return nil, TokenBundle{}, ErrNotFound
	}

	return s.openSession(ctx, *account, userAgent, ipAddress)
}

// GenerateState generates a cryptographically secure random state string.
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
