// Package onboarding holds the operations that need more authority than a
// member's own session: creating organizations, inviting members and
// changing roles. Each writes custom claims before the profile record so the
// first forced claims refresh after the profile appears already sees them.
//
// Registration and invite acceptance create the account first. An account
// left without a profile by a failed attempt is adopted by the next attempt
// with the same email and password, which finishes the missing steps.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"routemate/internal/auth"
	"routemate/internal/profiles"
)

const maxOrganizationNameLength = 120

// Service performs privileged membership operations.
type Service struct {
	auth      *auth.Service
	profiles  profiles.Repository
	invites   InvitationRepository
	clock     clockwork.Clock
	baseURL   string
	inviteTTL time.Duration
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithBaseURL sets the public origin used in invitation links.
func WithBaseURL(url string) Option {
	return func(s *Service) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// WithInviteTTL sets how long an invitation stays usable.
func WithInviteTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.inviteTTL = ttl
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

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService wires a Service.
func NewService(authSvc *auth.Service, profileRepo profiles.Repository, invites InvitationRepository, opts ...Option) *Service {
	s := &Service{
		auth:      authSvc,
		profiles:  profileRepo,
		invites:   invites,
		clock:     clockwork.NewRealClock(),
		baseURL:   "http://localhost:8080",
		inviteTTL: 7 * 24 * time.Hour,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an account, its organization and the admin profile.
func (s *Service) Register(ctx context.Context, input RegisterInput) (Membership, error) {
	orgName := strings.TrimSpace(input.OrganizationName)
	if orgName == "" {
		return Membership{}, &ValidationError{Message: "organization name is required"}
	}
	if len(orgName) > maxOrganizationNameLength {
		return Membership{}, &ValidationError{Message: "organization name is too long"}
	}
	name, err := profiles.NormalizeDisplayName(input.Name)
	if err != nil {
		return Membership{}, err
	}

	account, err := s.accountFor(ctx, input.Email, input.Password, name)
	if err != nil {
		return Membership{}, err
	}

	now := s.clock.Now().UTC()
	org, err := s.profiles.CreateOrganization(ctx, profiles.Organization{
		ID:        account.UID,
		Name:      orgName,
		OwnerID:   account.UID,
		CreatedAt: now,
	})
	if errors.Is(err, profiles.ErrConflict) {
		org, err = s.profiles.GetOrganization(ctx, account.UID)
	}
	if err != nil {
		s.logger.Error("registration left account without organization", "uid", account.UID, "error", err)
		return Membership{}, fmt.Errorf("create organization: %w", err)
	}

	profile, err := s.grant(ctx, account, org, profiles.RoleAdmin, name, now)
	if err != nil {
		s.logger.Error("registration left account without profile", "uid", account.UID, "error", err)
		return Membership{}, err
	}

	s.logger.Info("organization registered", "uid", account.UID, "organization", org.Name)
	return Membership{Account: account, Profile: profile, Organization: org}, nil
}

// accountFor creates the account for a new membership. When the email is
// taken by an account that never got a profile and the password matches,
// that account is returned instead so the caller can finish the membership.
func (s *Service) accountFor(ctx context.Context, email, password, name string) (*auth.Account, error) {
	account, err := s.auth.CreateAccount(ctx, email, password, name)
	if !errors.Is(err, auth.ErrEmailInUse) {
		return account, err
	}

	existing, err := s.auth.FindAccountByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	if existing == nil {
		return nil, auth.ErrEmailInUse
	}
	member, err := s.hasProfile(ctx, existing.UID)
	if err != nil {
		return nil, err
	}
	if member || !s.auth.CheckPassword(existing, password) {
		return nil, auth.ErrEmailInUse
	}

	if existing.DisplayName != name {
		if err := s.auth.UpdateDisplayName(ctx, existing.UID, name); err != nil {
			return nil, err
		}
		existing.DisplayName = name
	}

	s.logger.Info("resuming unfinished membership", "uid", existing.UID)
	return existing, nil
}

func (s *Service) hasProfile(ctx context.Context, uid string) (bool, error) {
	_, err := s.profiles.GetProfile(ctx, uid)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, profiles.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("get profile: %w", err)
	}
}

// grant sets the custom claims for a membership and then writes the profile.
func (s *Service) grant(ctx context.Context, account *auth.Account, org profiles.Organization, role profiles.Role, name string, now time.Time) (profiles.Profile, error) {
	claims := auth.CustomClaims{OrganizationID: org.ID, Role: string(role)}
	if err := s.auth.SetCustomClaims(ctx, account.UID, claims); err != nil {
		return profiles.Profile{}, fmt.Errorf("set custom claims: %w", err)
	}

	profile, err := s.profiles.PutProfile(ctx, profiles.Profile{
		UID:              account.UID,
		Email:            account.Email,
		DisplayName:      name,
		Role:             role,
		OrganizationID:   org.ID,
		OrganizationName: org.Name,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return profiles.Profile{}, fmt.Errorf("write profile: %w", err)
	}
	return profile, nil
}

// Invite creates an invitation into the actor's organization and returns
// the link to hand to the invitee. Nothing is sent.
func (s *Service) Invite(ctx context.Context, actor Actor, input InviteInput) (InviteResult, error) {
	if !actor.IsAdmin() {
		return InviteResult{}, ErrForbidden
	}

	email, err := auth.NormalizeEmail(input.Email)
	if err != nil {
		return InviteResult{}, &ValidationError{Message: err.Error()}
	}
	role := input.Role
	if role == "" {
		role = profiles.RoleDriver
	}
	if !role.Valid() {
		return InviteResult{}, &ValidationError{Message: "role must be admin or driver"}
	}

	existing, err := s.auth.FindAccountByEmail(ctx, email)
	if err != nil {
		return InviteResult{}, fmt.Errorf("find account: %w", err)
	}
	if existing != nil {
		member, err := s.hasProfile(ctx, existing.UID)
		if err != nil {
			return InviteResult{}, err
		}
		if member {
			return InviteResult{}, ErrAlreadyMember
		}
	}

	token, err := auth.GenerateToken()
	if err != nil {
		return InviteResult{}, fmt.Errorf("generate token: %w", err)
	}

	now := s.clock.Now().UTC()
	inv := Invitation{
		ID:             uuid.New(),
		OrganizationID: actor.OrganizationID,
		Email:          email,
		Role:           role,
		DisplayName:    strings.TrimSpace(input.DisplayName),
		InvitedBy:      actor.UID,
		TokenHash:      auth.HashToken(token),
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.inviteTTL),
	}
	if err := s.invites.CreateInvitation(ctx, inv); err != nil {
		return InviteResult{}, fmt.Errorf("create invitation: %w", err)
	}

	s.logger.Info("invitation created", "organization", actor.OrganizationID, "role", role, "invited_by", actor.UID)
	return InviteResult{Invitation: inv, Link: s.baseURL + "/invite/" + token}, nil
}

// ListInvitations returns the actor's organization's invitations.
func (s *Service) ListInvitations(ctx context.Context, actor Actor) ([]Invitation, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	return s.invites.ListInvitations(ctx, actor.OrganizationID)
}

// RevokeInvitation deletes an invitation of the actor's organization.
func (s *Service) RevokeInvitation(ctx context.Context, actor Actor, id uuid.UUID) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	return s.invites.DeleteInvitation(ctx, actor.OrganizationID, id)
}

// LookupInvitation returns a usable invitation for token.
func (s *Service) LookupInvitation(ctx context.Context, token string) (Invitation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Invitation{}, ErrInvalidInvite
	}
	inv, err := s.invites.FindInvitationByTokenHash(ctx, auth.HashToken(token))
	if err != nil {
		return Invitation{}, fmt.Errorf("find invitation: %w", err)
	}
	if inv == nil || !inv.Usable(s.clock.Now()) {
		return Invitation{}, ErrInvalidInvite
	}
	return *inv, nil
}

// AcceptInvite creates the invitee's account and membership.
func (s *Service) AcceptInvite(ctx context.Context, token string, input AcceptInput) (Membership, error) {
	inv, err := s.LookupInvitation(ctx, token)
	if err != nil {
		return Membership{}, err
	}

	name := input.Name
	if strings.TrimSpace(name) == "" {
		name = inv.DisplayName
	}
	name, err = profiles.NormalizeDisplayName(name)
	if err != nil {
		return Membership{}, err
	}

	org, err := s.profiles.GetOrganization(ctx, inv.OrganizationID)
	if err != nil {
		if errors.Is(err, profiles.ErrNotFound) {
			return Membership{}, ErrInvalidInvite
		}
		return Membership{}, fmt.Errorf("get organization: %w", err)
	}

	account, err := s.accountFor(ctx, inv.Email, input.Password, name)
	if err != nil {
		return Membership{}, err
	}

	now := s.clock.Now().UTC()
	profile, err := s.grant(ctx, account, org, inv.Role, name, now)
	if err != nil {
		s.logger.Error("invite acceptance left account without profile", "uid", account.UID, "error", err)
		return Membership{}, err
	}

	// The membership exists from here on; an invitation left pending cannot
	// be used again because its email now belongs to a member.
	if err := s.invites.MarkAccepted(ctx, inv.ID, now); err != nil {
		s.logger.Warn("invitation not marked accepted", "invitation", inv.ID, "uid", account.UID, "error", err)
	}

	s.logger.Info("invitation accepted", "uid", account.UID, "organization", org.ID, "role", inv.Role)
	return Membership{Account: account, Profile: profile, Organization: org}, nil
}

// UpdateRole changes another member's role within the actor's organization.
func (s *Service) UpdateRole(ctx context.Context, actor Actor, uid string, role profiles.Role) (profiles.Profile, error) {
	if !actor.IsAdmin() {
		return profiles.Profile{}, ErrForbidden
	}
	if !role.Valid() {
		return profiles.Profile{}, &ValidationError{Message: "role must be admin or driver"}
	}
	if uid == actor.UID {
		return profiles.Profile{}, &ValidationError{Message: "you cannot change your own role"}
	}

	target, err := s.profiles.GetProfile(ctx, uid)
	if err != nil {
		if errors.Is(err, profiles.ErrNotFound) {
			return profiles.Profile{}, ErrNotFound
		}
		return profiles.Profile{}, err
	}
	if target.OrganizationID != actor.OrganizationID {
		return profiles.Profile{}, ErrNotFound
	}
	if target.Role == role {
		return target, nil
	}

	claims := auth.CustomClaims{OrganizationID: target.OrganizationID, Role: string(role)}
	if err := s.auth.SetCustomClaims(ctx, uid, claims); err != nil {
		return profiles.Profile{}, fmt.Errorf("set custom claims: %w", err)
	}
	updated, err := s.profiles.UpdateRole(ctx, uid, role)
	if err != nil {
		return profiles.Profile{}, fmt.Errorf("update profile role: %w", err)
	}

	s.logger.Info("member role changed", "uid", uid, "role", role, "by", actor.UID)
	return updated, nil
}

// Rename changes the actor's display name on both the account and the profile.
func (s *Service) Rename(ctx context.Context, actor Actor, displayName string) (profiles.Profile, error) {
	name, err := profiles.NormalizeDisplayName(displayName)
	if err != nil {
		return profiles.Profile{}, err
	}
	if err := s.auth.UpdateDisplayName(ctx, actor.UID, name); err != nil {
		return profiles.Profile{}, err
	}
	return s.profiles.UpdateDisplayName(ctx, actor.UID, name)
}
