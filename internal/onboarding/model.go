package onboarding

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"routemate/internal/auth"
	"routemate/internal/profiles"
)

var (
	// ErrForbidden is returned when the actor lacks the role for an operation.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInvite covers unknown, expired and already accepted invitations.
	ErrInvalidInvite = errors.New("invitation is invalid or has expired")
	// ErrNotFound is returned when an invitation or member cannot be located.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyMember is returned when inviting an email that already belongs to a member.
	ErrAlreadyMember = errors.New("email already belongs to a member")
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

// Actor is the verified caller of a privileged operation.
type Actor struct {
	UID            string
	OrganizationID string
	Role           profiles.Role
}

// ActorFromClaims builds an Actor from verified ID token claims.
func ActorFromClaims(c *auth.Claims) Actor {
	if c == nil {
		return Actor{}
	}
	return Actor{
		UID:            c.UID(),
		OrganizationID: c.OrganizationID,
		Role:           profiles.Role(c.Role),
	}
}

// IsAdmin reports whether the actor administers an organization.
func (a Actor) IsAdmin() bool {
	return a.Role == profiles.RoleAdmin && a.OrganizationID != ""
}

// Invitation is a pending offer of membership. Only the hash of its token is
// stored.
type Invitation struct {
	ID             uuid.UUID     `db:"id" json:"id"`
	OrganizationID string        `db:"organization_id" json:"organizationId"`
	Email          string        `db:"email" json:"email"`
	Role           profiles.Role `db:"role" json:"role"`
	DisplayName    string        `db:"display_name" json:"displayName,omitempty"`
	InvitedBy      string        `db:"invited_by" json:"invitedBy"`
	TokenHash      string        `db:"token_hash" json:"-"`
	CreatedAt      time.Time     `db:"created_at" json:"createdAt"`
	ExpiresAt      time.Time     `db:"expires_at" json:"expiresAt"`
	AcceptedAt     *time.Time    `db:"accepted_at" json:"acceptedAt,omitempty"`
}

// Usable reports whether the invitation can still be accepted at now.
func (i Invitation) Usable(now time.Time) bool {
	return i.AcceptedAt == nil && now.Before(i.ExpiresAt)
}

// InvitationRepository persists invitations.
type InvitationRepository interface {
	CreateInvitation(ctx context.Context, inv Invitation) error
	ListInvitations(ctx context.Context, organizationID string) ([]Invitation, error)
	// FindInvitationByTokenHash returns nil when no invitation matches.
	FindInvitationByTokenHash(ctx context.Context, tokenHash string) (*Invitation, error)
	// MarkAccepted stamps an unaccepted invitation; a second call yields ErrInvalidInvite.
	MarkAccepted(ctx context.Context, id uuid.UUID, at time.Time) error
	DeleteInvitation(ctx context.Context, organizationID string, id uuid.UUID) error
}

// RegisterInput is the payload for creating an organization and its first admin.
type RegisterInput struct {
	Name             string `json:"name"`
	OrganizationName string `json:"organizationName"`
	Email            string `json:"email"`
	Password         string `json:"password"`
}

// InviteInput describes who to invite and with which role.
type InviteInput struct {
	Email       string        `json:"email"`
	Role        profiles.Role `json:"role"`
	DisplayName string        `json:"displayName"`
}

// AcceptInput completes an invitation.
type AcceptInput struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// Membership is the result of registration or invite acceptance.
type Membership struct {
	Account      *auth.Account         `json:"-"`
	Profile      profiles.Profile      `json:"profile"`
	Organization profiles.Organization `json:"organization"`
}

// InviteResult carries the stored invitation and the one-time link.
type InviteResult struct {
	Invitation Invitation `json:"invitation"`
	Link       string     `json:"link"`
}
