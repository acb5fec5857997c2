package profiles

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a profile or organization cannot be located.
	ErrNotFound = errors.New("profile not found")
	// ErrConflict is returned when creating a record that already exists.
	ErrConflict = errors.New("already exists")
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

// Role is a member's authority within an organization.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleDriver Role = "driver"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleDriver
}

// Profile is the per-user record describing organization membership.
// Its existence is what makes a signed-in identity a member.
type Profile struct {
	UID              string    `db:"uid" json:"uid"`
	Email            string    `db:"email" json:"email"`
	DisplayName      string    `db:"display_name" json:"displayName"`
	Role             Role      `db:"role" json:"role"`
	OrganizationID   string    `db:"organization_id" json:"organizationId"`
	OrganizationName string    `db:"organization_name" json:"organizationName"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time `db:"updated_at" json:"updatedAt"`
}

// Clone returns a copy that shares nothing with p.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	out := *p
	return &out
}

// IsAdmin reports whether the profile holds the admin role.
func (p *Profile) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// Organization is a tenant. Its ID is the uid of the admin who registered it.
type Organization struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	OwnerID   string    `db:"owner_id" json:"ownerId"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// WatchFunc receives the current profile for a uid, nil when no record
// exists, or an error when the watch has failed.
type WatchFunc = func(*Profile, error)

// Repository persists profiles and organizations.
type Repository interface {
	CreateOrganization(ctx context.Context, org Organization) (Organization, error)
	GetOrganization(ctx context.Context, id string) (Organization, error)

	PutProfile(ctx context.Context, profile Profile) (Profile, error)
	GetProfile(ctx context.Context, uid string) (Profile, error)
	ListProfiles(ctx context.Context, organizationID string) ([]Profile, error)
	UpdateRole(ctx context.Context, uid string, role Role) (Profile, error)
	UpdateDisplayName(ctx context.Context, uid, displayName string) (Profile, error)

	// Watch delivers the current value for uid and then every change until
	// the returned function is called. Callbacks must not write to the
	// repository synchronously.
	Watch(uid string, fn WatchFunc) func()
}
