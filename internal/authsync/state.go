package authsync

import (
	"routemate/internal/auth"
	"routemate/internal/profiles"
)

// Phase is the position of a Syncer in its state machine.
type Phase int

const (
	// PhaseUnauthenticated: no session, or the last one failed.
	PhaseUnauthenticated Phase = iota
	// PhaseAwaitingProfile: a session exists but its profile has not been
	// resolved into claims yet.
	PhaseAwaitingProfile
	// PhaseAuthorized: profile and matching claims are published.
	PhaseAuthorized
	// PhaseProfileMissing: the session has no profile record, either because
	// none appeared in time or because it was removed.
	PhaseProfileMissing
)

func (p Phase) String() string {
	switch p {
	case PhaseUnauthenticated:
		return "unauthenticated"
	case PhaseAwaitingProfile:
		return "awaiting_profile"
	case PhaseAuthorized:
		return "authorized"
	case PhaseProfileMissing:
		return "profile_missing"
	default:
		return "unknown"
	}
}

// State is the unified view of who is signed in. When Loading is false the
// value is authoritative: either User and Claims are both set and describe the
// same uid, or both are nil.
type State struct {
	User    *profiles.Profile `json:"user"`
	Claims  *auth.Claims      `json:"claims"`
	Loading bool              `json:"loading"`
}

// Authenticated reports whether a resolved member is signed in.
func (s State) Authenticated() bool {
	return !s.Loading && s.User != nil && s.Claims != nil
}

// IsAdmin reports whether the signed-in member holds the admin role claim.
func (s State) IsAdmin() bool {
	return s.Authenticated() && s.Claims.Role == string(profiles.RoleAdmin)
}

// OrganizationID returns the organization claim, or "" when signed out.
func (s State) OrganizationID() string {
	if !s.Authenticated() {
		return ""
	}
	return s.Claims.OrganizationID
}

func (s State) clone() State {
	return State{
		User:    s.User.Clone(),
		Claims:  s.Claims.Clone(),
		Loading: s.Loading,
	}
}

func (s State) equal(o State) bool {
	if s.Loading != o.Loading {
		return false
	}
	if (s.User == nil) != (o.User == nil) || (s.Claims == nil) != (o.Claims == nil) {
		return false
	}
	if s.User != nil && *s.User != *o.User {
		return false
	}
	if s.Claims != nil && (s.Claims.UID() != o.Claims.UID() ||
		s.Claims.OrganizationID != o.Claims.OrganizationID ||
		s.Claims.Role != o.Claims.Role ||
		s.Claims.ID != o.Claims.ID) {
		return false
	}
	return true
}
