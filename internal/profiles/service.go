package profiles

import (
	"context"
	"strings"
	"unicode/utf8"
)

const maxDisplayNameLength = 100

// Service exposes read and self-service operations on profiles. Membership
// changes go through onboarding so custom claims stay in step.
type Service struct {
	repo Repository
}

// NewService wires a Service with the provided repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Get returns the profile for uid.
func (s *Service) Get(ctx context.Context, uid string) (Profile, error) {
	return s.repo.GetProfile(ctx, uid)
}

// Members lists the profiles of an organization.
func (s *Service) Members(ctx context.Context, organizationID string) ([]Profile, error) {
	if strings.TrimSpace(organizationID) == "" {
		return nil, &ValidationError{Message: "organization is required"}
	}
	return s.repo.ListProfiles(ctx, organizationID)
}

// Organization returns an organization by id.
func (s *Service) Organization(ctx context.Context, id string) (Organization, error) {
	return s.repo.GetOrganization(ctx, id)
}

// UpdateDisplayName validates and stores a new display name for uid.
func (s *Service) UpdateDisplayName(ctx context.Context, uid, displayName string) (Profile, error) {
	name, err := NormalizeDisplayName(displayName)
	if err != nil {
		return Profile{}, err
	}
	return s.repo.UpdateDisplayName(ctx, uid, name)
}

// Watch proxies to the repository's change feed.
func (s *Service) Watch(uid string, fn func(*Profile, error)) func() {
	return s.repo.Watch(uid, fn)
}

// NormalizeDisplayName trims name and enforces length limits.
func NormalizeDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", &ValidationError{Message: "display name is required"}
	}
	if utf8.RuneCountInString(name) > maxDisplayNameLength {
		return "", &ValidationError{Message: "display name must be at most 100 characters"}
	}
	return name, nil
}
