package onboarding

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository keeps invitations in process memory.
type InMemoryRepository struct {
	mu          sync.RWMutex
	invitations map[uuid.UUID]Invitation
}

// NewInMemoryRepository constructs an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{invitations: make(map[uuid.UUID]Invitation)}
}

func (r *InMemoryRepository) CreateInvitation(_ context.Context, inv Invitation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.invitations[inv.ID] = inv
	return nil
}

func (r *InMemoryRepository) ListInvitations(_ context.Context, organizationID string) ([]Invitation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Invitation, 0)
	for _, inv := range r.invitations {
		if inv.OrganizationID == organizationID {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *InMemoryRepository) FindInvitationByTokenHash(_ context.Context, tokenHash string) (*Invitation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, inv := range r.invitations {
		if inv.TokenHash == tokenHash {
			found := inv
			return &found, nil
		}
	}
	return nil, nil
}

func (r *InMemoryRepository) MarkAccepted(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.invitations[id]
	if !ok || inv.AcceptedAt != nil {
		return ErrInvalidInvite
	}
	inv.AcceptedAt = &at
	r.invitations[id] = inv
	return nil
}

func (r *InMemoryRepository) DeleteInvitation(_ context.Context, organizationID string, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.invitations[id]
	if !ok || inv.OrganizationID != organizationID {
		return ErrNotFound
	}
	delete(r.invitations, id)
	return nil
}
