package profiles

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// InMemoryRepository stores profiles and organizations in process memory and
// notifies watchers after each committed change.
type InMemoryRepository struct {
	// notifyMu orders publications by commit order.
	notifyMu sync.Mutex

	mu       sync.RWMutex
	orgs     map[string]Organization
	profiles map[string]Profile
	feed     *Feed
}

// NewInMemoryRepository constructs an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		orgs:     make(map[string]Organization),
		profiles: make(map[string]Profile),
		feed:     NewFeed(),
	}
}

func (r *InMemoryRepository) CreateOrganization(_ context.Context, org Organization) (Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orgs[org.ID]; ok {
		return Organization{}, ErrConflict
	}
	r.orgs[org.ID] = org
	return org, nil
}

func (r *InMemoryRepository) GetOrganization(_ context.Context, id string) (Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	org, ok := r.orgs[id]
	if !ok {
		return Organization{}, ErrNotFound
	}
	return org, nil
}

func (r *InMemoryRepository) PutProfile(_ context.Context, profile Profile) (Profile, error) {
	return r.mutate(profile.UID, func(existing *Profile) (Profile, error) {
		if _, ok := r.orgs[profile.OrganizationID]; !ok {
			return Profile{}, ErrNotFound
		}
		if existing != nil {
			profile.CreatedAt = existing.CreatedAt
		}
		return profile, nil
	})
}

func (r *InMemoryRepository) GetProfile(_ context.Context, uid string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[uid]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (r *InMemoryRepository) ListProfiles(_ context.Context, organizationID string) ([]Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Profile, 0)
	for _, p := range r.profiles {
		if p.OrganizationID == organizationID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *InMemoryRepository) UpdateRole(_ context.Context, uid string, role Role) (Profile, error) {
	return r.mutate(uid, func(existing *Profile) (Profile, error) {
		if existing == nil {
			return Profile{}, ErrNotFound
		}
		updated := *existing
		updated.Role = role
		updated.UpdatedAt = time.Now().UTC()
		return updated, nil
	})
}

func (r *InMemoryRepository) UpdateDisplayName(_ context.Context, uid, displayName string) (Profile, error) {
	return r.mutate(uid, func(existing *Profile) (Profile, error) {
		if existing == nil {
			return Profile{}, ErrNotFound
		}
		updated := *existing
		updated.DisplayName = displayName
		updated.UpdatedAt = time.Now().UTC()
		return updated, nil
	})
}

// DeleteProfile removes a profile record. Only tests and maintenance tooling
// delete profiles.
func (r *InMemoryRepository) DeleteProfile(_ context.Context, uid string) error {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	if _, ok := r.profiles[uid]; !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.profiles, uid)
	r.mu.Unlock()

	r.feed.Publish(uid, nil)
	return nil
}

func (r *InMemoryRepository) Watch(uid string, fn WatchFunc) func() {
	return r.feed.Subscribe(uid, fn, func() (*Profile, error) {
		p, err := r.GetProfile(context.Background(), uid)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &p, nil
	})
}

// WatcherCount reports how many watches are open for uid.
func (r *InMemoryRepository) WatcherCount(uid string) int {
	return r.feed.Count(uid)
}

func (r *InMemoryRepository) mutate(uid string, apply func(existing *Profile) (Profile, error)) (Profile, error) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	var existing *Profile
	if p, ok := r.profiles[uid]; ok {
		existing = &p
	}
	updated, err := apply(existing)
	if err != nil {
		r.mu.Unlock()
		return Profile{}, err
	}
	r.profiles[uid] = updated
	r.mu.Unlock()

	r.feed.Publish(uid, &updated)
	return updated, nil
}
