package locations

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InMemoryRepository stores locations in an in-process map, for local
// development and tests.
type InMemoryRepository struct {
	mu    sync.RWMutex
	data  map[uuid.UUID]Location
	order []uuid.UUID
}

// NewInMemoryRepository constructs a repository seeded with optional initial locations.
func NewInMemoryRepository(initial []Location) *InMemoryRepository {
	data := make(map[uuid.UUID]Location, len(initial))
	order := make([]uuid.UUID, 0, len(initial))
	for _, loc := range initial {
		data[loc.ID] = loc.clone()
		order = append(order, loc.ID)
	}
	return &InMemoryRepository{data: data, order: order}
}

// Create stores a new location.
func (r *InMemoryRepository) Create(_ context.Context, loc Location) (Location, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.data[loc.ID] = loc.clone()
	r.order = append(r.order, loc.ID)
	return loc.clone(), nil
}

// Get returns a location of the organization.
func (r *InMemoryRepository) Get(_ context.Context, orgID string, id uuid.UUID) (Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	loc, ok := r.data[id]
	if !ok || loc.OrganizationID != orgID {
		return Location{}, ErrNotFound
	}
	return loc.clone(), nil
}

// List returns the organization's locations matching opts.Query in insertion order.
func (r *InMemoryRepository) List(_ context.Context, opts ListOptions) ([]Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Location, 0)
	for _, id := range r.order {
		loc, ok := r.data[id]
		if !ok || loc.OrganizationID != opts.OrganizationID || !matches(loc, opts.Query) {
			continue
		}
		result = append(result, loc.clone())
	}
	return result, nil
}

// Update replaces the editable fields of an existing location. Images are
// managed through AddImage and RemoveImage.
func (r *InMemoryRepository) Update(_ context.Context, loc Location) (Location, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.data[loc.ID]
	if !ok || current.OrganizationID != loc.OrganizationID {
		return Location{}, ErrNotFound
	}
	loc.Images = current.Images
	loc.CreatedBy = current.CreatedBy
	loc.CreatedAt = current.CreatedAt
	r.data[loc.ID] = loc.clone()
	return loc.clone(), nil
}

// Delete removes a location.
func (r *InMemoryRepository) Delete(_ context.Context, orgID string, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	loc, ok := r.data[id]
	if !ok || loc.OrganizationID != orgID {
		return ErrNotFound
	}
	delete(r.data, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *InMemoryRepository) AddImage(_ context.Context, img Image) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	loc, ok := r.data[img.LocationID]
	if !ok {
		return ErrNotFound
	}
	loc = loc.clone()
	loc.Images = append(loc.Images, img)
	r.data[loc.ID] = loc
	return nil
}

func (r *InMemoryRepository) RemoveImage(_ context.Context, locationID, imageID uuid.UUID) (Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	loc, ok := r.data[locationID]
	if !ok {
		return Image{}, ErrNotFound
	}
	for i, img := range loc.Images {
		if img.ID == imageID {
			loc = loc.clone()
			loc.Images = append(loc.Images[:i], loc.Images[i+1:]...)
			r.data[locationID] = loc
			return img, nil
		}
	}
	return Image{}, ErrNotFound
}
