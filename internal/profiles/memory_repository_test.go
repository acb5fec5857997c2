package profiles

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedOrganization(t *testing.T, repo *InMemoryRepository, id string) {
	t.Helper()
	_, err := repo.CreateOrganization(context.Background(), Organization{ID: id, Name: "Acme Logistics", OwnerID: id, CreatedAt: time.Now().UTC()})
	require.NoError(t, err)
}

func TestInMemoryPutProfileRequiresOrganization(t *testing.T) {
	repo := NewInMemoryRepository()

	_, err := repo.PutProfile(context.Background(), Profile{UID: "u1", OrganizationID: "missing", Role: RoleDriver})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryCreateOrganizationConflict(t *testing.T) {
	repo := NewInMemoryRepository()
	seedOrganization(t, repo, "org-1")

	_, err := repo.CreateOrganization(context.Background(), Organization{ID: "org-1"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestInMemoryPutProfilePreservesCreatedAt(t *testing.T) {
	repo := NewInMemoryRepository()
	seedOrganization(t, repo, "org-1")
	ctx := context.Background()
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := repo.PutProfile(ctx, Profile{UID: "u1", OrganizationID: "org-1", Role: RoleDriver, CreatedAt: created})
	require.NoError(t, err)
	stored, err := repo.PutProfile(ctx, Profile{UID: "u1", OrganizationID: "org-1", Role: RoleAdmin, CreatedAt: created.Add(time.Hour)})
	require.NoError(t, err)

	assert.Equal(t, created, stored.CreatedAt)
	assert.Equal(t, RoleAdmin, stored.Role)
}

func TestInMemoryListProfilesScopedAndOrdered(t *testing.T) {
	repo := NewInMemoryRepository()
	seedOrganization(t, repo, "org-1")
	seedOrganization(t, repo, "org-2")
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, uid := range []string{"late", "early"} {
		_, err := repo.PutProfile(ctx, Profile{UID: uid, OrganizationID: "org-1", Role: RoleDriver, CreatedAt: base.Add(time.Duration(1-i) * time.Hour)})
		require.NoError(t, err)
	}
	_, err := repo.PutProfile(ctx, Profile{UID: "other", OrganizationID: "org-2", Role: RoleAdmin, CreatedAt: base})
	require.NoError(t, err)

	members, err := repo.ListProfiles(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "early", members[0].UID)
	assert.Equal(t, "late", members[1].UID)
}

func TestInMemoryWatchFollowsLifecycle(t *testing.T) {
	repo := NewInMemoryRepository()
	seedOrganization(t, repo, "org-1")
	ctx := context.Background()
	rec := &recorder{}

	stop := repo.Watch("u1", rec.record)
	defer stop()

	_, err := repo.PutProfile(ctx, Profile{UID: "u1", OrganizationID: "org-1", Role: RoleDriver})
	require.NoError(t, err)
	_, err = repo.UpdateRole(ctx, "u1", RoleAdmin)
	require.NoError(t, err)
	require.NoError(t, repo.DeleteProfile(ctx, "u1"))

	seen := rec.all()
	require.Len(t, seen, 4)
	assert.Nil(t, seen[0].profile)
	assert.Equal(t, RoleDriver, seen[1].profile.Role)
	assert.Equal(t, RoleAdmin, seen[2].profile.Role)
	assert.Nil(t, seen[3].profile)
	assert.Equal(t, 1, repo.WatcherCount("u1"))

	stop()
	assert.Equal(t, 0, repo.WatcherCount("u1"))
}

func TestInMemoryUpdateMissingProfile(t *testing.T) {
	repo := NewInMemoryRepository()

	_, err := repo.UpdateDisplayName(context.Background(), "ghost", "Name")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.DeleteProfile(context.Background(), "ghost"), ErrNotFound)
}
