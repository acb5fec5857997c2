package profiles

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceUpdateDisplayNameValidates(t *testing.T) {
	repo := NewInMemoryRepository()
	seedOrganization(t, repo, "org-1")
	svc := NewService(repo)
	ctx := context.Background()

	_, err := repo.PutProfile(ctx, Profile{UID: "u1", OrganizationID: "org-1", Role: RoleDriver, DisplayName: "Old"})
	require.NoError(t, err)

	_, err = svc.UpdateDisplayName(ctx, "u1", "   ")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.UpdateDisplayName(ctx, "u1", strings.Repeat("x", 101))
	assert.ErrorIs(t, err, ErrValidation)

	updated, err := svc.UpdateDisplayName(ctx, "u1", "  Kari Nordmann ")
	require.NoError(t, err)
	assert.Equal(t, "Kari Nordmann", updated.DisplayName)
}

func TestServiceMembersRequiresOrganization(t *testing.T) {
	svc := NewService(NewInMemoryRepository())

	_, err := svc.Members(context.Background(), "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestServiceWatchDelegates(t *testing.T) {
	repo := NewInMemoryRepository()
	svc := NewService(repo)
	rec := &recorder{}

	stop := svc.Watch("u1", rec.record)
	assert.Equal(t, 1, repo.WatcherCount("u1"))
	stop()
	assert.Len(t, rec.all(), 1)
}
