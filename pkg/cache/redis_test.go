package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/platinummonkey/fieldperm/pkg/rbac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisTest(t *testing.T) (*RedisInvalidator, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	inv, err := NewRedisInvalidator(Options{URL: "redis://" + mr.Addr(), MaxRetries: 3, PoolSize: 5})
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create Redis invalidator: %v", err)
	}

	return inv, mr, func() {
		inv.Close()
		mr.Close()
	}
}

func TestNewRedisInvalidator_InvalidURL(t *testing.T) {
	_, err := NewRedisInvalidator(Options{URL: "invalid://url"})
	assert.Error(t, err)
}

func TestNewRedisInvalidator_ConnectionFailure(t *testing.T) {
	_, err := NewRedisInvalidator(Options{URL: "redis://localhost:9999"})
	assert.Error(t, err)
}

func TestRedisInvalidator_Project(t *testing.T) {
	inv, mr, cleanup := setupRedisTest(t)
	defer cleanup()

	mr.Set("ps-project_permissions-5", "[]")
	mr.Set("ps-project_owner-5", "alice")
	mr.Set("ps-project-team-users5", "[]")
	mr.Set("ps-project_permissions-6", "[]")

	err := inv.Invalidate(context.Background(), rbac.User(1), rbac.Resource{Type: rbac.ResourceProject, ID: 5})
	require.NoError(t, err)

	assert.False(t, mr.Exists("ps-project_permissions-5"))
	assert.False(t, mr.Exists("ps-project_owner-5"))
	assert.False(t, mr.Exists("ps-project-team-users5"))
	assert.True(t, mr.Exists("ps-project_permissions-6"))
}

func TestRedisInvalidator_FormsAndOrganizations(t *testing.T) {
	inv, mr, cleanup := setupRedisTest(t)
	defer cleanup()
	ctx := context.Background()

	mr.Set("xfs-get_xform_permissions9", "[]")
	mr.Set("org-profile-3", "{}")

	require.NoError(t, inv.Invalidate(ctx, rbac.Team(2), rbac.Resource{Type: rbac.ResourceMergedXForm, ID: 9}))
	require.NoError(t, inv.Invalidate(ctx, rbac.User(1), rbac.Resource{Type: rbac.ResourceOrganization, ID: 3}))
	require.NoError(t, inv.Invalidate(ctx, rbac.User(1), rbac.Resource{Type: rbac.ResourceEntityList, ID: 3}))

	assert.False(t, mr.Exists("xfs-get_xform_permissions9"))
	assert.False(t, mr.Exists("org-profile-3"))
}

func TestRedisInvalidator_ServerDown(t *testing.T) {
	inv, mr, cleanup := setupRedisTest(t)
	defer cleanup()

	mr.Close()
	err := inv.Invalidate(context.Background(), rbac.User(1), rbac.Resource{Type: rbac.ResourceProject, ID: 5})
	assert.Error(t, err)
}

func TestRedisInvalidator_WithAssigner(t *testing.T) {
	inv, mr, cleanup := setupRedisTest(t)
	defer cleanup()
	ctx := context.Background()

	assigner := rbac.NewAssigner(rbac.NewDefaultRegistry(), rbac.NewMemoryStore(), rbac.WithInvalidators(inv))
	mr.Set("xfs-get_xform_permissions4", "[]")

	require.NoError(t, assigner.Add(ctx, rbac.RoleEditor, rbac.User(1), rbac.Resource{Type: rbac.ResourceXForm, ID: 4}))
	assert.False(t, mr.Exists("xfs-get_xform_permissions4"))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, []string{"org-profile-7"}, Keys(rbac.Resource{Type: rbac.ResourceOrganization, ID: 7}))
	assert.Nil(t, Keys(rbac.Resource{Type: rbac.ResourceUserProfile, ID: 7}))
	assert.Len(t, Keys(rbac.Resource{Type: rbac.ResourceProject, ID: 7}), 3)
}
