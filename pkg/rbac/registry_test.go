package rbac

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultRegistry_Order(t *testing.T) {
	registry := NewDefaultRegistry()

	var names []RoleName
	for _, role := range registry.Ordered() {
		names = append(names, role.Name)
	}

	assert.Equal(t, []RoleName{
		RoleReadOnlyNoDownload,
		RoleReadOnly,
		RoleDataEntryOnly,
		RoleDataEntryMinor,
		RoleDataEntry,
		RoleEditorMinor,
		RoleEditor,
		RoleManager,
		RoleOwner,
	}, names)
}

func TestRegistry_LookupAssignable(t *testing.T) {
	registry := NewDefaultRegistry()

	for _, role := range registry.Ordered() {
		got, err := registry.LookupAssignable(string(role.Name))
		require.NoError(t, err)
		assert.Equal(t, role.Name, got.Name)
	}

	_, err := registry.LookupAssignable(string(RoleMember))
	require.Error(t, err)
	assert.True(t, IsUnknownRole(err))

	_, err = registry.LookupAssignable("superuser")
	assert.True(t, IsUnknownRole(err))
}

func TestRegistry_Lookup(t *testing.T) {
	registry := NewDefaultRegistry()

	t.Run("known role", func(t *testing.T) {
		role, err := registry.Lookup("manager")
		require.NoError(t, err)
		assert.Equal(t, RoleManager, role.Name)
	})

	t.Run("names match exactly", func(t *testing.T) {
		for _, name := range []string{"  editor-minor ", "Editor-Minor", "MANAGER"} {
			_, err := registry.Lookup(name)
			assert.True(t, IsUnknownRole(err), "%q", name)
		}
	})

	t.Run("member marker", func(t *testing.T) {
		role, err := registry.Lookup("member")
		require.NoError(t, err)
		assert.Equal(t, RoleMember, role.Name)
		for _, rt := range ResourceTypes() {
			assert.Zero(t, role.Bundle(rt).Len())
		}
	})

	t.Run("unknown role", func(t *testing.T) {
		_, err := registry.Lookup("superuser")
		require.Error(t, err)
		assert.True(t, IsUnknownRole(err))

		var unknown *UnknownRoleError
		require.True(t, errors.As(err, &unknown))
		assert.Equal(t, "superuser", unknown.Name)
	})
}

func TestNewRegistry_DuplicateName(t *testing.T) {
	a := NewRole("alpha", "Alpha", "", map[ResourceType][]Codename{ResourceProject: {PermViewProject}})
	b := NewRole("alpha", "Alpha again", "", nil)

	_, err := NewRegistry(a, b)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateRole)
}

func TestNewRegistry_ReservedMemberName(t *testing.T) {
	_, err := NewRegistry(NewRole(RoleMember, "Member", "", nil))
	assert.ErrorIs(t, err, ErrDuplicateRole)
}

func TestNewRegistry_EmptyName(t *testing.T) {
	_, err := NewRegistry(NewRole("", "Nameless", "", nil))
	assert.Error(t, err)
}

func TestRegistry_BundleFor(t *testing.T) {
	registry := NewDefaultRegistry()

	bundle, err := registry.BundleFor(RoleDataEntry, ResourceProject)
	require.NoError(t, err)
	assert.Equal(t, []Codename{
		PermExportProjectData,
		PermReportProjectXForm,
		PermViewProject,
		PermViewProjectAll,
		PermViewProjectData,
	}, bundle.Sorted())

	t.Run("undeclared type is empty", func(t *testing.T) {
		bundle, err := registry.BundleFor(RoleEditor, ResourceUserProfile)
		require.NoError(t, err)
		assert.Zero(t, bundle.Len())
	})

	t.Run("unknown role", func(t *testing.T) {
		_, err := registry.BundleFor("nobody", ResourceProject)
		assert.True(t, IsUnknownRole(err))
	})

	t.Run("returned bundle is a copy", func(t *testing.T) {
		bundle, _ := registry.BundleFor(RoleOwner, ResourceProject)
		bundle.Add("tampered")

		again, _ := registry.BundleFor(RoleOwner, ResourceProject)
		assert.False(t, again.Has("tampered"))
	})
}

func TestRegistry_Compare(t *testing.T) {
	registry := NewDefaultRegistry()

	tests := []struct {
		name string
		a, b RoleName
		want int
	}{
		{"owner above manager", RoleOwner, RoleManager, 1},
		{"readonly below editor", RoleReadOnly, RoleEditor, -1},
		{"equal", RoleDataEntry, RoleDataEntry, 0},
		{"member below everything", RoleMember, RoleReadOnlyNoDownload, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := registry.Compare(tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := registry.Compare("root", RoleOwner)
	assert.True(t, IsUnknownRole(err))
}

func TestRegistry_OrderedIsACopy(t *testing.T) {
	registry := NewDefaultRegistry()

	ordered := registry.Ordered()
	ordered[0] = MemberRole()

	assert.Equal(t, RoleReadOnlyNoDownload, registry.Ordered()[0].Name)
}
