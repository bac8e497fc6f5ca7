package orgs

import (
	"testing"

	"github.com/platinummonkey/fieldperm/pkg/rbac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetaPerms(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    *MetaPerms
		wantErr bool
	}{
		{name: "empty", value: "", want: nil},
		{name: "blank", value: "   ", want: nil},
		{
			name:  "three parts",
			value: "editor-minor|dataentry-only|readonly-no-download",
			want: &MetaPerms{
				Editor:    rbac.RoleEditorMinor,
				DataEntry: rbac.RoleDataEntryOnly,
				ReadOnly:  rbac.RoleReadOnlyNoDownload,
			},
		},
		{
			name:  "two parts",
			value: "editor|dataentry-minor",
			want:  &MetaPerms{Editor: rbac.RoleEditor, DataEntry: rbac.RoleDataEntryMinor},
		},
		{name: "one part", value: "editor", wantErr: true},
		{name: "four parts", value: "a|b|c|d", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMetaPerms(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMetaPerms_String(t *testing.T) {
	m := &MetaPerms{Editor: rbac.RoleEditor, DataEntry: rbac.RoleDataEntryOnly, ReadOnly: rbac.RoleReadOnly}
	assert.Equal(t, "editor|dataentry-only|readonly", m.String())

	parsed, err := ParseMetaPerms(m.String())
	require.NoError(t, err)
	assert.Equal(t, m, parsed)

	var empty *MetaPerms
	assert.Equal(t, "", empty.String())
}

func TestMetaPerms_RoleFor(t *testing.T) {
	m := &MetaPerms{Editor: rbac.RoleEditorMinor, DataEntry: rbac.RoleDataEntryOnly}

	assert.Equal(t, rbac.RoleEditorMinor, m.RoleFor(rbac.RoleEditor))
	assert.Equal(t, rbac.RoleDataEntryOnly, m.RoleFor(rbac.RoleDataEntry))
	assert.Equal(t, rbac.RoleDataEntryOnly, m.RoleFor(rbac.RoleDataEntryMinor))
	assert.Equal(t, rbac.RoleReadOnly, m.RoleFor(rbac.RoleReadOnly), "no read only override")
	assert.Equal(t, rbac.RoleManager, m.RoleFor(rbac.RoleManager))

	var none *MetaPerms
	assert.Equal(t, rbac.RoleEditor, none.RoleFor(rbac.RoleEditor))

	restricted := &MetaPerms{Editor: rbac.RoleEditor, DataEntry: rbac.RoleDataEntry, ReadOnly: rbac.RoleReadOnlyNoDownload}
	assert.Equal(t, rbac.RoleReadOnlyNoDownload, restricted.RoleFor(rbac.RoleReadOnly))

	widened := &MetaPerms{Editor: rbac.RoleEditor, DataEntry: rbac.RoleDataEntry, ReadOnly: rbac.RoleReadOnly}
	assert.Equal(t, rbac.RoleReadOnlyNoDownload, widened.RoleFor(rbac.RoleReadOnlyNoDownload),
		"only a readonly project role takes the read only override")
}

func TestOrganization_Names(t *testing.T) {
	org := &Organization{ID: 3, AccountID: 40, Name: "denoinc"}

	assert.Equal(t, "denoinc#Owners", org.OwnersTeamName())
	assert.Equal(t, "denoinc#members", org.MembersTeamName())
	assert.Equal(t, rbac.Resource{Type: rbac.ResourceOrganization, ID: 3}, org.Resource())
	assert.Equal(t, rbac.Resource{Type: rbac.ResourceUserProfile, ID: 40}, org.ProfileResource())
}
