package rbac

import (
	"sort"
)

// RoleName is the boundary name of a role, e.g. "manager"
type RoleName string

// Built-in role names
const (
	RoleReadOnlyNoDownload RoleName = "readonly-no-download"
	RoleReadOnly           RoleName = "readonly"
	RoleDataEntryOnly      RoleName = "dataentry-only"
	RoleDataEntryMinor     RoleName = "dataentry-minor"
	RoleDataEntry          RoleName = "dataentry"
	RoleEditorMinor        RoleName = "editor-minor"
	RoleEditor             RoleName = "editor"
	RoleManager            RoleName = "manager"
	RoleOwner              RoleName = "owner"
	RoleMember             RoleName = "member"
)

// Role is an immutable named bundle of permission codes per resource type.
// The zero bundle for a resource type means the role grants nothing there.
type Role struct {
	Name        RoleName
	DisplayName string
	Description string

	bundles map[ResourceType]PermissionSet
}

// NewRole builds a role from its per-resource-type permission codes
func NewRole(name RoleName, displayName, description string, bundles map[ResourceType][]Codename) Role {
	role := Role{
		Name:        name,
		DisplayName: displayName,
		Description: description,
		bundles:     make(map[ResourceType]PermissionSet, len(bundles)),
	}
	for rt, codes := range bundles {
		role.bundles[rt] = NewPermissionSet(codes...)
	}
	return role
}

// Bundle returns a copy of the codes the role grants on rt.
// Undeclared resource types yield an empty set.
func (r Role) Bundle(rt ResourceType) PermissionSet {
	bundle, ok := r.bundles[rt]
	if !ok {
		return PermissionSet{}
	}
	return bundle.Union(nil)
}

// Declares reports whether the role lists rt in its table, even with no codes
func (r Role) Declares(rt ResourceType) bool {
	_, ok := r.bundles[rt]
	return ok
}

// ResourceTypes returns the declared resource types in lexical order
func (r Role) ResourceTypes() []ResourceType {
	types := make([]ResourceType, 0, len(r.bundles))
	for rt := range r.bundles {
		types = append(types, rt)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// HasRole reports whether perms contains the role's whole bundle for rt.
// It is false when the role does not declare rt.
func (r Role) HasRole(perms PermissionSet, rt ResourceType) bool {
	bundle, ok := r.bundles[rt]
	if !ok {
		return false
	}
	return perms.ContainsAll(bundle)
}

var readOnlyNoDownloadProject = []Codename{PermViewProject, PermViewProjectAll}
var readOnlyNoDownloadXForm = []Codename{PermViewXForm, PermViewXFormAll}

var dataEntryMinorProject = []Codename{
	PermReportProjectXForm, PermExportProjectData, PermViewProject, PermViewProjectData,
}
var dataEntryMinorXForm = []Codename{
	PermReportXForm, PermExportXFormData, PermViewXForm, PermViewXFormData,
}

var editorMinorProject = []Codename{
	PermReportProjectXForm, PermChangeProject, PermExportProjectData, PermViewProject, PermViewProjectData,
}
var editorMinorXForm = []Codename{
	PermReportXForm, PermChangeXForm, PermDeleteSubmission, PermExportXFormData, PermViewXForm, PermViewXFormData,
}

var managerProject = []Codename{
	PermAddProject, PermAddProjectXForm, PermReportProjectXForm, PermChangeProject,
	PermExportProjectData, PermViewProject, PermViewProjectAll, PermViewProjectData,
	PermAddProjectEntityList,
}
var managerXForm = []Codename{
	PermReportXForm, PermAddXForm, PermChangeXForm, PermDeleteSubmission, PermDeleteXForm,
	PermExportXFormData, PermViewXForm, PermViewXFormAll, PermViewXFormData,
}
var managerEntityList = []Codename{
	PermAddEntityList, PermViewEntityList, PermChangeEntityList, PermDeleteEntityList,
}

func with(base []Codename, extra ...Codename) []Codename {
	out := make([]Codename, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}

// BuiltInRoles returns the built-in roles in ascending privilege order.
// The member marker role is not part of the ordering; see MemberRole.
func BuiltInRoles() []Role {
	return []Role{
		NewRole(RoleReadOnlyNoDownload, "Read Only (No Download)", "View forms and data without exporting", map[ResourceType][]Codename{
			ResourceMergedXForm:  {PermViewMergedXForm},
			ResourceProject:      readOnlyNoDownloadProject,
			ResourceXForm:        readOnlyNoDownloadXForm,
		}),
		NewRole(RoleReadOnly, "Read Only", "View and export forms and data", map[ResourceType][]Codename{
			ResourceMergedXForm:  {PermViewMergedXForm},
			ResourceOrganization: {PermViewOrganization},
			ResourceProject:      with(readOnlyNoDownloadProject, PermExportProjectData),
			ResourceXForm:        with(readOnlyNoDownloadXForm, PermExportXFormData),
		}),
		NewRole(RoleDataEntryOnly, "Data Entry Only", "Submit data without viewing submissions", map[ResourceType][]Codename{
			ResourceMergedXForm:  {PermViewMergedXForm},
			ResourceOrganization: {PermViewOrganization},
			ResourceProject:      {PermReportProjectXForm, PermExportProjectData, PermViewProject},
			ResourceXForm:        {PermReportXForm},
		}),
		NewRole(RoleDataEntryMinor, "Data Entry (Minor)", "Submit data and view own submissions", map[ResourceType][]Codename{
			ResourceMergedXForm:  {PermViewMergedXForm},
			ResourceOrganization: {PermViewOrganization},
			ResourceProject:      dataEntryMinorProject,
			ResourceXForm:        dataEntryMinorXForm,
		}),
		NewRole(RoleDataEntry, "Data Entry", "Submit data and view all submissions", map[ResourceType][]Codename{
			ResourceMergedXForm:  {PermViewMergedXForm},
			ResourceOrganization: {PermViewOrganization},
			ResourceProject:      with(dataEntryMinorProject, PermViewProjectAll),
			ResourceXForm:        with(dataEntryMinorXForm, PermViewXFormAll),
		}),
		NewRole(RoleEditorMinor, "Editor (Minor)", "Edit own submissions and form settings", map[ResourceType][]Codename{
			ResourceMergedXForm:  {PermViewMergedXForm},
			ResourceOrganization: {PermViewOrganization},
			ResourceProject:      editorMinorProject,
			ResourceXForm:        editorMinorXForm,
		}),
		NewRole(RoleEditor, "Editor", "Edit all submissions and form settings", map[ResourceType][]Codename{
			ResourceMergedXForm:  {PermViewMergedXForm},
			ResourceOrganization: {PermViewOrganization},
			ResourceProject:      with(editorMinorProject, PermViewProjectAll),
			ResourceXForm:        with(editorMinorXForm, PermViewXFormAll),
		}),
		NewRole(RoleManager, "Manager", "Manage forms, projects and entity lists", map[ResourceType][]Codename{
			ResourceMergedXForm:  {PermViewMergedXForm},
			ResourceOrganization: {PermCanAddProject, PermCanAddXForm, PermViewOrganization},
			ResourceProject:      managerProject,
			ResourceUserProfile:  {PermCanAddProject, PermCanAddXForm, PermViewProfile},
			ResourceXForm:        managerXForm,
			ResourceEntityList:   managerEntityList,
		}),
		NewRole(RoleOwner, "Owner", "Full control including deletion and transfer", map[ResourceType][]Codename{
			ResourceDataDictionary: {PermAddDataDictionary, PermChangeDataDictionary, PermDeleteDataDictionary},
			ResourceMergedXForm:    {PermViewMergedXForm},
			ResourceOrganization: {
				PermCanAddProject, PermCanAddXForm, PermAddOrganization, PermChangeOrganization,
				PermDeleteOrganization, PermViewOrganization, PermIsOrgOwner,
			},
			ResourceProject: with(managerProject, PermDeleteProject, PermTransferProject),
			ResourceUserProfile: {
				PermCanAddProject, PermCanAddXForm, PermAddUserProfile, PermChangeUserProfile,
				PermDeleteUserProfile, PermViewProfile,
			},
			ResourceXForm:      with(managerXForm, PermMoveXForm, PermTransferXForm),
			ResourceEntityList: managerEntityList,
		}),
	}
}

// MemberRole returns the zero-permission organization membership marker
func MemberRole() Role {
	return NewRole(RoleMember, "Member", "Organization membership without object permissions", nil)
}
