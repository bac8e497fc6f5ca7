package rbac

import (
	"fmt"
	"sort"
	"strings"
)

// ResourceType identifies the kind of object a permission is granted on
type ResourceType string

const (
	ResourceXForm          ResourceType = "xform"
	ResourceMergedXForm    ResourceType = "mergedxform"
	ResourceProject        ResourceType = "project"
	ResourceOrganization   ResourceType = "organizationprofile"
	ResourceUserProfile    ResourceType = "userprofile"
	ResourceEntityList     ResourceType = "entitylist"
	ResourceDataDictionary ResourceType = "datadictionary"
)

// ResourceTypes returns every resource type the built-in roles know about
func ResourceTypes() []ResourceType {
	return []ResourceType{
		ResourceXForm,
		ResourceMergedXForm,
		ResourceProject,
		ResourceOrganization,
		ResourceUserProfile,
		ResourceEntityList,
		ResourceDataDictionary,
	}
}

// ParseResourceType converts a string into a known ResourceType
func ParseResourceType(s string) (ResourceType, error) {
	rt := ResourceType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range ResourceTypes() {
		if rt == known {
			return rt, nil
		}
	}
	return "", fmt.Errorf("unknown resource type: %q", s)
}

// Codename is an object permission code such as "view_project"
type Codename string

// Permission codes
const (
	// XForm
	PermAddXForm         Codename = "add_xform"
	PermChangeXForm      Codename = "change_xform"
	PermDeleteXForm      Codename = "delete_xform"
	PermViewXForm        Codename = "view_xform"
	PermViewXFormAll     Codename = "view_xform_all"
	PermViewXFormData    Codename = "view_xform_data"
	PermReportXForm      Codename = "report_xform"
	PermMoveXForm        Codename = "move_xform"
	PermTransferXForm    Codename = "transfer_xform"
	PermDeleteSubmission Codename = "delete_submission"
	PermExportXFormData  Codename = "can_export_xform_data"
	PermViewMergedXForm  Codename = "view_mergedxform"

	// Project
	PermAddProject           Codename = "add_project"
	PermAddProjectXForm      Codename = "add_project_xform"
	PermChangeProject        Codename = "change_project"
	PermDeleteProject        Codename = "delete_project"
	PermTransferProject      Codename = "transfer_project"
	PermViewProject          Codename = "view_project"
	PermViewProjectAll       Codename = "view_project_all"
	PermViewProjectData      Codename = "view_project_data"
	PermReportProjectXForm   Codename = "report_project_xform"
	PermExportProjectData    Codename = "can_export_project_data"
	PermAddProjectEntityList Codename = "add_project_entitylist"

	// Organization and user profiles
	PermAddOrganization    Codename = "add_organizationprofile"
	PermChangeOrganization Codename = "change_organizationprofile"
	PermDeleteOrganization Codename = "delete_organizationprofile"
	PermViewOrganization   Codename = "view_organizationprofile"
	PermIsOrgOwner         Codename = "is_org_owner"
	PermCanAddProject      Codename = "can_add_project"
	PermCanAddXForm        Codename = "can_add_xform"
	PermAddUserProfile     Codename = "add_userprofile"
	PermChangeUserProfile  Codename = "change_userprofile"
	PermDeleteUserProfile  Codename = "delete_userprofile"
	PermViewProfile        Codename = "view_profile"

	// Entity lists and data dictionaries
	PermAddEntityList        Codename = "add_entitylist"
	PermViewEntityList       Codename = "view_entitylist"
	PermChangeEntityList     Codename = "change_entitylist"
	PermDeleteEntityList     Codename = "delete_entitylist"
	PermAddDataDictionary    Codename = "add_datadictionary"
	PermChangeDataDictionary Codename = "change_datadictionary"
	PermDeleteDataDictionary Codename = "delete_datadictionary"
)

// PrincipalKind distinguishes users from teams
type PrincipalKind string

const (
	PrincipalUser PrincipalKind = "user"
	PrincipalTeam PrincipalKind = "team"
)

// Principal is a user or a team that can hold permissions
type Principal struct {
	Kind PrincipalKind `json:"kind"`
	ID   int64         `json:"id"`
}

// User returns the principal for a user ID
func User(id int64) Principal {
	return Principal{Kind: PrincipalUser, ID: id}
}

// Team returns the principal for a team ID
func Team(id int64) Principal {
	return Principal{Kind: PrincipalTeam, ID: id}
}

// String returns a string representation of the principal
func (p Principal) String() string {
	return fmt.Sprintf("%s:%d", p.Kind, p.ID)
}

// Resource is an object permissions are granted on
type Resource struct {
	Type ResourceType `json:"type"`
	ID   int64        `json:"id"`
}

// String returns a string representation of the resource
func (r Resource) String() string {
	return fmt.Sprintf("%s:%d", r.Type, r.ID)
}

// PermissionSet is an unordered set of permission codes
type PermissionSet map[Codename]struct{}

// NewPermissionSet builds a set from the given codes
func NewPermissionSet(codes ...Codename) PermissionSet {
	set := make(PermissionSet, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}

// Has reports whether the set contains code
func (s PermissionSet) Has(code Codename) bool {
	_, ok := s[code]
	return ok
}

// Add inserts code into the set
func (s PermissionSet) Add(code Codename) {
	s[code] = struct{}{}
}

// Len returns the number of codes in the set
func (s PermissionSet) Len() int {
	return len(s)
}

// ContainsAll reports whether every code of other is in s
func (s PermissionSet) ContainsAll(other PermissionSet) bool {
	for c := range other {
		if !s.Has(c) {
			return false
		}
	}
	return true
}

// Equal reports whether both sets hold exactly the same codes
func (s PermissionSet) Equal(other PermissionSet) bool {
	return len(s) == len(other) && s.ContainsAll(other)
}

// Union returns a new set holding the codes of both sets
func (s PermissionSet) Union(other PermissionSet) PermissionSet {
	out := make(PermissionSet, len(s)+len(other))
	for c := range s {
		out[c] = struct{}{}
	}
	for c := range other {
		out[c] = struct{}{}
	}
	return out
}

// Difference returns the codes in s that are not in other
func (s PermissionSet) Difference(other PermissionSet) PermissionSet {
	out := make(PermissionSet)
	for c := range s {
		if !other.Has(c) {
			out[c] = struct{}{}
		}
	}
	return out
}

// Sorted returns the codes in lexical order
func (s PermissionSet) Sorted() []Codename {
	codes := make([]Codename, 0, len(s))
	for c := range s {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// Strings returns the sorted codes as plain strings
func (s PermissionSet) Strings() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, c := range sorted {
		out[i] = string(c)
	}
	return out
}

// PrincipalPermissions is one principal's permission set on a resource
type PrincipalPermissions struct {
	Principal   Principal
	Permissions PermissionSet
}
