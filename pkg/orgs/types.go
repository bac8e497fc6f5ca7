package orgs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/fieldperm/pkg/rbac"
)

var (
	// ErrOrganizationWithoutOwner is returned when an operation would leave an organization with no owner
	ErrOrganizationWithoutOwner = errors.New("organization cannot be without an owner")

	// ErrProjectWithoutOwner is returned when unsharing would leave a project with no owner
	ErrProjectWithoutOwner = errors.New("project requires at least one owner")
)

// Team name suffixes for the auto-managed organization teams
const (
	OwnersTeamSuffix  = "#Owners"
	MembersTeamSuffix = "#members"
)

// Organization is an organization and its own user account.
// The account's user profile is the organization profile's user side.
type Organization struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"account_id"`
	Name      string    `json:"name"`
	CreatorID int64     `json:"creator_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Resource returns the organization profile as a permission target
func (o *Organization) Resource() rbac.Resource {
	return rbac.Resource{Type: rbac.ResourceOrganization, ID: o.ID}
}

// ProfileResource returns the organization account's user profile as a permission target
func (o *Organization) ProfileResource() rbac.Resource {
	return rbac.Resource{Type: rbac.ResourceUserProfile, ID: o.AccountID}
}

// OwnersTeamName returns the name of the organization's owners team
func (o *Organization) OwnersTeamName() string {
	return o.Name + OwnersTeamSuffix
}

// MembersTeamName returns the name of the organization's members team
func (o *Organization) MembersTeamName() string {
	return o.Name + MembersTeamSuffix
}

// Team is a named group of users scoped to one organization
type Team struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
}

// Principal returns the team as a permission holder
func (t *Team) Principal() rbac.Principal {
	return rbac.Team(t.ID)
}

// joinStep plans adding userID to the team, by name when it is not created yet
func (t *Team) joinStep(userID int64) Step {
	return Step{Kind: StepJoinTeam, TeamID: t.ID, TeamName: t.Name, UserID: userID}
}

// Project groups forms and entity lists under an organization
type Project struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	Name           string    `json:"name"`
	CreatedBy      int64     `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
}

// Resource returns the project as a permission target
func (p *Project) Resource() rbac.Resource {
	return rbac.Resource{Type: rbac.ResourceProject, ID: p.ID}
}

// XForm is a published form. Merged forms also carry merged-form permissions.
type XForm struct {
	ID        int64      `json:"id"`
	ProjectID int64      `json:"project_id"`
	OwnerID   int64      `json:"owner_id"`
	Title     string     `json:"title"`
	IsMerged  bool       `json:"is_merged"`
	MetaPerms *MetaPerms `json:"meta_perms,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Resource returns the form as a permission target
func (f *XForm) Resource() rbac.Resource {
	return rbac.Resource{Type: rbac.ResourceXForm, ID: f.ID}
}

// MergedResource returns the merged-form side of a merged form
func (f *XForm) MergedResource() rbac.Resource {
	return rbac.Resource{Type: rbac.ResourceMergedXForm, ID: f.ID}
}

// MetaPerms overrides the role a form is shared with for each role family
type MetaPerms struct {
	Editor    rbac.RoleName `json:"editor"`
	DataEntry rbac.RoleName `json:"dataentry"`
	ReadOnly  rbac.RoleName `json:"readonly"`
}

// ParseMetaPerms reads the "editor|dataentry|readonly" column format.
// An empty value yields nil.
func ParseMetaPerms(value string) (*MetaPerms, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	parts := strings.Split(value, "|")
	if len(parts) < 2 || len(parts) > 3 {
		return nil, fmt.Errorf("invalid meta permissions %q", value)
	}
	m := &MetaPerms{
		Editor:    rbac.RoleName(strings.TrimSpace(parts[0])),
		DataEntry: rbac.RoleName(strings.TrimSpace(parts[1])),
	}
	if len(parts) == 3 {
		m.ReadOnly = rbac.RoleName(strings.TrimSpace(parts[2]))
	}
	return m, nil
}

// String renders the column format accepted by ParseMetaPerms
func (m *MetaPerms) String() string {
	if m == nil {
		return ""
	}
	return strings.Join([]string{string(m.Editor), string(m.DataEntry), string(m.ReadOnly)}, "|")
}

// RoleFor maps a project role onto the form role it becomes under these
// meta permissions. Editor and data entry roles take their family's
// override, readonly takes the read only override, and every other role or
// family with no override keeps its project role.
func (m *MetaPerms) RoleFor(role rbac.RoleName) rbac.RoleName {
	if m == nil {
		return role
	}
	var override rbac.RoleName
	switch role {
	case rbac.RoleEditor, rbac.RoleEditorMinor:
		override = m.Editor
	case rbac.RoleDataEntry, rbac.RoleDataEntryMinor, rbac.RoleDataEntryOnly:
		override = m.DataEntry
	case rbac.RoleReadOnly:
		override = m.ReadOnly
	}
	if override == "" {
		return role
	}
	return override
}

// EntityList is a dataset of entities attached to a project
type EntityList struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"project_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Resource returns the entity list as a permission target
func (e *EntityList) Resource() rbac.Resource {
	return rbac.Resource{Type: rbac.ResourceEntityList, ID: e.ID}
}

// Directory resolves organizations, projects and what they contain
type Directory interface {
	CreateOrganization(ctx context.Context, org *Organization) error
	Organization(ctx context.Context, id int64) (*Organization, error)
	ListOrganizations(ctx context.Context) ([]*Organization, error)
	CreateProject(ctx context.Context, project *Project) error
	Project(ctx context.Context, id int64) (*Project, error)
	ProjectsOf(ctx context.Context, orgID int64) ([]*Project, error)
	CreateXForm(ctx context.Context, form *XForm) error
	XForm(ctx context.Context, id int64) (*XForm, error)
	FormsOf(ctx context.Context, projectID int64) ([]*XForm, error)
	CreateEntityList(ctx context.Context, list *EntityList) error
	EntityListsOf(ctx context.Context, projectID int64) ([]*EntityList, error)
	LinkTeamProject(ctx context.Context, teamID, projectID int64) error
	TeamProjects(ctx context.Context, teamID int64) ([]int64, error)
}

// Teams manages organization teams and their members
type Teams interface {
	CreateTeam(ctx context.Context, team *Team) error
	Team(ctx context.Context, id int64) (*Team, error)
	TeamByName(ctx context.Context, orgID int64, name string) (*Team, error)
	// OwnersTeam returns the owners team, creating it if needed
	OwnersTeam(ctx context.Context, org *Organization) (*Team, error)
	// MembersTeam returns the members team, creating it with the
	// organization account as its first member if needed
	MembersTeam(ctx context.Context, org *Organization) (*Team, error)
	AddMember(ctx context.Context, teamID, userID int64) error
	RemoveMember(ctx context.Context, teamID, userID int64) error
	Members(ctx context.Context, teamID int64) ([]int64, error)
	IsMember(ctx context.Context, teamID, userID int64) (bool, error)
	TeamsOf(ctx context.Context, userID int64) ([]int64, error)
}
