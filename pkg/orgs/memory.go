package orgs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/fieldperm/pkg/rbac"
)

// MemoryRepository keeps the organization hierarchy in process.
// It implements both Directory and Teams.
type MemoryRepository struct {
	mu           sync.RWMutex
	nextID       int64
	orgs         map[int64]*Organization
	projects     map[int64]*Project
	forms        map[int64]*XForm
	entityLists  map[int64]*EntityList
	teams        map[int64]*Team
	members      map[int64]map[int64]struct{} // team -> users
	teamProjects map[int64]map[int64]struct{} // team -> projects
}

var (
	_ Directory = (*MemoryRepository)(nil)
	_ Teams     = (*MemoryRepository)(nil)
)

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orgs:         make(map[int64]*Organization),
		projects:     make(map[int64]*Project),
		forms:        make(map[int64]*XForm),
		entityLists:  make(map[int64]*EntityList),
		teams:        make(map[int64]*Team),
		members:      make(map[int64]map[int64]struct{}),
		teamProjects: make(map[int64]map[int64]struct{}),
	}
}

func (r *MemoryRepository) assignID(id *int64) {
	if *id == 0 {
		r.nextID++
		*id = r.nextID
	} else if *id > r.nextID {
		r.nextID = *id
	}
}

// CreateOrganization stores an organization, assigning an ID when unset
func (r *MemoryRepository) CreateOrganization(ctx context.Context, org *Organization) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.orgs {
		if existing.Name == org.Name {
			return fmt.Errorf("organization %q already exists", org.Name)
		}
	}
	r.assignID(&org.ID)
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now()
	}
	stored := *org
	r.orgs[org.ID] = &stored
	return nil
}

func (r *MemoryRepository) Organization(ctx context.Context, id int64) (*Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	org, ok := r.orgs[id]
	if !ok {
		return nil, fmt.Errorf("organization %d: %w", id, rbac.ErrResourceNotFound)
	}
	out := *org
	return &out, nil
}

// ListOrganizations returns every organization ordered by ID
func (r *MemoryRepository) ListOrganizations(ctx context.Context) ([]*Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Organization, 0, len(r.orgs))
	for _, o := range r.orgs {
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) CreateProject(ctx context.Context, project *Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orgs[project.OrganizationID]; !ok {
		return fmt.Errorf("organization %d: %w", project.OrganizationID, rbac.ErrResourceNotFound)
	}
	r.assignID(&project.ID)
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now()
	}
	stored := *project
	r.projects[project.ID] = &stored
	return nil
}

func (r *MemoryRepository) Project(ctx context.Context, id int64) (*Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	project, ok := r.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %d: %w", id, rbac.ErrResourceNotFound)
	}
	out := *project
	return &out, nil
}

// ProjectsOf lists an organization's projects ordered by ID
func (r *MemoryRepository) ProjectsOf(ctx context.Context, orgID int64) ([]*Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Project
	for _, p := range r.projects {
		if p.OrganizationID == orgID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) CreateXForm(ctx context.Context, form *XForm) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.projects[form.ProjectID]; !ok {
		return fmt.Errorf("project %d: %w", form.ProjectID, rbac.ErrResourceNotFound)
	}
	r.assignID(&form.ID)
	if form.CreatedAt.IsZero() {
		form.CreatedAt = time.Now()
	}
	stored := *form
	r.forms[form.ID] = &stored
	return nil
}

func (r *MemoryRepository) XForm(ctx context.Context, id int64) (*XForm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	form, ok := r.forms[id]
	if !ok {
		return nil, fmt.Errorf("xform %d: %w", id, rbac.ErrResourceNotFound)
	}
	out := *form
	return &out, nil
}

// FormsOf lists a project's forms ordered by ID
func (r *MemoryRepository) FormsOf(ctx context.Context, projectID int64) ([]*XForm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*XForm
	for _, f := range r.forms {
		if f.ProjectID == projectID {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) CreateEntityList(ctx context.Context, list *EntityList) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.projects[list.ProjectID]; !ok {
		return fmt.Errorf("project %d: %w", list.ProjectID, rbac.ErrResourceNotFound)
	}
	r.assignID(&list.ID)
	if list.CreatedAt.IsZero() {
		list.CreatedAt = time.Now()
	}
	stored := *list
	r.entityLists[list.ID] = &stored
	return nil
}

func (r *MemoryRepository) EntityListsOf(ctx context.Context, projectID int64) ([]*EntityList, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*EntityList
	for _, l := range r.entityLists {
		if l.ProjectID == projectID {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LinkTeamProject associates a team with a project. Linking twice is a no-op.
func (r *MemoryRepository) LinkTeamProject(ctx context.Context, teamID, projectID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.teams[teamID]; !ok {
		return fmt.Errorf("team %d: %w", teamID, rbac.ErrPrincipalNotFound)
	}
	if _, ok := r.projects[projectID]; !ok {
		return fmt.Errorf("project %d: %w", projectID, rbac.ErrResourceNotFound)
	}
	if r.teamProjects[teamID] == nil {
		r.teamProjects[teamID] = make(map[int64]struct{})
	}
	r.teamProjects[teamID][projectID] = struct{}{}
	return nil
}

func (r *MemoryRepository) TeamProjects(ctx context.Context, teamID int64) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedIDs(r.teamProjects[teamID]), nil
}

func (r *MemoryRepository) CreateTeam(ctx context.Context, team *Team) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createTeamLocked(team)
}

func (r *MemoryRepository) createTeamLocked(team *Team) error {
	if _, ok := r.orgs[team.OrganizationID]; !ok {
		return fmt.Errorf("organization %d: %w", team.OrganizationID, rbac.ErrResourceNotFound)
	}
	if r.teamByNameLocked(team.OrganizationID, team.Name) != nil {
		return fmt.Errorf("team %q already exists", team.Name)
	}
	r.assignID(&team.ID)
	if team.CreatedAt.IsZero() {
		team.CreatedAt = time.Now()
	}
	stored := *team
	r.teams[team.ID] = &stored
	r.members[team.ID] = make(map[int64]struct{})
	return nil
}

func (r *MemoryRepository) Team(ctx context.Context, id int64) (*Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	team, ok := r.teams[id]
	if !ok {
		return nil, fmt.Errorf("team %d: %w", id, rbac.ErrPrincipalNotFound)
	}
	out := *team
	return &out, nil
}

func (r *MemoryRepository) TeamByName(ctx context.Context, orgID int64, name string) (*Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	team := r.teamByNameLocked(orgID, name)
	if team == nil {
		return nil, fmt.Errorf("team %q: %w", name, rbac.ErrPrincipalNotFound)
	}
	out := *team
	return &out, nil
}

func (r *MemoryRepository) teamByNameLocked(orgID int64, name string) *Team {
	for _, t := range r.teams {
		if t.OrganizationID == orgID && t.Name == name {
			return t
		}
	}
	return nil
}

func (r *MemoryRepository) OwnersTeam(ctx context.Context, org *Organization) (*Team, error) {
	return r.getOrCreateTeam(org, org.OwnersTeamName(), false)
}

func (r *MemoryRepository) MembersTeam(ctx context.Context, org *Organization) (*Team, error) {
	return r.getOrCreateTeam(org, org.MembersTeamName(), true)
}

func (r *MemoryRepository) getOrCreateTeam(org *Organization, name string, bootstrapAccount bool) (*Team, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if team := r.teamByNameLocked(org.ID, name); team != nil {
		out := *team
		return &out, nil
	}

	team := &Team{OrganizationID: org.ID, Name: name}
	if err := r.createTeamLocked(team); err != nil {
		return nil, err
	}
	if bootstrapAccount {
		r.members[team.ID][org.AccountID] = struct{}{}
	}
	return team, nil
}

func (r *MemoryRepository) AddMember(ctx context.Context, teamID, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.members[teamID]
	if !ok {
		return fmt.Errorf("team %d: %w", teamID, rbac.ErrPrincipalNotFound)
	}
	set[userID] = struct{}{}
	return nil
}

func (r *MemoryRepository) RemoveMember(ctx context.Context, teamID, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.members[teamID]
	if !ok {
		return fmt.Errorf("team %d: %w", teamID, rbac.ErrPrincipalNotFound)
	}
	delete(set, userID)
	return nil
}

// Members lists a team's users ordered by ID
func (r *MemoryRepository) Members(ctx context.Context, teamID int64) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.members[teamID]
	if !ok {
		return nil, fmt.Errorf("team %d: %w", teamID, rbac.ErrPrincipalNotFound)
	}
	return sortedIDs(set), nil
}

func (r *MemoryRepository) IsMember(ctx context.Context, teamID, userID int64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.members[teamID][userID]
	return ok, nil
}

// TeamsOf lists the teams a user belongs to; it also serves as rbac.Memberships
func (r *MemoryRepository) TeamsOf(ctx context.Context, userID int64) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []int64
	for teamID, set := range r.members {
		if _, ok := set[userID]; ok {
			out = append(out, teamID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func sortedIDs(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
