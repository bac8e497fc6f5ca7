package orgs

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/platinummonkey/fieldperm/pkg/audit"
	"github.com/platinummonkey/fieldperm/pkg/rbac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	accountID = 900
	aboyID    = 901
	alice     = 902
	bob       = 903
	samID     = 904
)

type captureAudit struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
}

func (c *captureAudit) Log(ctx context.Context, event *audit.AuditEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureAudit) Close() error { return nil }

func (c *captureAudit) last() *audit.AuditEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return nil
	}
	return c.events[len(c.events)-1]
}

type planRecord struct {
	operation string
	applied   int
	err       error
}

type fakeRecorder struct {
	plans      []planRecord
	rejections []string
}

func (f *fakeRecorder) RecordPlan(operation string, applied int, err error) {
	f.plans = append(f.plans, planRecord{operation: operation, applied: applied, err: err})
}

func (f *fakeRecorder) RecordOwnerFloorRejection(operation string) {
	f.rejections = append(f.rejections, operation)
}

type fakeUserCache struct {
	users []int64
}

func (f *fakeUserCache) InvalidateUser(userID int64) {
	f.users = append(f.users, userID)
}

// failingStore fails every grant on one resource type
type failingStore struct {
	*rbac.MemoryStore
	failOn rbac.ResourceType
}

func (s *failingStore) Grant(ctx context.Context, principal rbac.Principal, resource rbac.Resource, code rbac.Codename) error {
	if resource.Type == s.failOn {
		return errors.New("connection reset")
	}
	return s.MemoryStore.Grant(ctx, principal, resource, code)
}

type fixture struct {
	svc      *Service
	repo     *MemoryRepository
	store    *rbac.MemoryStore
	assigner *rbac.Assigner
	registry *rbac.Registry
	audit    *captureAudit
	recorder *fakeRecorder
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := rbac.NewMemoryStore()
	return newFixtureWithStore(t, store, store, opts...)
}

func newFixtureWithStore(t *testing.T, memory *rbac.MemoryStore, store rbac.PermissionStore, opts ...Option) *fixture {
	t.Helper()
	registry := rbac.NewDefaultRegistry()
	assigner := rbac.NewAssigner(registry, store)
	repo := NewMemoryRepository()
	f := &fixture{
		repo:     repo,
		store:    memory,
		assigner: assigner,
		registry: registry,
		audit:    &captureAudit{},
		recorder: &fakeRecorder{},
	}
	opts = append([]Option{WithAuditLogger(f.audit), WithRecorder(f.recorder)}, opts...)
	f.svc = NewService(assigner, repo, repo, opts...)
	return f
}

func (f *fixture) organization(t *testing.T, name string, creator int64) *Organization {
	t.Helper()
	org := &Organization{AccountID: accountID, Name: name, CreatorID: creator}
	require.NoError(t, f.svc.CreateOrganization(context.Background(), org))
	return org
}

func (f *fixture) project(t *testing.T, org *Organization, name string, createdBy int64) *Project {
	t.Helper()
	p := &Project{OrganizationID: org.ID, Name: name, CreatedBy: createdBy}
	require.NoError(t, f.repo.CreateProject(context.Background(), p))
	return p
}

func (f *fixture) form(t *testing.T, project *Project, title string, meta *MetaPerms, merged bool) *XForm {
	t.Helper()
	form := &XForm{ProjectID: project.ID, OwnerID: accountID, Title: title, MetaPerms: meta, IsMerged: merged}
	require.NoError(t, f.repo.CreateXForm(context.Background(), form))
	return form
}

func (f *fixture) requireRole(t *testing.T, role rbac.RoleName, principal rbac.Principal, resource rbac.Resource) {
	t.Helper()
	perms, err := f.store.PermissionsOf(context.Background(), principal, resource)
	require.NoError(t, err)
	bundle, err := f.registry.BundleFor(role, resource.Type)
	require.NoError(t, err)
	assert.Equal(t, bundle.Sorted(), perms.Sorted(), "%s of %s on %s", role, principal, resource)
}

func (f *fixture) requireNoPermissions(t *testing.T, principal rbac.Principal, resource rbac.Resource) {
	t.Helper()
	perms, err := f.store.PermissionsOf(context.Background(), principal, resource)
	require.NoError(t, err)
	assert.Zero(t, perms.Len(), "%s on %s", principal, resource)
}

func (f *fixture) members(t *testing.T, org *Organization, name string) []int64 {
	t.Helper()
	team, err := f.repo.TeamByName(context.Background(), org.ID, name)
	require.NoError(t, err)
	ids, err := f.repo.Members(context.Background(), team.ID)
	require.NoError(t, err)
	return ids
}

func TestCreateOrganization(t *testing.T) {
	f := newFixture(t)
	org := f.organization(t, "denoinc", alice)

	assert.Equal(t, []int64{alice}, f.members(t, org, "denoinc#Owners"))

	owners, err := f.repo.TeamByName(context.Background(), org.ID, org.OwnersTeamName())
	require.NoError(t, err)
	f.requireRole(t, rbac.RoleOwner, owners.Principal(), org.Resource())
	for _, user := range []int64{accountID, alice} {
		f.requireRole(t, rbac.RoleOwner, rbac.User(user), org.Resource())
		f.requireRole(t, rbac.RoleOwner, rbac.User(user), org.ProfileResource())
	}

	event := f.audit.last()
	require.NotNil(t, event)
	assert.Equal(t, audit.EventTypeOrgCreate, event.EventType)
	assert.Equal(t, audit.EventStatusSuccess, event.Status)
	assert.Equal(t, event.StepsPlanned, event.StepsApplied)
}

func TestAssignOrganizationRole_OwnerThenEditor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	org := f.organization(t, "denoinc", alice)
	p1 := f.project(t, org, "P1", alice)
	f1 := f.form(t, p1, "F1", nil, false)

	require.NoError(t, f.svc.AssignOrganizationRole(ctx, org.ID, aboyID, rbac.RoleOwner))

	ok, err := f.assigner.UserHasRole(ctx, rbac.RoleOwner, rbac.User(aboyID), p1.Resource())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.assigner.UserHasRole(ctx, rbac.RoleOwner, rbac.User(aboyID), f1.Resource())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, f.members(t, org, org.OwnersTeamName()), int64(aboyID))
	assert.Contains(t, f.members(t, org, org.MembersTeamName()), int64(aboyID))

	require.NoError(t, f.svc.AssignOrganizationRole(ctx, org.ID, aboyID, rbac.RoleEditor))

	assert.NotContains(t, f.members(t, org, org.OwnersTeamName()), int64(aboyID))
	ok, err = f.assigner.UserHasRole(ctx, rbac.RoleEditor, rbac.User(aboyID), org.Resource())
	require.NoError(t, err)
	assert.True(t, ok)
	f.requireNoPermissions(t, rbac.User(aboyID), org.ProfileResource())

	// Project and form grants from the owner role are kept.
	f.requireRole(t, rbac.RoleOwner, rbac.User(aboyID), p1.Resource())
	f.requireRole(t, rbac.RoleOwner, rbac.User(aboyID), f1.Resource())

	role, err := f.svc.RoleInOrganization(ctx, org.ID, aboyID)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleEditor, role)
}

func TestAssignOrganizationRole_ManagerGetsOwnProjects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	org := f.organization(t, "denoinc", alice)
	own := f.project(t, org, "mine", bob)
	other := f.project(t, org, "theirs", alice)

	require.NoError(t, f.svc.AssignOrganizationRole(ctx, org.ID, bob, rbac.RoleManager))

	f.requireRole(t, rbac.RoleManager, rbac.User(bob), org.Resource())
	f.requireRole(t, rbac.RoleManager, rbac.User(bob), own.Resource())
	f.requireNoPermissions(t, rbac.User(bob), other.Resource())
}

func TestAssignOrganizationRole_MembersTeamDefault(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	org := f.organization(t, "denoinc", alice)
	project := f.project(t, org, "P1", alice)
	form := f.form(t, project, "F1", nil, false)

	members, err := f.repo.MembersTeam(ctx, org)
	require.NoError(t, err)
	require.NoError(t, f.svc.ShareTeamOnProject(ctx, members.ID, project.ID, rbac.RoleReadOnly))

	require.NoError(t, f.svc.AssignOrganizationRole(ctx, org.ID, bob, rbac.RoleDataEntry))

	f.requireRole(t, rbac.RoleDataEntry, rbac.User(bob), org.Resource())
	f.requireRole(t, rbac.RoleReadOnly, rbac.User(bob), project.Resource())
	f.requireRole(t, rbac.RoleReadOnly, rbac.User(bob), form.Resource())
}

func TestAssignOrganizationRole_UnknownRole(t *testing.T) {
	f := newFixture(t)
	org := f.organization(t, "denoinc", alice)
	before := f.store.Snapshot()

	err := f.svc.AssignOrganizationRole(context.Background(), org.ID, bob, "superuser")
	require.Error(t, err)
	assert.True(t, rbac.IsUnknownRole(err))
	assert.Equal(t, before, f.store.Snapshot())
}

func TestOwnerFloor_RejectsWithoutMutation(t *testing.T) {
	tests := []struct {
		name string
		run  func(ctx context.Context, f *fixture, org *Organization) error
	}{
		{
			name: "downgrade last owner",
			run: func(ctx context.Context, f *fixture, org *Organization) error {
				return f.svc.AssignOrganizationRole(ctx, org.ID, alice, rbac.RoleEditor)
			},
		},
		{
			name: "remove last owner",
			run: func(ctx context.Context, f *fixture, org *Organization) error {
				return f.svc.RemoveMember(ctx, org.ID, alice)
			},
		},
		{
			name: "leave owners team",
			run: func(ctx context.Context, f *fixture, org *Organization) error {
				team, err := f.repo.TeamByName(ctx, org.ID, org.OwnersTeamName())
				if err != nil {
					return err
				}
				return f.svc.RemoveUserFromTeam(ctx, team.ID, alice)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			org := f.organization(t, "denoinc", alice)
			f.project(t, org, "P1", alice)

			grants := f.store.Snapshot()
			owners := f.members(t, org, org.OwnersTeamName())

			err := tt.run(ctx, f, org)
			assert.ErrorIs(t, err, ErrOrganizationWithoutOwner)

			assert.Equal(t, grants, f.store.Snapshot())
			assert.Equal(t, owners, f.members(t, org, org.OwnersTeamName()))
			assert.Len(t, f.recorder.rejections, 1)

			event := f.audit.last()
			require.NotNil(t, event)
			assert.Equal(t, audit.EventStatusDenied, event.Status)
		})
	}
}

func TestOwnerFloor_AllowsWithSecondOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	org := f.organization(t, "denoinc", alice)
	project := f.project(t, org, "P1", alice)

	require.NoError(t, f.svc.AssignOrganizationRole(ctx, org.ID, bob, rbac.RoleOwner))
	owners, err := f.svc.Owners(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{alice, bob}, owners)

	require.NoError(t, f.svc.RemoveMember(ctx, org.ID, bob))

	owners, err = f.svc.Owners(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{alice}, owners)
	assert.NotContains(t, f.members(t, org, org.MembersTeamName()), int64(bob))
	f.requireNoPermissions(t, rbac.User(bob), org.Resource())
	f.requireNoPermissions(t, rbac.User(bob), org.ProfileResource())
	// Shares made while bob was an owner survive removal.
	f.requireRole(t, rbac.RoleOwner, rbac.User(bob), project.Resource())

	role, err := f.svc.RoleInOrganization(ctx, org.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleMember, role)
}

func TestOwners_ExcludesOrganizationAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	org := f.organization(t, "denoinc", alice)

	team, err := f.repo.TeamByName(ctx, org.ID, org.OwnersTeamName())
	require.NoError(t, err)
	require.NoError(t, f.repo.AddMember(ctx, team.ID, accountID))

	owners, err := f.svc.Owners(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{alice}, owners)

	err = f.svc.RemoveMember(ctx, org.ID, alice)
	assert.ErrorIs(t, err, ErrOrganizationWithoutOwner)
}

func TestAddUserToOrganization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	org := f.organization(t, "denoinc", alice)
	before := f.store.Snapshot()

	require.NoError(t, f.svc.AddUserToOrganization(ctx, org.ID, bob))

	assert.Equal(t, []int64{accountID, bob}, f.members(t, org, org.MembersTeamName()))
	assert.Equal(t, before, f.store.Snapshot())

	role, err := f.svc.RoleInOrganization(ctx, org.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleMember, role)
}

func TestShareProject_FormsMergedFormsAndEntityLists(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	org := f.organization(t, "denoinc", alice)
	project := f.project(t, org, "P1", alice)
	form := f.form(t, project, "F1", nil, false)
	merged := f.form(t, project, "M1", nil, true)
	list := &EntityList{ProjectID: project.ID, Name: "trees"}
	require.NoError(t, f.repo.CreateEntityList(ctx, list))

	require.NoError(t, f.svc.ShareProject(ctx, project.ID, rbac.User(bob), rbac.RoleManager))

	user := rbac.User(bob)
	f.requireRole(t, rbac.RoleManager, user, project.Resource())
	f.requireRole(t, rbac.RoleManager, user, form.Resource())
	f.requireRole(t, rbac.RoleManager, user, merged.Resource())
	f.requireRole(t, rbac.RoleManager, user, merged.MergedResource())
	f.requireRole(t, rbac.RoleManager, user, list.Resource())
	f.requireNoPermissions(t, user, form.MergedResource())

	// Read only declares nothing on entity lists, so the manager grant is cleared.
	require.NoError(t, f.svc.ShareProject(ctx, project.ID, user, rbac.RoleReadOnly))
	f.requireRole(t, rbac.RoleReadOnly, user, project.Resource())
	f.requireRole(t, rbac.RoleReadOnly, user, merged.MergedResource())
	f.requireNoPermissions(t, user, list.Resource())

	require.NoError(t, f.svc.UnshareProject(ctx, project.ID, user))
	for _, r := range []rbac.Resource{project.Resource(), form.Resource(), merged.Resource(), merged.MergedResource(), list.Resource()} {
		f.requireNoPermissions(t, user, r)
	}
}

func TestShareProject_MetaPermissions(t *testing.T) {
	meta := &MetaPerms{
		Editor:    rbac.RoleEditorMinor,
		DataEntry: rbac.RoleDataEntryOnly,
		ReadOnly:  rbac.RoleReadOnlyNoDownload,
	}
	tests := []struct {
		projectRole rbac.RoleName
		formRole    rbac.RoleName
	}{
		{rbac.RoleEditor, rbac.RoleEditorMinor},
		{rbac.RoleEditorMinor, rbac.RoleEditorMinor},
		{rbac.RoleDataEntry, rbac.RoleDataEntryOnly},
		{rbac.RoleDataEntryMinor, rbac.RoleDataEntryOnly},
		{rbac.RoleReadOnly, rbac.RoleReadOnlyNoDownload},
		{rbac.RoleManager, rbac.RoleManager},
		{rbac.RoleOwner, rbac.RoleOwner},
	}

	for _, tt := range tests {
		t.Run(string(tt.projectRole), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			org := f.organization(t, "denoinc", alice)
			project := f.project(t, org, "P1", alice)
			form := f.form(t, project, "F1", meta, false)
			plain := f.form(t, project, "F2", nil, false)

			require.NoError(t, f.svc.ShareProject(ctx, project.ID, rbac.User(bob), tt.projectRole))

			f.requireRole(t, tt.projectRole, rbac.User(bob), project.Resource())
			f.requireRole(t, tt.formRole, rbac.User(bob), form.Resource())
			f.requireRole(t, tt.projectRole, rbac.User(bob), plain.Resource())
		})
	}
}

func TestShareProject_InvalidMetaPermissions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	org := f.organization(t, "denoinc", alice)
	project := f.project(t, org, "P1", alice)
	f.form(t, project, "F1", &MetaPerms{Editor: "superuser"}, false)
	before := f.store.Snapshot()

	err := f.svc.ShareProject(ctx, project.ID, rbac.User(bob), rbac.RoleEditor)
	require.Error(t, err)
	assert.True(t, rbac.IsUnknownRole(err))
	assert.Equal(t, before, f.store.Snapshot())
}

func TestShareProject_OrganizationAccount(t *testing.T) {
	f := newFixture(t)
	org := f.organization(t, "denoinc", alice)
	project := f.project(t, org, "P1", alice)

	err := f.svc.ShareProject(context.Background(), project.ID, rbac.User(accountID), rbac.RoleEditor)
	assert.ErrorIs(t, err, ErrShareWithOrganizationAccount)
}

func TestUnshareProject_OwnerFloor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	org := f.organization(t, "denoinc", alice)
	project := f.project(t, org, "P1", alice)
	f.form(t, project, "F1", nil, false)

	require.NoError(t, f.svc.ShareProject(ctx, project.ID, rbac.User(alice), rbac.RoleOwner))
	before := f.store.Snapshot()

	err := f.svc.UnshareProject(ctx, project.ID, rbac.User(alice))
	assert.ErrorIs(t, err, ErrProjectWithoutOwner)
	assert.Equal(t, before, f.store.Snapshot())
	assert.Equal(t, []string{OpUnshareProject}, f.recorder.rejections)

	require.NoError(t, f.svc.ShareProject(ctx, project.ID, rbac.User(bob), rbac.RoleOwner))
	require.NoError(t, f.svc.UnshareProject(ctx, project.ID, rbac.User(alice)))
	f.requireNoPermissions(t, rbac.User(alice), project.Resource())

	// Principals below owner can always be removed.
	require.NoError(t, f.svc.ShareProject(ctx, project.ID, rbac.User(samID), rbac.RoleReadOnly))
	require.NoError(t, f.svc.UnshareProject(ctx, project.ID, rbac.User(samID)))
}

func TestPlan_PartialApply(t *testing.T) {
	ctx := context.Background()
	memory := rbac.NewMemoryStore()
	f := newFixtureWithStore(t, memory, &failingStore{MemoryStore: memory, failOn: rbac.ResourceXForm})
	org := f.organization(t, "denoinc", alice)
	project := f.project(t, org, "P1", alice)
	form := f.form(t, project, "F1", nil, false)
	f.form(t, project, "F2", nil, false)

	plan, err := f.svc.PlanShareProject(ctx, project.ID, rbac.User(bob), rbac.RoleEditor)
	require.NoError(t, err)
	require.Equal(t, 3, plan.Len())
	assert.Equal(t, StepAssignRole, plan.Steps[0].Kind)
	assert.Equal(t, project.Resource(), plan.Steps[0].Resource)

	err = plan.Apply(ctx)
	require.Error(t, err)
	partial, ok := AsPartialApply(err)
	require.True(t, ok)
	assert.Equal(t, plan.ID, partial.PlanID)
	assert.Equal(t, 1, partial.Applied)
	assert.Equal(t, form.Resource(), partial.Step.Resource)

	// The project step stays applied.
	f.requireRole(t, rbac.RoleEditor, rbac.User(bob), project.Resource())
	f.requireNoPermissions(t, rbac.User(bob), form.Resource())

	last := f.recorder.plans[len(f.recorder.plans)-1]
	assert.Equal(t, OpShareProject, last.operation)
	assert.Equal(t, 1, last.applied)
	assert.Error(t, last.err)
}

func TestShareProject_AuditsPartialApply(t *testing.T) {
	ctx := context.Background()
	memory := rbac.NewMemoryStore()
	f := newFixtureWithStore(t, memory, &failingStore{MemoryStore: memory, failOn: rbac.ResourceXForm})
	org := f.organization(t, "denoinc", alice)
	project := f.project(t, org, "P1", alice)
	f.form(t, project, "F1", nil, false)

	err := f.svc.ShareProject(ctx, project.ID, rbac.User(bob), rbac.RoleEditor)
	require.Error(t, err)

	event := f.audit.last()
	require.NotNil(t, event)
	assert.Equal(t, audit.EventTypeProjectShare, event.EventType)
	assert.Equal(t, audit.EventStatusFailure, event.Status)
	assert.Equal(t, 2, event.StepsPlanned)
	assert.Equal(t, 1, event.StepsApplied)
	assert.Equal(t, "user:903", event.Principal)
	assert.NotEmpty(t, event.ErrorMessage)
}

func TestTeamMediatedAccess(t *testing.T) {
	ctx := context.Background()
	users := &fakeUserCache{}
	f := newFixture(t, WithUserInvalidators(users))
	org := f.organization(t, "denoinc", alice)
	p2 := f.project(t, org, "P2", alice)

	team := &Team{OrganizationID: org.ID, Name: "managers"}
	require.NoError(t, f.repo.CreateTeam(ctx, team))
	require.NoError(t, f.svc.AddTeamToProject(ctx, team.ID, p2.ID))
	require.NoError(t, f.svc.ShareTeamOnProject(ctx, team.ID, p2.ID, rbac.RoleDataEntry))

	role, ok, err := f.svc.TeamProjectRole(ctx, team.ID, p2.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, rbac.RoleDataEntry, role)

	checker := rbac.NewPermissionChecker(f.store, f.repo, 0, 0)

	require.NoError(t, f.svc.AddUserToTeam(ctx, team.ID, samID))
	canView, err := checker.HasPerm(ctx, samID, rbac.PermViewProject, p2.Resource())
	require.NoError(t, err)
	assert.True(t, canView)
	canAdd, err := checker.HasPerm(ctx, samID, rbac.PermAddProjectXForm, p2.Resource())
	require.NoError(t, err)
	assert.False(t, canAdd)

	require.NoError(t, f.svc.RemoveUserFromTeam(ctx, team.ID, samID))
	canView, err = checker.HasPerm(ctx, samID, rbac.PermViewProject, p2.Resource())
	require.NoError(t, err)
	assert.False(t, canView)
	canAdd, err = checker.HasPerm(ctx, samID, rbac.PermAddProjectXForm, p2.Resource())
	require.NoError(t, err)
	assert.False(t, canAdd)

	assert.Equal(t, []int64{alice, samID, samID}, users.users)

	linked, err := f.repo.TeamProjects(ctx, team.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{p2.ID}, linked)
}

func TestUnshareTeamFromProject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	org := f.organization(t, "denoinc", alice)
	project := f.project(t, org, "P1", alice)
	form := f.form(t, project, "F1", nil, false)

	team := &Team{OrganizationID: org.ID, Name: "field"}
	require.NoError(t, f.repo.CreateTeam(ctx, team))
	require.NoError(t, f.svc.ShareTeamOnProject(ctx, team.ID, project.ID, rbac.RoleEditor))
	f.requireRole(t, rbac.RoleEditor, team.Principal(), form.Resource())

	require.NoError(t, f.svc.UnshareTeamFromProject(ctx, team.ID, project.ID))
	f.requireNoPermissions(t, team.Principal(), project.Resource())
	f.requireNoPermissions(t, team.Principal(), form.Resource())

	_, ok, err := f.svc.TeamProjectRole(ctx, team.ID, project.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApplyProjectPermissionsToForm(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	org := f.organization(t, "denoinc", alice)
	project := f.project(t, org, "P1", alice)

	require.NoError(t, f.svc.ShareProject(ctx, project.ID, rbac.User(bob), rbac.RoleReadOnly))

	form := f.form(t, project, "F1", nil, false)
	require.NoError(t, f.assigner.Add(ctx, rbac.RoleOwner, rbac.User(accountID), form.Resource()))
	require.NoError(t, f.assigner.Add(ctx, rbac.RoleEditor, rbac.User(samID), form.Resource()))

	require.NoError(t, f.svc.ApplyProjectPermissionsToForm(ctx, form.ID))

	f.requireRole(t, rbac.RoleReadOnly, rbac.User(bob), form.Resource())
	f.requireRole(t, rbac.RoleOwner, rbac.User(accountID), form.Resource())
	f.requireNoPermissions(t, rbac.User(samID), form.Resource())
}

func TestResourcesOf(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	org := f.organization(t, "denoinc", alice)
	project := f.project(t, org, "P1", alice)
	form := f.form(t, project, "F1", nil, false)
	merged := f.form(t, project, "M1", nil, true)
	list := &EntityList{ProjectID: project.ID, Name: "trees"}
	require.NoError(t, f.repo.CreateEntityList(ctx, list))

	resources, err := f.svc.ResourcesOf(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, []rbac.Resource{
		org.Resource(),
		org.ProfileResource(),
		project.Resource(),
		form.Resource(),
		merged.Resource(),
		merged.MergedResource(),
		list.Resource(),
	}, resources)
}

func TestPlan_ReadsWithoutMutating(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	org := f.organization(t, "denoinc", alice)
	project := f.project(t, org, "P1", alice)
	f.form(t, project, "F1", nil, false)
	before := f.store.Snapshot()

	plan, err := f.svc.PlanAssignOrganizationRole(ctx, org.ID, bob, rbac.RoleOwner)
	require.NoError(t, err)
	assert.Equal(t, before, f.store.Snapshot())

	_, err = f.repo.TeamByName(ctx, org.ID, org.MembersTeamName())
	assert.ErrorIs(t, err, rbac.ErrPrincipalNotFound, "planning does not create the members team")

	kinds := make([]StepKind, 0, plan.Len())
	for _, step := range plan.Steps {
		kinds = append(kinds, step.Kind)
	}
	assert.Equal(t, []StepKind{
		StepCreateTeam, StepJoinTeam, StepAssignRole, StepAssignRole, StepJoinTeam, StepAssignRole, StepAssignRole,
	}, kinds)
	assert.Equal(t, "create team denoinc#members", plan.Steps[0].String())
	assert.Equal(t, "add user:903 to team denoinc#members", plan.Steps[1].String())
	assert.Equal(t, "assign owner to user:903 on project:"+strconv.FormatInt(project.ID, 10), plan.Steps[5].String())

	require.NoError(t, plan.Apply(ctx))
	assert.Equal(t, []int64{accountID, bob}, f.members(t, org, org.MembersTeamName()))
	assert.Contains(t, f.members(t, org, org.OwnersTeamName()), int64(bob))
}

func TestPlanAddUserToOrganization_ExistingMembersTeam(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	org := f.organization(t, "denoinc", alice)
	members, err := f.repo.MembersTeam(ctx, org)
	require.NoError(t, err)

	plan, err := f.svc.PlanAddUserToOrganization(ctx, org.ID, bob)
	require.NoError(t, err)
	require.Equal(t, 1, plan.Len())
	assert.Equal(t, Step{Kind: StepJoinTeam, TeamID: members.ID, TeamName: org.MembersTeamName(), UserID: bob}, plan.Steps[0])
}

func TestMemberRoleIsNotAssignable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	org := f.organization(t, "denoinc", alice)
	project := f.project(t, org, "P1", alice)
	form := f.form(t, project, "F1", nil, false)
	require.NoError(t, f.svc.ShareProject(ctx, project.ID, rbac.User(alice), rbac.RoleOwner))
	members, err := f.repo.MembersTeam(ctx, org)
	require.NoError(t, err)
	before := f.store.Snapshot()

	err = f.svc.ShareProject(ctx, project.ID, rbac.User(alice), rbac.RoleMember)
	assert.True(t, rbac.IsUnknownRole(err), "share: %v", err)

	err = f.svc.ShareTeamOnProject(ctx, members.ID, project.ID, rbac.RoleMember)
	assert.True(t, rbac.IsUnknownRole(err), "team share: %v", err)

	err = f.svc.AssignOrganizationRole(ctx, org.ID, bob, rbac.RoleMember)
	assert.True(t, rbac.IsUnknownRole(err), "org role: %v", err)

	assert.Equal(t, before, f.store.Snapshot())
	f.requireRole(t, rbac.RoleOwner, rbac.User(alice), project.Resource())
	f.requireRole(t, rbac.RoleOwner, rbac.User(alice), form.Resource())
}

func TestOwnerFloor_PlanningAuditsDenial(t *testing.T) {
	tests := []struct {
		name      string
		eventType audit.EventType
		plan      func(ctx context.Context, f *fixture, org *Organization, project *Project) error
		want      error
	}{
		{
			name:      "assign role",
			eventType: audit.EventTypeOrgMemberRoleChange,
			plan: func(ctx context.Context, f *fixture, org *Organization, project *Project) error {
				_, err := f.svc.PlanAssignOrganizationRole(ctx, org.ID, alice, rbac.RoleEditor)
				return err
			},
			want: ErrOrganizationWithoutOwner,
		},
		{
			name:      "remove member",
			eventType: audit.EventTypeOrgMemberRemove,
			plan: func(ctx context.Context, f *fixture, org *Organization, project *Project) error {
				_, err := f.svc.PlanRemoveMember(ctx, org.ID, alice)
				return err
			},
			want: ErrOrganizationWithoutOwner,
		},
		{
			name:      "unshare project",
			eventType: audit.EventTypeProjectUnshare,
			plan: func(ctx context.Context, f *fixture, org *Organization, project *Project) error {
				_, err := f.svc.PlanUnshareProject(ctx, project.ID, rbac.User(alice))
				return err
			},
			want: ErrProjectWithoutOwner,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			org := f.organization(t, "denoinc", alice)
			project := f.project(t, org, "P1", alice)
			require.NoError(t, f.svc.ShareProject(ctx, project.ID, rbac.User(alice), rbac.RoleOwner))

			err := tt.plan(ctx, f, org, project)
			assert.ErrorIs(t, err, tt.want)

			event := f.audit.last()
			require.NotNil(t, event)
			assert.Equal(t, tt.eventType, event.EventType)
			assert.Equal(t, audit.EventStatusDenied, event.Status)
			assert.Equal(t, "user:902", event.Principal)
			require.NotNil(t, event.OrganizationID)
			assert.Equal(t, org.ID, *event.OrganizationID)
		})
	}
}

func TestPlan_Unbound(t *testing.T) {
	err := (&Plan{}).Apply(context.Background())
	assert.Error(t, err)
}
