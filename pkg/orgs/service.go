package orgs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/platinummonkey/fieldperm/pkg/audit"
	"github.com/platinummonkey/fieldperm/pkg/rbac"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/platinummonkey/fieldperm/pkg/orgs"

// Operation names carried by plans, audit events and metrics
const (
	OpCreateOrganization     = "create_organization"
	OpAddUserToOrganization  = "add_user_to_organization"
	OpAssignOrganizationRole = "assign_organization_role"
	OpRemoveMember           = "remove_member"
	OpShareProject           = "share_project"
	OpUnshareProject         = "unshare_project"
	OpShareTeamOnProject     = "share_team_on_project"
	OpUnshareTeamFromProject = "unshare_team_from_project"
	OpAddTeamToProject       = "add_team_to_project"
	OpAddUserToTeam          = "add_user_to_team"
	OpRemoveUserFromTeam     = "remove_user_from_team"
	OpApplyProjectToForm     = "apply_project_permissions_to_form"
)

// ErrShareWithOrganizationAccount is returned when a project is shared with
// the account of the organization that owns it
var ErrShareWithOrganizationAccount = errors.New("cannot share project with its owning organization")

// Recorder receives measurements for propagating operations
type Recorder interface {
	RecordPlan(operation string, applied int, err error)
	RecordOwnerFloorRejection(operation string)
}

// UserInvalidator drops cached permission state for a user whose team
// memberships changed
type UserInvalidator interface {
	InvalidateUser(userID int64)
}

// Service propagates organization, team and project role changes down
// the hierarchy
type Service struct {
	assigner   *rbac.Assigner
	registry   *rbac.Registry
	store      rbac.PermissionStore
	directory  Directory
	teams      Teams
	logger     *logrus.Logger
	audit      audit.Logger
	recorder   Recorder
	userCaches []UserInvalidator
	tracer     trace.Tracer
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAuditLogger sets the audit logger
func WithAuditLogger(logger audit.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.audit = logger
		}
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder(recorder Recorder) Option {
	return func(s *Service) {
		s.recorder = recorder
	}
}

// WithUserInvalidators registers caches to purge after team membership changes
func WithUserInvalidators(caches ...UserInvalidator) Option {
	return func(s *Service) {
		s.userCaches = append(s.userCaches, caches...)
	}
}

// NewService creates a new organization service
func NewService(assigner *rbac.Assigner, directory Directory, teams Teams, opts ...Option) *Service {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	s := &Service{
		assigner:  assigner,
		registry:  assigner.Registry(),
		store:     assigner.Store(),
		directory: directory,
		teams:     teams,
		logger:    discard,
		audit:     audit.Discard(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Directory returns the resource directory
func (s *Service) Directory() Directory {
	return s.directory
}

// Teams returns the team repository
func (s *Service) Teams() Teams {
	return s.teams
}

// CreateOrganization stores org, creates its owners team with the creator in
// it, and gives the owner role on the organization and its profile to the
// owners team, the organization account and the creator
func (s *Service) CreateOrganization(ctx context.Context, org *Organization) error {
	if err := s.directory.CreateOrganization(ctx, org); err != nil {
		return err
	}

	owners, err := s.teams.OwnersTeam(ctx, org)
	if err != nil {
		return err
	}

	plan := s.newPlan(OpCreateOrganization, org.ID, rbac.User(org.CreatorID), rbac.RoleOwner)
	plan.add(
		Step{Kind: StepJoinTeam, TeamID: owners.ID, UserID: org.CreatorID},
		Step{Kind: StepAssignRole, Role: rbac.RoleOwner, Principal: owners.Principal(), Resource: org.Resource()},
	)
	for _, user := range uniqueIDs(org.AccountID, org.CreatorID) {
		plan.add(
			Step{Kind: StepAssignRole, Role: rbac.RoleOwner, Principal: rbac.User(user), Resource: org.Resource()},
			Step{Kind: StepAssignRole, Role: rbac.RoleOwner, Principal: rbac.User(user), Resource: org.ProfileResource()},
		)
	}

	return s.run(ctx, plan, audit.EventTypeOrgCreate, org.Resource())
}

// PlanAddUserToOrganization plans a plain join: membership in the members
// team and no object permissions
func (s *Service) PlanAddUserToOrganization(ctx context.Context, orgID, userID int64) (*Plan, error) {
	org, err := s.directory.Organization(ctx, orgID)
	if err != nil {
		return nil, err
	}

	plan := s.newPlan(OpAddUserToOrganization, org.ID, rbac.User(userID), rbac.RoleMember)
	members, err := s.planTeam(ctx, plan, org, org.MembersTeamName())
	if err != nil {
		return nil, err
	}
	plan.add(members.joinStep(userID))
	return plan, nil
}

// AddUserToOrganization makes userID a member of the organization
func (s *Service) AddUserToOrganization(ctx context.Context, orgID, userID int64) error {
	plan, err := s.PlanAddUserToOrganization(ctx, orgID, userID)
	if err != nil {
		return err
	}
	return s.run(ctx, plan, audit.EventTypeOrgMemberAdd, rbac.Resource{Type: rbac.ResourceOrganization, ID: orgID})
}

// PlanAssignOrganizationRole plans joining the organization with the named role.
//
// Owners get the owner role on the organization and its profile, join the
// owners team and become owner of every project with its forms, merged forms
// and entity lists. Any other role is granted on the organization, the user
// leaves the owners team and loses profile permissions, and each project is
// re-shared: manager on projects the user created when the role is manager,
// otherwise the members team's role on that project if it has one. Project
// grants from an earlier owner role are left alone.
func (s *Service) PlanAssignOrganizationRole(ctx context.Context, orgID, userID int64, roleName rbac.RoleName) (*Plan, error) {
	role, err := s.registry.LookupAssignable(string(roleName))
	if err != nil {
		return nil, err
	}
	org, err := s.directory.Organization(ctx, orgID)
	if err != nil {
		return nil, err
	}

	if role.Name != rbac.RoleOwner {
		if err := s.checkOwnerFloor(ctx, org, userID, OpAssignOrganizationRole); err != nil {
			s.auditRejection(ctx, err, audit.EventTypeOrgMemberRoleChange, org.ID, rbac.User(userID), role.Name)
			return nil, err
		}
	}

	projects, err := s.directory.ProjectsOf(ctx, org.ID)
	if err != nil {
		return nil, err
	}

	user := rbac.User(userID)
	plan := s.newPlan(OpAssignOrganizationRole, org.ID, user, role.Name)
	members, err := s.planTeam(ctx, plan, org, org.MembersTeamName())
	if err != nil {
		return nil, err
	}
	plan.add(
		members.joinStep(userID),
		Step{Kind: StepAssignRole, Role: role.Name, Principal: user, Resource: org.Resource()},
	)

	if role.Name == rbac.RoleOwner {
		plan.add(Step{Kind: StepAssignRole, Role: rbac.RoleOwner, Principal: user, Resource: org.ProfileResource()})
		owners, err := s.planTeam(ctx, plan, org, org.OwnersTeamName())
		if err != nil {
			return nil, err
		}
		plan.add(owners.joinStep(userID))
		for _, project := range projects {
			steps, err := s.shareSteps(ctx, project, user, rbac.RoleOwner)
			if err != nil {
				return nil, err
			}
			plan.add(steps...)
		}
		return plan, nil
	}

	owners, err := s.lookupTeam(ctx, org.ID, org.OwnersTeamName())
	if err != nil {
		return nil, err
	}
	if owners != nil {
		plan.add(Step{Kind: StepLeaveTeam, TeamID: owners.ID, UserID: userID})
	}
	plan.add(Step{Kind: StepRemovePermissions, Principal: user, Resource: org.ProfileResource()})
	for _, project := range projects {
		projectRole := rbac.RoleMember
		if role.Name == rbac.RoleManager && project.CreatedBy == userID {
			projectRole = rbac.RoleManager
		} else if members.ID != 0 {
			projectRole, err = s.roleOn(ctx, members.Principal(), project.Resource())
			if err != nil {
				return nil, err
			}
		}
		if projectRole == rbac.RoleMember {
			continue
		}
		steps, err := s.shareSteps(ctx, project, user, projectRole)
		if err != nil {
			return nil, err
		}
		plan.add(steps...)
	}
	return plan, nil
}

// AssignOrganizationRole adds userID to the organization with the named role
func (s *Service) AssignOrganizationRole(ctx context.Context, orgID, userID int64, role rbac.RoleName) error {
	plan, err := s.PlanAssignOrganizationRole(ctx, orgID, userID, role)
	if err != nil {
		return err
	}
	return s.run(ctx, plan, audit.EventTypeOrgMemberRoleChange, rbac.Resource{Type: rbac.ResourceOrganization, ID: orgID})
}

// PlanRemoveMember plans revoking the user's organization and profile
// permissions and removing them from the members and owners teams.
// Project and form grants made by earlier shares stay in place.
func (s *Service) PlanRemoveMember(ctx context.Context, orgID, userID int64) (*Plan, error) {
	org, err := s.directory.Organization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwnerFloor(ctx, org, userID, OpRemoveMember); err != nil {
		s.auditRejection(ctx, err, audit.EventTypeOrgMemberRemove, org.ID, rbac.User(userID), "")
		return nil, err
	}

	user := rbac.User(userID)
	plan := s.newPlan(OpRemoveMember, org.ID, user, rbac.RoleMember)
	plan.add(
		Step{Kind: StepRemovePermissions, Principal: user, Resource: org.Resource()},
		Step{Kind: StepRemovePermissions, Principal: user, Resource: org.ProfileResource()},
	)
	for _, name := range []string{org.MembersTeamName(), org.OwnersTeamName()} {
		team, err := s.lookupTeam(ctx, org.ID, name)
		if err != nil {
			return nil, err
		}
		if team != nil {
			plan.add(Step{Kind: StepLeaveTeam, TeamID: team.ID, UserID: userID})
		}
	}
	return plan, nil
}

// RemoveMember removes userID from the organization
func (s *Service) RemoveMember(ctx context.Context, orgID, userID int64) error {
	plan, err := s.PlanRemoveMember(ctx, orgID, userID)
	if err != nil {
		return err
	}
	return s.run(ctx, plan, audit.EventTypeOrgMemberRemove, rbac.Resource{Type: rbac.ResourceOrganization, ID: orgID})
}

// RoleInOrganization returns owner for owners team members, otherwise the
// role inferred from the user's grants on the organization
func (s *Service) RoleInOrganization(ctx context.Context, orgID, userID int64) (rbac.RoleName, error) {
	org, err := s.directory.Organization(ctx, orgID)
	if err != nil {
		return "", err
	}
	return s.roleInOrganization(ctx, org, userID)
}

func (s *Service) roleInOrganization(ctx context.Context, org *Organization, userID int64) (rbac.RoleName, error) {
	owners, err := s.lookupTeam(ctx, org.ID, org.OwnersTeamName())
	if err != nil {
		return "", err
	}
	if owners != nil {
		isOwner, err := s.teams.IsMember(ctx, owners.ID, userID)
		if err != nil {
			return "", err
		}
		if isOwner {
			return rbac.RoleOwner, nil
		}
	}

	perms, err := s.store.PermissionsOf(ctx, rbac.User(userID), org.Resource())
	if err != nil {
		return "", fmt.Errorf("failed to read organization permissions: %w", err)
	}
	return s.registry.RoleInOrganization(perms), nil
}

// Owners lists the users in the organization's owners team, excluding the
// organization's own account
func (s *Service) Owners(ctx context.Context, orgID int64) ([]int64, error) {
	org, err := s.directory.Organization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return s.owners(ctx, org)
}

func (s *Service) owners(ctx context.Context, org *Organization) ([]int64, error) {
	team, err := s.lookupTeam(ctx, org.ID, org.OwnersTeamName())
	if err != nil || team == nil {
		return nil, err
	}
	members, err := s.teams.Members(ctx, team.ID)
	if err != nil {
		return nil, err
	}

	owners := make([]int64, 0, len(members))
	for _, id := range members {
		if id != org.AccountID {
			owners = append(owners, id)
		}
	}
	return owners, nil
}

func (s *Service) checkOwnerFloor(ctx context.Context, org *Organization, userID int64, operation string) error {
	owners, err := s.owners(ctx, org)
	if err != nil {
		return err
	}
	if len(owners) > 1 {
		return nil
	}
	for _, id := range owners {
		if id == userID {
			if s.recorder != nil {
				s.recorder.RecordOwnerFloorRejection(operation)
			}
			return ErrOrganizationWithoutOwner
		}
	}
	return nil
}

// PlanShareProject plans giving principal the named role on the project,
// its forms, merged forms and entity lists
func (s *Service) PlanShareProject(ctx context.Context, projectID int64, principal rbac.Principal, roleName rbac.RoleName) (*Plan, error) {
	role, err := s.registry.LookupAssignable(string(roleName))
	if err != nil {
		return nil, err
	}
	project, err := s.directory.Project(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if principal.Kind == rbac.PrincipalUser {
		org, err := s.directory.Organization(ctx, project.OrganizationID)
		if err != nil {
			return nil, err
		}
		if principal.ID == org.AccountID {
			return nil, ErrShareWithOrganizationAccount
		}
	}

	plan := s.newPlan(OpShareProject, project.OrganizationID, principal, role.Name)
	steps, err := s.shareSteps(ctx, project, principal, role.Name)
	if err != nil {
		return nil, err
	}
	plan.add(steps...)
	return plan, nil
}

// ShareProject gives principal the named role on the project and everything under it
func (s *Service) ShareProject(ctx context.Context, projectID int64, principal rbac.Principal, role rbac.RoleName) error {
	plan, err := s.PlanShareProject(ctx, projectID, principal, role)
	if err != nil {
		return err
	}
	return s.run(ctx, plan, audit.EventTypeProjectShare, rbac.Resource{Type: rbac.ResourceProject, ID: projectID})
}

// PlanUnshareProject plans removing every permission principal holds on the
// project's forms, merged forms, entity lists and the project itself.
// Removing the last owner of a project fails with ErrProjectWithoutOwner and
// is audited as a denial.
func (s *Service) PlanUnshareProject(ctx context.Context, projectID int64, principal rbac.Principal) (*Plan, error) {
	project, err := s.directory.Project(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := s.checkProjectOwnerFloor(ctx, project, principal); err != nil {
		s.auditRejection(ctx, err, audit.EventTypeProjectUnshare, project.OrganizationID, principal, "")
		return nil, err
	}

	plan := s.newPlan(OpUnshareProject, project.OrganizationID, principal, rbac.RoleMember)
	steps, err := s.unshareSteps(ctx, project, principal)
	if err != nil {
		return nil, err
	}
	plan.add(steps...)
	return plan, nil
}

// UnshareProject removes principal's access to the project and everything under it
func (s *Service) UnshareProject(ctx context.Context, projectID int64, principal rbac.Principal) error {
	plan, err := s.PlanUnshareProject(ctx, projectID, principal)
	if err != nil {
		return err
	}
	return s.run(ctx, plan, audit.EventTypeProjectUnshare, rbac.Resource{Type: rbac.ResourceProject, ID: projectID})
}

func (s *Service) checkProjectOwnerFloor(ctx context.Context, project *Project, principal rbac.Principal) error {
	resource := project.Resource()
	holders, err := s.store.PrincipalsWithPermissions(ctx, resource)
	if err != nil {
		return fmt.Errorf("failed to list project permissions: %w", err)
	}

	var owners int
	var removingOwner bool
	for _, h := range holders {
		if s.registry.InferRole(h.Permissions, resource.Type) != rbac.RoleOwner {
			continue
		}
		owners++
		if h.Principal == principal {
			removingOwner = true
		}
	}
	if removingOwner && owners <= 1 {
		if s.recorder != nil {
			s.recorder.RecordOwnerFloorRejection(OpUnshareProject)
		}
		return ErrProjectWithoutOwner
	}
	return nil
}

// PlanShareTeamOnProject plans giving a team the named role on a project,
// exactly as ShareProject does for a user
func (s *Service) PlanShareTeamOnProject(ctx context.Context, teamID, projectID int64, roleName rbac.RoleName) (*Plan, error) {
	role, err := s.registry.LookupAssignable(string(roleName))
	if err != nil {
		return nil, err
	}
	team, project, err := s.teamAndProject(ctx, teamID, projectID)
	if err != nil {
		return nil, err
	}

	plan := s.newPlan(OpShareTeamOnProject, project.OrganizationID, team.Principal(), role.Name)
	steps, err := s.shareSteps(ctx, project, team.Principal(), role.Name)
	if err != nil {
		return nil, err
	}
	plan.add(steps...)
	return plan, nil
}

// ShareTeamOnProject sets a team's role on a project and everything under it
func (s *Service) ShareTeamOnProject(ctx context.Context, teamID, projectID int64, role rbac.RoleName) error {
	plan, err := s.PlanShareTeamOnProject(ctx, teamID, projectID, role)
	if err != nil {
		return err
	}
	return s.run(ctx, plan, audit.EventTypeTeamProjectShare, rbac.Resource{Type: rbac.ResourceProject, ID: projectID})
}

// UnshareTeamFromProject removes every permission the team holds on the
// project and everything under it
func (s *Service) UnshareTeamFromProject(ctx context.Context, teamID, projectID int64) error {
	team, project, err := s.teamAndProject(ctx, teamID, projectID)
	if err != nil {
		return err
	}

	plan := s.newPlan(OpUnshareTeamFromProject, project.OrganizationID, team.Principal(), rbac.RoleMember)
	steps, err := s.unshareSteps(ctx, project, team.Principal())
	if err != nil {
		return err
	}
	plan.add(steps...)
	return s.run(ctx, plan, audit.EventTypeTeamProjectUnshare, project.Resource())
}

// TeamProjectRole infers the team's role on a project. It reports false
// when the team holds no role there.
func (s *Service) TeamProjectRole(ctx context.Context, teamID, projectID int64) (rbac.RoleName, bool, error) {
	team, project, err := s.teamAndProject(ctx, teamID, projectID)
	if err != nil {
		return "", false, err
	}
	role, err := s.roleOn(ctx, team.Principal(), project.Resource())
	if err != nil {
		return "", false, err
	}
	return role, role != rbac.RoleMember, nil
}

// AddTeamToProject links a team to a project without granting anything
func (s *Service) AddTeamToProject(ctx context.Context, teamID, projectID int64) error {
	team, project, err := s.teamAndProject(ctx, teamID, projectID)
	if err != nil {
		return err
	}

	plan := s.newPlan(OpAddTeamToProject, project.OrganizationID, team.Principal(), rbac.RoleMember)
	plan.add(Step{Kind: StepLinkTeamProject, TeamID: team.ID, ProjectID: project.ID})
	return s.run(ctx, plan, audit.EventTypeTeamProjectLink, project.Resource())
}

// AddUserToTeam adds a user to a team. Access mediated by the team's grants
// applies from the next permission check.
func (s *Service) AddUserToTeam(ctx context.Context, teamID, userID int64) error {
	team, err := s.teams.Team(ctx, teamID)
	if err != nil {
		return err
	}

	plan := s.newPlan(OpAddUserToTeam, team.OrganizationID, rbac.User(userID), rbac.RoleMember)
	plan.add(Step{Kind: StepJoinTeam, TeamID: team.ID, UserID: userID})
	return s.run(ctx, plan, audit.EventTypeTeamMemberAdd, rbac.Resource{Type: rbac.ResourceOrganization, ID: team.OrganizationID})
}

// RemoveUserFromTeam removes a user from a team, dropping only the access
// the team's grants gave them. Leaving an owners team is subject to the
// organization owner floor.
func (s *Service) RemoveUserFromTeam(ctx context.Context, teamID, userID int64) error {
	team, err := s.teams.Team(ctx, teamID)
	if err != nil {
		return err
	}
	org, err := s.directory.Organization(ctx, team.OrganizationID)
	if err != nil {
		return err
	}
	if team.Name == org.OwnersTeamName() {
		if err := s.checkOwnerFloor(ctx, org, userID, OpRemoveUserFromTeam); err != nil {
			s.auditRejection(ctx, err, audit.EventTypeTeamMemberRemove, org.ID, rbac.User(userID), "")
			return err
		}
	}

	plan := s.newPlan(OpRemoveUserFromTeam, org.ID, rbac.User(userID), rbac.RoleMember)
	plan.add(Step{Kind: StepLeaveTeam, TeamID: team.ID, UserID: userID})
	return s.run(ctx, plan, audit.EventTypeTeamMemberRemove, org.Resource())
}

// PlanApplyProjectPermissionsToForm plans giving a newly published or moved
// form the roles principals hold on its project. Existing form grants are
// cleared first, except those of the form owner, the organization account and
// the project creator.
func (s *Service) PlanApplyProjectPermissionsToForm(ctx context.Context, formID int64) (*Plan, error) {
	form, err := s.directory.XForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	project, err := s.directory.Project(ctx, form.ProjectID)
	if err != nil {
		return nil, err
	}
	org, err := s.directory.Organization(ctx, project.OrganizationID)
	if err != nil {
		return nil, err
	}

	plan := s.newPlan(OpApplyProjectToForm, org.ID, rbac.Principal{}, rbac.RoleMember)

	keep := map[rbac.Principal]bool{
		rbac.User(form.OwnerID):      true,
		rbac.User(org.AccountID):     true,
		rbac.User(project.CreatedBy): true,
	}
	formHolders, err := s.store.PrincipalsWithPermissions(ctx, form.Resource())
	if err != nil {
		return nil, fmt.Errorf("failed to list form permissions: %w", err)
	}
	for _, h := range formHolders {
		if !keep[h.Principal] {
			plan.add(Step{Kind: StepRemovePermissions, Principal: h.Principal, Resource: form.Resource()})
		}
	}

	projectHolders, err := s.store.PrincipalsWithPermissions(ctx, project.Resource())
	if err != nil {
		return nil, fmt.Errorf("failed to list project permissions: %w", err)
	}
	for _, h := range projectHolders {
		role := s.registry.InferRole(h.Permissions, rbac.ResourceProject)
		if role == rbac.RoleMember {
			continue
		}
		steps, err := s.formSteps(form, h.Principal, role)
		if err != nil {
			return nil, err
		}
		plan.add(steps...)
	}
	return plan, nil
}

// ApplyProjectPermissionsToForm copies project roles onto a form
func (s *Service) ApplyProjectPermissionsToForm(ctx context.Context, formID int64) error {
	plan, err := s.PlanApplyProjectPermissionsToForm(ctx, formID)
	if err != nil {
		return err
	}
	return s.run(ctx, plan, audit.EventTypeFormInherit, rbac.Resource{Type: rbac.ResourceXForm, ID: formID})
}

// ResourcesOf lists every permission target in the organization: the
// organization, its profile, projects, forms, merged forms and entity lists
func (s *Service) ResourcesOf(ctx context.Context, orgID int64) ([]rbac.Resource, error) {
	org, err := s.directory.Organization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	resources := []rbac.Resource{org.Resource(), org.ProfileResource()}

	projects, err := s.directory.ProjectsOf(ctx, org.ID)
	if err != nil {
		return nil, err
	}
	for _, project := range projects {
		resources = append(resources, project.Resource())
		forms, err := s.directory.FormsOf(ctx, project.ID)
		if err != nil {
			return nil, err
		}
		for _, form := range forms {
			resources = append(resources, form.Resource())
			if form.IsMerged {
				resources = append(resources, form.MergedResource())
			}
		}
		lists, err := s.directory.EntityListsOf(ctx, project.ID)
		if err != nil {
			return nil, err
		}
		for _, list := range lists {
			resources = append(resources, list.Resource())
		}
	}
	return resources, nil
}

func (s *Service) shareSteps(ctx context.Context, project *Project, principal rbac.Principal, role rbac.RoleName) ([]Step, error) {
	steps := []Step{{Kind: StepAssignRole, Role: role, Principal: principal, Resource: project.Resource()}}

	forms, err := s.directory.FormsOf(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	for _, form := range forms {
		formSteps, err := s.formSteps(form, principal, role)
		if err != nil {
			return nil, err
		}
		steps = append(steps, formSteps...)
	}

	lists, err := s.directory.EntityListsOf(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	for _, list := range lists {
		steps = append(steps, Step{Kind: StepAssignRole, Role: role, Principal: principal, Resource: list.Resource()})
	}
	return steps, nil
}

// formSteps applies the form's meta permissions to every role except manager and owner
func (s *Service) formSteps(form *XForm, principal rbac.Principal, role rbac.RoleName) ([]Step, error) {
	formRole := role
	if role != rbac.RoleManager && role != rbac.RoleOwner {
		formRole = form.MetaPerms.RoleFor(role)
		if _, err := s.registry.LookupAssignable(string(formRole)); err != nil {
			return nil, fmt.Errorf("xform %d meta permissions: %w", form.ID, err)
		}
	}

	steps := []Step{{Kind: StepAssignRole, Role: formRole, Principal: principal, Resource: form.Resource()}}
	if form.IsMerged {
		steps = append(steps, Step{Kind: StepAssignRole, Role: role, Principal: principal, Resource: form.MergedResource()})
	}
	return steps, nil
}

func (s *Service) unshareSteps(ctx context.Context, project *Project, principal rbac.Principal) ([]Step, error) {
	var steps []Step

	forms, err := s.directory.FormsOf(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	for _, form := range forms {
		steps = append(steps, Step{Kind: StepRemovePermissions, Principal: principal, Resource: form.Resource()})
		if form.IsMerged {
			steps = append(steps, Step{Kind: StepRemovePermissions, Principal: principal, Resource: form.MergedResource()})
		}
	}

	lists, err := s.directory.EntityListsOf(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	for _, list := range lists {
		steps = append(steps, Step{Kind: StepRemovePermissions, Principal: principal, Resource: list.Resource()})
	}

	return append(steps, Step{Kind: StepRemovePermissions, Principal: principal, Resource: project.Resource()}), nil
}

func (s *Service) roleOn(ctx context.Context, principal rbac.Principal, resource rbac.Resource) (rbac.RoleName, error) {
	perms, err := s.store.PermissionsOf(ctx, principal, resource)
	if err != nil {
		return "", fmt.Errorf("failed to read permissions: %w", err)
	}
	return s.registry.InferRole(perms, resource.Type), nil
}

func (s *Service) teamAndProject(ctx context.Context, teamID, projectID int64) (*Team, *Project, error) {
	team, err := s.teams.Team(ctx, teamID)
	if err != nil {
		return nil, nil, err
	}
	project, err := s.directory.Project(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	return team, project, nil
}

// lookupTeam returns nil without error when the team does not exist yet
// planTeam returns the named team, or a placeholder with no ID after adding
// a step that creates it, so that planning never writes
func (s *Service) planTeam(ctx context.Context, plan *Plan, org *Organization, name string) (*Team, error) {
	team, err := s.lookupTeam(ctx, org.ID, name)
	if err != nil {
		return nil, err
	}
	if team == nil {
		plan.add(Step{Kind: StepCreateTeam, TeamName: name})
		team = &Team{OrganizationID: org.ID, Name: name}
	}
	return team, nil
}

func (s *Service) lookupTeam(ctx context.Context, orgID int64, name string) (*Team, error) {
	team, err := s.teams.TeamByName(ctx, orgID, name)
	if errors.Is(err, rbac.ErrPrincipalNotFound) {
		return nil, nil
	}
	return team, err
}

func (s *Service) membershipChanged(userID int64) {
	for _, c := range s.userCaches {
		c.InvalidateUser(userID)
	}
}

func (s *Service) run(ctx context.Context, plan *Plan, eventType audit.EventType, resource rbac.Resource) error {
	err := plan.Apply(ctx)

	status := audit.EventStatusSuccess
	if err != nil {
		status = audit.EventStatusFailure
	}
	event := audit.NewEvent(eventType, status)
	if plan.OrganizationID != 0 {
		orgID := plan.OrganizationID
		event.OrganizationID = &orgID
	}
	if plan.Principal != (rbac.Principal{}) {
		event.Principal = plan.Principal.String()
	}
	event.Resource = resource.String()
	event.Role = string(plan.Role)
	event.PlanID = plan.ID.String()
	event.StepsPlanned = plan.Len()
	event.StepsApplied = plan.Len()
	event.Message = plan.Operation
	if partial, ok := AsPartialApply(err); ok {
		event.StepsApplied = partial.Applied
	}
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	if logErr := s.audit.Log(ctx, event); logErr != nil {
		s.logger.WithError(logErr).WithFields(planFields(plan)).Warn("failed to record audit event")
	}

	return err
}

func (s *Service) auditRejection(ctx context.Context, err error, eventType audit.EventType, orgID int64, principal rbac.Principal, role rbac.RoleName) {
	if !errors.Is(err, ErrOrganizationWithoutOwner) && !errors.Is(err, ErrProjectWithoutOwner) {
		return
	}
	event := audit.NewEvent(eventType, audit.EventStatusDenied)
	if orgID != 0 {
		event.OrganizationID = &orgID
	}
	event.Principal = principal.String()
	event.Role = string(role)
	event.ErrorMessage = err.Error()
	if logErr := s.audit.Log(ctx, event); logErr != nil {
		s.logger.WithError(logErr).Warn("failed to record audit event")
	}
	s.logger.WithFields(logrus.Fields{
		"organization_id": orgID,
		"principal":       principal.String(),
	}).Info(err.Error())
}

func planFields(p *Plan) logrus.Fields {
	return logrus.Fields{
		"plan_id":         p.ID.String(),
		"operation":       p.Operation,
		"organization_id": p.OrganizationID,
		"steps":           len(p.Steps),
	}
}

func uniqueIDs(ids ...int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id != 0 && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
