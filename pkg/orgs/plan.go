package orgs

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/platinummonkey/fieldperm/pkg/rbac"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StepKind identifies one mutation in a Plan
type StepKind string

const (
	StepAssignRole        StepKind = "assign_role"
	StepRemovePermissions StepKind = "remove_permissions"
	StepJoinTeam          StepKind = "join_team"
	StepLeaveTeam         StepKind = "leave_team"
	StepLinkTeamProject   StepKind = "link_team_project"
	StepCreateTeam        StepKind = "create_team"
)

// Step is a single planned mutation. Which fields are set depends on Kind.
type Step struct {
	Kind      StepKind
	Role      rbac.RoleName
	Principal rbac.Principal
	Resource  rbac.Resource
	TeamID    int64
	TeamName  string
	UserID    int64
	ProjectID int64
}

func (s Step) String() string {
	switch s.Kind {
	case StepAssignRole:
		return fmt.Sprintf("assign %s to %s on %s", s.Role, s.Principal, s.Resource)
	case StepRemovePermissions:
		return fmt.Sprintf("remove permissions of %s on %s", s.Principal, s.Resource)
	case StepJoinTeam:
		return fmt.Sprintf("add user:%d to %s", s.UserID, s.team())
	case StepLeaveTeam:
		return fmt.Sprintf("remove user:%d from %s", s.UserID, s.team())
	case StepCreateTeam:
		return fmt.Sprintf("create team %s", s.TeamName)
	case StepLinkTeamProject:
		return fmt.Sprintf("link team:%d to project:%d", s.TeamID, s.ProjectID)
	default:
		return string(s.Kind)
	}
}

// team names a team that may only be created when the plan runs
func (s Step) team() string {
	if s.TeamID == 0 {
		return "team " + s.TeamName
	}
	return fmt.Sprintf("team:%d", s.TeamID)
}

// Plan is the ordered list of mutations one propagating operation makes.
//
// Apply runs the steps in order and stops at the first failure. Steps that
// already ran are not undone; build the Service over a transaction-bound
// store and repository when the whole plan must be atomic.
type Plan struct {
	ID             uuid.UUID
	Operation      string
	OrganizationID int64
	Principal      rbac.Principal
	Role           rbac.RoleName
	Steps          []Step

	service *Service
}

// PartialApplyError reports a plan that stopped partway
type PartialApplyError struct {
	PlanID  uuid.UUID
	Applied int
	Step    Step
	Err     error
}

func (e *PartialApplyError) Error() string {
	return fmt.Sprintf("plan %s stopped after %d steps at %q: %v", e.PlanID, e.Applied, e.Step, e.Err)
}

func (e *PartialApplyError) Unwrap() error {
	return e.Err
}

// AsPartialApply extracts a PartialApplyError from err
func AsPartialApply(err error) (*PartialApplyError, bool) {
	var partial *PartialApplyError
	if errors.As(err, &partial) {
		return partial, true
	}
	return nil, false
}

func (s *Service) newPlan(operation string, orgID int64, principal rbac.Principal, role rbac.RoleName) *Plan {
	return &Plan{
		ID:             uuid.New(),
		Operation:      operation,
		OrganizationID: orgID,
		Principal:      principal,
		Role:           role,
		service:        s,
	}
}

func (p *Plan) add(steps ...Step) {
	p.Steps = append(p.Steps, steps...)
}

// Len returns the number of planned steps
func (p *Plan) Len() int {
	return len(p.Steps)
}

// Apply executes the plan's steps in order
func (p *Plan) Apply(ctx context.Context) (err error) {
	s := p.service
	if s == nil {
		return fmt.Errorf("plan %s is not bound to a service", p.ID)
	}

	ctx, span := s.tracer.Start(ctx, "orgs.Plan.Apply", trace.WithAttributes(
		attribute.String("plan.id", p.ID.String()),
		attribute.String("plan.operation", p.Operation),
		attribute.Int("plan.steps", len(p.Steps)),
	))

	applied := 0
	defer func() {
		span.SetAttributes(attribute.Int("plan.applied", applied))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if s.recorder != nil {
			s.recorder.RecordPlan(p.Operation, applied, err)
		}
	}()

	for _, step := range p.Steps {
		if err := s.applyStep(ctx, p, step); err != nil {
			s.logger.WithError(err).WithFields(planFields(p)).WithField("step", step.String()).
				Warn("plan stopped before completion")
			return &PartialApplyError{PlanID: p.ID, Applied: applied, Step: step, Err: err}
		}
		applied++
	}

	s.logger.WithFields(planFields(p)).Debug("applied plan")
	return nil
}

func (s *Service) applyStep(ctx context.Context, p *Plan, step Step) error {
	switch step.Kind {
	case StepAssignRole:
		return s.assigner.Add(ctx, step.Role, step.Principal, step.Resource)
	case StepRemovePermissions:
		return s.assigner.RemoveAllPermissions(ctx, step.Principal, step.Resource)
	case StepJoinTeam:
		teamID, err := s.stepTeamID(ctx, p, step)
		if err != nil {
			return err
		}
		if err := s.teams.AddMember(ctx, teamID, step.UserID); err != nil {
			return err
		}
		s.membershipChanged(step.UserID)
		return nil
	case StepLeaveTeam:
		teamID, err := s.stepTeamID(ctx, p, step)
		if err != nil {
			return err
		}
		if err := s.teams.RemoveMember(ctx, teamID, step.UserID); err != nil {
			return err
		}
		s.membershipChanged(step.UserID)
		return nil
	case StepCreateTeam:
		return s.createTeam(ctx, p.OrganizationID, step.TeamName)
	case StepLinkTeamProject:
		return s.directory.LinkTeamProject(ctx, step.TeamID, step.ProjectID)
	default:
		return fmt.Errorf("unknown plan step %q", step.Kind)
	}
}

// stepTeamID resolves a team planned by name before it existed
func (s *Service) stepTeamID(ctx context.Context, p *Plan, step Step) (int64, error) {
	if step.TeamID != 0 {
		return step.TeamID, nil
	}
	team, err := s.teams.TeamByName(ctx, p.OrganizationID, step.TeamName)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve team %s: %w", step.TeamName, err)
	}
	return team.ID, nil
}

// createTeam creates the named team. The owners and members teams are
// created through Teams so they get their initial members.
func (s *Service) createTeam(ctx context.Context, orgID int64, name string) error {
	org, err := s.directory.Organization(ctx, orgID)
	if err != nil {
		return err
	}
	switch name {
	case org.MembersTeamName():
		_, err = s.teams.MembersTeam(ctx, org)
	case org.OwnersTeamName():
		_, err = s.teams.OwnersTeam(ctx, org)
	default:
		err = s.teams.CreateTeam(ctx, &Team{OrganizationID: org.ID, Name: name})
	}
	return err
}
