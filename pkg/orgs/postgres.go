package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/fieldperm/pkg/rbac"
)

// PostgresRepository implements Directory and Teams using PostgreSQL.
// It accepts a *sql.DB or a *sql.Tx so callers can bind a whole plan to one transaction.
type PostgresRepository struct {
	db rbac.DBTX
}

var (
	_ Directory = (*PostgresRepository)(nil)
	_ Teams     = (*PostgresRepository)(nil)
)

// NewPostgresRepository creates a new PostgresRepository
func NewPostgresRepository(db rbac.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateOrganization creates a new organization
func (s *PostgresRepository) CreateOrganization(ctx context.Context, org *Organization) error {
	query := `
		INSERT INTO organizations (account_id, name, creator_id)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	err := s.db.QueryRowContext(ctx, query, org.AccountID, org.Name, org.CreatorID).
		Scan(&org.ID, &org.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

// Organization retrieves an organization by ID
func (s *PostgresRepository) Organization(ctx context.Context, id int64) (*Organization, error) {
	query := `
		SELECT id, account_id, name, creator_id, created_at
		FROM organizations
		WHERE id = $1
	`
	org := &Organization{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&org.ID, &org.AccountID, &org.Name, &org.CreatorID, &org.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("organization %d: %w", id, rbac.ErrResourceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// ListOrganizations lists every organization
func (s *PostgresRepository) ListOrganizations(ctx context.Context) ([]*Organization, error) {
	query := `
		SELECT id, account_id, name, creator_id, created_at
		FROM organizations
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*Organization
	for rows.Next() {
		org := &Organization{}
		if err := rows.Scan(&org.ID, &org.AccountID, &org.Name, &org.CreatorID, &org.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

// CreateProject creates a project under an organization
func (s *PostgresRepository) CreateProject(ctx context.Context, project *Project) error {
	query := `
		INSERT INTO projects (organization_id, name, created_by)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	err := s.db.QueryRowContext(ctx, query, project.OrganizationID, project.Name, project.CreatedBy).
		Scan(&project.ID, &project.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// Project retrieves a project by ID
func (s *PostgresRepository) Project(ctx context.Context, id int64) (*Project, error) {
	query := `
		SELECT id, organization_id, name, created_by, created_at
		FROM projects
		WHERE id = $1
	`
	p := &Project{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.OrganizationID, &p.Name, &p.CreatedBy, &p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %d: %w", id, rbac.ErrResourceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// ProjectsOf lists an organization's projects
func (s *PostgresRepository) ProjectsOf(ctx context.Context, orgID int64) ([]*Project, error) {
	query := `
		SELECT id, organization_id, name, created_by, created_at
		FROM projects
		WHERE organization_id = $1
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p := &Project{}
		if err := rows.Scan(&p.ID, &p.OrganizationID, &p.Name, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// CreateXForm creates a form under a project
func (s *PostgresRepository) CreateXForm(ctx context.Context, form *XForm) error {
	query := `
		INSERT INTO xforms (project_id, owner_id, title, is_merged, meta_perms)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	var meta sql.NullString
	if form.MetaPerms != nil {
		meta = sql.NullString{String: form.MetaPerms.String(), Valid: true}
	}
	err := s.db.QueryRowContext(ctx, query, form.ProjectID, form.OwnerID, form.Title, form.IsMerged, meta).
		Scan(&form.ID, &form.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create xform: %w", err)
	}
	return nil
}

// XForm retrieves a form by ID
func (s *PostgresRepository) XForm(ctx context.Context, id int64) (*XForm, error) {
	query := `
		SELECT id, project_id, owner_id, title, is_merged, meta_perms, created_at
		FROM xforms
		WHERE id = $1
	`
	form, err := scanXForm(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("xform %d: %w", id, rbac.ErrResourceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get xform: %w", err)
	}
	return form, nil
}

// FormsOf lists a project's forms
func (s *PostgresRepository) FormsOf(ctx context.Context, projectID int64) ([]*XForm, error) {
	query := `
		SELECT id, project_id, owner_id, title, is_merged, meta_perms, created_at
		FROM xforms
		WHERE project_id = $1
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list xforms: %w", err)
	}
	defer rows.Close()

	var forms []*XForm
	for rows.Next() {
		form, err := scanXForm(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan xform: %w", err)
		}
		forms = append(forms, form)
	}
	return forms, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanXForm(row rowScanner) (*XForm, error) {
	f := &XForm{}
	var meta sql.NullString
	if err := row.Scan(&f.ID, &f.ProjectID, &f.OwnerID, &f.Title, &f.IsMerged, &meta, &f.CreatedAt); err != nil {
		return nil, err
	}
	perms, err := ParseMetaPerms(meta.String)
	if err != nil {
		return nil, err
	}
	f.MetaPerms = perms
	return f, nil
}

// CreateEntityList creates an entity list under a project
func (s *PostgresRepository) CreateEntityList(ctx context.Context, list *EntityList) error {
	query := `
		INSERT INTO entity_lists (project_id, name)
		VALUES ($1, $2)
		RETURNING id, created_at
	`
	err := s.db.QueryRowContext(ctx, query, list.ProjectID, list.Name).Scan(&list.ID, &list.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create entity list: %w", err)
	}
	return nil
}

// EntityListsOf lists a project's entity lists
func (s *PostgresRepository) EntityListsOf(ctx context.Context, projectID int64) ([]*EntityList, error) {
	query := `
		SELECT id, project_id, name, created_at
		FROM entity_lists
		WHERE project_id = $1
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity lists: %w", err)
	}
	defer rows.Close()

	var lists []*EntityList
	for rows.Next() {
		l := &EntityList{}
		if err := rows.Scan(&l.ID, &l.ProjectID, &l.Name, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entity list: %w", err)
		}
		lists = append(lists, l)
	}
	return lists, rows.Err()
}

// LinkTeamProject associates a team with a project
func (s *PostgresRepository) LinkTeamProject(ctx context.Context, teamID, projectID int64) error {
	query := `
		INSERT INTO team_projects (team_id, project_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, teamID, projectID); err != nil {
		return fmt.Errorf("failed to link team to project: %w", err)
	}
	return nil
}

// TeamProjects lists the projects linked to a team
func (s *PostgresRepository) TeamProjects(ctx context.Context, teamID int64) ([]int64, error) {
	return s.queryIDs(ctx, "SELECT project_id FROM team_projects WHERE team_id = $1 ORDER BY project_id", teamID)
}

// CreateTeam creates a team
func (s *PostgresRepository) CreateTeam(ctx context.Context, team *Team) error {
	query := `
		INSERT INTO teams (organization_id, name)
		VALUES ($1, $2)
		RETURNING id, created_at
	`
	err := s.db.QueryRowContext(ctx, query, team.OrganizationID, team.Name).Scan(&team.ID, &team.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create team: %w", err)
	}
	return nil
}

// Team retrieves a team by ID
func (s *PostgresRepository) Team(ctx context.Context, id int64) (*Team, error) {
	query := `
		SELECT id, organization_id, name, created_at
		FROM teams
		WHERE id = $1
	`
	t := &Team{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.OrganizationID, &t.Name, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("team %d: %w", id, rbac.ErrPrincipalNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	return t, nil
}

// TeamByName retrieves a team by its name within an organization
func (s *PostgresRepository) TeamByName(ctx context.Context, orgID int64, name string) (*Team, error) {
	query := `
		SELECT id, organization_id, name, created_at
		FROM teams
		WHERE organization_id = $1 AND name = $2
	`
	t := &Team{}
	err := s.db.QueryRowContext(ctx, query, orgID, name).Scan(&t.ID, &t.OrganizationID, &t.Name, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("team %q: %w", name, rbac.ErrPrincipalNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	return t, nil
}

// OwnersTeam returns the organization's owners team, creating it if needed
func (s *PostgresRepository) OwnersTeam(ctx context.Context, org *Organization) (*Team, error) {
	team, _, err := s.getOrCreateTeam(ctx, org.ID, org.OwnersTeamName())
	return team, err
}

// MembersTeam returns the organization's members team, creating it with the
// organization account as its first member if needed
func (s *PostgresRepository) MembersTeam(ctx context.Context, org *Organization) (*Team, error) {
	team, created, err := s.getOrCreateTeam(ctx, org.ID, org.MembersTeamName())
	if err != nil {
		return nil, err
	}
	if created {
		if err := s.AddMember(ctx, team.ID, org.AccountID); err != nil {
			return nil, err
		}
	}
	return team, nil
}

func (s *PostgresRepository) getOrCreateTeam(ctx context.Context, orgID int64, name string) (*Team, bool, error) {
	query := `
		INSERT INTO teams (organization_id, name)
		VALUES ($1, $2)
		ON CONFLICT (organization_id, name) DO NOTHING
		RETURNING id, created_at
	`
	team := &Team{OrganizationID: orgID, Name: name}
	err := s.db.QueryRowContext(ctx, query, orgID, name).Scan(&team.ID, &team.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		existing, err := s.TeamByName(ctx, orgID, name)
		return existing, false, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create team: %w", err)
	}
	return team, true, nil
}

// AddMember adds a user to a team. Adding an existing member is a no-op.
func (s *PostgresRepository) AddMember(ctx context.Context, teamID, userID int64) error {
	query := `
		INSERT INTO team_members (team_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, teamID, userID); err != nil {
		return fmt.Errorf("failed to add team member: %w", err)
	}
	return nil
}

// RemoveMember removes a user from a team
func (s *PostgresRepository) RemoveMember(ctx context.Context, teamID, userID int64) error {
	query := "DELETE FROM team_members WHERE team_id = $1 AND user_id = $2"
	if _, err := s.db.ExecContext(ctx, query, teamID, userID); err != nil {
		return fmt.Errorf("failed to remove team member: %w", err)
	}
	return nil
}

// Members lists a team's users
func (s *PostgresRepository) Members(ctx context.Context, teamID int64) ([]int64, error) {
	return s.queryIDs(ctx, "SELECT user_id FROM team_members WHERE team_id = $1 ORDER BY user_id", teamID)
}

// IsMember reports whether a user belongs to a team
func (s *PostgresRepository) IsMember(ctx context.Context, teamID, userID int64) (bool, error) {
	var exists bool
	query := "SELECT EXISTS(SELECT 1 FROM team_members WHERE team_id = $1 AND user_id = $2)"
	if err := s.db.QueryRowContext(ctx, query, teamID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check team membership: %w", err)
	}
	return exists, nil
}

// TeamsOf lists the teams a user belongs to
func (s *PostgresRepository) TeamsOf(ctx context.Context, userID int64) ([]int64, error) {
	return s.queryIDs(ctx, "SELECT team_id FROM team_members WHERE user_id = $1 ORDER BY team_id", userID)
}

func (s *PostgresRepository) queryIDs(ctx context.Context, query string, arg int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
