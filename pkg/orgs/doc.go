// Package orgs propagates role changes through the organization hierarchy.
//
// # Overview
//
// An organization owns projects; a project owns forms (XForms), merged forms
// and entity lists. Every organization has two well-known teams, "<name>#Owners"
// and "<name>#members". The Service turns one administrative action into the
// permission grants and team membership changes it implies at each level.
//
// # Plans
//
// Each operation is split into a planning phase and an apply phase. Planning
// reads the directory and the permission store, validates the request and
// returns an ordered list of steps without mutating anything:
//
//	plan, err := svc.PlanAssignOrganizationRole(ctx, orgID, userID, rbac.RoleOwner)
//	if err != nil {
//	    return err // nothing changed
//	}
//	for _, step := range plan.Steps {
//	    fmt.Println(step)
//	}
//	err = plan.Apply(ctx)
//
// Apply stops at the first failing step and returns a *PartialApplyError that
// names the step and how many ran before it. Run the Service over a
// transaction-bound store and repository for all-or-nothing behavior:
//
//	err := rbac.RunInTx(ctx, db, func(tx *sql.Tx) error {
//	    assigner := rbac.NewAssigner(registry, rbac.NewSQLStore(tx))
//	    repo := orgs.NewPostgresRepository(tx)
//	    return orgs.NewService(assigner, repo, repo).RemoveMember(ctx, orgID, userID)
//	})
//
// # Owner floors
//
// An organization keeps at least one user in its owners team, not counting
// the organization's own account. Removing or downgrading the last one fails
// with ErrOrganizationWithoutOwner. Removing the last principal holding the
// owner role on a project fails with ErrProjectWithoutOwner. Both checks run
// before any step is applied.
//
// # Form meta permissions
//
// A form may carry meta permissions of the form "editor|dataentry|readonly"
// that replace the project role when it is propagated to that form. Manager
// and owner are never replaced.
package orgs
