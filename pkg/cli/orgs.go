package cli

import (
	"context"
	"fmt"

	"github.com/platinummonkey/fieldperm/pkg/orgs"
	"github.com/platinummonkey/fieldperm/pkg/rbac"
)

func (a *App) newOrgRoleCommand() *Command {
	return &Command{
		Name:        "org-role",
		Description: "Show or assign a user's organization role",
		Run:         a.runOrgRole,
	}
}

func (a *App) runOrgRole(args []string) error {
	flags := a.newFlagSet("org-role")
	org := flags.Int64("org", 0, "Organization ID (required)")
	user := flags.Int64("user", 0, "User ID (required)")
	role := flags.String("role", "", "Role to assign; omit to show the current role")
	dryRun := flags.Bool("dry-run", false, "Print the planned changes without applying them")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if *org == 0 || *user == 0 {
		return fmt.Errorf("-org and -user are required")
	}

	return a.withBackend(func(ctx context.Context, b *Backend) error {
		if *role == "" {
			current, err := b.Service.RoleInOrganization(ctx, *org, *user)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.Out, current)
			return nil
		}

		plan, err := b.Service.PlanAssignOrganizationRole(ctx, *org, *user, rbac.RoleName(*role))
		if err != nil {
			return err
		}
		return a.applyPlan(plan, *dryRun, func() error {
			return b.Service.AssignOrganizationRole(ctx, *org, *user, rbac.RoleName(*role))
		})
	})
}

func (a *App) newRemoveMemberCommand() *Command {
	return &Command{
		Name:        "remove-member",
		Description: "Remove a user from an organization",
		Run:         a.runRemoveMember,
	}
}

func (a *App) runRemoveMember(args []string) error {
	flags := a.newFlagSet("remove-member")
	org := flags.Int64("org", 0, "Organization ID (required)")
	user := flags.Int64("user", 0, "User ID (required)")
	dryRun := flags.Bool("dry-run", false, "Print the planned changes without applying them")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if *org == 0 || *user == 0 {
		return fmt.Errorf("-org and -user are required")
	}

	return a.withBackend(func(ctx context.Context, b *Backend) error {
		plan, err := b.Service.PlanRemoveMember(ctx, *org, *user)
		if err != nil {
			return err
		}
		return a.applyPlan(plan, *dryRun, func() error {
			return b.Service.RemoveMember(ctx, *org, *user)
		})
	})
}

func (a *App) newShareProjectCommand() *Command {
	return &Command{
		Name:        "share-project",
		Description: "Share a project, its forms and entity lists with a user or team",
		Run:         a.runShareProject,
	}
}

func (a *App) runShareProject(args []string) error {
	flags := a.newFlagSet("share-project")
	project := flags.Int64("project", 0, "Project ID (required)")
	user := flags.Int64("user", 0, "User ID to share with")
	team := flags.Int64("team", 0, "Team ID to share with")
	role := flags.String("role", "", "Role to grant (required unless -remove)")
	remove := flags.Bool("remove", false, "Unshare instead of share")
	dryRun := flags.Bool("dry-run", false, "Print the planned changes without applying them")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if *project == 0 {
		return fmt.Errorf("-project is required")
	}
	if (*user == 0) == (*team == 0) {
		return fmt.Errorf("exactly one of -user or -team is required")
	}
	if !*remove && *role == "" {
		return fmt.Errorf("-role is required when sharing")
	}

	return a.withBackend(func(ctx context.Context, b *Backend) error {
		if *team != 0 {
			if *remove {
				if *dryRun {
					return fmt.Errorf("-dry-run is not supported when unsharing a team")
				}
				return b.Service.UnshareTeamFromProject(ctx, *team, *project)
			}
			plan, err := b.Service.PlanShareTeamOnProject(ctx, *team, *project, rbac.RoleName(*role))
			if err != nil {
				return err
			}
			return a.applyPlan(plan, *dryRun, func() error {
				return b.Service.ShareTeamOnProject(ctx, *team, *project, rbac.RoleName(*role))
			})
		}

		principal := rbac.User(*user)
		if *remove {
			plan, err := b.Service.PlanUnshareProject(ctx, *project, principal)
			if err != nil {
				return err
			}
			return a.applyPlan(plan, *dryRun, func() error {
				return b.Service.UnshareProject(ctx, *project, principal)
			})
		}

		plan, err := b.Service.PlanShareProject(ctx, *project, principal, rbac.RoleName(*role))
		if err != nil {
			return err
		}
		return a.applyPlan(plan, *dryRun, func() error {
			return b.Service.ShareProject(ctx, *project, principal, rbac.RoleName(*role))
		})
	})
}

// applyPlan prints the plan and, unless dryRun is set, runs apply. apply goes
// through the Service so the change is audited and caches are invalidated.
func (a *App) applyPlan(plan *orgs.Plan, dryRun bool, apply func() error) error {
	fmt.Fprintf(a.Out, "%s (%d steps)\n", plan.Operation, plan.Len())
	for i, step := range plan.Steps {
		fmt.Fprintf(a.Out, "  %d. %s\n", i+1, step)
	}
	if dryRun {
		return nil
	}

	if err := apply(); err != nil {
		if partial, ok := orgs.AsPartialApply(err); ok {
			fmt.Fprintf(a.Out, "stopped after %d of %d steps\n", partial.Applied, plan.Len())
		}
		return err
	}
	fmt.Fprintln(a.Out, "applied")
	return nil
}
