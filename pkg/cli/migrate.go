package cli

import (
	"context"
	"fmt"

	"github.com/platinummonkey/fieldperm/pkg/rbac"
)

func (a *App) newMigrateCommand() *Command {
	return &Command{
		Name:        "migrate",
		Description: "Apply pending database schema migrations",
		Run:         a.runMigrate,
	}
}

func (a *App) runMigrate(args []string) error {
	flags := a.newFlagSet("migrate")
	if err := flags.Parse(args); err != nil {
		return err
	}

	return a.withBackend(func(ctx context.Context, b *Backend) error {
		if b.DB == nil {
			return fmt.Errorf("migrate requires a database backend")
		}
		if err := rbac.RunMigrations(ctx, b.DB, a.Logger); err != nil {
			return err
		}
		fmt.Fprintln(a.Out, "migrations applied")
		return nil
	})
}
