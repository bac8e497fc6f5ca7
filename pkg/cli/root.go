package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/platinummonkey/fieldperm/pkg/config"
	"github.com/platinummonkey/fieldperm/pkg/observability"
	"github.com/sirupsen/logrus"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
	out         io.Writer
}

// App carries configuration and the backend factory shared by every command
type App struct {
	Config  *config.Config
	Logger  *logrus.Logger
	Metrics *observability.Metrics
	Out     io.Writer

	// Open builds the backend a command operates on. Defaults to OpenBackend.
	Open func(ctx context.Context) (*Backend, error)
}

// NewApp creates an App backed by PostgreSQL
func NewApp(cfg *config.Config, logger *logrus.Logger, metrics *observability.Metrics) *App {
	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
		Out:     os.Stdout,
	}
	app.Open = func(ctx context.Context) (*Backend, error) {
		return OpenBackend(ctx, app.Config, app.Logger, app.Metrics)
	}
	return app
}

// NewRootCommand creates the root command
func NewRootCommand(app *App) *Command {
	root := &Command{
		Name:        "permctl",
		Description: "permctl - role and object permission administration",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("permctl", flag.ContinueOnError),
		out:         app.Out,
	}

	root.Subcommands["migrate"] = app.newMigrateCommand()
	root.Subcommands["roles"] = app.newRolesCommand()
	root.Subcommands["infer"] = app.newInferCommand()
	root.Subcommands["check"] = app.newCheckCommand()
	root.Subcommands["org-role"] = app.newOrgRoleCommand()
	root.Subcommands["remove-member"] = app.newRemoveMemberCommand()
	root.Subcommands["share-project"] = app.newShareProjectCommand()
	root.Subcommands["scan"] = app.newScanCommand()
	root.Subcommands["audit"] = app.newAuditCommand()
	root.Subcommands["serve"] = app.newServeCommand()

	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	if args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(c.out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(c.out, "Commands:\n")
	for _, name := range names {
		fmt.Fprintf(c.out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// newFlagSet returns a flag set that reports parse errors instead of exiting
func (a *App) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.Out)
	return fs
}

// withBackend opens the backend for the duration of fn
func (a *App) withBackend(fn func(ctx context.Context, b *Backend) error) error {
	ctx := context.Background()
	b, err := a.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			a.Logger.WithError(cerr).Warn("Failed to close backend")
		}
	}()
	return fn(ctx, b)
}
