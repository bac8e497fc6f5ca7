package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/platinummonkey/fieldperm/pkg/rbac"
)

func (a *App) newRolesCommand() *Command {
	return &Command{
		Name:        "roles",
		Description: "List roles and the permissions they grant",
		Run:         a.runRoles,
	}
}

func (a *App) runRoles(args []string) error {
	flags := a.newFlagSet("roles")
	resource := flags.String("resource", "", "Show the bundle granted on this resource type")
	asJSON := flags.Bool("json", false, "Output JSON")

	if err := flags.Parse(args); err != nil {
		return err
	}

	registry := rbac.NewDefaultRegistry()

	var rt rbac.ResourceType
	if *resource != "" {
		parsed, err := rbac.ParseResourceType(*resource)
		if err != nil {
			return err
		}
		rt = parsed
	}

	type roleView struct {
		Name        rbac.RoleName `json:"name"`
		DisplayName string        `json:"display_name"`
		Description string        `json:"description"`
		Permissions []string      `json:"permissions,omitempty"`
	}

	var views []roleView
	for _, role := range registry.Ordered() {
		v := roleView{Name: role.Name, DisplayName: role.DisplayName, Description: role.Description}
		if rt != "" {
			v.Permissions = role.Bundle(rt).Strings()
		}
		views = append(views, v)
	}

	if *asJSON {
		return printJSON(a, views)
	}

	w := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	for _, v := range views {
		if rt != "" {
			fmt.Fprintf(w, "%s\t%s\n", v.Name, strings.Join(v.Permissions, ","))
		} else {
			fmt.Fprintf(w, "%s\t%s\n", v.Name, v.Description)
		}
	}
	return w.Flush()
}

func (a *App) newInferCommand() *Command {
	return &Command{
		Name:        "infer",
		Description: "Infer the role a set of permissions corresponds to",
		Run:         a.runInfer,
	}
}

func (a *App) runInfer(args []string) error {
	flags := a.newFlagSet("infer")
	resource := flags.String("resource", "", "Resource type the permissions are held on (required)")
	perms := flags.String("perms", "", "Comma-separated permission codes")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if *resource == "" {
		return fmt.Errorf("-resource is required")
	}

	rt, err := rbac.ParseResourceType(*resource)
	if err != nil {
		return err
	}

	registry := rbac.NewDefaultRegistry()
	set := parsePermissions(*perms)

	role := registry.InferRole(set, rt)
	exact := registry.IsExact(set, rt)
	fmt.Fprintf(a.Out, "%s exact=%t\n", role, exact)
	return nil
}

func (a *App) newCheckCommand() *Command {
	return &Command{
		Name:        "check",
		Description: "Check whether a user holds a permission, directly or through a team",
		Run:         a.runCheck,
	}
}

func (a *App) runCheck(args []string) error {
	flags := a.newFlagSet("check")
	user := flags.Int64("user", 0, "User ID (required)")
	perm := flags.String("perm", "", "Permission code (required)")
	resource := flags.String("resource", "", "Resource as type:id, e.g. project:5 (required)")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if *user == 0 || *perm == "" || *resource == "" {
		return fmt.Errorf("-user, -perm and -resource are required")
	}

	target, err := parseResource(*resource)
	if err != nil {
		return err
	}

	return a.withBackend(func(ctx context.Context, b *Backend) error {
		ok, err := b.Checker.HasPerm(ctx, *user, rbac.Codename(*perm), target)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "%t\n", ok)
		return nil
	})
}

func parsePermissions(s string) rbac.PermissionSet {
	set := rbac.NewPermissionSet()
	for _, code := range strings.Split(s, ",") {
		if code = strings.TrimSpace(code); code != "" {
			set.Add(rbac.Codename(code))
		}
	}
	return set
}

// parseResource parses "project:5" style resource references
func parseResource(s string) (rbac.Resource, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return rbac.Resource{}, fmt.Errorf("invalid resource %q: expected type:id", s)
	}
	rt, err := rbac.ParseResourceType(kind)
	if err != nil {
		return rbac.Resource{}, err
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return rbac.Resource{}, fmt.Errorf("invalid resource id %q: %w", id, err)
	}
	return rbac.Resource{Type: rt, ID: n}, nil
}

func printJSON(a *App, v interface{}) error {
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
