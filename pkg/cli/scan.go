package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/platinummonkey/fieldperm/pkg/audit"
	"github.com/platinummonkey/fieldperm/pkg/rbac"
)

func (a *App) newScanCommand() *Command {
	return &Command{
		Name:        "scan",
		Description: "Report grant sets that are not exactly one role's bundle",
		Run:         a.runScan,
	}
}

func (a *App) runScan(args []string) error {
	flags := a.newFlagSet("scan")
	org := flags.Int64("org", 0, "Organization ID; scans every organization when omitted")
	asJSON := flags.Bool("json", false, "Output JSON")

	if err := flags.Parse(args); err != nil {
		return err
	}

	return a.withBackend(func(ctx context.Context, b *Backend) error {
		drift, err := scanDrift(ctx, b, *org)
		if err != nil {
			return err
		}

		if *asJSON {
			return printJSON(a, drift)
		}
		if len(drift) == 0 {
			fmt.Fprintln(a.Out, "no drift")
			return nil
		}
		w := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PRINCIPAL\tRESOURCE\tINFERRED\tEXTRA")
		for _, d := range drift {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", d.Principal, d.Resource, d.InferredRole, d.Extra)
		}
		return w.Flush()
	})
}

// scanDrift scans one organization, or all of them when orgID is zero,
// records the result as metrics and writes one audit event per finding
func scanDrift(ctx context.Context, b *Backend, orgID int64) ([]rbac.Drift, error) {
	start := time.Now()

	resources, err := scanTargets(ctx, b, orgID)
	if err != nil {
		if b.Metrics != nil {
			b.Metrics.RecordScan(nil, 0, time.Since(start), err)
		}
		return nil, err
	}

	drift, err := b.Scanner.Scan(ctx, resources)
	if b.Metrics != nil {
		b.Metrics.RecordScan(drift, len(resources), time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}

	for _, d := range drift {
		event := audit.NewEvent(audit.EventTypeDriftDetected, audit.EventStatusSuccess)
		event.Principal = d.Principal.String()
		event.Resource = d.Resource.String()
		event.Role = string(d.InferredRole)
		event.Permissions = codeStrings(d.Permissions)
		event.Metadata["extra"] = codeStrings(d.Extra)
		if err := b.Audit.Log(ctx, event); err != nil {
			return nil, fmt.Errorf("failed to record drift: %w", err)
		}
	}
	return drift, nil
}

func scanTargets(ctx context.Context, b *Backend, orgID int64) ([]rbac.Resource, error) {
	if orgID != 0 {
		return b.Service.ResourcesOf(ctx, orgID)
	}

	all, err := b.Service.Directory().ListOrganizations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	var resources []rbac.Resource
	for _, org := range all {
		rs, err := b.Service.ResourcesOf(ctx, org.ID)
		if err != nil {
			return nil, err
		}
		resources = append(resources, rs...)
	}
	return resources, nil
}

func codeStrings(codes []rbac.Codename) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = string(c)
	}
	return out
}
