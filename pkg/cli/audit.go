package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/fieldperm/pkg/audit"
)

func (a *App) newAuditCommand() *Command {
	return &Command{
		Name:        "audit",
		Description: "Export recorded permission audit events",
		Run:         a.runAudit,
	}
}

func (a *App) runAudit(args []string) error {
	flags := a.newFlagSet("audit")
	org := flags.Int64("org", 0, "Only events for this organization")
	principal := flags.String("principal", "", "Only events for this principal, e.g. user:5")
	since := flags.Duration("since", 24*time.Hour, "How far back to export")
	format := flags.String("format", string(audit.ExportFormatJSON), "Output format: json, ndjson or csv")
	limit := flags.Int("limit", 1000, "Maximum number of events")

	if err := flags.Parse(args); err != nil {
		return err
	}

	start := time.Now().Add(-*since)
	filter := audit.SearchFilter{
		StartTime: &start,
		Principal: *principal,
		Limit:     *limit,
	}
	if *org != 0 {
		filter.OrganizationID = org
	}

	return a.withBackend(func(ctx context.Context, b *Backend) error {
		if b.Events == nil {
			return fmt.Errorf("audit export requires the database audit sink (FIELDPERM_AUDIT_DATABASE)")
		}

		events, err := b.Events.Search(ctx, filter)
		if err != nil {
			return fmt.Errorf("failed to search audit events: %w", err)
		}

		data, err := audit.Export(events, audit.ExportFormat(*format))
		if err != nil {
			return err
		}
		_, err = a.Out.Write(data)
		return err
	})
}
