// Package audit records permission changes for later review.
//
// Every role assignment, membership change and project share made through
// the organization service produces an AuditEvent. Events carry the
// principal and resource in their "kind:id" string form, the role involved,
// and for propagating operations the plan ID with how many of its steps ran.
//
// Loggers:
//
//   - DBLogger stores events in the permission_audit_logs table and can
//     search and prune them.
//   - LogrusLogger emits them as structured log lines.
//   - MultiLogger fans out to several loggers, optionally asynchronously.
//
// Attach a logger to a context with WithLogger; FromContext falls back to a
// no-op logger when none is attached.
//
// Search and export:
//
//	events, err := dbLogger.Search(ctx, audit.SearchFilter{
//		OrganizationID: &orgID,
//		EventTypes:     []audit.EventType{audit.EventTypeOrgMemberRoleChange},
//		Limit:          50,
//	})
//	data, err := audit.Export(events, audit.ExportFormatCSV)
package audit
