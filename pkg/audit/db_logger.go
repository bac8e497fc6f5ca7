package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// DBLogger implements audit logging to PostgreSQL database
type DBLogger struct {
	db *sql.DB
}

var _ Logger = (*DBLogger)(nil)

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{
		db: db,
	}

	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure permission_audit_logs table: %w", err)
	}

	return logger, nil
}

// ensureTable creates the permission_audit_logs table if it doesn't exist
func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS permission_audit_logs (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		organization_id BIGINT,
		principal VARCHAR(64),
		resource VARCHAR(128),
		role VARCHAR(64),
		plan_id VARCHAR(36),
		steps_planned INTEGER,
		steps_applied INTEGER,
		permissions TEXT[],
		message TEXT,
		error_message TEXT,
		metadata JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_permission_audit_logs_timestamp ON permission_audit_logs(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_permission_audit_logs_event_type ON permission_audit_logs(event_type);
	CREATE INDEX IF NOT EXISTS idx_permission_audit_logs_organization_id ON permission_audit_logs(organization_id);
	CREATE INDEX IF NOT EXISTS idx_permission_audit_logs_principal ON permission_audit_logs(principal);
	CREATE INDEX IF NOT EXISTS idx_permission_audit_logs_plan_id ON permission_audit_logs(plan_id);
	`

	_, err := l.db.Exec(query)
	return err
}

// Log logs an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	var metadataJSON []byte
	if len(event.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO permission_audit_logs (
			timestamp, event_type, status,
			organization_id, principal, resource, role,
			plan_id, steps_planned, steps_applied,
			permissions, message, error_message, metadata
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			$8, $9, $10,
			$11, $12, $13, $14
		) RETURNING id
	`

	err := l.db.QueryRowContext(ctx, query,
		event.Timestamp, string(event.EventType), string(event.Status),
		event.OrganizationID, event.Principal, event.Resource, event.Role,
		event.PlanID, event.StepsPlanned, event.StepsApplied,
		pq.Array(event.Permissions), event.Message, event.ErrorMessage, metadataJSON,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// Search searches audit logs based on filters, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	query := `
		SELECT
			id, timestamp, event_type, status,
			organization_id, principal, resource, role,
			plan_id, steps_planned, steps_applied,
			permissions, message, error_message, metadata
		FROM permission_audit_logs
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}

	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *filter.EndTime)
		argCount++
	}

	if filter.OrganizationID != nil {
		query += fmt.Sprintf(" AND organization_id = $%d", argCount)
		args = append(args, *filter.OrganizationID)
		argCount++
	}

	if filter.Principal != "" {
		query += fmt.Sprintf(" AND principal = $%d", argCount)
		args = append(args, filter.Principal)
		argCount++
	}

	if filter.Resource != "" {
		query += fmt.Sprintf(" AND resource = $%d", argCount)
		args = append(args, filter.Resource)
		argCount++
	}

	if filter.PlanID != "" {
		query += fmt.Sprintf(" AND plan_id = $%d", argCount)
		args = append(args, filter.PlanID)
		argCount++
	}

	if len(filter.EventTypes) > 0 {
		query += fmt.Sprintf(" AND event_type = ANY($%d)", argCount)
		eventTypeStrs := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			eventTypeStrs[i] = string(et)
		}
		args = append(args, pq.Array(eventTypeStrs))
		argCount++
	}

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, string(*filter.Status))
		argCount++
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	events := make([]*AuditEvent, 0)
	for rows.Next() {
		event := &AuditEvent{}

		var (
			orgID                      sql.NullInt64
			principal, resource, role  sql.NullString
			planID, message, errorMsg  sql.NullString
			stepsPlanned, stepsApplied sql.NullInt64
			permissions                []string
			metadataJSON               []byte
		)

		err := rows.Scan(
			&event.ID, &event.Timestamp, &event.EventType, &event.Status,
			&orgID, &principal, &resource, &role,
			&planID, &stepsPlanned, &stepsApplied,
			pq.Array(&permissions), &message, &errorMsg, &metadataJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		if orgID.Valid {
			id := orgID.Int64
			event.OrganizationID = &id
		}
		event.Principal = principal.String
		event.Resource = resource.String
		event.Role = role.String
		event.PlanID = planID.String
		event.StepsPlanned = int(stepsPlanned.Int64)
		event.StepsApplied = int(stepsApplied.Int64)
		event.Permissions = permissions
		event.Message = message.String
		event.ErrorMessage = errorMsg.String

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return events, nil
}

// Cleanup removes audit logs older than the retention period
func (l *DBLogger) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)

	result, err := l.db.ExecContext(ctx, "DELETE FROM permission_audit_logs WHERE timestamp < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up audit logs: %w", err)
	}

	return result.RowsAffected()
}

// Close is a no-op; the database handle is owned by the caller
func (l *DBLogger) Close() error {
	return nil
}
