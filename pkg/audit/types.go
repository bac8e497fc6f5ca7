package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Role and grant events
	EventTypeRoleAssign       EventType = "perm.role_assign"
	EventTypePermissionRemove EventType = "perm.permission_remove"
	EventTypeDriftDetected    EventType = "perm.drift_detected"

	// Organization events
	EventTypeOrgCreate           EventType = "org.create"
	EventTypeOrgMemberAdd        EventType = "org.member_add"
	EventTypeOrgMemberRemove     EventType = "org.member_remove"
	EventTypeOrgMemberRoleChange EventType = "org.member_role_change"

	// Team events
	EventTypeTeamMemberAdd      EventType = "team.member_add"
	EventTypeTeamMemberRemove   EventType = "team.member_remove"
	EventTypeTeamProjectLink    EventType = "team.project_link"
	EventTypeTeamProjectShare   EventType = "team.project_share"
	EventTypeTeamProjectUnshare EventType = "team.project_unshare"

	// Project and form events
	EventTypeProjectShare   EventType = "project.share"
	EventTypeProjectUnshare EventType = "project.unshare"
	EventTypeFormInherit    EventType = "form.inherit_project_permissions"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	OrganizationID *int64 `json:"organization_id,omitempty"`
	Principal      string `json:"principal,omitempty"` // "user:12" or "team:3"
	Resource       string `json:"resource,omitempty"`  // "project:5"
	Role           string `json:"role,omitempty"`

	// Plan bookkeeping for propagating operations
	PlanID       string `json:"plan_id,omitempty"`
	StepsPlanned int    `json:"steps_planned,omitempty"`
	StepsApplied int    `json:"steps_applied,omitempty"`

	Permissions  []string               `json:"permissions,omitempty"`
	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*AuditEvent, error) {
	var event AuditEvent
	err := json.Unmarshal(data, &event)
	return &event, err
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	OrganizationID *int64
	Principal      string
	Resource       string
	PlanID         string

	EventTypes []EventType
	Status     *EventStatus

	Limit  int
	Offset int
}

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)
