package audit

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogrusLogger writes audit events as structured log entries
type LogrusLogger struct {
	logger *logrus.Logger
}

var _ Logger = (*LogrusLogger)(nil)

// NewLogrusLogger creates an audit logger on top of a logrus logger
func NewLogrusLogger(logger *logrus.Logger) *LogrusLogger {
	return &LogrusLogger{logger: logger}
}

// Log emits the event. Failures log at warn, denials at info.
func (l *LogrusLogger) Log(ctx context.Context, event *AuditEvent) error {
	fields := logrus.Fields{
		"audit":      true,
		"event_type": event.EventType,
		"status":     event.Status,
	}
	if event.OrganizationID != nil {
		fields["organization_id"] = *event.OrganizationID
	}
	if event.Principal != "" {
		fields["principal"] = event.Principal
	}
	if event.Resource != "" {
		fields["resource"] = event.Resource
	}
	if event.Role != "" {
		fields["role"] = event.Role
	}
	if event.PlanID != "" {
		fields["plan_id"] = event.PlanID
		fields["steps_applied"] = event.StepsApplied
		fields["steps_planned"] = event.StepsPlanned
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := l.logger.WithContext(ctx).WithFields(fields)
	if event.ErrorMessage != "" {
		entry = entry.WithField("error", event.ErrorMessage)
	}

	switch event.Status {
	case EventStatusFailure:
		entry.Warn(event.Message)
	default:
		entry.Info(event.Message)
	}
	return nil
}

func (l *LogrusLogger) Close() error {
	return nil
}
