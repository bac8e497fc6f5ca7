package audit

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exportFixture() []*AuditEvent {
	orgID := int64(2)
	ts := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	return []*AuditEvent{
		{
			ID: 1, Timestamp: ts, EventType: EventTypeProjectShare, Status: EventStatusSuccess,
			OrganizationID: &orgID, Principal: "user:4", Resource: "project:1", Role: "editor",
			PlanID: "plan-a", StepsPlanned: 3, StepsApplied: 3,
			Permissions: []string{"change_project", "view_project"},
		},
		{
			ID: 2, Timestamp: ts, EventType: EventTypeOrgMemberRemove, Status: EventStatusDenied,
			Principal: "user:1", ErrorMessage: "organization cannot be without an owner",
		},
	}
}

func TestExport_JSON(t *testing.T) {
	data, err := Export(exportFixture(), ExportFormatJSON)
	require.NoError(t, err)

	var events []*AuditEvent
	require.NoError(t, json.Unmarshal(data, &events))
	require.Len(t, events, 2)
	assert.Equal(t, "plan-a", events[0].PlanID)
}

func TestExport_UnknownFormatFallsBackToJSON(t *testing.T) {
	data, err := Export(exportFixture(), ExportFormat("xml"))
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}

func TestExport_NDJSON(t *testing.T) {
	data, err := Export(exportFixture(), ExportFormatNDJSON)
	require.NoError(t, err)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lines := 0
	for scanner.Scan() {
		assert.True(t, json.Valid(scanner.Bytes()))
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestExport_CSV(t *testing.T) {
	data, err := Export(exportFixture(), ExportFormatCSV)
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "Principal", records[0][5])
	assert.Equal(t, []string{
		"1", "2024-03-01 10:30:00", "project.share", "success", "2", "user:4", "project:1",
		"editor", "plan-a", "3", "3", "change_project view_project", "", "",
	}, records[1])
	assert.Equal(t, "", records[2][4])
	assert.Equal(t, "organization cannot be without an owner", records[2][13])
}
